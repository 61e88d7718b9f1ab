package domain

import (
	"context"
	"time"
)

// StorageVersion is the schema version of the persisted thread mapping.
// A mismatch on load discards the stored root rather than migrating it.
const StorageVersion = "1.0"

// SessionMetadata carries optional display information for a session
type SessionMetadata struct {
	UserName     string    `json:"user_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	SessionStart time.Time `json:"session_start"`
	MessageCount int       `json:"message_count"`
}

// UserSession maps an authenticated user to a remote conversation thread.
// Sessions are keyed by ThreadID, not UserID: one user may hold several
// concurrent threads (multiple tabs, multiple conversations).
type UserSession struct {
	UserID     string           `json:"user_id"`
	ThreadID   string           `json:"thread_id"`
	LastActive time.Time        `json:"last_active"`
	IsActive   bool             `json:"is_active"`
	// Discovered marks a metadata-only entry registered from the remote
	// listing. Discovered sessions never participate in current-session
	// resolution.
	Discovered bool             `json:"discovered,omitempty"`
	Metadata   *SessionMetadata `json:"metadata,omitempty"`
}

// ThreadMappingStorage is the persisted root object for all sessions
type ThreadMappingStorage struct {
	Version     string        `json:"version"`
	Sessions    []UserSession `json:"sessions"`
	LastCleanup time.Time     `json:"last_cleanup"`
}

// SessionStats summarizes the in-memory session map
type SessionStats struct {
	TotalSessions  int `json:"total_sessions"`
	ActiveSessions int `json:"active_sessions"`
	UniqueUsers    int `json:"unique_users"`
}

// MappingRepository defines the interface for durable session mapping storage
type MappingRepository interface {
	// Load never fails for the caller: parse errors and version
	// mismatches yield an empty root.
	Load() *ThreadMappingStorage
	Save(root *ThreadMappingStorage) error
	CleanupExpired(root *ThreadMappingStorage) *ThreadMappingStorage
	ShouldCleanup(root *ThreadMappingStorage) bool
	GenerateThreadID() string
}

// KnownThreadsRepository stores the manually curated per-user thread list
type KnownThreadsRepository interface {
	KnownThreads(userID string) ([]string, error)
	AddKnownThread(userID, threadID string) error
	RemoveKnownThread(userID, threadID string) error
}

// ThreadCreator acquires a new remote thread identifier. An empty token
// means no remote call is possible and a local placeholder must be used.
type ThreadCreator interface {
	CreateThread(ctx context.Context, token string) (string, error)
}
