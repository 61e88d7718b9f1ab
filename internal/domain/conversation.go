package domain

import (
	"context"
	"time"
)

// ConversationMetadata is the cached, derived summary of a remote thread.
// The remote API is authoritative; entries older than the metadata TTL
// must be refetched before being trusted for display or search.
type ConversationMetadata struct {
	ThreadID           string    `json:"thread_id"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastActivity       time.Time `json:"last_activity"`
	MessageCount       int       `json:"message_count"`
	HasAttachments     bool      `json:"has_attachments"`
	AgentType          string    `json:"agent_type,omitempty"`
	Tags               []string  `json:"tags,omitempty"`
	IsActive           bool      `json:"is_active"`
	CachedAt           time.Time `json:"cached_at"`
}

// ConversationSummary aggregates history counts for a user
type ConversationSummary struct {
	TotalConversations int            `json:"total_conversations"`
	TotalMessages      int            `json:"total_messages"`
	AgentFrequency     map[string]int `json:"agent_frequency"`
	TopAgents          []string       `json:"top_agents"`
}

// DeleteAllResult reports the outcome of a bulk conversation delete.
// Partial failure is expected: one bad thread never loses the rest.
type DeleteAllResult struct {
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed"`
}

// ConversationCache defines the interface for TTL-bound metadata caching.
// Implementations return (nil, nil) on a miss or an expired entry.
type ConversationCache interface {
	GetMetadata(ctx context.Context, threadID string) (*ConversationMetadata, error)
	SetMetadata(ctx context.Context, threadID string, meta *ConversationMetadata) error
	InvalidateMetadata(ctx context.Context, threadID string) error

	// Thread-existence verification, cached separately with its own TTL.
	GetVerified(ctx context.Context, threadID string) (exists bool, found bool, err error)
	SetVerified(ctx context.Context, threadID string, exists bool) error

	// FlushAll evicts every cached entry and reports how many were removed
	FlushAll(ctx context.Context) (int64, error)
}
