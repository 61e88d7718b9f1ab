package bolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mzielin/agent-bridge/internal/domain"
)

const (
	mappingKey         = "thread-mapping"
	knownThreadsPrefix = "known-threads:"
)

// MappingStore persists the ThreadMappingStorage root object and applies
// the expiry/eviction policy. Reads never fail for the caller: a missing
// key, a parse failure, or a version mismatch all yield an empty root.
type MappingStore struct {
	store              *Store
	idleTimeout        time.Duration
	cleanupInterval    time.Duration
	maxSessionsPerUser int
	now                func() time.Time
}

// MappingOptions tunes the expiry and eviction policy
type MappingOptions struct {
	IdleTimeout        time.Duration
	CleanupInterval    time.Duration
	MaxSessionsPerUser int
}

// NewMappingStore creates a mapping store over the key-value store
func NewMappingStore(store *Store, opts MappingOptions) *MappingStore {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 30 * time.Minute
	}
	if opts.MaxSessionsPerUser <= 0 {
		opts.MaxSessionsPerUser = 10
	}
	return &MappingStore{
		store:              store,
		idleTimeout:        opts.IdleTimeout,
		cleanupInterval:    opts.CleanupInterval,
		maxSessionsPerUser: opts.MaxSessionsPerUser,
		now:                time.Now,
	}
}

func (m *MappingStore) emptyRoot() *domain.ThreadMappingStorage {
	return &domain.ThreadMappingStorage{
		Version:     domain.StorageVersion,
		Sessions:    []domain.UserSession{},
		LastCleanup: m.now(),
	}
}

// Load reads the persisted root. It never returns an error: corruption
// and schema drift reset to empty rather than crashing the session.
func (m *MappingStore) Load() *domain.ThreadMappingStorage {
	data, found, err := m.store.Get(mappingKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to read thread mapping, starting empty")
		return m.emptyRoot()
	}
	if !found {
		return m.emptyRoot()
	}

	var root domain.ThreadMappingStorage
	if err := json.Unmarshal(data, &root); err != nil {
		log.Error().Err(err).Msg("failed to parse thread mapping, starting empty")
		return m.emptyRoot()
	}
	if root.Version != domain.StorageVersion {
		// Not a migration: old data is discarded on purpose.
		log.Warn().
			Str("stored", root.Version).
			Str("current", domain.StorageVersion).
			Msg("thread mapping version mismatch, discarding stored sessions")
		return m.emptyRoot()
	}
	if root.Sessions == nil {
		root.Sessions = []domain.UserSession{}
	}
	return &root
}

// Save persists the root. On a quota failure it emergency-prunes to the
// single most-recently-active session per user and retries once; a second
// failure propagates and the caller must treat persistence as best-effort.
func (m *MappingStore) Save(root *domain.ThreadMappingStorage) error {
	if err := m.put(root); err != nil {
		if !errors.Is(err, domain.ErrQuotaExceeded) {
			return err
		}
		log.Warn().Int("sessions", len(root.Sessions)).Msg("storage quota exceeded, emergency pruning sessions")
		pruned := m.emergencyPrune(root)
		if err := m.put(pruned); err != nil {
			return fmt.Errorf("failed to save thread mapping after pruning: %w", err)
		}
	}
	return nil
}

func (m *MappingStore) put(root *domain.ThreadMappingStorage) error {
	data, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to marshal thread mapping: %w", err)
	}
	return m.store.Put(mappingKey, data)
}

// emergencyPrune keeps only the most-recently-active session per user
func (m *MappingStore) emergencyPrune(root *domain.ThreadMappingStorage) *domain.ThreadMappingStorage {
	latest := make(map[string]domain.UserSession)
	for _, s := range root.Sessions {
		if cur, ok := latest[s.UserID]; !ok || s.LastActive.After(cur.LastActive) {
			latest[s.UserID] = s
		}
	}
	pruned := &domain.ThreadMappingStorage{
		Version:     root.Version,
		Sessions:    make([]domain.UserSession, 0, len(latest)),
		LastCleanup: m.now(),
	}
	for _, s := range latest {
		pruned.Sessions = append(pruned.Sessions, s)
	}
	return pruned
}

// CleanupExpired returns a new root without idle or deactivated sessions,
// capping sessions per user at the configured ceiling (most recently
// active kept). The input root is not mutated.
func (m *MappingStore) CleanupExpired(root *domain.ThreadMappingStorage) *domain.ThreadMappingStorage {
	now := m.now()
	cutoff := now.Add(-m.idleTimeout)

	perUser := make(map[string][]domain.UserSession)
	for _, s := range root.Sessions {
		if !s.IsActive || s.LastActive.Before(cutoff) {
			continue
		}
		perUser[s.UserID] = append(perUser[s.UserID], s)
	}

	out := &domain.ThreadMappingStorage{
		Version:     root.Version,
		Sessions:    []domain.UserSession{},
		LastCleanup: now,
	}
	for _, sessions := range perUser {
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].LastActive.After(sessions[j].LastActive)
		})
		if len(sessions) > m.maxSessionsPerUser {
			sessions = sessions[:m.maxSessionsPerUser]
		}
		out.Sessions = append(out.Sessions, sessions...)
	}
	return out
}

// ShouldCleanup gates the O(n log n) cleanup to once per interval
func (m *MappingStore) ShouldCleanup(root *domain.ThreadMappingStorage) bool {
	return m.now().Sub(root.LastCleanup) > m.cleanupInterval
}

// GenerateThreadID produces a locally-unique placeholder identifier used
// before a real remote thread exists
func (m *MappingStore) GenerateThreadID() string {
	return fmt.Sprintf("local-%d-%s", m.now().UnixMilli(), uuid.NewString()[:8])
}

// Usage reports store pressure against the capacity ceiling
func (m *MappingStore) Usage() (int64, error) {
	return m.store.Usage()
}

// KnownThreads returns the manually curated thread list for a user
func (m *MappingStore) KnownThreads(userID string) ([]string, error) {
	data, found, err := m.store.Get(knownThreadsPrefix + userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var threads []string
	if err := json.Unmarshal(data, &threads); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to parse known threads, resetting")
		return nil, nil
	}
	return threads, nil
}

// AddKnownThread idempotently appends a thread to the user's list
func (m *MappingStore) AddKnownThread(userID, threadID string) error {
	threads, err := m.KnownThreads(userID)
	if err != nil {
		return err
	}
	for _, t := range threads {
		if t == threadID {
			return nil
		}
	}
	threads = append(threads, threadID)
	data, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("failed to marshal known threads: %w", err)
	}
	return m.store.Put(knownThreadsPrefix+userID, data)
}

// RemoveKnownThread removes a thread from the user's list
func (m *MappingStore) RemoveKnownThread(userID, threadID string) error {
	threads, err := m.KnownThreads(userID)
	if err != nil {
		return err
	}
	out := threads[:0]
	for _, t := range threads {
		if t != threadID {
			out = append(out, t)
		}
	}
	if len(out) == len(threads) {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal known threads: %w", err)
	}
	return m.store.Put(knownThreadsPrefix+userID, data)
}
