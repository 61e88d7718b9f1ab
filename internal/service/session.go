package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mzielin/agent-bridge/internal/domain"
)

const (
	// Remote thread identifiers carry this shape. Anything matching it is
	// opportunistically authorized (rule d below). The check is a UX
	// convenience, not a security boundary; the remote API enforces the
	// real one via the bearer token.
	remoteThreadPrefix = "thread_"
	remoteThreadMinLen = 10

	// Local placeholder identifiers issued when no bearer token was
	// available at session creation, pending promotion to a real remote
	// thread.
	localThreadPrefix = "local-"
)

// SessionService owns the authoritative in-memory view of user sessions,
// indexed by thread id and synchronized to the mapping store with
// best-effort persists.
type SessionService struct {
	mapping domain.MappingRepository
	known   domain.KnownThreadsRepository
	threads domain.ThreadCreator

	mu          sync.Mutex
	sessions    map[string]*domain.UserSession
	lastCleanup time.Time

	initOnce sync.Once
	now      func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(mapping domain.MappingRepository, known domain.KnownThreadsRepository, threads domain.ThreadCreator) *SessionService {
	return &SessionService{
		mapping:  mapping,
		known:    known,
		threads:  threads,
		sessions: make(map[string]*domain.UserSession),
		now:      time.Now,
	}
}

// Initialize loads persisted sessions and runs cleanup when due. It is
// idempotent; every public method lazily self-initializes through it.
func (s *SessionService) Initialize(ctx context.Context) error {
	s.ensureInit()
	return nil
}

func (s *SessionService) ensureInit() {
	s.initOnce.Do(func() {
		root := s.mapping.Load()
		if s.mapping.ShouldCleanup(root) {
			root = s.mapping.CleanupExpired(root)
			if err := s.mapping.Save(root); err != nil {
				log.Error().Err(err).Msg("failed to persist cleaned sessions")
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastCleanup = root.LastCleanup
		for i := range root.Sessions {
			sess := root.Sessions[i]
			s.sessions[sess.ThreadID] = &sess
		}
		log.Info().Int("sessions", len(s.sessions)).Msg("session service initialized")
	})
}

// persistLocked writes the current map to durable storage. Persistence is
// best-effort: a failed save leaves the in-memory state authoritative.
func (s *SessionService) persistLocked() {
	root := &domain.ThreadMappingStorage{
		Version:     domain.StorageVersion,
		Sessions:    make([]domain.UserSession, 0, len(s.sessions)),
		LastCleanup: s.lastCleanup,
	}
	for _, sess := range s.sessions {
		root.Sessions = append(root.Sessions, *sess)
	}
	if err := s.mapping.Save(root); err != nil {
		log.Error().Err(err).Msg("failed to persist sessions")
	}
}

// currentSessionLocked resolves "the current session for a user": the
// one with the latest SessionStart, ignoring entries merely discovered
// from the remote listing. When that session has been deactivated the
// result is nil; there is no fallback to an older session, callers
// start a fresh one instead.
func (s *SessionService) currentSessionLocked(userID string) *domain.UserSession {
	var latest *domain.UserSession
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Discovered {
			continue
		}
		if latest == nil || sessionStart(sess).After(sessionStart(latest)) {
			latest = sess
		}
	}
	if latest == nil || !latest.IsActive {
		return nil
	}
	return latest
}

func sessionStart(sess *domain.UserSession) time.Time {
	if sess.Metadata == nil {
		return time.Time{}
	}
	return sess.Metadata.SessionStart
}

// GetUserThread returns the user's current thread id, creating a new
// session (and thread) when none exists or the current one is inactive.
// A local placeholder id is promoted to a real remote thread as soon as
// a bearer token is available.
func (s *SessionService) GetUserThread(ctx context.Context, userID, token string) (string, error) {
	s.ensureInit()

	s.mu.Lock()
	current := s.currentSessionLocked(userID)
	if current == nil {
		s.mu.Unlock()
		sess, err := s.CreateNewSession(ctx, userID, token, nil, "")
		if err != nil {
			return "", err
		}
		return sess.ThreadID, nil
	}

	threadID := current.ThreadID
	if token == "" || !strings.HasPrefix(threadID, localThreadPrefix) {
		current.LastActive = s.now()
		s.persistLocked()
		s.mu.Unlock()
		return threadID, nil
	}
	s.mu.Unlock()

	return s.promoteThread(ctx, userID, token, threadID)
}

// promoteThread swaps a placeholder for a freshly created remote thread
// and re-keys the session under the promoted id. The remote call runs
// outside the lock; the session is re-checked before re-keying.
func (s *SessionService) promoteThread(ctx context.Context, userID, token, placeholder string) (string, error) {
	realID, err := s.threads.CreateThread(ctx, token)
	if err != nil {
		return "", &domain.SessionCreationError{UserID: userID, Err: err}
	}

	s.mu.Lock()
	if sess, ok := s.sessions[placeholder]; ok && sess.UserID == userID {
		delete(s.sessions, placeholder)
		sess.ThreadID = realID
		sess.LastActive = s.now()
		s.sessions[realID] = sess
		s.persistLocked()
	}
	s.mu.Unlock()

	log.Info().Str("user_id", userID).Str("thread_id", realID).Msg("promoted placeholder thread")
	return realID, nil
}

// CreateNewSession builds and stores a new session. With a bearer token a
// real remote thread is requested; without one a local placeholder id is
// used until promotion.
func (s *SessionService) CreateNewSession(ctx context.Context, userID, token string, info *domain.SessionMetadata, threadID string) (*domain.UserSession, error) {
	s.ensureInit()

	if threadID == "" {
		if token != "" {
			id, err := s.threads.CreateThread(ctx, token)
			if err != nil {
				return nil, &domain.SessionCreationError{UserID: userID, Err: err}
			}
			threadID = id
		} else {
			threadID = s.mapping.GenerateThreadID()
		}
	}

	now := s.now()
	meta := &domain.SessionMetadata{SessionStart: now}
	if info != nil {
		meta.UserName = info.UserName
		meta.Email = info.Email
	}
	sess := &domain.UserSession{
		UserID:     userID,
		ThreadID:   threadID,
		LastActive: now,
		IsActive:   true,
		Metadata:   meta,
	}

	s.mu.Lock()
	s.sessions[threadID] = sess
	s.persistLocked()
	s.mu.Unlock()

	log.Info().Str("user_id", userID).Str("thread_id", threadID).Msg("created new session")
	return sess, nil
}

// SwitchThread reassigns the user's current session to another thread.
// Fails with domain.ErrUnauthorizedThread unless access is authorized.
func (s *SessionService) SwitchThread(ctx context.Context, userID, threadID string) error {
	s.ensureInit()

	if !s.AuthorizeThreadAccess(userID, threadID) {
		return domain.ErrUnauthorizedThread
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.currentSessionLocked(userID)
	if current == nil {
		now := s.now()
		s.sessions[threadID] = &domain.UserSession{
			UserID:     userID,
			ThreadID:   threadID,
			LastActive: now,
			IsActive:   true,
			Metadata:   &domain.SessionMetadata{SessionStart: now},
		}
		s.persistLocked()
		return nil
	}

	if current.ThreadID == threadID {
		current.LastActive = s.now()
		s.persistLocked()
		return nil
	}

	delete(s.sessions, current.ThreadID)
	current.ThreadID = threadID
	current.LastActive = s.now()
	s.sessions[threadID] = current
	s.persistLocked()
	return nil
}

// AuthorizeThreadAccess reports whether a user may act on a thread:
// (a) a session keyed by that id belongs to the user, or (b) any of the
// user's sessions references it, or (c) it is in the user's known-threads
// list, or (d) it matches the remote identifier shape, in which case it
// is registered and authorized. Advisory only, see remoteThreadPrefix.
func (s *SessionService) AuthorizeThreadAccess(userID, threadID string) bool {
	s.ensureInit()

	s.mu.Lock()
	if sess, ok := s.sessions[threadID]; ok && sess.UserID == userID {
		s.mu.Unlock()
		return true
	}
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ThreadID == threadID {
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()

	known, err := s.known.KnownThreads(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to read known threads")
	}
	for _, t := range known {
		if t == threadID {
			return true
		}
	}

	if strings.HasPrefix(threadID, remoteThreadPrefix) && len(threadID) >= remoteThreadMinLen {
		s.RegisterRemoteThread(userID, threadID)
		if err := s.known.AddKnownThread(userID, threadID); err != nil {
			log.Error().Err(err).Str("thread_id", threadID).Msg("failed to record known thread")
		}
		return true
	}
	return false
}

// RegisterRemoteThread idempotently inserts a thread discovered from the
// remote listing as an inactive, metadata-only session. The user's
// current thread is not altered.
func (s *SessionService) RegisterRemoteThread(userID, threadID string) {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[threadID]; ok {
		return
	}
	now := s.now()
	s.sessions[threadID] = &domain.UserSession{
		UserID:     userID,
		ThreadID:   threadID,
		LastActive: now,
		IsActive:   false,
		Discovered: true,
		Metadata:   &domain.SessionMetadata{SessionStart: now},
	}
	s.persistLocked()
}

// CurrentThread returns the user's current thread id without creating one
func (s *SessionService) CurrentThread(userID string) (string, bool) {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.currentSessionLocked(userID); current != nil {
		return current.ThreadID, true
	}
	return "", false
}

// GetUserThreads lists all thread ids registered to a user
func (s *SessionService) GetUserThreads(userID string) []string {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess.ThreadID)
		}
	}
	return out
}

// GetAllUserThreads lists thread ids across all users, deduplicated.
// Used for cross-checking against the remote listing.
func (s *SessionService) GetAllUserThreads() []string {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.sessions))
	var out []string
	for _, sess := range s.sessions {
		if _, ok := seen[sess.ThreadID]; ok {
			continue
		}
		seen[sess.ThreadID] = struct{}{}
		out = append(out, sess.ThreadID)
	}
	return out
}

// IncrementMessageCount bumps the user's message counter and touches the
// current session
func (s *SessionService) IncrementMessageCount(userID string) {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.currentSessionLocked(userID)
	if current == nil {
		return
	}
	if current.Metadata == nil {
		current.Metadata = &domain.SessionMetadata{SessionStart: s.now()}
	}
	current.Metadata.MessageCount++
	current.LastActive = s.now()
	s.persistLocked()
}

// DeactivateSession soft-deletes the user's current session (logout)
func (s *SessionService) DeactivateSession(userID string) {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.currentSessionLocked(userID)
	if current == nil {
		return
	}
	current.IsActive = false
	s.persistLocked()
}

// RemoveThread drops a thread's session entry, e.g. after deletion
func (s *SessionService) RemoveThread(threadID string) {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[threadID]; !ok {
		return
	}
	delete(s.sessions, threadID)
	s.persistLocked()
}

// CleanupExpiredSessions applies the expiry/eviction policy now
func (s *SessionService) CleanupExpiredSessions() {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()

	root := &domain.ThreadMappingStorage{
		Version:     domain.StorageVersion,
		Sessions:    make([]domain.UserSession, 0, len(s.sessions)),
		LastCleanup: s.lastCleanup,
	}
	for _, sess := range s.sessions {
		root.Sessions = append(root.Sessions, *sess)
	}
	cleaned := s.mapping.CleanupExpired(root)

	s.sessions = make(map[string]*domain.UserSession, len(cleaned.Sessions))
	for i := range cleaned.Sessions {
		sess := cleaned.Sessions[i]
		s.sessions[sess.ThreadID] = &sess
	}
	s.lastCleanup = cleaned.LastCleanup
	s.persistLocked()
}

// GetActiveSessions lists active sessions across all users
func (s *SessionService) GetActiveSessions() []domain.UserSession {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserSession
	for _, sess := range s.sessions {
		if sess.IsActive {
			out = append(out, *sess)
		}
	}
	return out
}

// Stats summarizes the session map
func (s *SessionService) Stats() domain.SessionStats {
	s.ensureInit()

	s.mu.Lock()
	defer s.mu.Unlock()
	users := make(map[string]struct{})
	active := 0
	for _, sess := range s.sessions {
		users[sess.UserID] = struct{}{}
		if sess.IsActive {
			active++
		}
	}
	return domain.SessionStats{
		TotalSessions:  len(s.sessions),
		ActiveSessions: active,
		UniqueUsers:    len(users),
	}
}
