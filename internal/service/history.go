package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/domain"
)

const (
	historyConcurrency = 4
	deleteBatchSize    = 3
	deleteBatchDelay   = 200 * time.Millisecond
	titleLimit         = 50
	previewLimit       = 100
	topAgentsLimit     = 3
)

// HistoryService reconciles locally known threads with the remote thread
// listing and hydrates each with cached or freshly derived metadata.
// Per-thread failures are logged and the thread skipped: one bad thread
// never aborts the whole listing.
type HistoryService struct {
	sessions *SessionService
	api      agents.API
	cache    domain.ConversationCache // nil means always refetch
	known    domain.KnownThreadsRepository
	files    domain.FileRepository

	now func() time.Time
}

// NewHistoryService creates a new chat history service
func NewHistoryService(sessions *SessionService, api agents.API, cache domain.ConversationCache, known domain.KnownThreadsRepository, files domain.FileRepository) *HistoryService {
	return &HistoryService{
		sessions: sessions,
		api:      api,
		cache:    cache,
		known:    known,
		files:    files,
		now:      time.Now,
	}
}

// gatherThreadIDs unions the three identifier sources, deduplicated:
// registered sessions, the known-threads list, and the remote listing.
func (s *HistoryService) gatherThreadIDs(ctx context.Context, userID, token string) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, id := range s.sessions.GetUserThreads(userID) {
		add(id)
	}

	known, err := s.known.KnownThreads(userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to read known threads")
	}
	for _, id := range known {
		add(id)
	}

	remote, err := s.api.ListThreads(ctx, token)
	if err != nil {
		// Remote listing failure degrades to local sources only.
		log.Warn().Err(err).Msg("failed to list remote threads")
	}
	for _, t := range remote {
		add(t.ID)
	}
	return ids
}

// GetConversationHistory returns the user's conversations, deduplicated,
// sorted by last activity descending, truncated to limit (0 = all).
func (s *HistoryService) GetConversationHistory(ctx context.Context, userID, token string, limit int) ([]domain.ConversationMetadata, error) {
	ids := s.gatherThreadIDs(ctx, userID, token)

	var mu sync.Mutex
	var results []domain.ConversationMetadata

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < historyConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for threadID := range jobs {
				meta := s.hydrate(ctx, userID, token, threadID)
				if meta == nil {
					continue
				}
				mu.Lock()
				results = append(results, *meta)
				mu.Unlock()
			}
		}()
	}
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	// Defensive: the union step already deduplicates, but concurrent
	// population can race.
	seen := make(map[string]struct{}, len(results))
	deduped := results[:0]
	for _, meta := range results {
		if _, ok := seen[meta.ThreadID]; ok {
			continue
		}
		seen[meta.ThreadID] = struct{}{}
		deduped = append(deduped, meta)
	}

	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].LastActivity.After(deduped[j].LastActivity)
	})
	if limit > 0 && len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped, nil
}

// hydrate verifies one thread still exists, registers it, and returns its
// metadata. Returns nil when the thread is gone, empty, or failed;
// failures are isolated to the thread.
func (s *HistoryService) hydrate(ctx context.Context, userID, token, threadID string) *domain.ConversationMetadata {
	exists, err := s.verifyThread(ctx, token, threadID)
	if err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("thread verification failed, skipping")
		return nil
	}
	if !exists {
		return nil
	}

	s.sessions.RegisterRemoteThread(userID, threadID)
	if !s.sessions.AuthorizeThreadAccess(userID, threadID) {
		return nil
	}

	meta, err := s.GetConversationMetadata(ctx, userID, token, threadID)
	if err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("metadata fetch failed, skipping")
		return nil
	}
	return meta
}

// verifyThread checks thread existence remotely, cached with its own TTL
func (s *HistoryService) verifyThread(ctx context.Context, token, threadID string) (bool, error) {
	if s.cache != nil {
		if exists, found, err := s.cache.GetVerified(ctx, threadID); err == nil && found {
			return exists, nil
		}
	}

	exists := true
	if _, err := s.api.GetThread(ctx, token, threadID); err != nil {
		if !domain.IsNotFound(err) {
			return false, err
		}
		exists = false
	}
	if s.cache != nil {
		if err := s.cache.SetVerified(ctx, threadID, exists); err != nil {
			log.Debug().Err(err).Msg("failed to cache thread verification")
		}
	}
	return exists, nil
}

// GetConversationMetadata returns cached metadata when fresh, otherwise
// fetches the thread's messages and derives it. Threads with zero
// messages yield nil.
func (s *HistoryService) GetConversationMetadata(ctx context.Context, userID, token, threadID string) (*domain.ConversationMetadata, error) {
	currentThread, _ := s.sessions.CurrentThread(userID)

	if s.cache != nil {
		cached, err := s.cache.GetMetadata(ctx, threadID)
		if err != nil {
			log.Debug().Err(err).Msg("metadata cache read failed")
		}
		if cached != nil {
			// IsActive is relative to the caller's current thread, never
			// trusted from cache.
			cached.IsActive = threadID == currentThread
			return cached, nil
		}
	}

	messages, err := s.api.ListMessages(ctx, token, threadID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	meta := s.deriveMetadata(ctx, userID, threadID, messages)
	meta.IsActive = threadID == currentThread

	if s.cache != nil {
		if err := s.cache.SetMetadata(ctx, threadID, meta); err != nil {
			log.Debug().Err(err).Msg("failed to cache conversation metadata")
		}
	}
	return meta, nil
}

// deriveMetadata builds a conversation summary from its messages
// (newest-first, as listed by the remote API)
func (s *HistoryService) deriveMetadata(ctx context.Context, userID, threadID string, messages []agents.Message) *domain.ConversationMetadata {
	newest := messages[0]

	var firstUserText, latestAssistantText string
	var allText strings.Builder
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		text := m.Text()
		allText.WriteString(text)
		allText.WriteString(" ")
		if firstUserText == "" && m.Role == "user" {
			firstUserText = text
		}
		if m.Role == "assistant" {
			latestAssistantText = text
		}
	}

	hasAttachments := false
	if s.files != nil {
		ok, err := s.files.HasReadyFiles(ctx, userID, threadID)
		if err != nil {
			log.Debug().Err(err).Msg("failed to check attachments")
		}
		hasAttachments = ok
	}

	return &domain.ConversationMetadata{
		ThreadID:           threadID,
		UserID:             userID,
		Title:              deriveTitle(firstUserText),
		LastMessagePreview: truncate(newest.Text(), previewLimit),
		LastActivity:       time.Unix(newest.CreatedAt, 0),
		MessageCount:       len(messages),
		HasAttachments:     hasAttachments,
		AgentType:          matchExpert(latestAssistantText),
		Tags:               deriveTags(allText.String()),
		CachedAt:           s.now(),
	}
}

// deriveTitle strips markup from the first user message and truncates it
// at a word boundary near the title limit. Limits count runes, not
// bytes, so accented text never gets cut mid-character.
func deriveTitle(text string) string {
	cleaned := strings.NewReplacer("*", "", "_", "", "#", "", "`", "", ">", "", "\n", " ").Replace(text)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return "New conversation"
	}
	runes := []rune(cleaned)
	if len(runes) <= titleLimit {
		return cleaned
	}
	cut := string(runes[:titleLimit])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// tagKeywords maps content keywords (English and Polish) to tags
var tagKeywords = map[string][]string{
	"orders":    {"order", "zamowien", "zamówien", "dostaw"},
	"invoices":  {"invoice", "faktur", "billing"},
	"fraud":     {"fraud", "oszust", "suspicious", "podejrzan"},
	"payments":  {"payment", "płatno", "platno", "refund", "zwrot"},
	"documents": {"document", "attachment", "załączni", "plik"},
}

// deriveTags keyword-matches over the concatenated message text
func deriveTags(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for tag, keywords := range tagKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// SearchConversations filters the full history by a case-insensitive
// substring over title, preview, agent type and tags. There is no
// server-side search.
func (s *HistoryService) SearchConversations(ctx context.Context, userID, token, query string) ([]domain.ConversationMetadata, error) {
	history, err := s.GetConversationHistory(ctx, userID, token, 0)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return history, nil
	}

	var out []domain.ConversationMetadata
	for _, meta := range history {
		if strings.Contains(strings.ToLower(meta.Title), q) ||
			strings.Contains(strings.ToLower(meta.LastMessagePreview), q) ||
			strings.Contains(strings.ToLower(meta.AgentType), q) ||
			strings.Contains(strings.ToLower(strings.Join(meta.Tags, " ")), q) {
			out = append(out, meta)
		}
	}
	return out, nil
}

// GetConversationSummary aggregates counts and a top-N agent table
func (s *HistoryService) GetConversationSummary(ctx context.Context, userID, token string) (*domain.ConversationSummary, error) {
	history, err := s.GetConversationHistory(ctx, userID, token, 0)
	if err != nil {
		return nil, err
	}

	summary := &domain.ConversationSummary{
		TotalConversations: len(history),
		AgentFrequency:     make(map[string]int),
	}
	for _, meta := range history {
		summary.TotalMessages += meta.MessageCount
		if meta.AgentType != "" {
			summary.AgentFrequency[meta.AgentType]++
		}
	}

	type agentCount struct {
		name  string
		count int
	}
	var counts []agentCount
	for name, count := range summary.AgentFrequency {
		counts = append(counts, agentCount{name, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].name < counts[j].name
	})
	for i, c := range counts {
		if i >= topAgentsLimit {
			break
		}
		summary.TopAgents = append(summary.TopAgents, c.name)
	}
	return summary, nil
}

// DeleteConversation best-effort deletes one thread remotely (404 means
// already deleted) and removes local bookkeeping either way.
func (s *HistoryService) DeleteConversation(ctx context.Context, userID, token, threadID string) error {
	if !s.sessions.AuthorizeThreadAccess(userID, threadID) {
		return domain.ErrUnauthorizedThread
	}

	if err := s.api.DeleteThread(ctx, token, threadID); err != nil && !domain.IsNotFound(err) {
		return err
	}
	s.removeLocal(ctx, userID, threadID)
	return nil
}

func (s *HistoryService) removeLocal(ctx context.Context, userID, threadID string) {
	s.sessions.RemoveThread(threadID)
	if err := s.known.RemoveKnownThread(userID, threadID); err != nil {
		log.Debug().Err(err).Str("thread_id", threadID).Msg("failed to remove known thread")
	}
	if s.cache != nil {
		if err := s.cache.InvalidateMetadata(ctx, threadID); err != nil {
			log.Debug().Err(err).Str("thread_id", threadID).Msg("failed to invalidate metadata cache")
		}
	}
}

// DeleteAllConversations deletes every reconciled thread in small batches
// with an inter-batch delay, reporting a partial-failure summary instead
// of aborting on the first error.
func (s *HistoryService) DeleteAllConversations(ctx context.Context, userID, token string) (*domain.DeleteAllResult, error) {
	ids := s.gatherThreadIDs(ctx, userID, token)
	result := &domain.DeleteAllResult{}

	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, threadID := range ids[start:end] {
			wg.Add(1)
			go func(threadID string) {
				defer wg.Done()
				err := s.api.DeleteThread(ctx, token, threadID)
				if err != nil && !domain.IsNotFound(err) {
					log.Warn().Err(err).Str("thread_id", threadID).Msg("failed to delete thread")
					mu.Lock()
					result.Failed = append(result.Failed, threadID)
					mu.Unlock()
					return
				}
				s.removeLocal(ctx, userID, threadID)
				mu.Lock()
				result.Deleted = append(result.Deleted, threadID)
				mu.Unlock()
			}(threadID)
		}
		wg.Wait()

		if end < len(ids) {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(deleteBatchDelay):
			}
		}
	}
	return result, nil
}

// UpdateConversationTitle renames a conversation in the cache only; the
// remote API has no rename operation.
func (s *HistoryService) UpdateConversationTitle(ctx context.Context, threadID, title string) error {
	if s.cache == nil {
		return nil
	}
	meta, err := s.cache.GetMetadata(ctx, threadID)
	if err != nil || meta == nil {
		return err
	}
	meta.Title = title
	return s.cache.SetMetadata(ctx, threadID, meta)
}

// CleanupOldCache evicts cached entries wholesale. Individual entries
// already expire via their TTLs; this is the manual reset.
func (s *HistoryService) CleanupOldCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.FlushAll(ctx)
}
