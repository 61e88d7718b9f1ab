package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/domain"
)

// StreamCallbacks receives incremental output for one streamed turn
type StreamCallbacks struct {
	// OnToken receives each incremental text token
	OnToken func(string)
	// OnAgent surfaces a friendly "which expert is responding" name when
	// a tool dispatch matches a known pattern
	OnAgent func(string)
	// OnComplete receives the accumulated text and total token usage
	// (zero when the remote omits usage)
	OnComplete func(text string, tokens int)
}

// StreamService runs the same logical turn as ChatService over a push
// event stream, so callers can render tokens incrementally. At most one
// stream may be in flight at a time.
type StreamService struct {
	sessions    *SessionService
	api         agents.API
	streamer    agents.Streamer
	assistantID string

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// NewStreamService creates a new streaming chat service
func NewStreamService(sessions *SessionService, api agents.API, streamer agents.Streamer, assistantID string) *StreamService {
	return &StreamService{
		sessions:    sessions,
		api:         api,
		streamer:    streamer,
		assistantID: assistantID,
	}
}

// Supported reports whether the streaming transport is available.
// Callers fall back to ChatService when it is not.
func (s *StreamService) Supported() bool {
	return s.api != nil && s.streamer != nil
}

// StreamMessage executes one streamed turn. A second call while one is
// in flight fails with domain.ErrStreamActive.
func (s *StreamService) StreamMessage(ctx context.Context, userID, text, token string, cb StreamCallbacks) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return domain.ErrStreamActive
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.active = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.active = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	threadID, err := s.sessions.GetUserThread(streamCtx, userID, token)
	if err != nil {
		return err
	}
	if !s.sessions.AuthorizeThreadAccess(userID, threadID) {
		return domain.ErrUnauthorizedThread
	}
	if _, err := s.api.AddMessage(streamCtx, token, threadID, "user", text); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	var accumulated strings.Builder
	var runErr error
	completed := false
	usage := 0

	err = s.streamer.StreamRun(streamCtx, token, threadID, s.assistantID, func(ev agents.StreamEvent) {
		// Terminal events arriving after an abort are ignored.
		if streamCtx.Err() != nil {
			return
		}
		switch ev.Type {
		case agents.EventStepDelta, agents.EventMessageDelta:
			if tok := agents.DeltaText(ev.Data); tok != "" {
				accumulated.WriteString(tok)
				if cb.OnToken != nil {
					cb.OnToken(tok)
				}
			}
		case agents.EventRequiresAction:
			for _, name := range agents.ToolNames(ev.Data) {
				if display := matchExpert(name); display != "" {
					if cb.OnAgent != nil {
						cb.OnAgent(display)
					}
					break
				}
			}
		case agents.EventRunCompleted:
			completed = true
			if run, err := agents.ParseRun(ev.Data); err == nil && run.Usage != nil {
				usage = run.Usage.TotalTokens
			}
		case agents.EventRunFailed:
			detail := "run failed"
			if run, err := agents.ParseRun(ev.Data); err == nil && run.LastError != nil {
				detail = fmt.Sprintf("run failed: %s", run.LastError.Message)
			}
			runErr = fmt.Errorf("%s", detail)
		}
	})
	if streamCtx.Err() != nil {
		// Aborted by the caller; not an error condition for the turn.
		log.Debug().Str("thread_id", threadID).Msg("stream aborted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream transport failed: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	if !completed {
		return domain.ErrNoResponse
	}

	if cb.OnComplete != nil {
		cb.OnComplete(accumulated.String(), usage)
	}
	s.sessions.IncrementMessageCount(userID)
	return nil
}

// StopStreaming aborts the in-flight stream, if any
func (s *StreamService) StopStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
