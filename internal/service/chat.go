package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/domain"
)

const (
	defaultRunPollInterval = time.Second
	defaultRunMaxAttempts  = 60
)

// SendOptions carries optional callbacks for one turn. OnProgress
// receives coarse human-readable phase strings; cosmetic, not
// load-bearing.
type SendOptions struct {
	OnProgress func(string)
}

// ChatService drives one request/response turn against the remote API
// using the poll-based run lifecycle.
type ChatService struct {
	sessions    *SessionService
	api         agents.API
	assistantID string

	pollInterval time.Duration
	maxAttempts  int
}

// NewChatService creates a new chat service
func NewChatService(sessions *SessionService, api agents.API, assistantID string) *ChatService {
	return &ChatService{
		sessions:     sessions,
		api:          api,
		assistantID:  assistantID,
		pollInterval: defaultRunPollInterval,
		maxAttempts:  defaultRunMaxAttempts,
	}
}

func (s *ChatService) progress(opts SendOptions, msg string) {
	if opts.OnProgress != nil {
		opts.OnProgress(msg)
	}
}

// SendMessage executes one user turn: resolve the thread, append the
// message, start a run, poll to a terminal state, return the newest
// assistant message text.
func (s *ChatService) SendMessage(ctx context.Context, userID, text, token string, opts SendOptions) (string, error) {
	s.progress(opts, "Preparing conversation...")

	threadID, err := s.sessions.GetUserThread(ctx, userID, token)
	if err != nil {
		return "", err
	}
	if !s.sessions.AuthorizeThreadAccess(userID, threadID) {
		return "", domain.ErrUnauthorizedThread
	}

	s.progress(opts, "Sending your message...")
	if _, err := s.api.AddMessage(ctx, token, threadID, "user", text); err != nil {
		return "", fmt.Errorf("failed to append message: %w", err)
	}

	s.progress(opts, "Thinking...")
	run, err := s.api.CreateRun(ctx, token, threadID, s.assistantID)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	final, attempts, err := s.pollRun(ctx, token, threadID, run.ID, opts)
	if err != nil {
		return "", err
	}
	if final.Status != agents.RunCompleted {
		detail := ""
		if final.LastError != nil {
			detail = ": " + final.LastError.Message
		}
		return "", fmt.Errorf("run ended with status %s after %d attempts%s", final.Status, attempts, detail)
	}

	s.progress(opts, "Fetching the response...")
	messages, err := s.api.ListMessages(ctx, token, threadID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch messages: %w", err)
	}
	reply := ""
	for _, m := range messages {
		// Listings are newest-first; the first assistant entry is the reply.
		if m.Role == "assistant" {
			reply = m.Text()
			break
		}
	}
	if reply == "" {
		return "", domain.ErrNoResponse
	}

	s.sessions.IncrementMessageCount(userID)
	return reply, nil
}

// pollRun polls run status at a fixed interval until terminal or the
// attempt ceiling. Individual poll failures are logged and tolerated.
func (s *ChatService) pollRun(ctx context.Context, token, threadID, runID string, opts SendOptions) (*agents.Run, int, error) {
	lastStatus := agents.RunQueued
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		run, err := s.api.GetRun(ctx, token, threadID, runID)
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Int("attempt", attempt).Msg("run status poll failed")
			continue
		}
		lastStatus = run.Status
		if run.Terminal() {
			return run, attempt, nil
		}
		if attempt%5 == 0 {
			s.progress(opts, fmt.Sprintf("Still working (%s)...", run.Status))
		}
	}
	return nil, s.maxAttempts, &domain.TimeoutError{
		Op:         "run completion",
		LastStatus: lastStatus,
		Attempts:   s.maxAttempts,
	}
}
