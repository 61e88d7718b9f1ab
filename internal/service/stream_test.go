package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/domain"
)

func deltaEvent(text string) agents.StreamEvent {
	payload, _ := json.Marshal(map[string]any{
		"delta": map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": map[string]string{"value": text}},
			},
		},
	})
	return agents.StreamEvent{Type: agents.EventMessageDelta, Data: payload}
}

func runEvent(eventType string, run agents.Run) agents.StreamEvent {
	payload, _ := json.Marshal(run)
	return agents.StreamEvent{Type: eventType, Data: payload}
}

func newTestStreamService(threadID string, events []agents.StreamEvent) (*StreamService, *MockAgentsAPI, *MockStreamer) {
	sessions, _, _, api := newTestSessionService(threadID)
	streamer := new(MockStreamer)
	streamer.On("StreamRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			h := args.Get(4).(agents.StreamHandler)
			for _, ev := range events {
				h(ev)
			}
		}).
		Return(nil)
	return NewStreamService(sessions, api, streamer, "asst_test"), api, streamer
}

func TestStreamService_StreamMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("accumulates tokens and reports completion", func(t *testing.T) {
		events := []agents.StreamEvent{
			deltaEvent("Hello"),
			deltaEvent(", "),
			deltaEvent("world"),
			runEvent(agents.EventRunCompleted, agents.Run{
				Status: agents.RunCompleted,
				Usage:  &agents.Usage{TotalTokens: 42},
			}),
			{Type: agents.EventDone},
		}
		svc, api, _ := newTestStreamService("thread_str1234567", events)
		api.On("AddMessage", mock.Anything, "tok", "thread_str1234567", "user", "hi").
			Return(&agents.Message{ID: "msg_1"}, nil)

		var tokens []string
		var finalText string
		finalTokens := 0

		err := svc.StreamMessage(ctx, "user-1", "hi", "tok", StreamCallbacks{
			OnToken: func(tok string) { tokens = append(tokens, tok) },
			OnComplete: func(text string, n int) {
				finalText = text
				finalTokens = n
			},
		})
		assert.NoError(t, err)
		assert.Equal(t, []string{"Hello", ", ", "world"}, tokens)
		assert.Equal(t, "Hello, world", finalText)
		assert.Equal(t, 42, finalTokens)
	})

	t.Run("surfaces the dispatched expert", func(t *testing.T) {
		run := agents.Run{Status: agents.RunRequiresAction}
		run.RequiredAction = &agents.RequiredAction{}
		call := agents.ToolCall{Type: "function"}
		call.Function.Name = "lookup_order_status"
		run.RequiredAction.SubmitToolOutputs.ToolCalls = []agents.ToolCall{call}

		events := []agents.StreamEvent{
			runEvent(agents.EventRequiresAction, run),
			deltaEvent("Checking..."),
			runEvent(agents.EventRunCompleted, agents.Run{Status: agents.RunCompleted}),
		}
		svc, api, _ := newTestStreamService("thread_exp1234567", events)
		api.On("AddMessage", mock.Anything, "tok", "thread_exp1234567", "user", "where is my order").
			Return(&agents.Message{ID: "msg_1"}, nil)

		agentName := ""
		err := svc.StreamMessage(ctx, "user-1", "where is my order", "tok", StreamCallbacks{
			OnAgent: func(name string) { agentName = name },
		})
		assert.NoError(t, err)
		assert.Equal(t, "Order Support Expert", agentName)
	})

	t.Run("failed run is an error", func(t *testing.T) {
		events := []agents.StreamEvent{
			runEvent(agents.EventRunFailed, agents.Run{
				Status:    agents.RunFailed,
				LastError: &agents.RunError{Message: "overloaded"},
			}),
		}
		svc, api, _ := newTestStreamService("thread_bad1234567", events)
		api.On("AddMessage", mock.Anything, "tok", "thread_bad1234567", "user", "hi").
			Return(&agents.Message{ID: "msg_1"}, nil)

		err := svc.StreamMessage(ctx, "user-1", "hi", "tok", StreamCallbacks{})
		assert.ErrorContains(t, err, "overloaded")
	})

	t.Run("stream without completion is ErrNoResponse", func(t *testing.T) {
		events := []agents.StreamEvent{deltaEvent("partial")}
		svc, api, _ := newTestStreamService("thread_cut1234567", events)
		api.On("AddMessage", mock.Anything, "tok", "thread_cut1234567", "user", "hi").
			Return(&agents.Message{ID: "msg_1"}, nil)

		err := svc.StreamMessage(ctx, "user-1", "hi", "tok", StreamCallbacks{})
		assert.ErrorIs(t, err, domain.ErrNoResponse)
	})

	t.Run("second concurrent stream is rejected", func(t *testing.T) {
		sessions, _, _, api := newTestSessionService("thread_bsy1234567")
		api.On("AddMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(&agents.Message{ID: "msg_1"}, nil)

		started := make(chan struct{})
		release := make(chan struct{})
		streamer := new(MockStreamer)
		streamer.On("StreamRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				close(started)
				<-release
				h := args.Get(4).(agents.StreamHandler)
				h(runEvent(agents.EventRunCompleted, agents.Run{Status: agents.RunCompleted}))
			}).
			Return(nil)
		svc := NewStreamService(sessions, api, streamer, "asst_test")

		var wg sync.WaitGroup
		wg.Add(1)
		var firstErr error
		go func() {
			defer wg.Done()
			firstErr = svc.StreamMessage(ctx, "user-1", "hi", "tok", StreamCallbacks{})
		}()
		<-started

		err := svc.StreamMessage(ctx, "user-1", "again", "tok", StreamCallbacks{})
		assert.ErrorIs(t, err, domain.ErrStreamActive)

		close(release)
		wg.Wait()
		assert.NoError(t, firstErr)
	})

	t.Run("stop aborts without error", func(t *testing.T) {
		sessions, _, _, api := newTestSessionService("thread_stp1234567")
		api.On("AddMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(&agents.Message{ID: "msg_1"}, nil)

		streamer := new(MockStreamer)
		svc := NewStreamService(sessions, api, streamer, "asst_test")
		streamer.On("StreamRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				svc.StopStreaming()
				// Terminal event after abort must be ignored
				h := args.Get(4).(agents.StreamHandler)
				h(runEvent(agents.EventRunCompleted, agents.Run{Status: agents.RunCompleted}))
			}).
			Return(nil)

		completed := false
		err := svc.StreamMessage(ctx, "user-1", "hi", "tok", StreamCallbacks{
			OnComplete: func(string, int) { completed = true },
		})
		assert.NoError(t, err)
		assert.False(t, completed)
	})
}
