package agents

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mzielin/agent-bridge/internal/domain"
)

// Stream event types emitted by the remote run stream
const (
	EventStepDelta      = "thread.run.step.delta"
	EventMessageDelta   = "thread.message.delta"
	EventRunCompleted   = "thread.run.completed"
	EventRunFailed      = "thread.run.failed"
	EventRequiresAction = "thread.run.requires_action"
	EventDone           = "done"
)

// StreamEvent is one server-sent event from the run stream
type StreamEvent struct {
	Type string
	Data json.RawMessage
}

// StreamHandler receives run stream events in arrival order
type StreamHandler func(StreamEvent)

// Streamer is the push-transport counterpart of API.CreateRun
type Streamer interface {
	StreamRun(ctx context.Context, token, threadID, assistantID string, h StreamHandler) error
}

// StreamRun starts a run with the stream flag set and consumes the
// resulting server-sent-event stream until done or ctx is cancelled.
// The streaming client carries no request timeout; cancellation is the
// caller's context.
func (c *Client) StreamRun(ctx context.Context, token, threadID, assistantID string, h StreamHandler) error {
	body, err := json.Marshal(map[string]any{
		"assistant_id": assistantID,
		"stream":       true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/threads/"+threadID+"/runs", nil), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream run: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.TransportError{Op: "stream run", Status: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			// Event boundary
			if eventType != "" || data.Len() > 0 {
				payload := data.String()
				if payload == "[DONE]" {
					h(StreamEvent{Type: EventDone})
					return nil
				}
				h(StreamEvent{Type: eventType, Data: json.RawMessage(payload)})
			}
			eventType = ""
			data.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stream run: read failed: %w", err)
	}
	return nil
}

// deltaPayload covers both step and message delta event shapes
type deltaPayload struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

// DeltaText extracts the incremental token text from a delta event.
// Unknown shapes yield an empty string.
func DeltaText(data json.RawMessage) string {
	var p deltaPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	var out string
	for _, c := range p.Delta.Content {
		out += c.Text.Value
	}
	return out
}

// ParseRun decodes a run object from a run lifecycle event payload
func ParseRun(data json.RawMessage) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run event: %w", err)
	}
	return &run, nil
}

// ToolNames lists the tool names from a requires-action event payload
func ToolNames(data json.RawMessage) []string {
	run, err := ParseRun(data)
	if err != nil || run.RequiredAction == nil {
		return nil
	}
	var names []string
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		if call.Function.Name != "" {
			names = append(names, call.Function.Name)
		}
	}
	return names
}
