package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mzielin/agent-bridge/internal/api/middleware"
	"github.com/mzielin/agent-bridge/internal/api/response"
	"github.com/mzielin/agent-bridge/internal/service"
)

// ChatHandler handles chat turn endpoints
type ChatHandler struct {
	chatService    *service.ChatService
	streamService  *service.StreamService
	sessionService *service.SessionService
	streaming      bool
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, streamService *service.StreamService, sessionService *service.SessionService, streaming bool) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		streamService:  streamService,
		sessionService: sessionService,
		streaming:      streaming,
	}
}

// ChatRequest is one user turn
type ChatRequest struct {
	Message string `json:"message" validate:"required,min=1,max=8000"`
}

// Send executes one poll-based chat turn and returns the full reply
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	reply, err := h.chatService.SendMessage(r.Context(), userID, req.Message, token, service.SendOptions{})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	threadID, _ := h.sessionService.CurrentThread(userID)
	response.OK(w, map[string]any{
		"reply":     reply,
		"thread_id": threadID,
	})
}

// sseEvent writes one server-sent event and flushes
func sseEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// Stream executes one chat turn over server-sent events. Falls back to
// the poll-based turn when streaming is disabled or unsupported, so the
// client always gets an answer.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	message := r.URL.Query().Get("message")
	if message == "" {
		response.BadRequest(w, "missing message parameter")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !h.streaming || !h.streamService.Supported() {
		reply, err := h.chatService.SendMessage(r.Context(), userID, message, token, service.SendOptions{
			OnProgress: func(msg string) {
				sseEvent(w, flusher, "progress", map[string]string{"message": msg})
			},
		})
		if err != nil {
			sseEvent(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		sseEvent(w, flusher, "done", map[string]any{"text": reply})
		return
	}

	err := h.streamService.StreamMessage(r.Context(), userID, message, token, service.StreamCallbacks{
		OnToken: func(tok string) {
			sseEvent(w, flusher, "token", map[string]string{"text": tok})
		},
		OnAgent: func(name string) {
			sseEvent(w, flusher, "agent", map[string]string{"name": name})
		},
		OnComplete: func(text string, tokens int) {
			sseEvent(w, flusher, "done", map[string]any{"text": text, "tokens": tokens})
		},
	})
	if err != nil {
		sseEvent(w, flusher, "error", map[string]string{"error": err.Error()})
	}
}

// StopStream aborts the in-flight stream, if any
func (h *ChatHandler) StopStream(w http.ResponseWriter, r *http.Request) {
	h.streamService.StopStreaming()
	response.OK(w, map[string]string{"status": "stopped"})
}
