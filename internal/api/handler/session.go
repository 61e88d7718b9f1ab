package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mzielin/agent-bridge/internal/api/middleware"
	"github.com/mzielin/agent-bridge/internal/api/response"
	"github.com/mzielin/agent-bridge/internal/domain"
	"github.com/mzielin/agent-bridge/internal/service"
)

// SessionHandler handles session and thread endpoints
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Current returns the caller's active thread, if any
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	threadID, found := h.sessionService.CurrentThread(userID)
	response.OK(w, map[string]any{
		"thread_id": threadID,
		"active":    found,
	})
}

// NewThread starts a fresh conversation thread for the caller
func (h *SessionHandler) NewThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())
	name, _ := middleware.GetUserName(r.Context())

	sess, err := h.sessionService.CreateNewSession(r.Context(), userID, token, &domain.SessionMetadata{UserName: name}, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, map[string]string{
		"thread_id": sess.ThreadID,
	})
}

// SwitchThreadRequest selects another conversation thread
type SwitchThreadRequest struct {
	ThreadID string `json:"thread_id" validate:"required,min=1"`
}

// SwitchThread reassigns the caller's current session to another thread
func (h *SessionHandler) SwitchThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req SwitchThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.sessionService.SwitchThread(r.Context(), userID, req.ThreadID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]string{
		"thread_id": req.ThreadID,
	})
}

// ListThreads returns the caller's session-backed thread ids
func (h *SessionHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	threads := h.sessionService.GetUserThreads(userID)
	response.OK(w, map[string]any{
		"threads": threads,
		"count":   len(threads),
	})
}

// Deactivate marks the caller's current session inactive
func (h *SessionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	h.sessionService.DeactivateSession(userID)
	response.OK(w, map[string]string{"status": "deactivated"})
}

// Stats returns aggregate session counts
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	response.OK(w, h.sessionService.Stats())
}
