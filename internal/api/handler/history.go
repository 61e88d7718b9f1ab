package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mzielin/agent-bridge/internal/api/middleware"
	"github.com/mzielin/agent-bridge/internal/api/response"
	"github.com/mzielin/agent-bridge/internal/service"
)

// HistoryHandler handles conversation history endpoints
type HistoryHandler struct {
	historyService *service.HistoryService
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(historyService *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{historyService: historyService}
}

// List returns the reconciled conversation history, newest first
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.BadRequest(w, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	conversations, err := h.historyService.GetConversationHistory(r.Context(), userID, token, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// Search filters the history by a free-text query
func (h *HistoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	query := r.URL.Query().Get("q")
	if query == "" {
		response.BadRequest(w, "missing q parameter")
		return
	}

	conversations, err := h.historyService.SearchConversations(r.Context(), userID, token, query)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// Summary returns aggregate history statistics
func (h *HistoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	summary, err := h.historyService.GetConversationSummary(r.Context(), userID, token)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, summary)
}

// UpdateTitleRequest renames one conversation
type UpdateTitleRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

// UpdateTitle overrides the derived title for a conversation
func (h *HistoryHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		response.BadRequest(w, "missing thread ID")
		return
	}

	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.historyService.UpdateConversationTitle(r.Context(), threadID, req.Title); err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]string{
		"thread_id": threadID,
		"title":     req.Title,
	})
}

// Delete removes one conversation remotely and locally
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		response.BadRequest(w, "missing thread ID")
		return
	}

	if err := h.historyService.DeleteConversation(r.Context(), userID, token, threadID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// DeleteAll removes every conversation for the user. Partial failure
// returns 200 with the per-thread outcome rather than an error.
func (h *HistoryHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	result, err := h.historyService.DeleteAllConversations(r.Context(), userID, token)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, result)
}

// FlushCache clears every cached conversation metadata entry
func (h *HistoryHandler) FlushCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.historyService.CleanupOldCache(r.Context())
	if err != nil {
		response.InternalError(w, "failed to flush cache: "+err.Error())
		return
	}

	response.OK(w, map[string]any{
		"message":      "cache flushed successfully",
		"keys_deleted": deleted,
	})
}
