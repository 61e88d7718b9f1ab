package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mzielin/agent-bridge/internal/api/middleware"
	"github.com/mzielin/agent-bridge/internal/api/response"
	"github.com/mzielin/agent-bridge/internal/service"
)

// FileHandler handles attachment endpoints
type FileHandler struct {
	fileService *service.FileService
	maxBytes    int64
}

// NewFileHandler creates a new file handler
func NewFileHandler(fileService *service.FileService, maxBytes int64) *FileHandler {
	return &FileHandler{fileService: fileService, maxBytes: maxBytes}
}

// Upload accepts one multipart attachment, forwards it to the remote
// API and waits for remote processing to finish
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		response.BadRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	meta, err := h.fileService.UploadFile(
		r.Context(),
		userID,
		token,
		header.Filename,
		header.Header.Get("Content-Type"),
		header.Size,
		file,
		service.UploadCallbacks{},
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, meta)
}

// List returns the caller's known files
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	files, err := h.fileService.GetUserFiles(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"files": files,
		"count": len(files),
	})
}

// ThreadFiles returns the files attached to one thread
func (h *FileHandler) ThreadFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		response.BadRequest(w, "missing thread ID")
		return
	}

	files, err := h.fileService.GetThreadFiles(r.Context(), userID, threadID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"files": files,
		"count": len(files),
	})
}

// Delete removes one file remotely and locally
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	token, _ := middleware.GetToken(r.Context())

	fileID := chi.URLParam(r, "fileID")
	if fileID == "" {
		response.BadRequest(w, "missing file ID")
		return
	}

	if err := h.fileService.DeleteFile(r.Context(), userID, token, fileID); err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}
