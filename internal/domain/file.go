package domain

import (
	"context"
	"time"
)

// FileStatus tracks the upload lifecycle. Transitions are monotonic
// forward: uploading → processing → ready, or uploading → processing →
// error. There is no transition back to uploading.
type FileStatus string

const (
	FileUploading  FileStatus = "uploading"
	FileProcessing FileStatus = "processing"
	FileReady      FileStatus = "ready"
	FileError      FileStatus = "error"
)

// FileMetadata describes one uploaded attachment
type FileMetadata struct {
	FileID     string     `json:"file_id"`
	UserID     string     `json:"user_id"`
	ThreadID   string     `json:"thread_id"`
	Filename   string     `json:"filename"`
	Size       int64      `json:"size"`
	MimeType   string     `json:"mime_type"`
	UploadedAt time.Time  `json:"uploaded_at"`
	Status     FileStatus `json:"status"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
}

// FileRepository defines the interface for local file metadata storage
type FileRepository interface {
	Upsert(ctx context.Context, meta *FileMetadata) error
	Delete(ctx context.Context, fileID string) error
	// ReplaceID swaps a temporary local id for the remote-assigned one.
	ReplaceID(ctx context.Context, oldID, newID string) error
	ListByUser(ctx context.Context, userID string) ([]FileMetadata, error)
	ListByThread(ctx context.Context, userID, threadID string) ([]FileMetadata, error)
	HasReadyFiles(ctx context.Context, userID, threadID string) (bool, error)
}
