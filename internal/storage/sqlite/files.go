package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mzielin/agent-bridge/internal/domain"
)

// FileStore persists attachment metadata so a restart can recover the
// last-known status of every upload (though not resume one in flight).
type FileStore struct {
	db         *sql.DB
	maxEntries int
}

// NewFileStore opens (creating if needed) the file metadata database
func NewFileStore(path string, maxEntries int) (*FileStore, error) {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &FileStore{db: db, maxEntries: maxEntries}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying database
func (s *FileStore) Close() error {
	return s.db.Close()
}

func (s *FileStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS files (
        file_id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        thread_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        size INTEGER NOT NULL,
        mime_type TEXT NOT NULL,
        uploaded_at DATETIME NOT NULL,
        status TEXT NOT NULL CHECK (status IN ('uploading', 'processing', 'ready', 'error')),
        progress INTEGER NOT NULL DEFAULT 0,
        error TEXT
    );

    CREATE INDEX IF NOT EXISTS idx_files_user ON files (user_id);
    CREATE INDEX IF NOT EXISTS idx_files_thread ON files (user_id, thread_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Upsert writes file metadata, then evicts the oldest entries past the
// bounded cap so the local store cannot grow without limit.
func (s *FileStore) Upsert(ctx context.Context, meta *domain.FileMetadata) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO files (file_id, user_id, thread_id, filename, size, mime_type, uploaded_at, status, progress, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(file_id) DO UPDATE SET
            status = excluded.status,
            progress = excluded.progress,
            error = excluded.error`,
		meta.FileID, meta.UserID, meta.ThreadID, meta.Filename, meta.Size,
		meta.MimeType, meta.UploadedAt.UTC().Format(time.RFC3339), string(meta.Status),
		meta.Progress, meta.Error)
	if err != nil {
		return fmt.Errorf("failed to save file metadata: %w", err)
	}
	return s.evictOverflow(ctx)
}

func (s *FileStore) evictOverflow(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM files WHERE file_id NOT IN (
            SELECT file_id FROM files ORDER BY uploaded_at DESC LIMIT ?
        )`, s.maxEntries)
	if err != nil {
		return fmt.Errorf("failed to evict old file metadata: %w", err)
	}
	return nil
}

// Delete removes one file's metadata
func (s *FileStore) Delete(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE file_id = ?", fileID)
	if err != nil {
		return fmt.Errorf("failed to delete file metadata: %w", err)
	}
	return nil
}

// ReplaceID swaps a temporary local id for the remote-assigned one
func (s *FileStore) ReplaceID(ctx context.Context, oldID, newID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE files SET file_id = ? WHERE file_id = ?", newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to replace file id: %w", err)
	}
	return nil
}

const fileColumns = "file_id, user_id, thread_id, filename, size, mime_type, uploaded_at, status, progress, COALESCE(error, '')"

func scanFile(rows *sql.Rows) (domain.FileMetadata, error) {
	var meta domain.FileMetadata
	var uploadedAt, status string
	err := rows.Scan(&meta.FileID, &meta.UserID, &meta.ThreadID, &meta.Filename,
		&meta.Size, &meta.MimeType, &uploadedAt, &status, &meta.Progress, &meta.Error)
	if err != nil {
		return meta, err
	}
	// Dates are persisted as strings and must be parsed back
	meta.UploadedAt, err = time.Parse(time.RFC3339, uploadedAt)
	if err != nil {
		return meta, fmt.Errorf("failed to parse uploaded_at: %w", err)
	}
	meta.Status = domain.FileStatus(status)
	return meta, nil
}

func (s *FileStore) list(ctx context.Context, query string, args ...any) ([]domain.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query file metadata: %w", err)
	}
	defer rows.Close()

	var out []domain.FileMetadata
	for rows.Next() {
		meta, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// ListByUser returns all files uploaded by a user, newest first
func (s *FileStore) ListByUser(ctx context.Context, userID string) ([]domain.FileMetadata, error) {
	return s.list(ctx,
		"SELECT "+fileColumns+" FROM files WHERE user_id = ? ORDER BY uploaded_at DESC", userID)
}

// ListByThread returns a user's files attached to one thread, newest first
func (s *FileStore) ListByThread(ctx context.Context, userID, threadID string) ([]domain.FileMetadata, error) {
	return s.list(ctx,
		"SELECT "+fileColumns+" FROM files WHERE user_id = ? AND thread_id = ? ORDER BY uploaded_at DESC",
		userID, threadID)
}

// HasReadyFiles reports whether a thread has at least one ready attachment
func (s *FileStore) HasReadyFiles(ctx context.Context, userID, threadID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM files WHERE user_id = ? AND thread_id = ? AND status = 'ready'",
		userID, threadID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count ready files: %w", err)
	}
	return count > 0, nil
}
