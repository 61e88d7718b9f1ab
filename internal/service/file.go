package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/domain"
	"github.com/mzielin/agent-bridge/internal/security"
)

const (
	defaultFilePollInterval = time.Second
	defaultFileMaxAttempts  = 30
)

// UploadCallbacks receives upload lifecycle notifications
type UploadCallbacks struct {
	// OnProgress receives upload percentage, 0-100
	OnProgress func(int)
	// OnStatusChange fires once per status transition
	OnStatusChange func(domain.FileStatus)
}

// FileService uploads attachments to the remote API and tracks their
// lifecycle locally, so a restart can recover last-known status.
type FileService struct {
	sessions  *SessionService
	api       agents.API
	files     domain.FileRepository
	validator *security.UploadValidator

	pollInterval time.Duration
	maxAttempts  int
	now          func() time.Time
}

// NewFileService creates a new file service
func NewFileService(sessions *SessionService, api agents.API, files domain.FileRepository, validator *security.UploadValidator) *FileService {
	return &FileService{
		sessions:     sessions,
		api:          api,
		files:        files,
		validator:    validator,
		pollInterval: defaultFilePollInterval,
		maxAttempts:  defaultFileMaxAttempts,
		now:          time.Now,
	}
}

// progressReader counts bytes as the upload transport consumes them
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastPct    int
	onProgress func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.onProgress != nil && p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.lastPct {
			p.lastPct = pct
			p.onProgress(pct)
		}
	}
	return n, err
}

func (s *FileService) persist(ctx context.Context, meta *domain.FileMetadata) {
	if err := s.files.Upsert(ctx, meta); err != nil {
		log.Error().Err(err).Str("file_id", meta.FileID).Msg("failed to persist file metadata")
	}
}

func (s *FileService) transition(ctx context.Context, meta *domain.FileMetadata, status domain.FileStatus, cb UploadCallbacks) {
	meta.Status = status
	s.persist(ctx, meta)
	if cb.OnStatusChange != nil {
		cb.OnStatusChange(status)
	}
}

// UploadFile validates and uploads one attachment, then polls the remote
// processing status until ready, error, or the attempt ceiling. Status
// moves monotonically uploading → processing → ready|error.
func (s *FileService) UploadFile(ctx context.Context, userID, token, filename, mimeType string, size int64, body io.Reader, cb UploadCallbacks) (*domain.FileMetadata, error) {
	if err := s.validator.Validate(filename, size); err != nil {
		return nil, err
	}

	threadID, err := s.sessions.GetUserThread(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if !s.sessions.AuthorizeThreadAccess(userID, threadID) {
		return nil, domain.ErrUnauthorizedThread
	}

	// Temporary local id for progress tracking until the remote assigns one
	tempID := fmt.Sprintf("local-file-%d-%s", s.now().UnixMilli(), uuid.NewString()[:8])
	meta := &domain.FileMetadata{
		FileID:     tempID,
		UserID:     userID,
		ThreadID:   threadID,
		Filename:   filename,
		Size:       size,
		MimeType:   mimeType,
		UploadedAt: s.now(),
		Status:     domain.FileUploading,
		Progress:   0,
	}
	s.persist(ctx, meta)
	if cb.OnStatusChange != nil {
		cb.OnStatusChange(domain.FileUploading)
	}

	reader := &progressReader{
		r:     body,
		total: size,
		onProgress: func(pct int) {
			meta.Progress = pct
			if cb.OnProgress != nil {
				cb.OnProgress(pct)
			}
		},
	}

	remote, err := s.api.UploadFile(ctx, token, filename, reader)
	if err != nil {
		meta.Error = err.Error()
		s.transition(ctx, meta, domain.FileError, cb)
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	if err := s.files.ReplaceID(ctx, tempID, remote.ID); err != nil {
		log.Error().Err(err).Str("file_id", remote.ID).Msg("failed to replace temporary file id")
	}
	meta.FileID = remote.ID
	meta.Progress = 100
	s.transition(ctx, meta, domain.FileProcessing, cb)

	if err := s.pollProcessing(ctx, token, meta, cb); err != nil {
		return nil, err
	}
	return meta, nil
}

// pollProcessing waits for the remote file to finish processing
func (s *FileService) pollProcessing(ctx context.Context, token string, meta *domain.FileMetadata, cb UploadCallbacks) error {
	lastStatus := agents.FileStatusUploaded
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}

		remote, err := s.api.GetFile(ctx, token, meta.FileID)
		if err != nil {
			log.Warn().Err(err).Str("file_id", meta.FileID).Int("attempt", attempt).Msg("file status poll failed")
			continue
		}
		lastStatus = remote.Status
		switch remote.Status {
		case agents.FileStatusProcessed, "ready":
			s.transition(ctx, meta, domain.FileReady, cb)
			return nil
		case agents.FileStatusError, "failed":
			meta.Error = "remote processing failed"
			s.transition(ctx, meta, domain.FileError, cb)
			return fmt.Errorf("file processing failed for %s", meta.Filename)
		}
	}

	timeoutErr := &domain.TimeoutError{
		Op:         "file processing",
		LastStatus: lastStatus,
		Attempts:   s.maxAttempts,
	}
	meta.Error = timeoutErr.Error()
	s.transition(ctx, meta, domain.FileError, cb)
	return timeoutErr
}

// GetUserFiles lists the user's locally known files
func (s *FileService) GetUserFiles(ctx context.Context, userID string) ([]domain.FileMetadata, error) {
	return s.files.ListByUser(ctx, userID)
}

// GetThreadFiles lists a thread's files after authorizing access
func (s *FileService) GetThreadFiles(ctx context.Context, userID, threadID string) ([]domain.FileMetadata, error) {
	if !s.sessions.AuthorizeThreadAccess(userID, threadID) {
		return nil, domain.ErrUnauthorizedThread
	}
	return s.files.ListByThread(ctx, userID, threadID)
}

// DeleteFile removes a file the user owns. Remote deletion is tolerated
// to fail; local metadata is removed regardless.
func (s *FileService) DeleteFile(ctx context.Context, userID, token, fileID string) error {
	owned, err := s.files.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for _, f := range owned {
		if f.FileID == fileID {
			found = true
			break
		}
	}
	if !found {
		return domain.ErrUnauthorizedThread
	}

	if err := s.api.DeleteFile(ctx, token, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("remote file deletion failed, removing local metadata anyway")
	}
	return s.files.Delete(ctx, fileID)
}
