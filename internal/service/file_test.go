package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/domain"
	"github.com/mzielin/agent-bridge/internal/security"
)

func newTestFileService(threadID string) (*FileService, *MockFileRepository, *MockAgentsAPI) {
	sessions, _, _, api := newTestSessionService(threadID)
	files := new(MockFileRepository)
	svc := NewFileService(sessions, api, files, security.NewUploadValidator(0, nil))
	svc.pollInterval = time.Millisecond
	svc.maxAttempts = 5
	return svc, files, api
}

func TestFileService_UploadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("full lifecycle to ready", func(t *testing.T) {
		svc, files, api := newTestFileService("thread_upl1234567")
		content := bytes.Repeat([]byte("a"), 2<<20)

		files.On("Upsert", mock.Anything, mock.AnythingOfType("*domain.FileMetadata")).Return(nil)
		files.On("ReplaceID", mock.Anything, mock.MatchedBy(func(id string) bool {
			return strings.HasPrefix(id, "local-file-")
		}), "file_remote1").Return(nil)
		api.On("UploadFile", mock.Anything, "tok", "report.pdf", mock.Anything).
			Return(&agents.File{ID: "file_remote1", Status: agents.FileStatusUploaded}, nil)
		api.On("GetFile", mock.Anything, "tok", "file_remote1").
			Return(&agents.File{ID: "file_remote1", Status: agents.FileStatusUploaded}, nil).Once()
		api.On("GetFile", mock.Anything, "tok", "file_remote1").
			Return(&agents.File{ID: "file_remote1", Status: agents.FileStatusProcessed}, nil).Once()

		var transitions []domain.FileStatus
		meta, err := svc.UploadFile(ctx, "user-1", "tok", "report.pdf", "application/pdf",
			int64(len(content)), bytes.NewReader(content), UploadCallbacks{
				OnStatusChange: func(st domain.FileStatus) { transitions = append(transitions, st) },
			})
		assert.NoError(t, err)
		assert.Equal(t, "file_remote1", meta.FileID)
		assert.Equal(t, domain.FileReady, meta.Status)
		assert.Equal(t, 100, meta.Progress)
		assert.Equal(t, []domain.FileStatus{
			domain.FileUploading,
			domain.FileProcessing,
			domain.FileReady,
		}, transitions)
	})

	t.Run("reports upload progress", func(t *testing.T) {
		svc, files, api := newTestFileService("thread_prg1234567")
		content := bytes.Repeat([]byte("b"), 1<<20)

		files.On("Upsert", mock.Anything, mock.Anything).Return(nil)
		files.On("ReplaceID", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		api.On("UploadFile", mock.Anything, "tok", "data.csv", mock.Anything).
			Run(func(args mock.Arguments) {
				// Drain the reader the way the HTTP transport would
				r := args.Get(3).(io.Reader)
				buf := make([]byte, 64*1024)
				for {
					if _, err := r.Read(buf); err != nil {
						break
					}
				}
			}).
			Return(&agents.File{ID: "file_remote2"}, nil)
		api.On("GetFile", mock.Anything, "tok", "file_remote2").
			Return(&agents.File{ID: "file_remote2", Status: agents.FileStatusProcessed}, nil)

		var lastPct int
		_, err := svc.UploadFile(ctx, "user-1", "tok", "data.csv", "text/csv",
			int64(len(content)), bytes.NewReader(content), UploadCallbacks{
				OnProgress: func(pct int) { lastPct = pct },
			})
		assert.NoError(t, err)
		assert.Equal(t, 100, lastPct)
	})

	t.Run("remote processing failure", func(t *testing.T) {
		svc, files, api := newTestFileService("thread_bad1234567")

		files.On("Upsert", mock.Anything, mock.Anything).Return(nil)
		files.On("ReplaceID", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		api.On("UploadFile", mock.Anything, "tok", "broken.pdf", mock.Anything).
			Return(&agents.File{ID: "file_remote3"}, nil)
		api.On("GetFile", mock.Anything, "tok", "file_remote3").
			Return(&agents.File{ID: "file_remote3", Status: agents.FileStatusError}, nil)

		var transitions []domain.FileStatus
		_, err := svc.UploadFile(ctx, "user-1", "tok", "broken.pdf", "application/pdf",
			100, strings.NewReader(strings.Repeat("x", 100)), UploadCallbacks{
				OnStatusChange: func(st domain.FileStatus) { transitions = append(transitions, st) },
			})
		assert.Error(t, err)
		assert.Equal(t, domain.FileError, transitions[len(transitions)-1])
	})

	t.Run("processing timeout", func(t *testing.T) {
		svc, files, api := newTestFileService("thread_tmo1234567")

		files.On("Upsert", mock.Anything, mock.Anything).Return(nil)
		files.On("ReplaceID", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		api.On("UploadFile", mock.Anything, "tok", "slow.pdf", mock.Anything).
			Return(&agents.File{ID: "file_remote4"}, nil)
		api.On("GetFile", mock.Anything, "tok", "file_remote4").
			Return(&agents.File{ID: "file_remote4", Status: agents.FileStatusUploaded}, nil)

		_, err := svc.UploadFile(ctx, "user-1", "tok", "slow.pdf", "application/pdf",
			100, strings.NewReader(strings.Repeat("x", 100)), UploadCallbacks{})

		var timeoutErr *domain.TimeoutError
		assert.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, 5, timeoutErr.Attempts)
	})

	t.Run("validation failures never reach the API", func(t *testing.T) {
		svc, _, api := newTestFileService("")

		cases := []struct {
			name     string
			filename string
			size     int64
		}{
			{"empty filename", "", 100},
			{"empty file", "a.pdf", 0},
			{"too large", "a.pdf", 26 << 20},
			{"path traversal", "../../etc/passwd.txt", 100},
			{"executable", "virus.exe", 100},
			{"double extension", "invoice.pdf.exe", 100},
			{"unsupported type", "archive.zip", 100},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := svc.UploadFile(ctx, "user-1", "tok", tc.filename, "", tc.size,
					strings.NewReader("x"), UploadCallbacks{})
				var validationErr *domain.ValidationError
				assert.ErrorAs(t, err, &validationErr)
			})
		}
		api.AssertNotCalled(t, "UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestFileService_DeleteFile(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses files the user does not own", func(t *testing.T) {
		svc, files, api := newTestFileService("")
		files.On("ListByUser", mock.Anything, "user-1").Return([]domain.FileMetadata{}, nil)

		err := svc.DeleteFile(ctx, "user-1", "tok", "file_foreign")
		assert.ErrorIs(t, err, domain.ErrUnauthorizedThread)
		api.AssertNotCalled(t, "DeleteFile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("remote failure still removes local metadata", func(t *testing.T) {
		svc, files, api := newTestFileService("")
		files.On("ListByUser", mock.Anything, "user-1").
			Return([]domain.FileMetadata{{FileID: "file_mine", UserID: "user-1"}}, nil)
		api.On("DeleteFile", mock.Anything, "tok", "file_mine").Return(assert.AnError)
		files.On("Delete", mock.Anything, "file_mine").Return(nil)

		err := svc.DeleteFile(ctx, "user-1", "tok", "file_mine")
		assert.NoError(t, err)
		files.AssertExpectations(t)
	})
}

func TestFileService_GetThreadFiles(t *testing.T) {
	ctx := context.Background()
	svc, files, _ := newTestFileService("")

	t.Run("unauthorized thread", func(t *testing.T) {
		known := svc.sessions.known.(*MockKnownThreadsRepository)
		known.On("KnownThreads", "user-1").Return(nil, nil)

		_, err := svc.GetThreadFiles(ctx, "user-1", "short")
		assert.ErrorIs(t, err, domain.ErrUnauthorizedThread)
	})

	t.Run("remote shaped thread lists files", func(t *testing.T) {
		known := svc.sessions.known.(*MockKnownThreadsRepository)
		known.On("AddKnownThread", "user-1", "thread_fls1234567").Return(nil)
		files.On("ListByThread", mock.Anything, "user-1", "thread_fls1234567").
			Return([]domain.FileMetadata{{FileID: "file_1"}}, nil)

		got, err := svc.GetThreadFiles(ctx, "user-1", "thread_fls1234567")
		assert.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
