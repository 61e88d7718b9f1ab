package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzielin/agent-bridge/internal/domain"
)

func newTestFileStore(t *testing.T, maxEntries int) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "files.db"), maxEntries)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fileMeta(fileID, userID, threadID string, status domain.FileStatus, uploadedAt time.Time) *domain.FileMetadata {
	return &domain.FileMetadata{
		FileID:     fileID,
		UserID:     userID,
		ThreadID:   threadID,
		Filename:   fileID + ".pdf",
		Size:       1024,
		MimeType:   "application/pdf",
		UploadedAt: uploadedAt,
		Status:     status,
	}
}

func TestFileStore_UpsertAndList(t *testing.T) {
	store := newTestFileStore(t, 0)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	meta := fileMeta("file_a", "user-1", "thread_one1234567", domain.FileUploading, now)
	require.NoError(t, store.Upsert(ctx, meta))

	// Second upsert updates status and progress in place
	meta.Status = domain.FileReady
	meta.Progress = 100
	require.NoError(t, store.Upsert(ctx, meta))

	files, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, domain.FileReady, files[0].Status)
	assert.Equal(t, 100, files[0].Progress)
	assert.True(t, files[0].UploadedAt.Equal(now))

	empty, err := store.ListByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFileStore_ListByThread(t *testing.T) {
	store := newTestFileStore(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Upsert(ctx, fileMeta("file_a", "user-1", "thread_one1234567", domain.FileReady, now.Add(-time.Minute))))
	require.NoError(t, store.Upsert(ctx, fileMeta("file_b", "user-1", "thread_one1234567", domain.FileReady, now)))
	require.NoError(t, store.Upsert(ctx, fileMeta("file_c", "user-1", "thread_two1234567", domain.FileReady, now)))

	files, err := store.ListByThread(ctx, "user-1", "thread_one1234567")
	require.NoError(t, err)
	require.Len(t, files, 2)
	// Newest first
	assert.Equal(t, "file_b", files[0].FileID)
	assert.Equal(t, "file_a", files[1].FileID)
}

func TestFileStore_ReplaceID(t *testing.T) {
	store := newTestFileStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, fileMeta("local-file-123-abcd", "user-1", "thread_one1234567", domain.FileUploading, time.Now().UTC())))
	require.NoError(t, store.ReplaceID(ctx, "local-file-123-abcd", "file_remote1"))

	files, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "file_remote1", files[0].FileID)
}

func TestFileStore_HasReadyFiles(t *testing.T) {
	store := newTestFileStore(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := store.HasReadyFiles(ctx, "user-1", "thread_one1234567")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Upsert(ctx, fileMeta("file_p", "user-1", "thread_one1234567", domain.FileProcessing, now)))
	ok, err = store.HasReadyFiles(ctx, "user-1", "thread_one1234567")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Upsert(ctx, fileMeta("file_r", "user-1", "thread_one1234567", domain.FileReady, now)))
	ok, err = store.HasReadyFiles(ctx, "user-1", "thread_one1234567")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_EvictsOverflow(t *testing.T) {
	store := newTestFileStore(t, 3)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		meta := fileMeta(fmt.Sprintf("file_%d", i), "user-1", "thread_one1234567",
			domain.FileReady, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Upsert(ctx, meta))
	}

	files, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, files, 3)
	// The three newest by upload time survive
	assert.Equal(t, "file_4", files[0].FileID)
	assert.Equal(t, "file_2", files[2].FileID)
}

func TestFileStore_Delete(t *testing.T) {
	store := newTestFileStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, fileMeta("file_x", "user-1", "thread_one1234567", domain.FileReady, time.Now().UTC())))
	require.NoError(t, store.Delete(ctx, "file_x"))
	// Deleting a missing id is not an error
	require.NoError(t, store.Delete(ctx, "file_x"))

	files, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, files)
}
