package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/internal/notify"
	"github.com/crashdock/crashdock/internal/storage"
	"github.com/crashdock/crashdock/pkg/config"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/crashdock/crashdock/pkg/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	service *Service
	db      *common.Database
	blobs   storage.BlobStorage
	tempDir string
	userID  uuid.UUID
}

func setupTestDB(t *testing.T) *common.Database {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	wrapped := &common.Database{DB: db}
	require.NoError(t, wrapped.Migrate())
	return wrapped
}

func setupTestService(t *testing.T, chunkSize int64) *testEnv {
	db := setupTestDB(t)

	user := &types.User{
		Username: "uploader",
		Email:    "uploader@example.com",
		Password: "irrelevant",
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)

	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	tempDir := t.TempDir()
	service := NewService(db, blobs, notify.NoopNotifier{}, &config.UploadConfig{
		TempDir:      tempDir,
		ChunkSize:    chunkSize,
		SessionTTL:   30 * time.Minute,
		ReapInterval: time.Minute,
	})

	return &testEnv{
		service: service,
		db:      db,
		blobs:   blobs,
		tempDir: tempDir,
		userID:  user.ID,
	}
}

func (e *testEnv) fileCount(t *testing.T) int64 {
	var count int64
	require.NoError(t, e.db.Model(&types.UploadedFile{}).Count(&count).Error)
	return count
}

func TestStartUpload(t *testing.T) {
	env := setupTestService(t, 5)

	resp, err := env.service.StartUpload("server build.jar", "server", 12)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, int64(5), resp.ChunkSize)
	assert.Equal(t, 3, resp.MaxChunks)
	assert.Equal(t, string(StateReady), resp.Status)

	// The chunk holding area exists as soon as the session does
	_, err = os.Stat(filepath.Join(env.tempDir, resp.SessionID))
	assert.NoError(t, err)
}

func TestStartUploadRejectsNonPositiveSize(t *testing.T) {
	env := setupTestService(t, 5)

	_, err := env.service.StartUpload("empty.bin", "server", 0)
	assert.Error(t, err)

	_, err = env.service.StartUpload("negative.bin", "server", -1)
	assert.Error(t, err)
}

func TestStartUploadSameFilenameIndependentSessions(t *testing.T) {
	env := setupTestService(t, 5)

	first, err := env.service.StartUpload("build.jar", "server", 10)
	require.NoError(t, err)
	second, err := env.service.StartUpload("build.jar", "server", 10)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, env.service.Registry().Len())
}

func TestUploadChunkOutOfOrderCompletes(t *testing.T) {
	env := setupTestService(t, 5)
	ctx := context.Background()

	resp, err := env.service.StartUpload("world backup.zip", "server", 12)
	require.NoError(t, err)
	require.Equal(t, 3, resp.MaxChunks)

	chunks := []string{"AAAAA", "BBBBB", "CC"}

	// Chunks arrive out of order; only the last arrival completes
	cr, err := env.service.UploadChunk(ctx, resp.SessionID, 2, 3, strings.NewReader(chunks[2]), env.userID)
	require.NoError(t, err)
	assert.Equal(t, "CHUNK_RECEIVED", cr.Status)
	assert.Equal(t, 33, cr.Progress)

	cr, err = env.service.UploadChunk(ctx, resp.SessionID, 0, 3, strings.NewReader(chunks[0]), env.userID)
	require.NoError(t, err)
	assert.Equal(t, "CHUNK_RECEIVED", cr.Status)
	assert.Equal(t, 66, cr.Progress)

	cr, err = env.service.UploadChunk(ctx, resp.SessionID, 1, 3, strings.NewReader(chunks[1]), env.userID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", cr.Status)
	assert.Equal(t, 100, cr.Progress)
	require.NotNil(t, cr.File)

	// The artifact is the chunks concatenated in index order
	want := chunks[0] + chunks[1] + chunks[2]
	rc, err := env.blobs.Retrieve(ctx, "server/world_backup.zip")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, want, string(content))

	assert.Equal(t, "world backup.zip", cr.File.OriginalFilename)
	assert.Equal(t, "world_backup.zip", cr.File.StoredFilename)
	assert.Equal(t, "SERVER", cr.File.Category)
	assert.Equal(t, int64(12), cr.File.Size)
	assert.Equal(t, utils.ComputeSHA256([]byte(want)), cr.File.Checksum)
	assert.Equal(t, env.userID, cr.File.UploadedBy)

	assert.Equal(t, int64(1), env.fileCount(t))

	// The chunk holding area is gone once the session completed
	_, statErr := os.Stat(filepath.Join(env.tempDir, resp.SessionID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUploadChunkValidation(t *testing.T) {
	env := setupTestService(t, 5)
	ctx := context.Background()

	resp, err := env.service.StartUpload("data.bin", "other", 12)
	require.NoError(t, err)

	_, err = env.service.UploadChunk(ctx, "not-a-uuid", 0, 3, strings.NewReader("x"), env.userID)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	_, err = env.service.UploadChunk(ctx, uuid.NewString(), 0, 3, strings.NewReader("x"), env.userID)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	_, err = env.service.UploadChunk(ctx, resp.SessionID, 0, 5, strings.NewReader("x"), env.userID)
	assert.True(t, errors.Is(err, ErrChunkCountMismatch))

	_, err = env.service.UploadChunk(ctx, resp.SessionID, -1, 3, strings.NewReader("x"), env.userID)
	assert.True(t, errors.Is(err, ErrInvalidChunkIndex))

	_, err = env.service.UploadChunk(ctx, resp.SessionID, 3, 3, strings.NewReader("x"), env.userID)
	assert.True(t, errors.Is(err, ErrInvalidChunkIndex))
}

func TestUploadChunkDuplicateLastWriteWins(t *testing.T) {
	env := setupTestService(t, 4)
	ctx := context.Background()

	resp, err := env.service.StartUpload("notes.txt", "other", 8)
	require.NoError(t, err)

	_, err = env.service.UploadChunk(ctx, resp.SessionID, 0, 2, strings.NewReader("old0"), env.userID)
	require.NoError(t, err)

	// Same index again before completion: payload replaced, count unchanged
	cr, err := env.service.UploadChunk(ctx, resp.SessionID, 0, 2, strings.NewReader("new0"), env.userID)
	require.NoError(t, err)
	assert.Equal(t, "CHUNK_RECEIVED", cr.Status)
	assert.Equal(t, 50, cr.Progress)

	cr, err = env.service.UploadChunk(ctx, resp.SessionID, 1, 2, strings.NewReader("end1"), env.userID)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", cr.Status)

	rc, err := env.blobs.Retrieve(ctx, "other/notes.txt")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "new0end1", string(content))
}

func TestUploadChunkRetransmitAfterCompletion(t *testing.T) {
	env := setupTestService(t, 4)
	ctx := context.Background()

	resp, err := env.service.StartUpload("single.bin", "client", 4)
	require.NoError(t, err)

	cr, err := env.service.UploadChunk(ctx, resp.SessionID, 0, 1, strings.NewReader("DATA"), env.userID)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", cr.Status)

	// A client retry after completion gets the terminal status, not an error
	cr, err = env.service.UploadChunk(ctx, resp.SessionID, 0, 1, strings.NewReader("DATA"), env.userID)
	require.NoError(t, err)
	assert.Equal(t, string(StateCompleted), cr.Status)
	assert.Equal(t, 100, cr.Progress)
	require.NotNil(t, cr.File)

	// And only one catalog record exists
	assert.Equal(t, int64(1), env.fileCount(t))
}

func TestUploadChunkConcurrentLastChunk(t *testing.T) {
	env := setupTestService(t, 4)
	ctx := context.Background()

	resp, err := env.service.StartUpload("race.bin", "server", 8)
	require.NoError(t, err)

	_, err = env.service.UploadChunk(ctx, resp.SessionID, 0, 2, strings.NewReader("AAAA"), env.userID)
	require.NoError(t, err)

	// Several clients retransmit the final chunk at once. Exactly one
	// artifact may come out the other side.
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cr, err := env.service.UploadChunk(ctx, resp.SessionID, 1, 2, strings.NewReader("BBBB"), env.userID)
			if err != nil {
				return
			}
			if cr.Status == "COMPLETED" || cr.Status == string(StateCompleted) {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, completed, 1)
	assert.Equal(t, int64(1), env.fileCount(t))

	rc, err := env.blobs.Retrieve(ctx, "server/race.bin")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "AAAABBBB", string(content))
}

// cancelOnStore runs a hook right after the artifact lands in blob storage,
// in the window between assembly and cataloging.
type cancelOnStore struct {
	storage.BlobStorage
	hook func()
}

func (c *cancelOnStore) Store(ctx context.Context, path string, content io.Reader) error {
	if err := c.BlobStorage.Store(ctx, path, content); err != nil {
		return err
	}
	if c.hook != nil {
		c.hook()
	}
	return nil
}

func TestCancelDuringAssemblyDiscardsArtifact(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := &types.User{Username: "uploader", Email: "uploader@example.com", Password: "x", IsActive: true}
	require.NoError(t, db.Create(user).Error)

	inner, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	blobs := &cancelOnStore{BlobStorage: inner}

	tempDir := t.TempDir()
	service := NewService(db, blobs, notify.NoopNotifier{}, &config.UploadConfig{
		TempDir:      tempDir,
		ChunkSize:    4,
		SessionTTL:   30 * time.Minute,
		ReapInterval: time.Minute,
	})

	resp, err := service.StartUpload("late cancel.bin", "server", 8)
	require.NoError(t, err)

	// Cancellation lands after the artifact is written but before it is
	// cataloged; the result must not surface through the removed session.
	blobs.hook = func() { service.CancelUpload(resp.SessionID) }

	_, err = service.UploadChunk(ctx, resp.SessionID, 0, 2, strings.NewReader("AAAA"), user.ID)
	require.NoError(t, err)

	_, err = service.UploadChunk(ctx, resp.SessionID, 1, 2, strings.NewReader("BBBB"), user.ID)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	// No catalog row exists
	var count int64
	require.NoError(t, db.Model(&types.UploadedFile{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// The orphan artifact was deleted from blob storage
	exists, err := inner.Exists(ctx, "server/late_cancel.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	// And the chunk holding area is gone
	_, statErr := os.Stat(filepath.Join(tempDir, resp.SessionID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestGetProgress(t *testing.T) {
	env := setupTestService(t, 4)
	ctx := context.Background()

	resp, err := env.service.StartUpload("progress.bin", "server", 12)
	require.NoError(t, err)

	progress, err := env.service.GetProgress(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(StateReady), progress.Status)
	assert.Equal(t, 0, progress.Progress)

	_, err = env.service.UploadChunk(ctx, resp.SessionID, 0, 3, strings.NewReader("AAAA"), env.userID)
	require.NoError(t, err)

	progress, err = env.service.GetProgress(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(StateUploading), progress.Status)
	assert.Equal(t, 33, progress.Progress)
	assert.Equal(t, int64(4), progress.UploadedBytes)

	_, err = env.service.GetProgress("unknown")
	assert.True(t, errors.Is(err, ErrInvalidSession))
}

func TestCancelUpload(t *testing.T) {
	env := setupTestService(t, 4)
	ctx := context.Background()

	resp, err := env.service.StartUpload("abandoned.bin", "server", 8)
	require.NoError(t, err)

	_, err = env.service.UploadChunk(ctx, resp.SessionID, 0, 2, strings.NewReader("AAAA"), env.userID)
	require.NoError(t, err)

	env.service.CancelUpload(resp.SessionID)

	_, err = env.service.GetProgress(resp.SessionID)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	// Chunk holding area is reclaimed
	_, statErr := os.Stat(filepath.Join(env.tempDir, resp.SessionID))
	assert.True(t, os.IsNotExist(statErr))

	// No artifact was produced
	assert.Equal(t, int64(0), env.fileCount(t))

	// Cancelling again, or cancelling garbage, is a no-op
	env.service.CancelUpload(resp.SessionID)
	env.service.CancelUpload("not-a-uuid")
}
