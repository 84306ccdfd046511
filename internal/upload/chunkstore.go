package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChunkStore is the on-disk holding area for one session's received parts,
// one file per chunk index. A re-sent index overwrites the prior payload
// without growing the distinct count.
type ChunkStore struct {
	sessionID uuid.UUID
	dir       string

	mu      sync.Mutex
	sizes   map[int]int64
	bytes   int64
	cleanup sync.Once
}

func newChunkStore(tempDir string, sessionID uuid.UUID) (*ChunkStore, error) {
	dir := filepath.Join(tempDir, sessionID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to provision chunk directory: %w", err)
	}

	return &ChunkStore{
		sessionID: sessionID,
		dir:       dir,
		sizes:     make(map[int]int64),
	}, nil
}

// Put persists one chunk payload. The write goes to a temp file first and is
// renamed into place, so a failed write never clobbers a previously stored
// payload for the same index. Returns the distinct index count after the
// write and the chunk's byte size.
func (cs *ChunkStore) Put(index int, payload io.Reader) (distinct int, size int64, err error) {
	finalPath := cs.chunkPath(index)
	tempPath := fmt.Sprintf("%s.tmp.%d", finalPath, time.Now().UnixNano())

	tempFile, err := os.Create(tempPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create chunk file: %w", err)
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempPath)
	}()

	size, err = io.Copy(tempFile, payload)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if err := tempFile.Sync(); err != nil {
		return 0, 0, fmt.Errorf("failed to sync chunk %d: %w", index, err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, finalPath); err != nil {
		return 0, 0, fmt.Errorf("failed to place chunk %d: %w", index, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if old, ok := cs.sizes[index]; ok {
		cs.bytes -= old
	}
	cs.sizes[index] = size
	cs.bytes += size

	return len(cs.sizes), size, nil
}

// Open opens the stored payload for one index
func (cs *ChunkStore) Open(index int) (io.ReadCloser, error) {
	f, err := os.Open(cs.chunkPath(index))
	if err != nil {
		return nil, fmt.Errorf("chunk %d unavailable: %w", index, err)
	}
	return f, nil
}

// Snapshot returns the stored indices in ascending order
func (cs *ChunkStore) Snapshot() []int {
	cs.mu.Lock()
	indices := make([]int, 0, len(cs.sizes))
	for i := range cs.sizes {
		indices = append(indices, i)
	}
	cs.mu.Unlock()

	sort.Ints(indices)
	return indices
}

// Count returns the number of distinct stored indices
func (cs *ChunkStore) Count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.sizes)
}

// BytesStored returns the total bytes across all stored chunks
func (cs *ChunkStore) BytesStored() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.bytes
}

// Cleanup removes the session's chunk directory. It runs at most once no
// matter how many exit paths reach it; failure is logged, never escalated.
func (cs *ChunkStore) Cleanup() {
	cs.cleanup.Do(func() {
		if err := os.RemoveAll(cs.dir); err != nil {
			log.Error().Err(err).
				Str("session_id", cs.sessionID.String()).
				Str("dir", cs.dir).
				Msg("failed to clean up chunk directory")
			return
		}
		log.Debug().Str("session_id", cs.sessionID.String()).Msg("chunk directory removed")
	})
}

func (cs *ChunkStore) chunkPath(index int) string {
	return filepath.Join(cs.dir, fmt.Sprintf("chunk_%d", index))
}
