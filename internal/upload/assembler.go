package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/crashdock/crashdock/internal/storage"
	"github.com/crashdock/crashdock/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Assembler merges a completed chunk set into one artifact. Chunks are
// concatenated in strict ascending index order; any other order corrupts the
// artifact. The write goes through BlobStorage.Store, which is atomic, so a
// failed assembly never leaves a partial artifact visible.
type Assembler struct {
	storage storage.BlobStorage
}

// NewAssembler creates an assembler writing into the given artifact storage
func NewAssembler(blobs storage.BlobStorage) *Assembler {
	return &Assembler{storage: blobs}
}

// Assemble produces the final artifact for a session whose chunk set is
// complete and returns its storage path. A missing index is a fatal
// inconsistency and aborts the assembly.
func (a *Assembler) Assemble(ctx context.Context, session *Session) (string, error) {
	indices := session.store.Snapshot()
	if len(indices) != session.TotalChunks {
		return "", fmt.Errorf("%w: have %d of %d chunks", ErrIncompleteSet, len(indices), session.TotalChunks)
	}
	for i, idx := range indices {
		if idx != i {
			return "", fmt.Errorf("%w: index %d missing", ErrIncompleteSet, i)
		}
	}

	storedName := utils.SanitizeFilename(session.Filename)
	path := filepath.Join(strings.ToLower(session.Category), storedName)

	start := time.Now()
	reader := &chunkSequence{store: session.store, indices: indices}
	defer reader.Close()

	if err := a.storage.Store(ctx, path, reader); err != nil {
		return "", fmt.Errorf("assembly failed: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("path", path).
		Int("chunks", len(indices)).
		Dur("duration", time.Since(start)).
		Msg("artifact assembled")

	return path, nil
}

// chunkSequence streams chunk payloads one after another in index order,
// opening each file only when the previous one is exhausted.
type chunkSequence struct {
	store   *ChunkStore
	indices []int
	pos     int
	current io.ReadCloser
}

func (c *chunkSequence) Read(p []byte) (int, error) {
	for {
		if c.current == nil {
			if c.pos >= len(c.indices) {
				return 0, io.EOF
			}
			rc, err := c.store.Open(c.indices[c.pos])
			if err != nil {
				return 0, err
			}
			c.current = rc
			c.pos++
		}

		n, err := c.current.Read(p)
		if err == io.EOF {
			c.current.Close()
			c.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *chunkSequence) Close() error {
	if c.current != nil {
		err := c.current.Close()
		c.current = nil
		return err
	}
	return nil
}
