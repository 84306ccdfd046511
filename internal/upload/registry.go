package upload

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry is the process-wide table of live upload sessions. It is an
// injected instance rather than a package singleton so tests and server
// lifecycles own their state. Lookups of unrelated sessions never contend
// beyond the table lock; per-session mutation is guarded by each session.
type Registry struct {
	tempDir string

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty session registry using tempDir as the chunk
// holding area.
func NewRegistry(tempDir string) *Registry {
	return &Registry{
		tempDir:  tempDir,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create allocates a fresh READY session with a provisioned chunk directory.
// A provisioning failure leaves no partial session behind.
func (r *Registry) Create(filename, category string, totalSize int64, totalChunks int) (*Session, error) {
	id := uuid.New()

	store, err := newChunkStore(r.tempDir, id)
	if err != nil {
		return nil, err
	}

	session := newSession(filename, category, totalSize, totalChunks, store)

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	log.Info().
		Str("session_id", id.String()).
		Str("filename", filename).
		Str("category", category).
		Int64("total_size", totalSize).
		Int("total_chunks", totalChunks).
		Msg("upload session started")

	return session, nil
}

// Get looks up a live session by ID
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deregisters a session and cleans up its chunk area. Removing an
// unknown ID is a no-op; repeated removal cleans up at most once.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.store.Cleanup()
	log.Info().Str("session_id", id.String()).Msg("upload session removed")
	return true
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// idle returns sessions with no activity since the cutoff
func (r *Registry) idle(cutoff time.Time) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*Session
	for _, s := range r.sessions {
		if s.idleSince(cutoff) {
			stale = append(stale, s)
		}
	}
	return stale
}
