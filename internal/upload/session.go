package upload

import (
	"sync"
	"time"

	"github.com/crashdock/crashdock/pkg/types"
	"github.com/google/uuid"
)

// State is the lifecycle state of an upload session
type State string

const (
	StateReady      State = "READY"
	StateUploading  State = "UPLOADING"
	StateAssembling State = "ASSEMBLING"
	StateCompleted  State = "COMPLETED"
	StateError      State = "ERROR"
)

// terminal reports whether no further state transitions are possible
func (s State) terminal() bool {
	return s == StateCompleted || s == StateError
}

// Session tracks one in-flight chunked upload. The declared metadata is
// immutable after creation; everything behind mu only moves forward.
type Session struct {
	ID          uuid.UUID
	Filename    string
	Category    string
	TotalSize   int64
	TotalChunks int
	CreatedAt   time.Time

	store *ChunkStore

	mu           sync.Mutex
	state        State
	file         *types.UploadedFile
	errMsg       string
	lastActivity time.Time
}

func newSession(filename, category string, totalSize int64, totalChunks int, store *ChunkStore) *Session {
	now := time.Now()
	return &Session{
		ID:           store.sessionID,
		Filename:     filename,
		Category:     category,
		TotalSize:    totalSize,
		TotalChunks:  totalChunks,
		CreatedAt:    now,
		store:        store,
		state:        StateReady,
		lastActivity: now,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// noteChunk records that a chunk landed, given the distinct index count after
// the write. It returns true exactly once: for the call that observes the set
// becoming complete and thereby claims the assembly step. The check-and-claim
// runs under the session mutex so racing writers cannot both trigger assembly.
func (s *Session) noteChunk(distinct int) (claimed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = time.Now()

	if s.state != StateReady && s.state != StateUploading {
		return false
	}

	if distinct >= s.TotalChunks {
		s.state = StateAssembling
		return true
	}

	s.state = StateUploading
	return false
}

// setCompleted transitions to COMPLETED and attaches the catalog record
func (s *Session) setCompleted(file *types.UploadedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return
	}
	s.state = StateCompleted
	s.file = file
	s.lastActivity = time.Now()
}

// setError transitions to ERROR with a human-readable reason
func (s *Session) setError(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return
	}
	s.state = StateError
	s.errMsg = reason
	s.lastActivity = time.Now()
}

// Progress returns the percentage of distinct chunks stored, clamped to 100
// once the session completed. Successive polls never observe it decreasing.
func (s *Session) Progress() int {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateCompleted {
		return 100
	}
	if s.TotalChunks == 0 {
		return 0
	}

	p := s.store.Count() * 100 / s.TotalChunks
	if p > 100 {
		p = 100
	}
	return p
}

// Snapshot returns the session's poll view in one consistent read
func (s *Session) Snapshot() *types.UploadProgress {
	s.mu.Lock()
	state := s.state
	file := s.file
	errMsg := s.errMsg
	s.mu.Unlock()

	progress := s.store.Count() * 100 / max(s.TotalChunks, 1)
	if state == StateCompleted {
		progress = 100
	}

	return &types.UploadProgress{
		SessionID:      s.ID.String(),
		Filename:       s.Filename,
		UploadedBytes:  s.store.BytesStored(),
		TotalBytes:     s.TotalSize,
		ChunksReceived: s.store.Count(),
		TotalChunks:    s.TotalChunks,
		Progress:       progress,
		Status:         string(state),
		File:           file,
		Message:        errMsg,
	}
}

// result returns the terminal view once COMPLETED or ERROR
func (s *Session) result() (*types.UploadedFile, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file, s.errMsg
}

// idleSince reports whether the session saw no activity after the cutoff.
// An ASSEMBLING session is never idle: assembly may legitimately outlast the
// TTL and the chunk area must not be pulled out from under it.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAssembling {
		return false
	}
	return s.lastActivity.Before(cutoff)
}
