package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/internal/notify"
	"github.com/crashdock/crashdock/internal/storage"
	"github.com/crashdock/crashdock/pkg/config"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/crashdock/crashdock/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service is the transport-agnostic façade over the chunked upload pipeline:
// session registry, chunk store, assembler, and cataloger.
type Service struct {
	registry  *Registry
	assembler *Assembler
	cataloger *Cataloger
	chunkSize int64
}

// NewService wires the upload pipeline together
func NewService(db *common.Database, blobs storage.BlobStorage, notifier notify.Notifier, cfg *config.UploadConfig) *Service {
	return &Service{
		registry:  NewRegistry(cfg.TempDir),
		assembler: NewAssembler(blobs),
		cataloger: NewCataloger(db, blobs, ArchiveClassifier{}, notifier),
		chunkSize: cfg.ChunkSize,
	}
}

// Registry exposes the session registry, mainly for the reaper and tests
func (s *Service) Registry() *Registry {
	return s.registry
}

// StartUpload creates a READY session and returns the chunking parameters
// the client should use.
func (s *Service) StartUpload(filename, category string, totalSize int64) (*types.StartUploadResponse, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("total size must be positive")
	}

	totalChunks := int((totalSize + s.chunkSize - 1) / s.chunkSize)
	session, err := s.registry.Create(filename, utils.NormalizeCategory(category), totalSize, totalChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to start upload: %w", err)
	}

	return &types.StartUploadResponse{
		SessionID: session.ID.String(),
		ChunkSize: s.chunkSize,
		MaxChunks: totalChunks,
		Status:    string(StateReady),
	}, nil
}

// UploadChunk stores one part. When the part completes the declared set, the
// call drives assembly and cataloging synchronously and returns the terminal
// result inline. A storage failure for a single chunk is retryable and does
// not change session state.
func (s *Service) UploadChunk(ctx context.Context, sessionID string, chunkIndex, totalChunks int, payload io.Reader, uploadedBy uuid.UUID) (*types.ChunkResponse, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, ErrInvalidSession
	}

	session, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrInvalidSession
	}

	if totalChunks != session.TotalChunks {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrChunkCountMismatch, session.TotalChunks, totalChunks)
	}
	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChunkIndex, chunkIndex, session.TotalChunks)
	}

	// Retransmits after the set completed are answered with the current
	// status instead of an error, so client retries are harmless.
	if state := session.State(); state == StateAssembling || state.terminal() {
		return s.statusResponse(session, chunkIndex), nil
	}

	distinct, size, err := session.store.Put(chunkIndex, payload)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("session_id", sessionID).
		Int("chunk_index", chunkIndex).
		Int64("size", size).
		Int("distinct", distinct).
		Msg("chunk received")

	if !session.noteChunk(distinct) {
		return &types.ChunkResponse{
			SessionID:     sessionID,
			ChunkIndex:    chunkIndex,
			ReceivedBytes: size,
			Status:        "CHUNK_RECEIVED",
			Progress:      session.Progress(),
		}, nil
	}

	// This request observed the set becoming complete and holds the one
	// assembly claim for the session.
	return s.complete(ctx, session, chunkIndex, size, uploadedBy)
}

// complete runs assembly and cataloging for a session in ASSEMBLING state.
// The chunk area is cleaned up exactly once whichever way this exits.
func (s *Service) complete(ctx context.Context, session *Session, chunkIndex int, size int64, uploadedBy uuid.UUID) (*types.ChunkResponse, error) {
	defer session.store.Cleanup()

	storagePath, err := s.assembler.Assemble(ctx, session)
	if err != nil {
		session.setError(err.Error())
		return nil, err
	}

	// The session may have been cancelled while assembly ran. Its result
	// must not surface through a removed session, so the orphan artifact is
	// discarded instead of cataloged.
	if _, ok := s.registry.Get(session.ID); !ok {
		log.Warn().
			Str("session_id", session.ID.String()).
			Str("path", storagePath).
			Msg("session cancelled during assembly, discarding artifact")
		if err := s.cataloger.storage.Delete(ctx, storagePath); err != nil {
			log.Error().Err(err).Str("path", storagePath).Msg("failed to discard orphan artifact")
		}
		return nil, ErrInvalidSession
	}

	file, err := s.cataloger.Catalog(ctx, session, storagePath, uploadedBy)
	if err != nil {
		session.setError(err.Error())
		return nil, err
	}

	session.setCompleted(file)

	return &types.ChunkResponse{
		SessionID:     session.ID.String(),
		ChunkIndex:    chunkIndex,
		ReceivedBytes: size,
		Status:        "COMPLETED",
		Progress:      100,
		File:          file,
	}, nil
}

// GetProgress returns the poll view for a session
func (s *Service) GetProgress(sessionID string) (*types.UploadProgress, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, ErrInvalidSession
	}

	session, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrInvalidSession
	}

	return session.Snapshot(), nil
}

// CancelUpload deregisters a session and schedules cleanup of its chunk
// area. Cancelling an unknown or already-cancelled session is a no-op.
func (s *Service) CancelUpload(sessionID string) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return
	}
	s.registry.Remove(id)
}

func (s *Service) statusResponse(session *Session, chunkIndex int) *types.ChunkResponse {
	file, errMsg := session.result()
	return &types.ChunkResponse{
		SessionID:  session.ID.String(),
		ChunkIndex: chunkIndex,
		Status:     string(session.State()),
		Progress:   session.Progress(),
		File:       file,
		Message:    errMsg,
	}
}
