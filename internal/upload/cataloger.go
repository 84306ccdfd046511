package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/internal/notify"
	"github.com/crashdock/crashdock/internal/storage"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/crashdock/crashdock/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Cataloger turns an assembled artifact into a durable catalog record:
// size, content checksum, classification, then the database row. The
// notifier fires only after the row is saved.
type Cataloger struct {
	db         *common.Database
	storage    storage.BlobStorage
	classifier Classifier
	notifier   notify.Notifier
}

// NewCataloger creates a cataloger
func NewCataloger(db *common.Database, blobs storage.BlobStorage, classifier Classifier, notifier notify.Notifier) *Cataloger {
	return &Cataloger{
		db:         db,
		storage:    blobs,
		classifier: classifier,
		notifier:   notifier,
	}
}

// Catalog records the artifact at storagePath for the given session. On a
// database failure the assembled artifact is kept in place: failing to
// record is not the same as failing to produce.
func (c *Cataloger) Catalog(ctx context.Context, session *Session, storagePath string, uploadedBy uuid.UUID) (*types.UploadedFile, error) {
	size, err := c.storage.GetSize(ctx, storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat assembled artifact: %w", err)
	}

	checksum, err := c.checksum(ctx, storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum artifact: %w", err)
	}

	count, err := c.classify(ctx, session.Filename, storagePath, size)
	if err != nil {
		// Classification is advisory; a zero count is still a valid record.
		log.Warn().Err(err).
			Str("session_id", session.ID.String()).
			Msg("artifact classification failed")
	}

	file := &types.UploadedFile{
		OriginalFilename: session.Filename,
		StoredFilename:   filepath.Base(storagePath),
		Category:         session.Category,
		Size:             size,
		Checksum:         checksum,
		StoragePath:      storagePath,
		ContentCount:     count,
		UploadedBy:       uploadedBy,
		Status:           types.FileActive,
	}

	if err := c.db.WithContext(ctx).Create(file).Error; err != nil {
		return nil, fmt.Errorf("failed to save artifact record: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("filename", file.OriginalFilename).
		Str("checksum", checksum).
		Int64("size", size).
		Msg("artifact cataloged")

	if err := c.notifier.ArtifactCataloged(ctx, file); err != nil {
		log.Warn().Err(err).Str("filename", file.OriginalFilename).Msg("artifact notification failed")
	}

	return file, nil
}

func (c *Cataloger) checksum(ctx context.Context, path string) (string, error) {
	rc, err := c.storage.Retrieve(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return utils.ComputeSHA256FromReader(rc)
}

func (c *Cataloger) classify(ctx context.Context, filename, path string, size int64) (int, error) {
	rc, err := c.storage.Retrieve(ctx, path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	start := time.Now()
	count, err := c.classifier.Classify(filename, rc, size)
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("filename", filename).
		Int("content_count", count).
		Dur("duration", time.Since(start)).
		Msg("artifact classified")
	return count, nil
}
