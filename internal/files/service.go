package files

import (
	"context"
	"fmt"
	"io"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/internal/storage"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service exposes the catalog of completed artifacts
type Service struct {
	db      *common.Database
	storage storage.BlobStorage
}

// NewService creates a new file catalog service
func NewService(db *common.Database, blobs storage.BlobStorage) *Service {
	return &Service{db: db, storage: blobs}
}

// List returns active files, newest first
func (s *Service) List(ctx context.Context) ([]*types.UploadedFile, error) {
	var files []*types.UploadedFile
	err := s.db.WithContext(ctx).
		Where("status = ?", types.FileActive).
		Order("created_at DESC").
		Preload("Uploader").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Download opens the stored artifact for a catalog entry
func (s *Service) Download(ctx context.Context, id uuid.UUID) (*types.UploadedFile, io.ReadCloser, error) {
	var file types.UploadedFile
	if err := s.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, fmt.Errorf("file not found")
		}
		return nil, nil, fmt.Errorf("failed to get file: %w", err)
	}

	content, err := s.storage.Retrieve(ctx, file.StoragePath)
	if err != nil {
		log.Error().Err(err).
			Str("storage_path", file.StoragePath).
			Msg("failed to retrieve artifact from storage")
		return nil, nil, fmt.Errorf("failed to retrieve artifact: %w", err)
	}

	return &file, content, nil
}

// Delete marks a catalog entry deleted. The blob stays on disk so the mark
// can be reversed by hand; storage reclamation is a separate concern.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&types.UploadedFile{}).
		Where("id = ?", id).
		Update("status", types.FileDeleted)

	if result.Error != nil {
		return fmt.Errorf("failed to delete file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("file not found")
	}

	log.Info().Str("file_id", id.String()).Msg("file marked as deleted")
	return nil
}

// Stats counts active files per category
func (s *Service) Stats(ctx context.Context) (*types.FileStats, error) {
	stats := &types.FileStats{}

	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&types.UploadedFile{}).Where("status = ?", types.FileActive)
	}

	if err := base().Count(&stats.TotalFiles).Error; err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	if err := base().Where("category = ?", "SERVER").Count(&stats.ServerFiles).Error; err != nil {
		return nil, fmt.Errorf("failed to count server files: %w", err)
	}
	if err := base().Where("category = ?", "CLIENT").Count(&stats.ClientFiles).Error; err != nil {
		return nil, fmt.Errorf("failed to count client files: %w", err)
	}

	return stats, nil
}
