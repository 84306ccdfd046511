package crashes

import (
	"context"
	"fmt"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/crashdock/crashdock/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles crash report bookkeeping. Deliberately thin: the
// interesting machinery of this system lives in the upload pipeline.
type Service struct {
	db *common.Database
}

// NewService creates a new crash report service
func NewService(db *common.Database) *Service {
	return &Service{db: db}
}

// Submit stores a crash report sent by a remote game client
func (s *Service) Submit(ctx context.Context, report *types.CrashReport) (*types.CrashReport, error) {
	if report.PlayerName == "" {
		report.PlayerName = "unknown"
	}
	report.Category = utils.NormalizeCategory(report.Category)

	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("failed to save crash report: %w", err)
	}

	log.Info().
		Str("player", report.PlayerName).
		Str("category", report.Category).
		Str("game_version", report.GameVersion).
		Msg("crash report received")

	return report, nil
}

// Get returns one crash report by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*types.CrashReport, error) {
	var report types.CrashReport
	if err := s.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("crash report not found")
		}
		return nil, fmt.Errorf("failed to get crash report: %w", err)
	}
	return &report, nil
}

// List returns crash reports matching the filter with a total count.
// MinVersion filtering happens in Go because game versions in the wild are
// not sortable as strings.
func (s *Service) List(ctx context.Context, filter *types.CrashFilter) ([]*types.CrashReport, int64, error) {
	query := s.db.WithContext(ctx).Model(&types.CrashReport{})

	if filter.PlayerName != "" {
		query = query.Where("LOWER(player_name) LIKE LOWER(?)", "%"+filter.PlayerName+"%")
	}
	if filter.Category != "" {
		query = query.Where("category = ?", utils.NormalizeCategory(filter.Category))
	}
	if filter.Fixed != nil {
		query = query.Where("fixed = ?", *filter.Fixed)
	}

	// Version filtering cannot run in SQL, so it has to happen before
	// pagination or the total and the page contents drift apart.
	if filter.MinVersion != "" {
		var all []*types.CrashReport
		if err := query.Order("created_at DESC").Find(&all).Error; err != nil {
			return nil, 0, fmt.Errorf("failed to list crash reports: %w", err)
		}

		filtered := all[:0]
		for _, r := range all {
			if utils.VersionAtLeast(r.GameVersion, filter.MinVersion) {
				filtered = append(filtered, r)
			}
		}
		total := int64(len(filtered))

		start := min(filter.Offset, len(filtered))
		if start < 0 {
			start = 0
		}
		end := len(filtered)
		if filter.Limit > 0 && start+filter.Limit < end {
			end = start + filter.Limit
		}
		return filtered[start:end], total, nil
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count crash reports: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var reports []*types.CrashReport
	if err := query.Order("created_at DESC").Find(&reports).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list crash reports: %w", err)
	}

	return reports, total, nil
}

// SetFixed marks a crash report fixed or unfixed
func (s *Service) SetFixed(ctx context.Context, id uuid.UUID, fixed bool) error {
	result := s.db.WithContext(ctx).Model(&types.CrashReport{}).
		Where("id = ?", id).
		Update("fixed", fixed)

	if result.Error != nil {
		return fmt.Errorf("failed to update crash report: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("crash report not found")
	}
	return nil
}

// Delete removes a crash report
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&types.CrashReport{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete crash report: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("crash report not found")
	}
	return nil
}

// Stats aggregates crash counts for the dashboard
func (s *Service) Stats(ctx context.Context) (*types.CrashStats, error) {
	stats := &types.CrashStats{}
	model := s.db.WithContext(ctx).Model(&types.CrashReport{})

	if err := model.Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count crash reports: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&types.CrashReport{}).Where("fixed = ?", true).Count(&stats.Fixed).Error; err != nil {
		return nil, fmt.Errorf("failed to count fixed reports: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&types.CrashReport{}).Where("category = ?", "SERVER").Count(&stats.ServerCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count server reports: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&types.CrashReport{}).Where("category = ?", "CLIENT").Count(&stats.ClientCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count client reports: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&types.CrashReport{}).
		Select("player_name, COUNT(*) as count").
		Group("player_name").
		Order("count DESC").
		Limit(10).
		Scan(&stats.TopPlayers).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate top players: %w", err)
	}

	return stats, nil
}
