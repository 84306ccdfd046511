package logs

import (
	"context"
	"fmt"

	"github.com/crashdock/crashdock/internal/common"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles gameplay event logs pushed by the game servers. Thin CRUD
// in the same shape as the crash report service.
type Service struct {
	db *common.Database
}

// NewService creates a new game log service
func NewService(db *common.Database) *Service {
	return &Service{db: db}
}

// Submit stores one gameplay event
func (s *Service) Submit(ctx context.Context, entry *types.GameLog) (*types.GameLog, error) {
	if entry.PlayerName == "" {
		entry.PlayerName = "unknown"
	}
	if entry.Payload == "" {
		entry.Payload = "{}"
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to save game log: %w", err)
	}

	log.Debug().
		Str("player", entry.PlayerName).
		Str("type", entry.Type).
		Msg("game log received")

	return entry, nil
}

// Get returns one log entry by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*types.GameLog, error) {
	var entry types.GameLog
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("game log not found")
		}
		return nil, fmt.Errorf("failed to get game log: %w", err)
	}
	return &entry, nil
}

// List returns log entries matching the filter with a total count, newest
// first.
func (s *Service) List(ctx context.Context, filter *types.LogFilter) ([]*types.GameLog, int64, error) {
	query := s.filtered(ctx, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count game logs: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var entries []*types.GameLog
	if err := query.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list game logs: %w", err)
	}

	return entries, total, nil
}

// Delete removes one log entry
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&types.GameLog{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete game log: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("game log not found")
	}
	return nil
}

// DeleteBatch removes several log entries at once and returns how many were
// actually deleted.
func (s *Service) DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).Delete(&types.GameLog{}, "id IN ?", ids)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete game logs: %w", result.Error)
	}

	log.Info().Int64("deleted", result.RowsAffected).Msg("game logs deleted")
	return result.RowsAffected, nil
}

// Types returns the distinct event types seen so far
func (s *Service) Types(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&types.GameLog{}).
		Distinct("type").
		Where("type <> ''").
		Order("type").
		Pluck("type", &out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list log types: %w", err)
	}
	return out, nil
}

// Players returns the distinct player names seen in the logs
func (s *Service) Players(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&types.GameLog{}).
		Distinct("player_name").
		Order("player_name").
		Pluck("player_name", &out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list log players: %w", err)
	}
	return out, nil
}

// Stats aggregates log counts for the dashboard, honoring the same filter as
// List.
func (s *Service) Stats(ctx context.Context, filter *types.LogFilter) (*types.LogStats, error) {
	stats := &types.LogStats{}

	if err := s.filtered(ctx, filter).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count game logs: %w", err)
	}

	if err := s.filtered(ctx, filter).
		Distinct("player_name").
		Count(&stats.UniquePlayers).Error; err != nil {
		return nil, fmt.Errorf("failed to count distinct players: %w", err)
	}

	if err := s.filtered(ctx, filter).
		Select("type, COUNT(*) as count").
		Group("type").
		Order("count DESC").
		Scan(&stats.ByType).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate log types: %w", err)
	}

	return stats, nil
}

func (s *Service) filtered(ctx context.Context, filter *types.LogFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&types.GameLog{})

	if filter.PlayerName != "" {
		query = query.Where("LOWER(player_name) LIKE LOWER(?)", "%"+filter.PlayerName+"%")
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}
	return query
}
