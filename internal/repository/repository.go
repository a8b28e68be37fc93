package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cnpj-relay-go/internal/model"
)

// ErrNotFound is returned when the requested row does not exist or is not
// owned by the caller.
var ErrNotFound = errors.New("record not found")

// LogFilter narrows a log listing
type LogFilter struct {
	UserID    string
	Direction model.Direction
	Offset    int
	Limit     int
}

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindActiveConfig returns the caller's active destination.
func (r *Repository) FindActiveConfig(ctx context.Context, userID string) (*model.RelayConfig, error) {
	var cfg model.RelayConfig
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		First(&cfg)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &cfg, nil
}

// GetConfig returns the caller's destination regardless of its active flag.
func (r *Repository) GetConfig(ctx context.Context, userID string) (*model.RelayConfig, error) {
	var cfg model.RelayConfig
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").First(&cfg)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &cfg, nil
}

// SaveConfig updates the caller's destination, creating it on first save.
func (r *Repository) SaveConfig(ctx context.Context, cfg *model.RelayConfig) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.RelayConfig
		err := tx.Where("user_id = ?", cfg.UserID).Order("updated_at DESC").First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(cfg).Error; err != nil {
				return fmt.Errorf("failed to create webhook config: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("database error: %w", err)
		}

		existing.WebhookURL = cfg.WebhookURL
		existing.APIKey = cfg.APIKey
		existing.IsActive = cfg.IsActive
		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("failed to update webhook config: %w", err)
		}
		*cfg = existing
		return nil
	})
}

// InsertLog appends one relay attempt.
func (r *Repository) InsertLog(ctx context.Context, entry *model.RelayLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log relay attempt: %w", err)
	}
	return nil
}

// ListLogs returns a page of the caller's logs, newest first, and the total
// number of matching rows.
func (r *Repository) ListLogs(ctx context.Context, f LogFilter) ([]model.RelayLog, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.RelayLog{}).Where("user_id = ?", f.UserID)
	if f.Direction != "" {
		q = q.Where("direction = ?", f.Direction)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	var logs []model.RelayLog
	if err := q.Order("created_at DESC").Offset(f.Offset).Limit(f.Limit).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch logs: %w", err)
	}
	return logs, total, nil
}

// GetLog returns one of the caller's logs.
func (r *Repository) GetLog(ctx context.Context, userID string, id uuid.UUID) (*model.RelayLog, error) {
	var entry model.RelayLog
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &entry, nil
}

// PruneLogs deletes logs created before the cutoff and reports how many went.
func (r *Repository) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&model.RelayLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
