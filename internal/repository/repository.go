package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"job-alert-relay/internal/model"
)

// Repository is the MySQL-backed delivery audit log
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// LogDelivery writes one audit row per channel outcome of a report
func (r *Repository) LogDelivery(ctx context.Context, runID string, report model.DeliveryReport) error {
	logs := deliveryLogs(runID, report, r.now())
	if len(logs) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Create(&logs)
	if result.Error != nil {
		return fmt.Errorf("failed to log delivery of %s: %w", report.RecordID, result.Error)
	}
	return nil
}

// ListLogs returns one page of audit rows, newest first, and the total count
func (r *Repository) ListLogs(ctx context.Context, page, limit int) ([]model.DeliveryLog, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.DeliveryLog{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	var logs []model.DeliveryLog
	result := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&logs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to get logs: %w", result.Error)
	}
	return logs, total, nil
}

// GetLog returns one audit row, or nil if it does not exist
func (r *Repository) GetLog(ctx context.Context, id uint) (*model.DeliveryLog, error) {
	var log model.DeliveryLog
	result := r.db.WithContext(ctx).First(&log, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &log, nil
}

func deliveryLogs(runID string, report model.DeliveryReport, at time.Time) []model.DeliveryLog {
	logs := make([]model.DeliveryLog, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		log := model.DeliveryLog{
			RunID:     runID,
			RecordID:  report.RecordID,
			Channel:   string(o.Channel),
			Status:    "failed",
			Attempts:  len(o.Attempts),
			CreatedAt: at,
		}
		if o.Delivered {
			log.Status = "delivered"
		}
		if o.Reference != nil {
			log.Reference = *o.Reference
		}
		if o.Error != nil {
			log.ErrorMsg = *o.Error
		}
		logs = append(logs, log)
	}
	return logs
}
