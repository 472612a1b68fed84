// Package store tracks which records have already been delivered and how far
// the last detection run has looked.
package store

import (
	"context"
	"time"

	"job-alert-relay/internal/model"
)

// Key layout shared by every implementation
const (
	receiptPrefix = "delivered:"
	checkpointKey = "last_check_timestamp"
	timelineKey   = "delivery_timeline"
)

// Stats describes the store contents
type Stats struct {
	// TotalAttempted counts live receipts, failed ones included.
	TotalAttempted int64      `json:"total_attempted"`
	LastCheck      *time.Time `json:"last_check,omitempty"`
}

// Store is the idempotency store. Implementations must be safe for
// concurrent callers.
type Store interface {
	// IsDelivered reports whether a live receipt with DeliveredAny exists.
	// Access errors are logged and reported as false.
	IsDelivered(ctx context.Context, recordID string) bool
	// RecordOutcome upserts the receipt and indexes it at the current time.
	RecordOutcome(ctx context.Context, receipt model.DeliveryReceipt) error
	// Receipt returns the receipt for a record, or nil if none is stored.
	Receipt(ctx context.Context, recordID string) (*model.DeliveryReceipt, error)
	// Recent returns up to limit receipts, newest first.
	Recent(ctx context.Context, limit int) ([]model.DeliveryReceipt, error)
	Checkpoint(ctx context.Context) (time.Time, bool, error)
	SetCheckpoint(ctx context.Context, t time.Time) error
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configures a store
type Options struct {
	Namespace string
	Retention time.Duration
	Timeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return o
}
