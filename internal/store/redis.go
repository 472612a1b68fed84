package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/model"
)

// RedisStore keeps receipts as JSON strings with a TTL and indexes them in a
// sorted set scored by delivery time (unix milliseconds).
type RedisStore struct {
	client redis.UniversalClient
	opts   Options
	now    func() time.Time
}

// NewRedisStore creates a Redis backed idempotency store
func NewRedisStore(client redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
}

func (s *RedisStore) key(name string) string {
	if s.opts.Namespace == "" {
		return name
	}
	return s.opts.Namespace + ":" + name
}

func (s *RedisStore) receiptKey(recordID string) string {
	return s.key(receiptPrefix + recordID)
}

func (s *RedisStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// IsDelivered reports whether a live receipt with DeliveredAny exists
func (s *RedisStore) IsDelivered(ctx context.Context, recordID string) bool {
	receipt, err := s.Receipt(ctx, recordID)
	if err != nil {
		logrus.WithField("record_id", recordID).Errorf("Idempotency check failed, treating record as not delivered: %v", err)
		return false
	}
	return receipt != nil && receipt.DeliveredAny
}

// RecordOutcome writes the receipt and its timeline entry in one transaction
func (s *RedisStore) RecordOutcome(ctx context.Context, receipt model.DeliveryReceipt) error {
	if receipt.RecordID == "" {
		return fmt.Errorf("receipt without record id")
	}
	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	now := s.now()
	cutoff := now.Add(-s.opts.Retention).UnixMilli()
	timeline := s.key(timelineKey)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.receiptKey(receipt.RecordID), payload, s.opts.Retention)
		pipe.ZAdd(ctx, timeline, redis.Z{Score: float64(now.UnixMilli()), Member: receipt.RecordID})
		pipe.ZRemRangeByScore(ctx, timeline, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to record outcome for %s: %v", model.ErrStoreUnavailable, receipt.RecordID, err)
	}
	return nil
}

// Receipt returns the stored receipt for a record
func (s *RedisStore) Receipt(ctx context.Context, recordID string) (*model.DeliveryReceipt, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.receiptKey(recordID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	var receipt model.DeliveryReceipt
	if err := json.Unmarshal([]byte(raw), &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode receipt %s: %w", recordID, err)
	}
	return &receipt, nil
}

// Recent returns up to limit receipts ordered by delivery time, newest first
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]model.DeliveryReceipt, error) {
	if limit <= 0 {
		return []model.DeliveryReceipt{}, nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	ids, err := s.client.ZRevRange(ctx, s.key(timelineKey), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []model.DeliveryReceipt{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.receiptKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	receipts := make([]model.DeliveryReceipt, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired receipt still indexed
			continue
		}
		var receipt model.DeliveryReceipt
		if err := json.Unmarshal([]byte(raw), &receipt); err != nil {
			logrus.WithField("record_id", ids[i]).Warnf("Skipping undecodable receipt: %v", err)
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// Checkpoint returns the last detection checkpoint
func (s *RedisStore) Checkpoint(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(checkpointKey)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid checkpoint %q: %w", raw, err)
	}
	return t, true, nil
}

// SetCheckpoint stores the detection checkpoint
func (s *RedisStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.client.Set(ctx, s.key(checkpointKey), t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to set checkpoint: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// Stats returns the number of indexed receipts, delivered or not, and the
// checkpoint
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	bctx, cancel := s.bounded(ctx)
	total, err := s.client.ZCard(bctx, s.key(timelineKey)).Result()
	cancel()
	if err != nil {
		return stats, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	stats.TotalAttempted = total

	checkpoint, ok, err := s.Checkpoint(ctx)
	if err != nil {
		return stats, err
	}
	if ok {
		stats.LastCheck = &checkpoint
	}
	return stats, nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
