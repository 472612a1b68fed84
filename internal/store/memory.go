package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"job-alert-relay/internal/model"
)

type memoryEntry struct {
	receipt   model.DeliveryReceipt
	indexedAt time.Time
	expiresAt time.Time
}

// MemoryStore is a process-local store for development and tests.
// Receipts do not survive a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	checkpoint *time.Time
	opts       Options
	now        func() time.Time
}

// NewMemoryStore creates an in-memory idempotency store
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

func (s *MemoryStore) live(id string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[id]
	if !ok || !now.Before(e.expiresAt) {
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) IsDelivered(_ context.Context, recordID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.live(recordID, s.now())
	return ok && e.receipt.DeliveredAny
}

func (s *MemoryStore) RecordOutcome(_ context.Context, receipt model.DeliveryReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[receipt.RecordID] = memoryEntry{
		receipt:   cloneReceipt(receipt),
		indexedAt: now,
		expiresAt: now.Add(s.opts.Retention),
	}
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *MemoryStore) Receipt(_ context.Context, recordID string) (*model.DeliveryReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.live(recordID, s.now())
	if !ok {
		return nil, nil
	}
	r := cloneReceipt(e.receipt)
	return &r, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]model.DeliveryReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	live := make([]memoryEntry, 0, len(s.entries))
	for id := range s.entries {
		if e, ok := s.live(id, now); ok {
			live = append(live, e)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].indexedAt.After(live[j].indexedAt)
	})

	if limit < 0 {
		limit = 0
	}
	if len(live) > limit {
		live = live[:limit]
	}
	out := make([]model.DeliveryReceipt, len(live))
	for i, e := range live {
		out[i] = cloneReceipt(e.receipt)
	}
	return out, nil
}

func (s *MemoryStore) Checkpoint(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return time.Time{}, false, nil
	}
	return *s.checkpoint, true, nil
}

func (s *MemoryStore) SetCheckpoint(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = t.UTC()
	s.checkpoint = &t
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	now := s.now()
	var total int64
	for id := range s.entries {
		if _, ok := s.live(id, now); ok {
			total++
		}
	}
	s.mu.RUnlock()

	stats := Stats{TotalAttempted: total}
	if t, ok, _ := s.Checkpoint(ctx); ok {
		stats.LastCheck = &t
	}
	return stats, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneReceipt(r model.DeliveryReceipt) model.DeliveryReceipt {
	if r.PerChannelReference != nil {
		refs := make(map[model.ChannelID]*string, len(r.PerChannelReference))
		for k, v := range r.PerChannelReference {
			refs[k] = v
		}
		r.PerChannelReference = refs
	}
	return r
}
