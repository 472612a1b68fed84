// Package detection implements one detection run: read the checkpoint,
// fetch candidates, drop the ones already handled, deliver the rest and
// advance the checkpoint.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/metrics"
	"job-alert-relay/internal/model"
	"job-alert-relay/internal/render"
	"job-alert-relay/internal/source"
	"job-alert-relay/internal/store"
)

// Run triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerQueued   = "queued"
)

const (
	defaultLookback     = 24 * time.Hour
	defaultFetchTimeout = 30 * time.Second
)

// Deliverer fans one record out to the delivery channels
type Deliverer interface {
	Deliver(ctx context.Context, rec model.Record) (model.DeliveryReport, error)
	Preview(rec model.Record, id model.ChannelID) (render.Formatted, error)
}

// AuditLog persists per-channel outcomes for operators
type AuditLog interface {
	LogDelivery(ctx context.Context, runID string, report model.DeliveryReport) error
}

// Options configures a runner
type Options struct {
	// Lookback is the window used when no checkpoint exists.
	Lookback     time.Duration
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Audit        AuditLog
	Now          func() time.Time
}

// Runner executes detection runs. It does not serialize runs itself; the
// scheduler's run lock does.
type Runner struct {
	source    source.RecordSource
	store     store.Store
	deliverer Deliverer
	opts      Options

	mu      sync.Mutex
	pending map[string]model.DeliveryReceipt
	order   []string
}

// NewRunner creates a runner
func NewRunner(src source.RecordSource, st store.Store, d Deliverer, opts Options) *Runner {
	if opts.Lookback <= 0 {
		opts.Lookback = defaultLookback
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		source:    src,
		store:     st,
		deliverer: d,
		opts:      opts,
		pending:   make(map[string]model.DeliveryReceipt),
	}
}

// Run executes one detection run. Cancelling ctx abandons the records that
// have not been attempted yet; the record in flight always completes.
func (r *Runner) Run(ctx context.Context, trigger string) model.RunSummary {
	summary := model.RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		State:     model.RunStart,
		StartedAt: r.opts.Now(),
		Reports:   []model.RecordReport{},
	}
	logger := logrus.WithFields(logrus.Fields{"run_id": summary.RunID, "trigger": trigger})
	logger.Info("Starting detection run")

	defer func() {
		summary.FinishedAt = r.opts.Now()
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveRun(summary)
		}
		logger.WithFields(logrus.Fields{
			"state":     summary.State,
			"processed": summary.ProcessedCount,
			"delivered": summary.DeliveredCount,
			"skipped":   summary.SkippedCount,
		}).Info("Detection run finished")
	}()

	r.flushPending(ctx)

	checkpoint, hasCheckpoint, err := r.store.Checkpoint(ctx)
	if err != nil {
		r.fail(&summary, logger, fmt.Errorf("failed to read checkpoint: %w", err))
		return summary
	}
	summary.Since = summary.StartedAt.Add(-r.opts.Lookback)
	if hasCheckpoint {
		summary.Since = checkpoint
	}

	summary.State = model.RunFetch
	records, err := r.fetch(ctx, summary.Since)
	if err != nil {
		r.fail(&summary, logger, err)
		return summary
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordsFetched.Add(float64(len(records)))
	}

	summary.State = model.RunFilter
	candidates, skipped := r.filter(ctx, records)
	summary.SkippedCount = skipped
	logger.Infof("Found %d candidates, %d new", len(records), len(candidates))

	summary.State = model.RunDeliverEach
	for _, rec := range candidates {
		if ctx.Err() != nil {
			summary.Interrupted = true
			logger.Warnf("Run interrupted, abandoning %d records", len(candidates)-summary.ProcessedCount)
			break
		}
		report := r.process(context.WithoutCancel(ctx), summary.RunID, rec)
		summary.Reports = append(summary.Reports, report)
		summary.ProcessedCount++
		switch report.Status {
		case model.StatusDelivered:
			summary.DeliveredCount++
		case model.StatusDeliveredUnresolved:
			summary.DeliveredCount++
			summary.UnresolvedCount++
		case model.StatusUnresolved:
			summary.UnresolvedCount++
		default:
			summary.FailedCount++
		}
	}

	if !summary.Interrupted {
		summary.State = model.RunCheckpoint
		next := summary.StartedAt
		if hasCheckpoint && checkpoint.After(next) {
			next = checkpoint
		}
		if err := r.store.SetCheckpoint(context.WithoutCancel(ctx), next); err != nil {
			summary.Error = fmt.Sprintf("failed to advance checkpoint: %v", err)
			logger.Errorf("Failed to advance checkpoint: %v", err)
		} else if r.opts.Metrics != nil {
			r.opts.Metrics.CheckpointUnixTS.Set(float64(next.Unix()))
		}
	}

	summary.State = model.RunDone
	return summary
}

func (r *Runner) fail(summary *model.RunSummary, logger *logrus.Entry, err error) {
	summary.State = model.RunFailed
	summary.Error = err.Error()
	logger.Errorf("Detection run failed: %v", err)
}

func (r *Runner) fetch(ctx context.Context, since time.Time) ([]model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	records, err := r.source.FetchCandidates(ctx, since)
	if err != nil {
		if !errors.Is(err, model.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
		}
		return nil, err
	}
	return records, nil
}

// filter drops records that were already handled and collapses duplicate
// ids. Survivors are returned oldest first.
func (r *Runner) filter(ctx context.Context, records []model.Record) ([]model.Record, int) {
	skipped := 0
	seen := make(map[string]bool, len(records))
	out := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		if r.handled(ctx, rec.ID) {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, skipped
}

// handled reports whether a record was delivered or already attempted.
// Store read errors count as not handled.
func (r *Runner) handled(ctx context.Context, id string) bool {
	if r.held(id) || r.store.IsDelivered(ctx, id) {
		return true
	}
	receipt, err := r.store.Receipt(ctx, id)
	if err != nil {
		logrus.WithField("record_id", id).Warnf("Receipt lookup failed, treating as new: %v", err)
		return false
	}
	return receipt != nil
}

func (r *Runner) process(ctx context.Context, runID string, rec model.Record) model.RecordReport {
	logger := logrus.WithFields(logrus.Fields{"run_id": runID, "record_id": rec.ID})
	out := model.RecordReport{RecordID: rec.ID, Title: rec.Title}

	report, err := r.deliverer.Deliver(ctx, rec)
	out.Report = report

	receipt := model.NewReceipt(rec, report, r.opts.Now())
	switch {
	case err != nil:
		out.Status = model.StatusRenderError
		out.Error = err.Error()
		receipt.LastError = model.StringPtr(err.Error())
		logger.Errorf("Record cannot be rendered: %v", err)
	case report.AnySuccess:
		out.Status = model.StatusDelivered
	default:
		out.Status = model.StatusFailed
		out.Error = report.FirstError()
	}

	if r.opts.Audit != nil && len(report.Outcomes) > 0 {
		if aerr := r.opts.Audit.LogDelivery(ctx, runID, report); aerr != nil {
			logger.Warnf("Failed to write audit log: %v", aerr)
		}
	}

	if werr := r.store.RecordOutcome(ctx, receipt); werr != nil {
		r.hold(receipt)
		if report.AnySuccess {
			out.Status = model.StatusDeliveredUnresolved
		} else {
			out.Status = model.StatusUnresolved
		}
		out.Error = werr.Error()
		logger.Errorf("Failed to record outcome, receipt held for retry: %v", werr)
		return out
	}
	r.release(rec.ID)
	return out
}

// DeliverRecord delivers one record by id regardless of earlier receipts.
// It is the manual retry path for records that failed.
func (r *Runner) DeliverRecord(ctx context.Context, id string) (model.RecordReport, error) {
	rec, err := r.Record(ctx, id)
	if err != nil {
		return model.RecordReport{}, err
	}
	runID := uuid.NewString()
	logrus.WithFields(logrus.Fields{"run_id": runID, "record_id": id}).Info("Manual delivery requested")

	report := r.process(context.WithoutCancel(ctx), runID, *rec)
	if report.Status == model.StatusRenderError {
		return report, fmt.Errorf("%w: %s", model.ErrRender, report.Error)
	}
	return report, nil
}

// Preview renders the variant one channel would receive
func (r *Runner) Preview(ctx context.Context, id string, ch model.ChannelID) (render.Formatted, error) {
	rec, err := r.Record(ctx, id)
	if err != nil {
		return render.Formatted{}, err
	}
	return r.deliverer.Preview(*rec, ch)
}

// Record fetches one record by id. An unknown id wraps model.ErrRecordNotFound.
func (r *Runner) Record(ctx context.Context, id string) (*model.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	rec, err := r.source.FetchByID(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
		}
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrRecordNotFound, id)
	}
	return rec, nil
}

// Pending lists the records created after since that a run would deliver:
// no receipt exists and none is held. Records are oldest first.
func (r *Runner) Pending(ctx context.Context, since time.Time) ([]model.Record, error) {
	records, err := r.fetch(ctx, since)
	if err != nil {
		return nil, err
	}
	pending, _ := r.filter(ctx, records)
	return pending, nil
}

// PendingReceipts returns the number of receipts waiting to be persisted
func (r *Runner) PendingReceipts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Runner) held(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

func (r *Runner) hold(receipt model.DeliveryReceipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[receipt.RecordID]; !ok {
		r.order = append(r.order, receipt.RecordID)
	}
	r.pending[receipt.RecordID] = receipt
	r.setPendingGauge()
}

// release drops a held receipt that a newer persisted receipt supersedes
func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return
	}
	delete(r.pending, id)
	for i, held := range r.order {
		if held == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.setPendingGauge()
}

// flushPending retries held receipts in the order they were held
func (r *Runner) flushPending(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return
	}

	kept := r.order[:0]
	for _, id := range r.order {
		receipt := r.pending[id]
		if err := r.store.RecordOutcome(ctx, receipt); err != nil {
			logrus.WithField("record_id", id).Warnf("Pending receipt still not persisted: %v", err)
			kept = append(kept, id)
			continue
		}
		delete(r.pending, id)
		logrus.WithField("record_id", id).Info("Pending receipt persisted")
	}
	r.order = kept
	r.setPendingGauge()
}

func (r *Runner) setPendingGauge() {
	if r.opts.Metrics != nil {
		r.opts.Metrics.PendingReceipts.Set(float64(len(r.order)))
	}
}
