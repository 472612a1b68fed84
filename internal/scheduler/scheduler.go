package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/detection"
	"job-alert-relay/internal/metrics"
	"job-alert-relay/internal/model"
)

var (
	ErrRunInProgress  = errors.New("a detection run is already in progress")
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrQueueFull      = errors.New("task queue is full")
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskFinished   = errors.New("task already finished")
)

// Runner is the work the scheduler serializes
type Runner interface {
	Run(ctx context.Context, trigger string) model.RunSummary
	DeliverRecord(ctx context.Context, id string) (model.RecordReport, error)
}

// Options configures a scheduler
type Options struct {
	Interval        time.Duration
	QueueSize       int
	ShutdownTimeout time.Duration
	TaskHistory     int
	Metrics         *metrics.Metrics
}

// Status is a point-in-time view of the scheduler
type Status struct {
	Running        bool              `json:"running"`
	RunInProgress  bool              `json:"run_in_progress"`
	Interval       string            `json:"interval"`
	NextFireTime   *time.Time        `json:"next_fire_time,omitempty"`
	LastRunAt      *time.Time        `json:"last_run_at,omitempty"`
	LastRunSummary *model.RunSummary `json:"last_run_summary,omitempty"`
	SkippedTicks   int64             `json:"skipped_ticks"`
	QueueDepth     int               `json:"queue_depth"`
	Tasks          []Task            `json:"tasks"`
}

// Scheduler triggers detection runs on an interval and on demand. At most
// one run or manual delivery executes at a time.
type Scheduler struct {
	runner Runner
	opts   Options
	lock   runLock

	mu          sync.RWMutex
	cron        *cron.Cron
	entryID     cron.EntryID
	ctx         context.Context
	cancel      context.CancelFunc
	isRunning   bool
	queue       *taskQueue
	worker      chan struct{}
	lastRunAt   time.Time
	lastSummary *model.RunSummary

	skipped atomic.Int64
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.TaskHistory <= 0 {
		opts.TaskHistory = 50
	}
	return &Scheduler{
		runner: runner,
		opts:   opts,
		lock:   newRunLock(),
		queue:  newTaskQueue(opts.QueueSize, opts.TaskHistory),
	}
}

// Start registers the periodic run and starts the task worker
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logrus.StandardLogger()))))

	entryID, err := s.cron.AddFunc("@every "+s.opts.Interval.String(), s.tick)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = entryID

	s.worker = make(chan struct{})
	go s.work(s.ctx, s.worker)

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %s", s.opts.Interval)
	return nil
}

// Stop stops future ticks, cancels queued tasks and signals the in-flight
// run to abandon the records it has not attempted. It waits for that run
// up to the shutdown timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.isRunning = false
	s.cancel()
	s.ctx = nil
	cronCtx := s.cron.Stop()
	worker := s.worker
	s.mu.Unlock()

	cancelled := s.queue.cancelQueued()
	if cancelled > 0 {
		logrus.Infof("Cancelled %d queued tasks", cancelled)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	select {
	case <-worker:
	case <-ctx.Done():
	}
	if err := s.lock.Lock(ctx); err != nil {
		logrus.Warn("Scheduler stop timeout, in-flight run still executing")
		return nil
	}
	s.lock.Unlock()

	logrus.Info("Scheduler stopped gracefully")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// tick is the cron job. A tick that finds a run in progress is skipped.
func (s *Scheduler) tick() {
	if !s.lock.TryLock() {
		n := s.skipped.Add(1)
		if s.opts.Metrics != nil {
			s.opts.Metrics.SkippedTicks.Inc()
		}
		logrus.Warnf("Skipping scheduled run, previous run still in progress (%d skipped)", n)
		return
	}
	defer s.lock.Unlock()

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		return
	}
	s.execute(ctx, detection.TriggerSchedule)
}

// TriggerNow runs detection synchronously. It does not wait for a run in
// progress.
func (s *Scheduler) TriggerNow(ctx context.Context) (model.RunSummary, error) {
	if !s.lock.TryLock() {
		return model.RunSummary{}, ErrRunInProgress
	}
	defer s.lock.Unlock()

	ctx, cancel := s.runContext(ctx)
	defer cancel()
	return s.execute(ctx, detection.TriggerManual), nil
}

// DeliverRecord delivers one record synchronously under the run lock
func (s *Scheduler) DeliverRecord(ctx context.Context, id string) (model.RecordReport, error) {
	if !s.lock.TryLock() {
		return model.RecordReport{}, ErrRunInProgress
	}
	defer s.lock.Unlock()

	ctx, cancel := s.runContext(ctx)
	defer cancel()
	return s.deliver(ctx, id)
}

// runContext derives a context that is also cancelled by Stop
func (s *Scheduler) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.RLock()
	base := s.ctx
	s.mu.RUnlock()
	if base == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// execute runs detection and records the summary. The caller holds the lock.
func (s *Scheduler) execute(ctx context.Context, trigger string) (summary model.RunSummary) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Detection run panicked: %v", r)
			summary = model.RunSummary{
				Trigger:    trigger,
				State:      model.RunFailed,
				StartedAt:  started,
				FinishedAt: time.Now(),
				Error:      fmt.Sprintf("run panicked: %v", r),
			}
		}
		s.mu.Lock()
		s.lastRunAt = started
		s.lastSummary = &summary
		s.mu.Unlock()
	}()

	return s.runner.Run(ctx, trigger)
}

func (s *Scheduler) deliver(ctx context.Context, id string) (report model.RecordReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Manual delivery of %s panicked: %v", id, r)
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return s.runner.DeliverRecord(ctx, id)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the start time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt
}

// Status returns the scheduler state
func (s *Scheduler) Status() Status {
	st := Status{
		Interval:      s.opts.Interval.String(),
		RunInProgress: s.lock.Held(),
		SkippedTicks:  s.skipped.Load(),
		QueueDepth:    s.queue.depth(),
		Tasks:         s.queue.list(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.Running = s.isRunning
	if s.isRunning {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			st.NextFireTime = &next
		}
	}
	if !s.lastRunAt.IsZero() {
		last := s.lastRunAt
		st.LastRunAt = &last
	}
	if s.lastSummary != nil {
		summary := *s.lastSummary
		st.LastRunSummary = &summary
	}
	return st
}
