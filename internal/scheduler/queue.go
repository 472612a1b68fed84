package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"job-alert-relay/internal/detection"
	"job-alert-relay/internal/model"
)

// TaskKind is the kind of manual work
type TaskKind string

const (
	TaskRun    TaskKind = "run"
	TaskRecord TaskKind = "record"
)

// TaskState is the lifecycle state of a task
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

func (s TaskState) finished() bool {
	return s == TaskDone || s == TaskFailed || s == TaskCancelled
}

// Task is manual work submitted to the queue
type Task struct {
	ID          string              `json:"id"`
	Kind        TaskKind            `json:"kind"`
	RecordID    string              `json:"record_id,omitempty"`
	State       TaskState           `json:"state"`
	SubmittedAt time.Time           `json:"submitted_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	Summary     *model.RunSummary   `json:"summary,omitempty"`
	Report      *model.RecordReport `json:"report,omitempty"`
	Error       string              `json:"error,omitempty"`
}

type taskEntry struct {
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
}

// taskQueue is a bounded FIFO of manual tasks plus a short history.
// Only tasks still in TaskQueued occupy capacity.
type taskQueue struct {
	mu      sync.Mutex
	waiting []*taskEntry
	wake    chan struct{}
	size    int
	tasks   map[string]*taskEntry
	order   []string
	history int
}

func newTaskQueue(size, history int) *taskQueue {
	return &taskQueue{
		wake:    make(chan struct{}, 1),
		size:    size,
		tasks:   make(map[string]*taskEntry),
		history: history,
	}
}

func (q *taskQueue) push(parent context.Context, kind TaskKind, recordID string) (Task, error) {
	ctx, cancel := context.WithCancel(parent)
	e := &taskEntry{
		task: Task{
			ID:          uuid.NewString(),
			Kind:        kind,
			RecordID:    recordID,
			State:       TaskQueued,
			SubmittedAt: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.compact()
	if len(q.waiting) >= q.size {
		cancel()
		return Task{}, ErrQueueFull
	}
	q.waiting = append(q.waiting, e)
	q.tasks[e.task.ID] = e
	q.order = append(q.order, e.task.ID)
	q.prune()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return e.task, nil
}

// next pops the oldest task still queued, or nil when none is waiting
func (q *taskQueue) next() *taskEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.compact()
	if len(q.waiting) == 0 {
		return nil
	}
	e := q.waiting[0]
	q.waiting = q.waiting[1:]
	return e
}

// compact drops cancelled entries from the waiting list. Called with q.mu held.
func (q *taskQueue) compact() {
	kept := q.waiting[:0]
	for _, e := range q.waiting {
		if e.task.State == TaskQueued {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(q.waiting); i++ {
		q.waiting[i] = nil
	}
	q.waiting = kept
}

func (q *taskQueue) get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// cancel marks a queued task cancelled or interrupts a running one
func (q *taskQueue) cancel(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if e.task.State.finished() {
		return e.task, ErrTaskFinished
	}
	if e.task.State == TaskQueued {
		q.finish(e, TaskCancelled, "cancelled before start")
	}
	e.cancel()
	return e.task, nil
}

func (q *taskQueue) cancelQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.tasks {
		if e.task.State == TaskQueued {
			q.finish(e, TaskCancelled, "scheduler stopped")
			e.cancel()
			n++
		}
	}
	q.waiting = nil
	return n
}

// start moves a task to running unless it was cancelled while queued
func (q *taskQueue) start(e *taskEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.task.State != TaskQueued {
		return false
	}
	now := time.Now()
	e.task.State = TaskRunning
	e.task.StartedAt = &now
	return true
}

func (q *taskQueue) complete(e *taskEntry, summary *model.RunSummary, report *model.RecordReport, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e.task.Summary = summary
	e.task.Report = report
	if err != nil {
		q.finish(e, TaskFailed, err.Error())
	} else {
		q.finish(e, TaskDone, "")
	}
	e.cancel()
	q.prune()
}

// finish is called with q.mu held
func (q *taskQueue) finish(e *taskEntry, state TaskState, msg string) {
	now := time.Now()
	e.task.State = state
	e.task.FinishedAt = &now
	e.task.Error = msg
}

// prune drops the oldest finished tasks beyond the history size.
// Called with q.mu held.
func (q *taskQueue) prune() {
	finished := 0
	for _, id := range q.order {
		if q.tasks[id].task.State.finished() {
			finished++
		}
	}
	kept := q.order[:0]
	for _, id := range q.order {
		if finished > q.history && q.tasks[id].task.State.finished() {
			delete(q.tasks, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

func (q *taskQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.compact()
	return len(q.waiting)
}

// list returns tasks newest first
func (q *taskQueue) list() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		out = append(out, q.tasks[q.order[i]].task)
	}
	return out
}

// Submit queues manual work. Queued tasks run one at a time, each waiting
// for the run in progress to finish.
func (s *Scheduler) Submit(kind TaskKind, recordID string) (Task, error) {
	switch kind {
	case TaskRun:
		recordID = ""
	case TaskRecord:
		if recordID == "" {
			return Task{}, fmt.Errorf("record task requires a record id")
		}
	default:
		return Task{}, fmt.Errorf("unknown task kind %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return Task{}, ErrNotRunning
	}

	task, err := s.queue.push(s.ctx, kind, recordID)
	if err != nil {
		return Task{}, err
	}
	logrus.WithFields(logrus.Fields{"task_id": task.ID, "kind": kind}).Info("Task queued")
	return task, nil
}

// Task returns one task by id
func (s *Scheduler) Task(id string) (Task, error) {
	task, ok := s.queue.get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task, nil
}

// Cancel cancels a queued task, or interrupts it if it already started
func (s *Scheduler) Cancel(id string) (Task, error) {
	return s.queue.cancel(id)
}

// work drains the task queue until ctx is cancelled
func (s *Scheduler) work(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if e := s.queue.next(); e != nil {
			s.runTask(e)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.queue.wake:
		}
	}
}

func (s *Scheduler) runTask(e *taskEntry) {
	if e.ctx.Err() != nil {
		return
	}
	if err := s.lock.Lock(e.ctx); err != nil {
		return
	}
	defer s.lock.Unlock()

	if !s.queue.start(e) {
		return
	}
	logger := logrus.WithFields(logrus.Fields{"task_id": e.task.ID, "kind": e.task.Kind})
	logger.Info("Task started")

	switch e.task.Kind {
	case TaskRun:
		summary := s.execute(e.ctx, detection.TriggerQueued)
		var err error
		if !summary.Succeeded() {
			err = fmt.Errorf("run failed: %s", summary.Error)
		}
		s.queue.complete(e, &summary, nil, err)
	case TaskRecord:
		report, err := s.deliver(e.ctx, e.task.RecordID)
		s.queue.complete(e, nil, &report, err)
	}
	logger.Info("Task finished")
}
