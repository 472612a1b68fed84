package scheduler

import "context"

// runLock is a mutex whose acquisition can be abandoned
type runLock chan struct{}

func newRunLock() runLock { return make(runLock, 1) }

func (l runLock) TryLock() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l runLock) Lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l runLock) Unlock() { <-l }

func (l runLock) Held() bool { return len(l) == 1 }
