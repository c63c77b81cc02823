package orchestrator

import (
	"context"
	"sync"
)

// Action is the handle for one asynchronous orchestrator operation. It
// completes exactly once, with the snapshot observed at completion.
type Action struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	snap   Snapshot
	err    error
}

func newAction(cancel context.CancelFunc) *Action {
	return &Action{done: make(chan struct{}), cancel: cancel}
}

// completedAction returns an action that failed before anything started.
func completedAction(snap Snapshot, err error) *Action {
	a := newAction(nil)
	a.finish(snap, err)
	return a
}

func (a *Action) finish(snap Snapshot, err error) {
	a.once.Do(func() {
		a.snap = snap
		a.err = err
		close(a.done)
	})
}

func (a *Action) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the action completes or ctx ends. Returning early does
// not cancel the action.
func (a *Action) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-a.done:
		return a.snap, a.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Err returns the completion error, or nil while the action is running.
func (a *Action) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Cancel aborts the in-flight call. A canceled action leaves the artifact
// untouched and restores the status it replaced.
func (a *Action) Cancel() {
	if a.cancel != nil {
		a.cancel()
	}
}
