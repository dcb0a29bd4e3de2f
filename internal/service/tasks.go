package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// taskHandle is one running background task bound to an order.
type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// taskRegistry tracks at most one running task per order.
type taskRegistry struct {
	tasks   sync.Map // uuid.UUID -> *taskHandle
	running atomic.Int64
}

// claim registers a task for id. It fails if one is already registered.
func (r *taskRegistry) claim(id uuid.UUID, cancel context.CancelFunc) (*taskHandle, bool) {
	h := &taskHandle{cancel: cancel, done: make(chan struct{})}
	if _, loaded := r.tasks.LoadOrStore(id, h); loaded {
		return nil, false
	}
	r.running.Add(1)
	return h, true
}

// release unregisters h. It must be called exactly once per successful claim.
func (r *taskRegistry) release(id uuid.UUID, h *taskHandle) {
	r.tasks.CompareAndDelete(id, h)
	r.running.Add(-1)
	close(h.done)
}

// stop signals the task for id to exit without waiting for it.
func (r *taskRegistry) stop(id uuid.UUID) bool {
	v, ok := r.tasks.Load(id)
	if !ok {
		return false
	}
	v.(*taskHandle).cancel()
	return true
}

// wait blocks until the task for id exits or ctx is done.
func (r *taskRegistry) wait(ctx context.Context, id uuid.UUID) error {
	v, ok := r.tasks.Load(id)
	if !ok {
		return nil
	}
	select {
	case <-v.(*taskHandle).done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *taskRegistry) has(id uuid.UUID) bool {
	_, ok := r.tasks.Load(id)
	return ok
}

// Running returns the number of registered tasks.
func (r *taskRegistry) Running() int64 {
	return r.running.Load()
}
