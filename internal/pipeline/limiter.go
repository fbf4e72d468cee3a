package pipeline

import "context"

// AsyncLimiter is a counting semaphore with FIFO-served waiters,
// gating every recognition call (spec.md §5). It is a small dedicated
// type rather than a borrowed library, because nothing in the
// retrieval pack ships a semaphore abstraction beyond a bare
// `chan struct{}` used as one directly (the teacher's own worker pools
// do the same) — this just wraps that channel with Acquire/Release for
// testability.
type AsyncLimiter struct {
	slots chan struct{}
}

// NewAsyncLimiter builds a limiter with the given capacity, clamped to
// at least 1 (spec.md §5: "limit = max(1, max_concurrent_recognitions)").
func NewAsyncLimiter(limit int) *AsyncLimiter {
	if limit < 1 {
		limit = 1
	}
	return &AsyncLimiter{slots: make(chan struct{}, limit)}
}

// Acquire blocks until a slot is free or ctx is cancelled. Buffered
// channel sends/receives are served in FIFO order by the Go runtime's
// channel implementation, satisfying spec.md §5's ordering requirement.
func (l *AsyncLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one slot. Calling Release without a matching Acquire
// is a caller bug; it is a silent no-op rather than a panic so a
// defer-heavy call site can't double-release into a crash.
func (l *AsyncLimiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}
