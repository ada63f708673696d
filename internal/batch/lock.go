package batch

import "sync"

// Lock is the single-writer flag that prevents two batches from running
// concurrently inside one worker process. All three operations share one
// mutex, so a manual cancel racing with batch completion always observes a
// consistent holder.
type Lock struct {
	mu      sync.Mutex
	held    bool
	batchID string
}

// NewLock returns an unheld lock.
func NewLock() *Lock {
	return &Lock{}
}

// TryAcquire records batchID and succeeds only if the lock is not held.
// Never blocks: a rejected caller gets false immediately.
func (l *Lock) TryAcquire(batchID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false
	}
	l.held = true
	l.batchID = batchID
	return true
}

// Release clears the lock unconditionally. Safe to call when not held.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = false
	l.batchID = ""
}

// ReleaseIf clears the lock only while it is held for batchID and reports
// whether it did. A cancel racing with batch completion must not release a
// newer batch's lock.
func (l *Lock) ReleaseIf(batchID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held || l.batchID != batchID {
		return false
	}
	l.held = false
	l.batchID = ""
	return true
}

// Holder returns a snapshot of the lock state.
func (l *Lock) Holder() (held bool, batchID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.held, l.batchID
}

// HeldBy reports whether the lock is currently held for batchID. The
// orchestrator polls this between item dispatches to observe cancellation.
func (l *Lock) HeldBy(batchID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.held && l.batchID == batchID
}
