package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// TickFunc is one poll tick. Errors are logged and swallowed: a failed tick
// must never halt polling. The callback is responsible for its own
// concurrency gating (e.g. skipping a tick while at capacity).
type TickFunc func(ctx context.Context) error

// Scheduler invokes a callback at a runtime-adjustable interval. Ticks never
// overlap: the next tick is scheduled only after the previous invocation
// returns.
type Scheduler struct {
	tick   TickFunc
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a stopped scheduler around tick.
func NewScheduler(tick TickFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{tick: tick, logger: logger}
}

// Start begins polling every interval. The first tick fires after one full
// interval. Returns an error if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("poll interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.interval = interval
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels future ticks and waits for an in-flight tick to finish.
// Safe to call on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// UpdateInterval changes the interval for subsequent ticks. An in-flight
// tick is unaffected.
func (s *Scheduler) UpdateInterval(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// The tick runs to completion before the timer is rearmed,
			// which is what guarantees non-overlapping invocations.
			if err := s.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("poll tick failed", "error", err)
			}
			timer.Reset(s.currentInterval())
		}
	}
}
