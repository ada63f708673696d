package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_TicksRepeatedly(t *testing.T) {
	var ticks atomic.Int64
	s := NewScheduler(func(context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)

	if err := s.Start(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if got := ticks.Load(); got < 2 {
		t.Errorf("ticks = %d, want at least 2", got)
	}
}

func TestScheduler_TicksNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	s := NewScheduler(func(context.Context) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		// Deliberately slower than the interval.
		time.Sleep(30 * time.Millisecond)
		return nil
	}, nil)

	if err := s.Start(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent ticks = %d, want 1", got)
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(func(context.Context) error { return nil }, nil)

	if err := s.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background(), time.Hour); err == nil {
		t.Error("second Start should fail while running")
	}
}

func TestScheduler_RejectsBadInterval(t *testing.T) {
	s := NewScheduler(func(context.Context) error { return nil }, nil)

	if err := s.Start(context.Background(), 0); err == nil {
		t.Error("Start with zero interval should fail")
	}
	if err := s.UpdateInterval(-time.Second); err == nil {
		t.Error("UpdateInterval with negative interval should fail")
	}
}

func TestScheduler_StopWaitsForInFlightTick(t *testing.T) {
	tickDone := make(chan struct{})
	started := make(chan struct{}, 1)
	s := NewScheduler(func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(30 * time.Millisecond)
		close(tickDone)
		return nil
	}, nil)

	if err := s.Start(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	s.Stop()

	select {
	case <-tickDone:
	default:
		t.Error("Stop returned before the in-flight tick finished")
	}
}

func TestScheduler_StopIdempotent(t *testing.T) {
	s := NewScheduler(func(context.Context) error { return nil }, nil)
	s.Stop() // never started

	if err := s.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()
}

func TestScheduler_UpdateIntervalTakesEffect(t *testing.T) {
	var ticks atomic.Int64
	s := NewScheduler(func(context.Context) error {
		ticks.Add(1)
		return nil
	}, nil)

	// Start fast, then slow the scheduler to a crawl and verify ticking
	// effectively stops.
	if err := s.Start(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for ticks.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no tick observed at the fast interval")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.UpdateInterval(time.Hour); err != nil {
		t.Fatalf("UpdateInterval: %v", err)
	}
	// One tick armed with the old interval may still land.
	time.Sleep(20 * time.Millisecond)
	snapshot := ticks.Load()

	time.Sleep(100 * time.Millisecond)
	if got := ticks.Load(); got != snapshot {
		t.Errorf("ticks advanced from %d to %d after switching to a huge interval", snapshot, got)
	}
}

func TestScheduler_TickErrorsDoNotStopPolling(t *testing.T) {
	var ticks atomic.Int64
	s := NewScheduler(func(context.Context) error {
		ticks.Add(1)
		return errors.New("executor down")
	}, nil)

	if err := s.Start(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	if got := ticks.Load(); got < 2 {
		t.Errorf("ticks = %d, want polling to continue past errors", got)
	}
}
