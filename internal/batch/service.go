package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fieldrun/fieldrun/internal/webhook"
)

// LockHeldError rejects a batch submission while another batch is running.
// Carries the holder's id so callers can surface "already running" state.
type LockHeldError struct {
	CurrentBatchID string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("a batch is already running: %s", e.CurrentBatchID)
}

// Service is the batch submission entry point: it generates the batch id,
// acquires the local lock, drives the orchestrator, and reports completion
// to the optional callback notifier.
type Service struct {
	lock     *Lock
	orch     *Orchestrator
	notifier *webhook.Notifier
	logger   *slog.Logger
}

// NewService wires a batch service. notifier may be nil.
func NewService(lock *Lock, orch *Orchestrator, notifier *webhook.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{lock: lock, orch: orch, notifier: notifier, logger: logger}
}

// Run processes one batch under the lock. Rejects with *LockHeldError while
// another batch runs; empty item lists short-circuit before the lock is
// touched. The caller always receives the full per-item result list, even
// when every item failed.
func (s *Service) Run(ctx context.Context, items []Item, cfg Config) (string, []ItemResult, error) {
	if len(items) == 0 {
		return "", nil, ErrNoItems
	}

	batchID := uuid.New().String()
	if !s.lock.TryAcquire(batchID) {
		_, current := s.lock.Holder()
		return "", nil, &LockHeldError{CurrentBatchID: current}
	}
	defer s.lock.Release()

	s.logger.Info("batch started", "batchId", batchID, "items", len(items))
	results, err := s.orch.Run(ctx, batchID, items, cfg)
	if err != nil {
		return batchID, nil, err
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.logger.Info("batch finished", "batchId", batchID, "items", len(results), "failed", failed)

	s.notifyCallback(ctx, batchID, results, failed)
	return batchID, results, nil
}

// Cancel releases the lock from outside the orchestrator loop. Items already
// in flight finish on their own; no new items are dispatched. The release is
// conditional on the batch id observed here, so a cancel that loses a race
// with batch completion never touches a newer batch's lock.
func (s *Service) Cancel() (string, bool) {
	held, batchID := s.lock.Holder()
	if !held {
		return "", false
	}
	if !s.lock.ReleaseIf(batchID) {
		return "", false
	}
	s.logger.Info("batch cancelled", "batchId", batchID)
	return batchID, true
}

// Status returns the lock snapshot for the status endpoint.
func (s *Service) Status() (isProcessing bool, batchID string) {
	return s.lock.Holder()
}

func (s *Service) notifyCallback(ctx context.Context, batchID string, results []ItemResult, failed int) {
	if s.notifier == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"batchId": batchID,
		"total":   len(results),
		"failed":  failed,
		"results": results,
	})
	if err != nil {
		s.logger.Error("encode batch callback", "batchId", batchID, "error", err)
		return
	}
	// Detached from the request context so retries survive the caller
	// disconnecting, but still stop on server shutdown.
	s.notifier.Notify(context.WithoutCancel(ctx), payload)
}
