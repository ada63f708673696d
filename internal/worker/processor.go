// Package worker polls the claiming store for jobs and executes them
// against the executor, one claim at a time per tick.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldrun/fieldrun/internal/executor"
	"github.com/fieldrun/fieldrun/internal/property"
	"github.com/fieldrun/fieldrun/internal/telemetry"
)

// Processor executes one claimed property end-to-end: acquire an execution
// context, deliver the work request through the retried message protocol,
// interpret the structured response, and resolve the claim.
type Processor struct {
	store    property.Store
	executor *executor.Client
	retry    executor.RetryPolicy
	workerID string
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewProcessor wires a processor for workerID.
func NewProcessor(store property.Store, exec *executor.Client, retry executor.RetryPolicy, workerID string, metrics *telemetry.Metrics, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    store,
		executor: exec,
		retry:    retry,
		workerID: workerID,
		metrics:  metrics,
		logger:   logger,
	}
}

// PollTick claims and processes at most one job per kind. Used as the poll
// scheduler's callback; an empty queue is a normal outcome, not an error.
func (w *Processor) PollTick(ctx context.Context) error {
	for _, kind := range []property.Kind{property.KindScrape, property.KindSubmit} {
		p, err := w.store.ClaimNext(ctx, kind, w.workerID)
		if err != nil {
			return fmt.Errorf("claim next %s: %w", kind, err)
		}
		w.metrics.RecordClaim(ctx, string(kind), p != nil)
		if p == nil {
			continue
		}
		if err := w.Process(ctx, p); err != nil {
			w.logger.Warn("job failed", "id", p.ID, "kind", kind, "error", err)
		}
	}
	return nil
}

// Process runs one claimed property. The claim is always resolved before
// returning, whether complete, requeue, or fail, and the execution context
// is released on every exit path.
func (w *Processor) Process(ctx context.Context, p *property.Property) error {
	kind, ok := property.KindForActive(p.Status)
	if !ok {
		return fmt.Errorf("property %s is not claimed (status %s)", p.ID, p.Status)
	}

	start := time.Now()
	defer func() {
		w.metrics.RecordJobDuration(ctx, string(kind), time.Since(start).Seconds())
	}()

	// Context acquisition failures are terminal for this job: the retry
	// budget covers message delivery, not opening the page.
	sess, err := w.executor.Acquire(ctx)
	if err != nil {
		w.resolve(ctx, p.ID, property.Fail(fmt.Sprintf("acquire execution context: %v", err)))
		return fmt.Errorf("acquire execution context: %w", err)
	}
	defer func() {
		if err := sess.Close(ctx); err != nil {
			w.logger.Warn("release execution context", "session", sess.ID, "error", err)
		}
	}()

	req := executor.Request{
		Kind:       string(kind),
		PropertyID: p.ID,
		Address:    p.Address,
		Payload:    p.Payload,
	}

	var resp *executor.Response
	err = w.retry.Do(ctx, func() error {
		r, sendErr := sess.Send(ctx, req)
		if sendErr != nil {
			return sendErr
		}
		resp = r
		return nil
	})
	if err != nil {
		w.resolve(ctx, p.ID, property.Fail(err.Error()))
		return fmt.Errorf("execute %s job %s: %w", kind, p.ID, err)
	}

	switch resp.Status {
	case executor.StatusOK:
		w.resolve(ctx, p.ID, property.Complete(resp.Result))
		return nil
	case executor.StatusSkipped:
		// A policy skip is not a failure: the property returns to its
		// prior stable status and can be claimed again later.
		w.resolve(ctx, p.ID, property.Requeue(resp.Reason))
		return nil
	default:
		w.resolve(ctx, p.ID, property.Fail(resp.Reason))
		return fmt.Errorf("execute %s job %s: %s", kind, p.ID, resp.Reason)
	}
}

// ExecuteItem runs one batch item through the executor without touching the
// claiming store. Batch items are field submissions driven directly by the
// operator, so they bypass the queue lifecycle. A policy skip counts as a
// failure here: the operator asked for this exact item.
func (w *Processor) ExecuteItem(ctx context.Context, kind property.Kind, id, address string, payload json.RawMessage) (json.RawMessage, error) {
	sess, err := w.executor.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire execution context: %w", err)
	}
	defer func() {
		if err := sess.Close(ctx); err != nil {
			w.logger.Warn("release execution context", "session", sess.ID, "error", err)
		}
	}()

	req := executor.Request{
		Kind:       string(kind),
		PropertyID: id,
		Address:    address,
		Payload:    payload,
	}

	var resp *executor.Response
	err = w.retry.Do(ctx, func() error {
		r, sendErr := sess.Send(ctx, req)
		if sendErr != nil {
			return sendErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case executor.StatusOK:
		return resp.Result, nil
	case executor.StatusSkipped:
		return nil, fmt.Errorf("skipped: %s", resp.Reason)
	default:
		return nil, errors.New(resp.Reason)
	}
}

// resolve ends the claim, logging rather than propagating resolution errors:
// the job's fate is already decided at this point.
func (w *Processor) resolve(ctx context.Context, id string, outcome property.Outcome) {
	if err := w.store.Resolve(ctx, id, outcome); err != nil {
		w.logger.Error("resolve claim", "id", id, "outcome", outcome.Kind, "error", err)
		return
	}
	w.metrics.RecordResolve(ctx, string(outcome.Kind))
}
