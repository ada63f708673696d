package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/fieldrun/fieldrun/internal/progress"
	"github.com/fieldrun/fieldrun/internal/telemetry"
)

// Batch errors visible to API callers.
var (
	ErrNoItems     = errors.New("batch has no items")
	ErrLockNotHeld = errors.New("batch lock not held for this batch")
)

// Item is one work descriptor inside a batch, typically one address.
type Item struct {
	ID      string          `json:"id"`
	Address string          `json:"address"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ItemResult records how one item fared. Results keep the input order of the
// batch regardless of completion order.
type ItemResult struct {
	Item    Item            `json:"item"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Operation performs the unit of work for one item. Injected so the
// orchestrator stays independent of what the work actually is. In
// production it is a job-processor call, in tests a stub.
type Operation func(ctx context.Context, item Item) (json.RawMessage, error)

// Config tunes one batch run.
type Config struct {
	// MaxConcurrentTabs bounds how many items run at once.
	MaxConcurrentTabs int `json:"maxConcurrentTabs"`
}

// DefaultMaxConcurrentTabs keeps the execution contexts (browser tabs in the
// field tooling) from overwhelming the host.
const DefaultMaxConcurrentTabs = 2

// Orchestrator drives a batch of items through an injected operation,
// isolating per-item failures and emitting a progress event after every
// completed item.
type Orchestrator struct {
	lock    *Lock
	broker  *progress.Broker
	op      Operation
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewOrchestrator wires an orchestrator. broker and metrics may be nil-ish
// only in tests; op must not be nil.
func NewOrchestrator(lock *Lock, broker *progress.Broker, op Operation, metrics *telemetry.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{lock: lock, broker: broker, op: op, metrics: metrics, logger: logger}
}

// Run processes items under the batch lock, which the caller must already
// hold for batchID. Acquisition stays with the caller so an "already
// running" rejection can happen before any work starts. Items run inside a
// bounded concurrency window. One bad item never aborts the batch; its
// failure is recorded and the run continues. Releasing the lock from outside
// cancels the batch: items already running finish, no new items start, and a
// terminal cancelled event is still emitted.
func (o *Orchestrator) Run(ctx context.Context, batchID string, items []Item, cfg Config) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if !o.lock.HeldBy(batchID) {
		return nil, ErrLockNotHeld
	}

	window := cfg.MaxConcurrentTabs
	if window <= 0 {
		window = DefaultMaxConcurrentTabs
	}

	total := len(items)
	results := make([]ItemResult, total)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	sem := make(chan struct{}, window)

	cancelled := false
	for i, item := range items {
		// Observe cancellation before dispatching, not mid-flight.
		if !o.lock.HeldBy(batchID) || ctx.Err() != nil {
			cancelled = true
			for j := i; j < total; j++ {
				results[j] = ItemResult{Item: items[j], Error: "batch cancelled"}
			}
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, it Item) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = o.runItem(ctx, it)

			mu.Lock()
			completed++
			current := completed
			mu.Unlock()

			o.metrics.RecordBatchItem(ctx, results[idx].Success)
			o.publish(progress.Event{
				BatchID: batchID,
				Current: current,
				Total:   total,
				Percent: percent(current, total),
				Message: it.Address,
				Phase:   progress.PhaseRunning,
			})
		}(i, item)
	}

	wg.Wait()

	phase := progress.PhaseComplete
	message := "batch complete"
	if cancelled {
		phase = progress.PhaseCancelled
		message = "batch cancelled"
	}
	o.publish(progress.Event{
		BatchID: batchID,
		Current: completed,
		Total:   total,
		Percent: percent(completed, total),
		Message: message,
		Phase:   phase,
	})

	return results, nil
}

// runItem executes one item, converting errors and panics into a failed result.
func (o *Orchestrator) runItem(ctx context.Context, item Item) (res ItemResult) {
	res = ItemResult{Item: item}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("batch item panicked", "address", item.Address, "panic", r)
			res.Success = false
			res.Result = nil
			res.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	out, err := o.op(ctx, item)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Result = out
	return res
}

func (o *Orchestrator) publish(event progress.Event) {
	if o.broker != nil {
		o.broker.Publish(event)
	}
}

func percent(current, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}
