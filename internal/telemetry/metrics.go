package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fieldrun/fieldrun"

// Metrics holds the OpenTelemetry instruments for the queue. A nil *Metrics
// is valid and records nothing, so tests can pass nil everywhere.
type Metrics struct {
	claims     metric.Int64Counter
	resolves   metric.Int64Counter
	batchItems metric.Int64Counter
	jobSeconds metric.Float64Histogram
}

// BatchState is the snapshot source for the batch-activity gauge,
// implemented by the batch lock.
type BatchState interface {
	Holder() (held bool, batchID string)
}

// NewMetrics initialises instruments on the global meter provider and
// registers an observable gauge tracking whether a batch is running.
func NewMetrics(state BatchState) (*Metrics, error) {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}
	var err error

	m.claims, err = meter.Int64Counter(
		"queue.claims",
		metric.WithDescription("Total claim attempts, by job kind and whether an item was returned"),
		metric.WithUnit("{claim}"),
	)
	if err != nil {
		return nil, err
	}

	m.resolves, err = meter.Int64Counter(
		"queue.resolves",
		metric.WithDescription("Total claim resolutions, by outcome"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, err
	}

	m.batchItems, err = meter.Int64Counter(
		"batch.items",
		metric.WithDescription("Total batch items processed, by success"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	m.jobSeconds, err = meter.Float64Histogram(
		"job.duration",
		metric.WithDescription("Duration of one claimed job end-to-end"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	batchActive, err := meter.Int64ObservableGauge(
		"batch.active",
		metric.WithDescription("1 while a batch holds the local lock, 0 otherwise"),
	)
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var v int64
		if held, _ := state.Holder(); held {
			v = 1
		}
		o.ObserveInt64(batchActive, v)
		return nil
	}, batchActive)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordClaim counts one claim attempt.
func (m *Metrics) RecordClaim(ctx context.Context, kind string, hit bool) {
	if m == nil {
		return
	}
	m.claims.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("hit", hit),
	))
}

// RecordResolve counts one resolution.
func (m *Metrics) RecordResolve(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.resolves.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBatchItem counts one completed batch item.
func (m *Metrics) RecordBatchItem(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.batchItems.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordJobDuration records how long one claimed job took.
func (m *Metrics) RecordJobDuration(ctx context.Context, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.jobSeconds.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}
