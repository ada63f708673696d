package property

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by all implementations.
var (
	ErrNotFound = errors.New("property not found")
	// ErrBadTransition is returned when a guarded transition would break the lifecycle.
	ErrBadTransition = errors.New("illegal status transition")
)

// Store persists properties and owns every status mutation. ClaimNext and
// Resolve are the contention points: implementations must make the
// select-and-mark step a single atomic operation so that two concurrent
// claimants can never receive the same property.
type Store interface {
	Create(ctx context.Context, p *Property) error
	// Get returns (nil, nil) when the id is unknown.
	Get(ctx context.Context, id string) (*Property, error)
	// List returns a page of properties ordered by created_at DESC, plus the total count.
	List(ctx context.Context, limit, offset int) ([]*Property, int, error)

	// ClaimNext atomically claims the oldest property eligible for kind and
	// moves it to the kind's active status. Returns (nil, nil) when nothing
	// is eligible; an empty queue is not an error.
	ClaimNext(ctx context.Context, kind Kind, workerID string) (*Property, error)

	// Resolve ends a claim. Resolving a property that is no longer in an
	// active status is a no-op, so a retried resolve after a network failure
	// cannot corrupt state. Unknown ids return ErrNotFound.
	Resolve(ctx context.Context, id string, outcome Outcome) error

	// Transition performs a guarded lifecycle move (visit, ready, requeue
	// fallback). Illegal moves return ErrBadTransition.
	Transition(ctx context.Context, id string, to Status) error

	// ReclaimStale returns properties claimed before cutoff to their entry
	// status and reports the affected ids. Recovers claims whose worker died.
	ReclaimStale(ctx context.Context, cutoff time.Time) ([]string, error)

	// DeleteTerminalBefore removes COMPLETE/FAILED rows older than before.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
