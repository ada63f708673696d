package property

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is a property's position in the field-operations lifecycle.
type Status string

const (
	StatusPendingScrape      Status = "PENDING_SCRAPE"
	StatusScraping           Status = "SCRAPING"
	StatusReadyForField      Status = "READY_FOR_FIELD"
	StatusVisited            Status = "VISITED"
	StatusReadyForSubmission Status = "READY_FOR_SUBMISSION"
	StatusSubmitting         Status = "SUBMITTING"
	StatusComplete           Status = "COMPLETE"
	StatusFailed             Status = "FAILED"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// IsActive returns true while a claim is outstanding on the property.
func (s Status) IsActive() bool {
	return s == StatusScraping || s == StatusSubmitting
}

// transitions holds the forward edges of the lifecycle. The requeue edges
// (SCRAPING → PENDING_SCRAPE, SUBMITTING → VISITED) are the only moves
// backwards and are listed explicitly.
var transitions = map[Status][]Status{
	StatusPendingScrape:      {StatusScraping},
	StatusScraping:           {StatusReadyForField, StatusPendingScrape, StatusFailed},
	StatusReadyForField:      {StatusVisited},
	StatusVisited:            {StatusReadyForSubmission},
	StatusReadyForSubmission: {StatusSubmitting},
	StatusSubmitting:         {StatusComplete, StatusVisited, StatusFailed},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle move.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Kind identifies the two claimable job types.
type Kind string

const (
	KindScrape Kind = "SCRAPE"
	KindSubmit Kind = "SUBMIT"
)

// ParseKind validates a raw kind string, typically from a URL path segment.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindScrape, KindSubmit:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown job kind %q", s)
	}
}

// EntryStatus is the status a property must have to be claimable for this kind.
func (k Kind) EntryStatus() Status {
	if k == KindSubmit {
		return StatusReadyForSubmission
	}
	return StatusPendingScrape
}

// ActiveStatus marks a claimed property as in progress, hiding it from other claimants.
func (k Kind) ActiveStatus() Status {
	if k == KindSubmit {
		return StatusSubmitting
	}
	return StatusScraping
}

// CompleteStatus is the status a property reaches when this kind's work succeeds.
func (k Kind) CompleteStatus() Status {
	if k == KindSubmit {
		return StatusComplete
	}
	return StatusReadyForField
}

// RequeueStatus is the prior stable status a skipped property returns to.
func (k Kind) RequeueStatus() Status {
	if k == KindSubmit {
		return StatusVisited
	}
	return StatusPendingScrape
}

// KindForActive maps an active status back to the kind that claimed it.
func KindForActive(s Status) (Kind, bool) {
	switch s {
	case StatusScraping:
		return KindScrape, true
	case StatusSubmitting:
		return KindSubmit, true
	default:
		return "", false
	}
}

// Property is one unit of work: an address progressing through the lifecycle.
type Property struct {
	ID          string          `json:"id"`
	Address     string          `json:"address"`
	Status      Status          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Note        string          `json:"note,omitempty"`
	ClaimedBy   string          `json:"claimed_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	VisitedAt   *time.Time      `json:"visited_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// KindFor returns the job kind this property is currently eligible for or
// claimed under, and false when it is in neither position.
func (p *Property) KindFor() (Kind, bool) {
	switch p.Status {
	case StatusPendingScrape, StatusScraping:
		return KindScrape, true
	case StatusReadyForSubmission, StatusSubmitting:
		return KindSubmit, true
	default:
		return "", false
	}
}

// CreateRequest is the payload used to enqueue a new property.
type CreateRequest struct {
	Address string          `json:"address"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (r *CreateRequest) Validate() error {
	if r.Address == "" {
		return errors.New("address must not be empty")
	}
	return nil
}

// OutcomeKind classifies how a claim was resolved.
type OutcomeKind string

const (
	OutcomeComplete OutcomeKind = "complete"
	OutcomeFail     OutcomeKind = "fail"
	OutcomeRequeue  OutcomeKind = "requeue"
)

// Outcome ends a claim: complete carries result data, fail and requeue carry a reason.
type Outcome struct {
	Kind   OutcomeKind
	Result json.RawMessage
	Reason string
}

func Complete(result json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeComplete, Result: result}
}

func Fail(reason string) Outcome {
	return Outcome{Kind: OutcomeFail, Reason: reason}
}

func Requeue(reason string) Outcome {
	return Outcome{Kind: OutcomeRequeue, Reason: reason}
}
