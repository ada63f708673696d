package property

import "testing"

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to scraping", StatusPendingScrape, StatusScraping, true},
		{"scraping to ready for field", StatusScraping, StatusReadyForField, true},
		{"scraping requeued to pending", StatusScraping, StatusPendingScrape, true},
		{"scraping to failed", StatusScraping, StatusFailed, true},
		{"ready for field to visited", StatusReadyForField, StatusVisited, true},
		{"visited to ready for submission", StatusVisited, StatusReadyForSubmission, true},
		{"ready for submission to submitting", StatusReadyForSubmission, StatusSubmitting, true},
		{"submitting to complete", StatusSubmitting, StatusComplete, true},
		{"submitting requeued to visited", StatusSubmitting, StatusVisited, true},
		{"submitting to failed", StatusSubmitting, StatusFailed, true},

		{"pending cannot skip to visited", StatusPendingScrape, StatusVisited, false},
		{"pending cannot fail without claim", StatusPendingScrape, StatusFailed, false},
		{"ready for field cannot go back", StatusReadyForField, StatusPendingScrape, false},
		{"complete is terminal", StatusComplete, StatusVisited, false},
		{"failed is terminal", StatusFailed, StatusPendingScrape, false},
		{"visited cannot jump to complete", StatusVisited, StatusComplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestKindStatuses(t *testing.T) {
	if got := KindScrape.EntryStatus(); got != StatusPendingScrape {
		t.Errorf("SCRAPE entry = %q, want %q", got, StatusPendingScrape)
	}
	if got := KindScrape.ActiveStatus(); got != StatusScraping {
		t.Errorf("SCRAPE active = %q, want %q", got, StatusScraping)
	}
	if got := KindScrape.CompleteStatus(); got != StatusReadyForField {
		t.Errorf("SCRAPE complete = %q, want %q", got, StatusReadyForField)
	}
	if got := KindScrape.RequeueStatus(); got != StatusPendingScrape {
		t.Errorf("SCRAPE requeue = %q, want %q", got, StatusPendingScrape)
	}

	if got := KindSubmit.EntryStatus(); got != StatusReadyForSubmission {
		t.Errorf("SUBMIT entry = %q, want %q", got, StatusReadyForSubmission)
	}
	if got := KindSubmit.ActiveStatus(); got != StatusSubmitting {
		t.Errorf("SUBMIT active = %q, want %q", got, StatusSubmitting)
	}
	if got := KindSubmit.CompleteStatus(); got != StatusComplete {
		t.Errorf("SUBMIT complete = %q, want %q", got, StatusComplete)
	}
	if got := KindSubmit.RequeueStatus(); got != StatusVisited {
		t.Errorf("SUBMIT requeue = %q, want %q", got, StatusVisited)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("SCRAPE"); err != nil || k != KindScrape {
		t.Errorf("ParseKind(SCRAPE) = %q, %v", k, err)
	}
	if k, err := ParseKind("SUBMIT"); err != nil || k != KindSubmit {
		t.Errorf("ParseKind(SUBMIT) = %q, %v", k, err)
	}
	if _, err := ParseKind("scrape"); err == nil {
		t.Error("ParseKind(scrape) should be case sensitive")
	}
	if _, err := ParseKind("PAINT"); err == nil {
		t.Error("ParseKind(PAINT) should fail")
	}
}

func TestKindForActive(t *testing.T) {
	if k, ok := KindForActive(StatusScraping); !ok || k != KindScrape {
		t.Errorf("KindForActive(SCRAPING) = %q, %v", k, ok)
	}
	if k, ok := KindForActive(StatusSubmitting); !ok || k != KindSubmit {
		t.Errorf("KindForActive(SUBMITTING) = %q, %v", k, ok)
	}
	if _, ok := KindForActive(StatusPendingScrape); ok {
		t.Error("KindForActive(PENDING_SCRAPE) should report false")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusComplete, StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPendingScrape, StatusScraping, StatusReadyForField, StatusVisited, StatusReadyForSubmission, StatusSubmitting} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCreateRequestValidate(t *testing.T) {
	r := CreateRequest{}
	if err := r.Validate(); err == nil {
		t.Error("empty address should fail validation")
	}
	r.Address = "12 Rue des Lilas, Nantes"
	if err := r.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
