package property

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process development.
// All mutations happen under one mutex, which gives the same claim atomicity
// the SQL stores get from conditional updates.
type MemoryStore struct {
	mu    sync.RWMutex
	props map[string]*Property
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{props: make(map[string]*Property)}
}

func (s *MemoryStore) Create(_ context.Context, p *Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.props[p.ID]; exists {
		return fmt.Errorf("create property: duplicate id %s", p.ID)
	}
	cp := *p
	s.props[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.props[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*Property, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Property, 0, len(s.props))
	for _, p := range s.props {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*Property, 0, end-offset)
	for _, p := range all[offset:end] {
		cp := *p
		page = append(page, &cp)
	}
	return page, total, nil
}

func (s *MemoryStore) ClaimNext(_ context.Context, kind Kind, workerID string) (*Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Property
	for _, p := range s.props {
		if p.Status != kind.EntryStatus() {
			continue
		}
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) ||
			(p.CreatedAt.Equal(oldest.CreatedAt) && p.ID < oldest.ID) {
			oldest = p
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	oldest.Status = kind.ActiveStatus()
	oldest.ClaimedBy = workerID
	oldest.ClaimedAt = &now

	cp := *oldest
	return &cp, nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.props[id]
	if !ok {
		return ErrNotFound
	}
	kind, active := KindForActive(p.Status)
	if !active {
		// Already resolved: no-op by contract.
		return nil
	}

	now := time.Now().UTC()
	switch outcome.Kind {
	case OutcomeComplete:
		p.Status = kind.CompleteStatus()
		p.Result = outcome.Result
		if p.Status.IsTerminal() {
			p.CompletedAt = &now
		}
	case OutcomeFail:
		p.Status = StatusFailed
		p.Error = outcome.Reason
		p.CompletedAt = &now
	case OutcomeRequeue:
		p.Status = kind.RequeueStatus()
		p.Note = outcome.Reason
		p.ClaimedBy = ""
		p.ClaimedAt = nil
	default:
		return fmt.Errorf("unknown outcome kind %q", outcome.Kind)
	}
	return nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.props[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status == to {
		return nil
	}
	if !p.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, p.Status, to)
	}

	now := time.Now().UTC()
	p.Status = to
	if to == StatusVisited {
		p.VisitedAt = &now
	}
	if to.IsTerminal() {
		p.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) ReclaimStale(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, p := range s.props {
		kind, active := KindForActive(p.Status)
		if !active || p.ClaimedAt == nil || !p.ClaimedAt.Before(cutoff) {
			continue
		}
		p.Status = kind.EntryStatus()
		p.ClaimedBy = ""
		p.ClaimedAt = nil
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.props {
		if p.Status.IsTerminal() && p.CompletedAt != nil && p.CompletedAt.Before(before) {
			delete(s.props, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = make(map[string]*Property)
	return nil
}
