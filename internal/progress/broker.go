package progress

import "sync"

// Phase distinguishes the stages of a batch's progress stream.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseComplete  Phase = "complete"
	PhaseCancelled Phase = "cancelled"
)

// Event is an immutable progress snapshot. Events are fire-and-forget: a
// dropped event is superseded by the next one, never retried.
type Event struct {
	BatchID string `json:"batchId"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Phase   Phase  `json:"phase"`
}

// Terminal returns true for events that end a batch's stream.
func (e Event) Terminal() bool {
	return e.Phase != PhaseRunning
}

// Broker fans progress events out to per-batch subscribers over bounded
// channels. Publishing never blocks: a subscriber that cannot keep up misses
// events instead of stalling the batch.
type Broker struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]chan Event)}
}

// Subscribe creates a buffered event channel for a batch and returns it.
func (b *Broker) Subscribe(batchID string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[batchID] = append(b.subs[batchID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes an event channel from the map.
func (b *Broker) Unsubscribe(batchID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chans := b.subs[batchID]
	for i, c := range chans {
		if c == ch {
			b.subs[batchID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(b.subs[batchID]) == 0 {
		delete(b.subs, batchID)
	}
}

// Publish sends an event to all subscribers of a batch without blocking.
// Terminal events also close and drop every subscriber channel so SSE
// streams end instead of waiting forever.
func (b *Broker) Publish(event Event) {
	if event.Terminal() {
		b.mu.Lock()
		chans := b.subs[event.BatchID]
		delete(b.subs, event.BatchID)
		b.mu.Unlock()

		for _, ch := range chans {
			select {
			case ch <- event:
			default:
			}
			close(ch)
		}
		return
	}

	b.mu.RLock()
	chans := b.subs[event.BatchID]
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
	}
}
