package progress

import "testing"

func TestPublish_DeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("batch-1")

	b.Publish(Event{BatchID: "batch-1", Current: 1, Total: 2, Percent: 50, Phase: PhaseRunning})

	ev := <-ch
	if ev.Percent != 50 || ev.Phase != PhaseRunning {
		t.Errorf("event = %+v, want percent 50 running", ev)
	}
}

func TestPublish_IgnoresOtherBatches(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("batch-1")

	b.Publish(Event{BatchID: "batch-2", Phase: PhaseRunning})

	select {
	case ev := <-ch:
		t.Errorf("received %+v for a different batch", ev)
	default:
	}
}

func TestPublish_NeverBlocks(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("batch-1")

	// Overflow the subscriber buffer; the publisher must not stall.
	for i := 0; i < cap(ch)+10; i++ {
		b.Publish(Event{BatchID: "batch-1", Current: i, Phase: PhaseRunning})
	}

	if len(ch) != cap(ch) {
		t.Errorf("buffered %d events, want full buffer %d", len(ch), cap(ch))
	}
}

func TestPublish_TerminalClosesChannels(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("batch-1")

	b.Publish(Event{BatchID: "batch-1", Current: 2, Total: 2, Percent: 100, Phase: PhaseComplete})

	ev, open := <-ch
	if !open {
		t.Fatal("terminal event should be delivered before close")
	}
	if ev.Phase != PhaseComplete {
		t.Errorf("Phase = %q, want %q", ev.Phase, PhaseComplete)
	}
	if _, open := <-ch; open {
		t.Error("channel should be closed after terminal event")
	}

	// The subscription is gone: publishing again reaches nobody and must not panic.
	b.Publish(Event{BatchID: "batch-1", Phase: PhaseRunning})
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroker()
	ch1 := b.Subscribe("batch-1")
	ch2 := b.Subscribe("batch-1")

	b.Unsubscribe("batch-1", ch1)
	b.Publish(Event{BatchID: "batch-1", Phase: PhaseRunning})

	select {
	case <-ch1:
		t.Error("unsubscribed channel received an event")
	default:
	}
	if len(ch2) != 1 {
		t.Errorf("remaining subscriber got %d events, want 1", len(ch2))
	}
}

func TestEventTerminal(t *testing.T) {
	if (Event{Phase: PhaseRunning}).Terminal() {
		t.Error("running should not be terminal")
	}
	for _, phase := range []Phase{PhaseComplete, PhaseCancelled} {
		if !(Event{Phase: phase}).Terminal() {
			t.Errorf("%s should be terminal", phase)
		}
	}
}
