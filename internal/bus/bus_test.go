package bus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(AlarmFired{Title: "Standup", UniqueID: 99})

	for _, ch := range []<-chan Message{a, c} {
		select {
		case msg := <-ch:
			fired, ok := msg.(AlarmFired)
			if !ok {
				t.Fatalf("got %T, want AlarmFired", msg)
			}
			if fired.UniqueID != 99 {
				t.Errorf("UniqueID = %d, want 99", fired.UniqueID)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive published message")
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // idempotent

	b.Publish(EventsUpdated{})

	if _, ok := <-ch; ok {
		t.Error("cancelled subscriber should see a closed, empty channel")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Second publish would block forever if the bus waited on the
		// full buffer.
		b.Publish(EventsUpdated{})
		b.Publish(EventsUpdated{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
