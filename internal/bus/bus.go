// Package bus is the in-process signaling channel between components that
// the platform would otherwise connect with broadcasts: the alarm table
// announces fires to the alert path, and reloads/sync receipts announce
// fresh event lists to the UI.
package bus

import (
	"sync"

	"kairos/internal/model"
)

// AlarmFired carries the payload of one alarm trigger. The fields mirror
// what the schedule call captured, so the alert path renders without
// re-querying the calendar.
type AlarmFired struct {
	Title       string
	UniqueID    int32
	EventID     int64
	StartMillis int64
}

// EventsUpdated announces that the upcoming-event list changed (reload,
// toggle, or sync receipt) so UI consumers can refresh.
type EventsUpdated struct {
	Events []model.Event
}

// Message is any published value; subscribers type-switch on the concrete
// message types above.
type Message any

// Bus is a small fan-out pub/sub. Publishing never blocks: a subscriber
// that falls behind loses messages rather than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Message
	next int
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Message)}
}

// Subscribe registers a buffered subscription. The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers msg to every current subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
