package registry

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// EventType classifies monitor events.
type EventType string

const (
	// EventInstanceFailed means an instance crossed the failure threshold.
	EventInstanceFailed EventType = "instance-failed"

	// EventInstanceRecovered means a failed instance returned to active.
	EventInstanceRecovered EventType = "instance-recovered"

	// EventInstanceEmergency means an instance's assignments were
	// force-released.
	EventInstanceEmergency EventType = "instance-emergency"
)

// Event is one monitor observation delivered to subscribers.
type Event struct {
	Type     EventType
	ServerID string

	// Streams is the assignment count involved: affected at failure time,
	// released for emergencies, resynchronized for recoveries.
	Streams int

	At time.Time
}

// Broadcaster fans monitor events out to subscribers.
//
// Subscription and publishing are lock-free on the hot path. Callbacks run
// on the publishing goroutine and must not block; subscribers that need to
// do real work should hand the event off to their own goroutine or channel.
type Broadcaster struct {
	subs   *xsync.Map[uint64, func(Event)]
	nextID atomic.Uint64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: xsync.NewMap[uint64, func(Event)](),
	}
}

// Subscribe registers a callback for all future events.
//
// Parameters:
//   - fn: Callback invoked for each published event
//
// Returns:
//   - func(): Unsubscribe function; safe to call more than once
func (b *Broadcaster) Subscribe(fn func(Event)) func() {
	id := b.nextID.Add(1)
	b.subs.Store(id, fn)

	return func() {
		b.subs.Delete(id)
	}
}

// Publish delivers an event to every subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.subs.Range(func(_ uint64, fn func(Event)) bool {
		fn(ev)
		return true
	})
}
