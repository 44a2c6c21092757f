// Package fanout is the small pub-sub fan-out every handler (physical
// or fusion) uses to hand each freshly produced sample to every
// listener proxy and downstream fusion handler subscribed to it.
// Subscribers are keyed by listener id so a fusion handler can use the
// same id it registered on the upstream's Arbiter as a processor
// listener for both arbitration and delivery.
package fanout

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/wire"
)

// Fanout delivers each Publish call to every current subscriber,
// synchronously and in no particular order (subscribers are kept in a
// map keyed by id). Subscribers
// that need to avoid blocking the publisher (a slow listener channel)
// are responsible for their own buffering downstream — this type is
// intentionally just the distribution primitive.
type Fanout struct {
	mu   deadlock.RWMutex
	subs map[uint64]func(wire.SensorEvent)
}

// New creates an empty Fanout.
func New() *Fanout {
	return &Fanout{subs: make(map[uint64]func(wire.SensorEvent))}
}

// Subscribe registers cb under id, replacing any previous
// subscription with that id.
func (f *Fanout) Subscribe(id uint64, cb func(wire.SensorEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id] = cb
}

// Unsubscribe removes id's subscription, if any.
func (f *Fanout) Unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

// Publish delivers ev to every current subscriber.
func (f *Fanout) Publish(ev wire.SensorEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, cb := range f.subs {
		cb(ev)
	}
}

// Len reports the current subscriber count.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
