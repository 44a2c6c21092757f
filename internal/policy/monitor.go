// Package policy implements the pause-policy monitor (§4.I): a
// publish-subscribe singleton that broadcasts process-wide power-save
// state changes to every listener proxy, so they can honor their own
// pause_policy_mask without polling.
package policy

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/obslog"
)

// Kind enumerates the policy dimensions a listener can subscribe to.
// Only pause policy exists today; the type keeps room for more without
// changing the callback signature (§4.I "Only one policy kind exists
// initially").
type Kind int

const (
	// PausePolicy is a bit-set of power-save phases, ANDed against each
	// listener proxy's own pause_policy_mask.
	PausePolicy Kind = iota
)

// Listener is called back on every policy change. Implementations must
// not block: the monitor calls every listener synchronously and a slow
// one delays the rest.
type Listener func(kind Kind, newValue uint32)

// Monitor is the process-wide pub-sub singleton (§4.I). The zero value
// is not usable; construct with New.
type Monitor struct {
	mu        deadlock.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
	current   map[Kind]uint32
}

// New creates an empty Monitor with all known policy kinds at zero.
func New() *Monitor {
	return &Monitor{
		listeners: make(map[uint64]Listener),
		current:   map[Kind]uint32{PausePolicy: 0},
	}
}

// AddListener registers fn and returns a subscription id usable with
// RemoveListener (§4.I "add_listener(self)").
func (m *Monitor) AddListener(fn Listener) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return id
}

// RemoveListener unregisters a previously added listener. Safe to call
// from within a callback invoked by Publish: Publish snapshots the
// listener set before calling out.
func (m *Monitor) RemoveListener(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// Current returns the last published value for kind (0 if never
// published), so a newly connecting listener proxy can apply the
// current state immediately instead of waiting for the next change.
func (m *Monitor) Current(kind Kind) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current[kind]
}

// Publish broadcasts a new value for kind to every registered
// listener (§4.I "on_policy_changed"). Per §7, callbacks are
// best-effort: a listener that panics is logged and removed rather
// than taking down the publisher.
func (m *Monitor) Publish(kind Kind, newValue uint32) {
	m.mu.Lock()
	m.current[kind] = newValue
	snapshot := make(map[uint64]Listener, len(m.listeners))
	for id, fn := range m.listeners {
		snapshot[id] = fn
	}
	m.mu.Unlock()

	for id, fn := range snapshot {
		m.invokeSafely(id, fn, kind, newValue)
	}
}

func (m *Monitor) invokeSafely(id uint64, fn Listener, kind Kind, newValue uint32) {
	defer func() {
		if r := recover(); r != nil {
			obslog.Logger.Warnw("policy listener panicked, removing", obslog.FieldListenerID, id, "panic", r)
			m.RemoveListener(id)
		}
	}()
	fn(kind, newValue)
}
