// Package arbitrate is sensord's arbitration engine (§4.D): the
// per-handler reducer that collapses every listener's requested
// interval/latency/wakeup down to the one effective operating mode a
// handler's driver is actually put into, and the transactional commit
// that applies a change to the driver in the spec's required order.
package arbitrate

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/obslog"
)

// IdleFloorMS is the effective interval a handler with no active
// listener requests falls back to. A package-level var rather than a
// const so cmd/sensord can apply the daemon's configured
// arbitration.idle_floor_ms (internal/config) before any handler
// starts committing state.
var IdleFloorMS int32 = 1000

// Driver is the set of calls a handler's underlying device (physical
// shim or fusion synthesizer host) exposes to the arbitration engine.
// Values are only ever pushed to a Driver when the handler is started
// or while it stays started; a stopped handler's requests are staged
// and take effect on the next Start (§4.D edge case 5).
type Driver interface {
	SetInterval(ms int32) error
	SetBatchLatency(ms int32) error
	SetWakeup(on bool) error
	Start() error
	Stop() error

	// MinIntervalMS is the hardware/synthesizer floor; a requested
	// interval below it is clamped up silently.
	MinIntervalMS() int32
	// WakeupSupported reports whether SetWakeup(true) is meaningful;
	// when false, a wakeup request is accepted but downgraded.
	WakeupSupported() bool
}

// State is a handler's current arbitrated mode — the four scalars
// named in §4.D plus the client count they were reduced from.
type State struct {
	EffectiveIntervalMS int32
	EffectiveLatencyMS  int32
	WakeupOn            bool
	Started             bool
	ClientCount         int

	// DowngradedWakeup is true when at least one active listener
	// requested wakeup but the driver doesn't support it, so the
	// effective WakeupOn was forced false (§4.D edge case 4).
	DowngradedWakeup bool
}

type request struct {
	intervalMS  int32
	latencyMS   int32
	wakeup      bool
	active      bool
	isProcessor bool
}

// StateChangeFunc is invoked after a committed transition, with the
// state before and after. Fusion handlers use this hook to cascade
// their own arbitrated mode onto their upstream handlers (§4.D
// "Fusion propagation").
type StateChangeFunc func(old, new State)

// Arbiter holds one handler's listener-request table and reduces it
// to a State, applying changes to a Driver under a single per-handler
// lock held for the whole read-modify-write-commit (§5's "per-handler
// lock acquired for the full transaction").
type Arbiter struct {
	mu deadlock.Mutex

	driver   Driver
	requests map[uint64]*request
	state    State
	onChange StateChangeFunc
}

// New creates an Arbiter driving driver. All four effective scalars
// start at their empty-request-set defaults.
func New(driver Driver) *Arbiter {
	return &Arbiter{
		driver:   driver,
		requests: make(map[uint64]*request),
		state:    State{EffectiveIntervalMS: IdleFloorMS},
	}
}

// OnStateChange registers the single callback invoked after every
// committed transition. Call once, before any listener activity.
func (a *Arbiter) OnStateChange(fn StateChangeFunc) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// ErrInvalidInterval is returned for a zero or negative interval
// request (§4.D edge case 2).
var ErrInvalidInterval = errs.New("arbitrate: interval_ms must be positive")

// Upsert stores listenerID's requested interval/latency/wakeup
// without changing whether it's active. Call this before the
// listener's first Activate, or to change a value later — including
// while inactive, which is exactly the "stage it for next start"
// edge case.
func (a *Arbiter) Upsert(listenerID uint64, intervalMS, latencyMS int32, wakeup, isProcessor bool) error {
	if intervalMS <= 0 {
		return ErrInvalidInterval
	}
	a.mu.Lock()
	r, ok := a.requests[listenerID]
	if !ok {
		r = &request{isProcessor: isProcessor}
		a.requests[listenerID] = r
	}
	r.intervalMS = intervalMS
	r.latencyMS = latencyMS
	r.wakeup = wakeup
	old, next, notify := a.recomputeAndApplyLocked()
	a.mu.Unlock()
	notify(old, next)
	return nil
}

// Activate marks listenerID's request as contributing to the
// aggregate — the proxy-level equivalent of "add-listener" in §4.D.
// listenerID must already have a stored request via Upsert.
func (a *Arbiter) Activate(listenerID uint64) error {
	a.mu.Lock()
	r, ok := a.requests[listenerID]
	if !ok {
		a.mu.Unlock()
		return errs.Newf("arbitrate: activate of unknown listener %d", listenerID)
	}
	r.active = true
	old, next, notify := a.recomputeAndApplyLocked()
	a.mu.Unlock()
	notify(old, next)
	return nil
}

// Deactivate stops listenerID from contributing without forgetting
// its stored request values, so a later Activate resumes at the same
// requested mode.
func (a *Arbiter) Deactivate(listenerID uint64) error {
	a.mu.Lock()
	r, ok := a.requests[listenerID]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	r.active = false
	old, next, notify := a.recomputeAndApplyLocked()
	a.mu.Unlock()
	notify(old, next)
	return nil
}

// Remove forgets listenerID entirely — used on listener-proxy
// disconnect, not on stop.
func (a *Arbiter) Remove(listenerID uint64) {
	a.mu.Lock()
	delete(a.requests, listenerID)
	old, next, notify := a.recomputeAndApplyLocked()
	a.mu.Unlock()
	notify(old, next)
}

// State returns a snapshot of the current arbitrated mode.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ProcessorListenerIDs returns the listener ids currently active with
// isProcessor set — the upstream-facing requests a fusion handler has
// placed on this handler (§4.D "Fusion propagation").
func (a *Arbiter) ProcessorListenerIDs() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []uint64
	for id, r := range a.requests {
		if r.active && r.isProcessor {
			out = append(out, id)
		}
	}
	return out
}

// recomputeAndApplyLocked must be called with a.mu held. It commits
// the new state and the driver calls that implies, and returns a
// notify func the caller must invoke AFTER releasing a.mu — onChange
// may itself call back into another Arbiter (the fusion-cascade
// case), and that must never happen while this handler's lock is
// held, or two handlers cascading into each other could deadlock.
func (a *Arbiter) recomputeAndApplyLocked() (old, next State, notify func(State, State)) {
	next = State{EffectiveIntervalMS: IdleFloorMS}
	minInterval := int32(-1)
	var maxLatency int32
	var wakeup bool
	var count int
	for _, r := range a.requests {
		if !r.active {
			continue
		}
		count++
		if minInterval < 0 || r.intervalMS < minInterval {
			minInterval = r.intervalMS
		}
		if r.latencyMS > maxLatency {
			maxLatency = r.latencyMS
		}
		if r.wakeup {
			wakeup = true
		}
	}
	if count > 0 {
		next.EffectiveIntervalMS = minInterval
		next.EffectiveLatencyMS = maxLatency
	}
	if floor := a.driver.MinIntervalMS(); next.EffectiveIntervalMS < floor {
		next.EffectiveIntervalMS = floor
	}
	downgraded := wakeup && !a.driver.WakeupSupported()
	if downgraded {
		wakeup = false
	}
	next.WakeupOn = wakeup
	next.DowngradedWakeup = downgraded
	next.Started = count > 0
	next.ClientCount = count

	old = a.state
	startedChanged := next.Started != old.Started
	intervalChanged := next.EffectiveIntervalMS != old.EffectiveIntervalMS
	latencyChanged := next.EffectiveLatencyMS != old.EffectiveLatencyMS
	wakeupChanged := next.WakeupOn != old.WakeupOn

	if next.Started {
		// Driver setters run in this fixed order (§4.D), then Start
		// only on the 0→1 crossing. A failed call (e.g. the device
		// went away) is only logged: it doesn't block the rest of the
		// sequence or the state commit below, no error reaches the
		// caller, and the call is not issued again unless a later
		// recompute changes that value or the started state.
		if intervalChanged || startedChanged {
			a.logDriverErr("set_interval", a.driver.SetInterval(next.EffectiveIntervalMS))
		}
		if latencyChanged || startedChanged {
			a.logDriverErr("set_batch_latency", a.driver.SetBatchLatency(next.EffectiveLatencyMS))
		}
		if wakeupChanged || startedChanged {
			a.logDriverErr("set_wakeup", a.driver.SetWakeup(next.WakeupOn))
		}
		if startedChanged {
			a.logDriverErr("start", a.driver.Start())
		}
	} else if startedChanged {
		a.logDriverErr("stop", a.driver.Stop())
	}

	a.state = next

	changed := startedChanged || intervalChanged || latencyChanged || wakeupChanged || next.ClientCount != old.ClientCount
	if a.onChange == nil || !changed {
		return old, next, func(State, State) {}
	}
	fn := a.onChange
	return old, next, func(o, n State) { fn(o, n) }
}

// logDriverErr is a no-op on a nil error; otherwise it records the
// failed call so a device that silently stopped honoring requests
// shows up in logs instead of only in the divergence between
// a.state and what the hardware actually did.
func (a *Arbiter) logDriverErr(call string, err error) {
	if err != nil {
		obslog.Logger.Warnw("arbitrate: driver call failed", obslog.FieldCommand, call, obslog.FieldErr, err)
	}
}
