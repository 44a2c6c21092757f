// Package listener implements the server-side listener proxy (§4.G):
// the per-connect(sensor_uri) object that holds one client's
// subscription state, feeds start/stop/set-attribute calls into the
// target handler's arbitration engine, and performs axis rotation and
// accuracy diffing on every outgoing sample.
package listener

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/arbitrate"
	"github.com/lavataste/sensord/internal/eventqueue"
	"github.com/lavataste/sensord/internal/fanout"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/policy"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// axisRotatedTypes is the set of sensor types whose (x,y) pair is
// rotated for display orientation (§4.G step 1).
var axisRotatedTypes = map[sensortype.Type]bool{
	sensortype.Accelerometer:     true,
	sensortype.Gyroscope:         true,
	sensortype.Gravity:           true,
	sensortype.LinearAcceleration: true,
}

// Sender is the minimal channel surface a Proxy delivers frames over;
// satisfied by *wire.Channel, narrowed here so proxy tests don't need
// a real socket.
type Sender interface {
	Send(wire.Frame) error
}

// Target is the handler surface a Proxy drives: arbitration plus
// sample delivery, satisfied by both sensor.Handler and fusion.Handler.
type Target interface {
	Arbiter() *arbitrate.Arbiter
	GetFanout() *fanout.Fanout
	Type() sensortype.Type
}

// Proxy is one client's subscription to one sensor (§3 "Listener
// proxy"). Its own mutable fields (started intent, pause state, axis
// orientation, last accuracy) are only ever touched from the thread
// servicing its channel or from ApplyPausePolicy, which takes its own
// lock — per §5, never from inside the handler or registry lock.
type Proxy struct {
	ID       uint64
	ch       Sender
	target   Target
	targetURI string

	// queue decouples this proxy's delivery from the Fanout's RLock
	// (§4.B/§5/§9): Fanout.Publish's subscriber callback only enqueues
	// (non-blocking), and drainLoop is the sole goroutine that ever
	// calls onEvent's blocking channel send, so a stalled client blocks
	// at most its own drain loop, never the producing handler or any
	// other listener.
	queue *eventqueue.Queue

	mu              deadlock.Mutex
	intentStarted   bool
	policyPaused    bool
	passive         bool
	displayOriented bool
	rotationDegrees int
	pausePolicyMask uint32
	lastAccuracy    int32
	hasLastAccuracy bool

	intervalMS int32
	latencyMS  int32
	wakeup     bool
}

// New creates a Proxy for id against target (the handler registered at
// targetURI), delivering frames over ch.
func New(id uint64, targetURI string, target Target, ch Sender) *Proxy {
	p := &Proxy{
		ID: id, ch: ch, target: target, targetURI: targetURI,
		intervalMS: arbitrate.IdleFloorMS,
		queue:      eventqueue.New(eventqueue.DefaultCapacity),
	}
	go p.drainLoop()
	return p
}

// TargetURI returns the sensor URI this proxy is subscribed to.
func (p *Proxy) TargetURI() string { return p.targetURI }

// SetInterval stages/updates the proxy's requested interval.
func (p *Proxy) SetInterval(ms int32) error {
	p.mu.Lock()
	p.intervalMS = ms
	active := p.activeLocked()
	p.mu.Unlock()
	if !active {
		return nil
	}
	return p.target.Arbiter().Upsert(p.ID, ms, p.currentLatency(), p.currentWakeup(), false)
}

// SetLatency stages/updates the proxy's requested batch latency.
func (p *Proxy) SetLatency(ms int32) error {
	p.mu.Lock()
	p.latencyMS = ms
	active := p.activeLocked()
	p.mu.Unlock()
	if !active {
		return nil
	}
	return p.target.Arbiter().Upsert(p.ID, p.currentInterval(), ms, p.currentWakeup(), false)
}

// SetWakeup stages/updates the proxy's requested wakeup flag. The
// returned bool reports whether the request was accepted but
// downgraded to non-wakeup because the target doesn't support it
// (§4.D edge case 4) — the caller surfaces that both in the command
// reply and as a structured log field.
func (p *Proxy) SetWakeup(on bool) (downgraded bool, err error) {
	p.mu.Lock()
	p.wakeup = on
	active := p.activeLocked()
	p.mu.Unlock()
	if !active {
		return false, nil
	}
	if err := p.target.Arbiter().Upsert(p.ID, p.currentInterval(), p.currentLatency(), on, false); err != nil {
		return false, err
	}
	return p.target.Arbiter().State().DowngradedWakeup, nil
}

// SetPassive marks the proxy passive or active per §1's Open Question
// resolution: a passive listener receives samples but never
// contributes to its target's effective interval/latency/wakeup.
func (p *Proxy) SetPassive(passive bool) {
	p.mu.Lock()
	wasActive := p.activeLocked()
	p.passive = passive
	nowActive := p.activeLocked()
	p.mu.Unlock()
	if wasActive == nowActive {
		return
	}
	p.syncArbitration(nowActive)
}

// SetAxisOrientation sets whether this proxy wants display-oriented
// axis rotation and, if so, the rotation in degrees (0/90/180/270).
func (p *Proxy) SetAxisOrientation(displayOriented bool, degrees int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayOriented = displayOriented
	p.rotationDegrees = degrees
}

// SetPausePolicyMask sets the bitmask this proxy pauses against.
func (p *Proxy) SetPausePolicyMask(mask uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pausePolicyMask = mask
}

// Start records user intent to run and, unless paused by policy,
// activates arbitration.
func (p *Proxy) Start() error {
	p.mu.Lock()
	p.intentStarted = true
	p.policyPaused = false
	active := p.activeLocked()
	p.mu.Unlock()
	p.syncArbitration(active)
	// A passive proxy stays out of arbitration but still receives samples.
	p.target.GetFanout().Subscribe(p.ID, p.enqueue)
	return nil
}

// Stop clears user intent — unlike a policy-initiated pause, this
// does NOT survive a later policy transition.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	p.intentStarted = false
	p.mu.Unlock()
	p.syncArbitration(false)
	p.target.GetFanout().Unsubscribe(p.ID)
	return nil
}

// ApplyPausePolicy reacts to a new process-wide power-save state
// (§4.D "Pause policy"). A policy-initiated stop does not clear
// intentStarted, so a later non-matching state resumes automatically.
func (p *Proxy) ApplyPausePolicy(newState uint32) {
	p.mu.Lock()
	if !p.intentStarted {
		p.mu.Unlock()
		return
	}
	wasActive := p.activeLocked()
	p.policyPaused = newState&p.pausePolicyMask != 0
	nowActive := p.activeLocked()
	p.mu.Unlock()

	if wasActive == nowActive {
		return
	}
	p.syncArbitration(nowActive)
	if nowActive {
		p.target.GetFanout().Subscribe(p.ID, p.enqueue)
	} else {
		p.target.GetFanout().Unsubscribe(p.ID)
	}
}

// activeLocked reports whether this proxy should currently be
// contributing to arbitration. Must be called with p.mu held.
func (p *Proxy) activeLocked() bool {
	return p.intentStarted && !p.policyPaused && !p.passive
}

func (p *Proxy) currentInterval() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intervalMS
}

func (p *Proxy) currentLatency() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latencyMS
}

func (p *Proxy) currentWakeup() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wakeup
}

func (p *Proxy) syncArbitration(active bool) {
	arb := p.target.Arbiter()
	if active {
		arb.Upsert(p.ID, p.currentInterval(), p.currentLatency(), p.currentWakeup(), false)
		arb.Activate(p.ID)
	} else {
		arb.Deactivate(p.ID)
	}
}

// SubscribeToPolicy registers this proxy with mon so that future
// pause-policy broadcasts reach it via ApplyPausePolicy, and applies
// the current value immediately so a proxy connecting mid-pause starts
// out correctly paused. Returns an unsubscribe func for Close to call.
func (p *Proxy) SubscribeToPolicy(mon *policy.Monitor) func() {
	id := mon.AddListener(func(kind policy.Kind, newValue uint32) {
		if kind == policy.PausePolicy {
			p.ApplyPausePolicy(newValue)
		}
	})
	p.ApplyPausePolicy(mon.Current(policy.PausePolicy))
	return func() { mon.RemoveListener(id) }
}

// Flush is the local-only attribute handled directly by the proxy
// (§4.G: "pause_policy, axis_orientation, and flush are handled
// locally rather than delegated"). This implementation does not batch
// samples at the proxy layer — batching lives at the device/shim FIFO
// level (§4.E) — so there is nothing buffered here to force out; the
// call is accepted and logged for parity with the wire attribute.
func (p *Proxy) Flush() {
	obslog.Logger.Debugw("listener proxy flush requested", obslog.FieldListenerID, p.ID)
}

// Close tears the proxy down entirely — used on client disconnect,
// as distinct from Stop, which just stops streaming.
func (p *Proxy) Close() {
	p.target.Arbiter().Remove(p.ID)
	p.target.GetFanout().Unsubscribe(p.ID)
	p.queue.Close()
}

// enqueue is the Fanout subscriber callback: it copies ev into a
// pooled, refcounted eventqueue.Buffer and hands it to this proxy's
// own bounded queue without blocking. It runs under the Fanout's
// RLock, so it must never do anything that can stall — TryPush either
// succeeds immediately or the sample is dropped for this listener.
func (p *Proxy) enqueue(ev wire.SensorEvent) {
	b := eventqueue.Acquire()
	b.EventType = ev.EventType
	b.TimestampUS = ev.TimestampUS
	b.Accuracy = ev.Accuracy
	b.SetValues(ev.Values)

	ok, err := p.queue.TryPush(b)
	if err != nil || !ok {
		b.Release()
		obslog.Logger.Warnw("listener proxy: event queue full, dropping sample", obslog.FieldListenerID, p.ID)
	}
}

// drainLoop is the single goroutine that ever calls onEvent, isolating
// a slow client's blocking channel send to its own proxy instead of
// the publishing handler or any other listener (§4.B/§5/§9). It exits
// once Close calls queue.Close.
func (p *Proxy) drainLoop() {
	for {
		b, err := p.queue.Pop()
		if err != nil {
			return
		}
		ev := b.ToSensorEvent()
		b.Release()
		p.onEvent(ev)
	}
}

// onEvent performs §4.G's three delivery steps for one upstream
// sample: axis rotation, accuracy diffing, then the data frame.
func (p *Proxy) onEvent(ev wire.SensorEvent) {
	p.mu.Lock()
	passive := p.passive
	displayOriented := p.displayOriented
	degrees := p.rotationDegrees
	lastAccuracy := p.lastAccuracy
	hadAccuracy := p.hasLastAccuracy
	p.lastAccuracy = ev.Accuracy
	p.hasLastAccuracy = true
	p.mu.Unlock()
	_ = passive // passive listeners still receive samples once subscribed

	if displayOriented && axisRotatedTypes[p.target.Type()] && len(ev.Values) >= 2 {
		ev.Values[0], ev.Values[1] = rotateAxes(ev.Values[0], ev.Values[1], degrees)
	}

	if !hadAccuracy || ev.Accuracy != lastAccuracy {
		accBody := wire.AccuracyEventBody{Accuracy: ev.Accuracy, TimestampUS: ev.TimestampUS}
		if err := p.ch.Send(wire.Frame{Header: wire.Header{ID: p.ID, Type: wire.CmdListenerAccuracyEvent}, Payload: accBody.Encode()}); err != nil {
			obslog.Logger.Warnw("listener proxy: send accuracy event failed", obslog.FieldListenerID, p.ID, obslog.FieldErr, err)
			return
		}
	}

	if err := p.ch.Send(wire.Frame{Header: wire.Header{ID: p.ID, Type: wire.CmdListenerEvent}, Payload: ev.Encode()}); err != nil {
		obslog.Logger.Warnw("listener proxy: send event failed", obslog.FieldListenerID, p.ID, obslog.FieldErr, err)
	}
}

// rotateAxes rotates an (x,y) pair clockwise by 0/90/180/270 degrees,
// the four supported display orientations (§4.G step 1). Any other
// value is treated as 0 (no rotation).
func rotateAxes(x, y float32, degrees int) (float32, float32) {
	switch degrees {
	case 90:
		return -y, x
	case 180:
		return -x, -y
	case 270:
		return y, -x
	default:
		return x, y
	}
}
