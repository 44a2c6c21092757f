package client

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/senserr"
	"github.com/lavataste/sensord/internal/wire"
)

// EventCallback receives one delivered sample for a reg-event whose
// event type matched.
type EventCallback func(ev wire.SensorEvent)

// AccuracyCallback receives a handle-wide accuracy change,
// invoked before the next data callback per §4.H.
type AccuracyCallback func(accuracy int32)

// CalibrationCallback fires once when the handle's accuracy drops to
// AccuracyBad, and is not invoked again until accuracy recovers and
// drops again (§4.H "calibration-needed sidecar event").
type CalibrationCallback func()

// regEvent is one client-side registered callback for a specific
// event type on a Handle (§3 "Reg-event record").
type regEvent struct {
	id          uint64
	eventType   uint32
	intervalMS  int32
	latencyMS   int32
	cb          EventCallback
	oneShot     bool
	fired       bool
	prevEventUS int64
}

// Handle is one client subscription to one sensor URI — the client
// counterpart of a server-side listener proxy. A Handle may carry
// several reg-events, each filtering on its own event type; the
// accuracy/calibration hooks are handle-wide, matching "the handle's
// remembered accuracy" (§4.H).
type Handle struct {
	id  uint64
	uri string
	el  *EventListener

	mu          deadlock.Mutex
	regEvents   map[uint64]*regEvent
	nextEventID uint64
	started     bool

	accuracyCB      AccuracyCallback
	calibCB         CalibrationCallback
	lastAccuracy    int32
	hasLastAccuracy bool
	badAccuracy     bool
}

// OpenHandle connects a new Handle for uri: it issues
// CmdListenerConnect on the command channel and registers the handle
// so future events addressed to its listener id reach it.
func (el *EventListener) OpenHandle(uri string) (*Handle, error) {
	id := el.nextListenerID.Add(1)
	body := wire.ListenerConnectBody{URI: uri}
	reply, err := el.sendCommand(wire.Frame{
		Header:  wire.Header{ID: id, Type: wire.CmdListenerConnect},
		Payload: body.Encode(),
	})
	if err != nil {
		return nil, err
	}
	if reply.Header.Err != 0 {
		return nil, senserr.Recoverablef(senserr.Code(reply.Header.Err), "client: connect failed for %s", uri)
	}
	h := &Handle{id: id, uri: uri, el: el, regEvents: make(map[uint64]*regEvent)}
	el.registerHandle(h)
	return h, nil
}

// SetAccuracyCallback installs the handle-wide accuracy-change hook.
func (h *Handle) SetAccuracyCallback(cb AccuracyCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accuracyCB = cb
}

// SetCalibrationCallback installs the handle-wide calibration-needed
// hook, fired on transition into AccuracyBad.
func (h *Handle) SetCalibrationCallback(cb CalibrationCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calibCB = cb
}

// RegisterEvent adds a reg-event matching eventType, requesting
// intervalMS/latencyMS, and returns its event id (usable with
// Unregister). oneShot gates fired: a one-shot reg-event delivers at
// most once.
func (h *Handle) RegisterEvent(eventType uint32, intervalMS, latencyMS int32, oneShot bool, cb EventCallback) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextEventID++
	id := h.nextEventID
	h.regEvents[id] = &regEvent{id: id, eventType: eventType, intervalMS: intervalMS, latencyMS: latencyMS, oneShot: oneShot, cb: cb}
	return id
}

// Unregister removes a reg-event previously returned by RegisterEvent.
func (h *Handle) Unregister(eventID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.regEvents, eventID)
}

// minIntervalLocked reduces every reg-event's requested interval the
// same way the server's arbitration engine reduces listener requests
// (§4.D), so one handle with several reg-events still issues one
// SetInterval to the server.
func (h *Handle) minIntervalLocked() int32 {
	var min int32 = -1
	for _, r := range h.regEvents {
		if min < 0 || r.intervalMS < min {
			min = r.intervalMS
		}
	}
	if min < 0 {
		return 1000
	}
	return min
}

func (h *Handle) maxLatencyLocked() int32 {
	var max int32
	for _, r := range h.regEvents {
		if r.latencyMS > max {
			max = r.latencyMS
		}
	}
	return max
}

// Start issues the server-side interval/latency attributes implied by
// the handle's current reg-events, then LISTENER_START.
func (h *Handle) Start() error {
	h.mu.Lock()
	interval := h.minIntervalLocked()
	latency := h.maxLatencyLocked()
	h.mu.Unlock()

	if err := h.setAttrInt("interval", int64(interval)); err != nil {
		return err
	}
	if err := h.setAttrInt("max_batch_latency", int64(latency)); err != nil {
		return err
	}
	if _, err := h.el.sendCommand(wire.Frame{Header: wire.Header{ID: h.id, Type: wire.CmdListenerStart}}); err != nil {
		return err
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	return nil
}

// Stop issues LISTENER_STOP; reg-events stop being dispatched to but
// are not removed.
func (h *Handle) Stop() error {
	if _, err := h.el.sendCommand(wire.Frame{Header: wire.Header{ID: h.id, Type: wire.CmdListenerStop}}); err != nil {
		return err
	}
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()
	return nil
}

// Close disconnects the handle entirely and unregisters it from the
// event listener.
func (h *Handle) Close() error {
	_, err := h.el.sendCommand(wire.Frame{Header: wire.Header{ID: h.id, Type: wire.CmdListenerDisconnect}})
	h.el.unregisterHandle(h.id)
	return err
}

func (h *Handle) setAttrInt(attr string, value int64) error {
	body := wire.ListenerSetAttrIntBody{Attr: attr, Value: value}
	reply, err := h.el.sendCommand(wire.Frame{Header: wire.Header{ID: h.id, Type: wire.CmdListenerSetAttrInt}, Payload: body.Encode()})
	if err != nil {
		return err
	}
	if reply.Header.Err != 0 {
		return senserr.Recoverablef(senserr.Code(reply.Header.Err), "client: set_attr_int %s failed", attr)
	}
	return nil
}

// dispatchAccuracy applies a handle-wide accuracy change: invokes the
// accuracy callback, then synthesizes the calibration-needed sidecar
// on a fresh transition into AccuracyBad (§4.H).
func (h *Handle) dispatchAccuracy(body wire.AccuracyEventBody) {
	h.mu.Lock()
	h.lastAccuracy = body.Accuracy
	h.hasLastAccuracy = true
	cb := h.accuracyCB
	calibCB := h.calibCB
	wasBad := h.badAccuracy
	isBad := body.Accuracy == AccuracyBad
	h.badAccuracy = isBad
	h.mu.Unlock()

	if cb != nil {
		cb(body.Accuracy)
	}
	if isBad && !wasBad && calibCB != nil {
		calibCB()
	}
}

// dispatchEvent routes ev to every reg-event whose filter matches:
// (event type, started, not fired) per §4.H.
func (h *Handle) dispatchEvent(ev wire.SensorEvent) {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	var matches []*regEvent
	for _, r := range h.regEvents {
		if r.eventType != ev.EventType {
			continue
		}
		if r.oneShot && r.fired {
			continue
		}
		matches = append(matches, r)
	}
	for _, r := range matches {
		r.prevEventUS = ev.TimestampUS
		if r.oneShot {
			r.fired = true
		}
	}
	h.mu.Unlock()

	for _, r := range matches {
		r.cb(ev)
	}
}
