package fusion

import (
	"github.com/lavataste/sensord/internal/arbitrate"
	"github.com/lavataste/sensord/internal/fanout"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// Info mirrors sensor.Info for a fusion handler's static description.
type Info struct {
	URI       string
	Type      sensortype.Type
	Vendor    string
	Name      string
	Privilege string
}

func (i Info) toWire() wire.SensorInfo {
	return wire.SensorInfo{
		URI: i.URI, Type: uint32(i.Type), Vendor: i.Vendor, Name: i.Name,
		MinIntervalMS: 0, WakeupSupported: false, Privilege: i.Privilege,
	}
}

// Upstream is one sensor (physical or fusion) this handler consumes.
type Upstream struct {
	Type    sensortype.Type
	Arbiter *arbitrate.Arbiter
	Fanout  *fanout.Fanout
}

// handlerDriver is a no-op arbitrate.Driver: a fusion handler has no
// device to drive directly, only upstream requests to cascade (via
// OnStateChange below), so its own Arbiter's driver calls are no-ops.
type handlerDriver struct{}

func (handlerDriver) SetInterval(int32) error     { return nil }
func (handlerDriver) SetBatchLatency(int32) error { return nil }
func (handlerDriver) SetWakeup(bool) error        { return nil }
func (handlerDriver) Start() error                { return nil }
func (handlerDriver) Stop() error                 { return nil }
func (handlerDriver) MinIntervalMS() int32        { return 1 }
func (handlerDriver) WakeupSupported() bool       { return false }

// Handler is a registered fusion-sensor entry (§4.F): identical
// arbitration surface to sensor.Handler, plus the upstream
// subscriptions and synthesizer that produce its output.
type Handler struct {
	info       Info
	arb        *arbitrate.Arbiter
	Fanout     *fanout.Fanout
	synth      Synthesizer
	upstreams  map[sensortype.Type]Upstream
	listenerID uint64
}

// New wires synth against its declared upstreams. listenerID is the
// id this fusion handler presents to each upstream's Arbiter and
// Fanout — the same id serves both roles, since both are keyed by
// listener id.
func New(info Info, synth Synthesizer, upstreams map[sensortype.Type]Upstream, listenerID uint64) *Handler {
	h := &Handler{
		info:       info,
		Fanout:     fanout.New(),
		synth:      synth,
		upstreams:  upstreams,
		listenerID: listenerID,
	}
	h.arb = arbitrate.New(handlerDriver{})
	h.arb.OnStateChange(h.onStateChange)
	return h
}

// URI implements registry.Handler.
func (h *Handler) URI() string { return h.info.URI }

// Type implements registry.Handler.
func (h *Handler) Type() sensortype.Type { return h.info.Type }

// WireInfo is Info converted for a CmdSensorList reply.
func (h *Handler) WireInfo() wire.SensorInfo { return h.info.toWire() }

// Arbiter is the handler's own arbitration engine, driven by its
// listener proxies exactly like a physical handler's.
func (h *Handler) Arbiter() *arbitrate.Arbiter { return h.arb }

// GetFanout satisfies listener.Target.
func (h *Handler) GetFanout() *fanout.Fanout { return h.Fanout }

func (h *Handler) onStateChange(old, next arbitrate.State) {
	if next.Started && !old.Started {
		h.subscribeUpstreams(next)
	} else if next.Started && old.Started {
		h.updateUpstreams(next)
	} else if !next.Started && old.Started {
		h.unsubscribeUpstreams()
	}
}

func (h *Handler) subscribeUpstreams(state arbitrate.State) {
	for _, upType := range h.synth.Upstreams() {
		up, ok := h.upstreams[upType]
		if !ok {
			obslog.Logger.Warnw("fusion handler missing wired upstream", obslog.FieldSensorURI, h.info.URI, obslog.FieldSensorType, upType.String())
			continue
		}
		upType := upType
		up.Fanout.Subscribe(h.listenerID, func(ev wire.SensorEvent) { h.onUpstreamEvent(upType, ev) })
		up.Arbiter.Upsert(h.listenerID, state.EffectiveIntervalMS, state.EffectiveLatencyMS, state.WakeupOn, true)
		up.Arbiter.Activate(h.listenerID)
	}
}

func (h *Handler) updateUpstreams(state arbitrate.State) {
	for _, upType := range h.synth.Upstreams() {
		up, ok := h.upstreams[upType]
		if !ok {
			continue
		}
		up.Arbiter.Upsert(h.listenerID, state.EffectiveIntervalMS, state.EffectiveLatencyMS, state.WakeupOn, true)
	}
}

func (h *Handler) unsubscribeUpstreams() {
	for _, upType := range h.synth.Upstreams() {
		up, ok := h.upstreams[upType]
		if !ok {
			continue
		}
		up.Fanout.Unsubscribe(h.listenerID)
		up.Arbiter.Remove(h.listenerID)
	}
}

func (h *Handler) onUpstreamEvent(upType sensortype.Type, ev wire.SensorEvent) {
	minEmitIntervalUS := int64(float64(h.arb.State().EffectiveIntervalMS) * 1000 * DebounceFactor)
	out, emit := h.synth.Step(Input{UpstreamType: upType, Event: ev}, minEmitIntervalUS)
	if !emit {
		return
	}
	h.Fanout.Publish(out)
}
