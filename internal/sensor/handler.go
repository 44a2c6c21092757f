package sensor

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/arbitrate"
	"github.com/lavataste/sensord/internal/fanout"
	"github.com/lavataste/sensord/internal/obslog"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// Info is a handler's static description, the source for one entry of
// a CmdSensorList reply (§3 SensorInfo).
type Info struct {
	URI             string
	Type            sensortype.Type
	Vendor          string
	Name            string
	MinRangeX1000   int64
	MaxRangeX1000   int64
	ResolutionX1000 int64
	MinIntervalMS   int32
	FIFOCount       int32
	MaxBatchCount   int32
	WakeupSupported bool
	Privilege       string
}

func (i Info) toWire() wire.SensorInfo {
	return wire.SensorInfo{
		URI: i.URI, Type: uint32(i.Type), Vendor: i.Vendor, Name: i.Name,
		MinRangeX1000: i.MinRangeX1000, MaxRangeX1000: i.MaxRangeX1000, ResolutionX1000: i.ResolutionX1000,
		MinIntervalMS: i.MinIntervalMS, FIFOCount: i.FIFOCount, MaxBatchCount: i.MaxBatchCount,
		WakeupSupported: i.WakeupSupported, Privilege: i.Privilege,
	}
}

// Handler is the registered physical-sensor entry: one device shim,
// its arbitrated mode, and the latest sample cached for synchronous
// get_data queries (§4.E).
type Handler struct {
	info Info
	shim DeviceShim
	arb  *arbitrate.Arbiter

	mu        deadlock.Mutex
	cached    wire.SensorEvent
	hasCached bool

	// Fanout distributes every produced sample to every listener
	// proxy and downstream fusion handler subscribed to this URI.
	Fanout *fanout.Fanout
}

// New wires shim into a Handler under info, hooking the shim's event
// sink so every sample updates the cached value and is published to
// Fanout.
func New(info Info, shim DeviceShim, publish func(uri string, ev wire.SensorEvent)) *Handler {
	h := &Handler{info: info, shim: shim, Fanout: fanout.New()}
	h.arb = arbitrate.New(shim)
	if publish != nil {
		h.Fanout.Subscribe(0, func(ev wire.SensorEvent) { publish(h.info.URI, ev) })
	}
	shim.SetEventSink(h.onRawFrame)
	return h
}

func (h *Handler) onRawFrame(raw RawFrame) {
	ev := wire.SensorEvent{
		EventType:   sensortype.EventType(h.info.Type, sensortype.RawData),
		TimestampUS: raw.TimestampUS,
		Accuracy:    raw.Accuracy,
		Values:      raw.Values,
	}
	h.mu.Lock()
	h.cached = ev
	h.hasCached = true
	h.mu.Unlock()

	h.Fanout.Publish(ev)
}

// URI implements registry.Handler.
func (h *Handler) URI() string { return h.info.URI }

// Type implements registry.Handler.
func (h *Handler) Type() sensortype.Type { return h.info.Type }

// Info returns the handler's static description.
func (h *Handler) Info() Info { return h.info }

// WireInfo is Info converted for a CmdSensorList reply.
func (h *Handler) WireInfo() wire.SensorInfo { return h.info.toWire() }

// Arbiter is the handler's arbitration engine, used by the dispatch
// layer to add/remove/update listener requests.
func (h *Handler) Arbiter() *arbitrate.Arbiter { return h.arb }

// GetFanout satisfies listener.Target.
func (h *Handler) GetFanout() *fanout.Fanout { return h.Fanout }

// CachedValue returns the most recent sample and whether one has ever
// arrived, for a synchronous get_data request.
func (h *Handler) CachedValue() (wire.SensorEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cached, h.hasCached
}

// Open acquires the underlying device.
func (h *Handler) Open() error {
	obslog.Logger.Debugw("opening physical sensor", obslog.FieldSensorURI, h.info.URI)
	return h.shim.Open()
}

// Close releases the underlying device. Safe to call even if the
// handler was never started.
func (h *Handler) Close() error {
	obslog.Logger.Debugw("closing physical sensor", obslog.FieldSensorURI, h.info.URI)
	return h.shim.Close()
}
