// Package sensor implements the physical sensor handler (§4.E): the
// registry entry that wraps one device shim, translates its arbitrated
// mode into shim calls, and serves get_data from its latest sample.
package sensor

import (
	"github.com/lavataste/sensord/internal/arbitrate"
)

// RawFrame is one sample as a device shim produces it, before it's
// wrapped into a wire.SensorEvent with this handler's event-type tag.
type RawFrame struct {
	TimestampUS int64
	Accuracy    int32
	Values      []float32
}

// DeviceShim is the external collaborator every physical handler
// wraps: `open()`/`close()` device lifecycle, the arbitration driver
// surface (`SetInterval`/`SetBatchLatency`/`SetWakeup`/`Start`/`Stop`),
// and a push-style sample feed via SetEventSink, matching §4.E's
// "wraps a device shim exposing read/set_interval/.../open/close".
// Real implementations call out to hardware, a kernel input node, or —
// for tests and the bundled reference shim — gopsutil (internal/shim).
type DeviceShim interface {
	arbitrate.Driver

	Open() error
	Close() error

	// SetEventSink registers the callback the shim invokes for every
	// new sample. A shim calls it from whatever goroutine produces
	// samples; Handler.onRawFrame is safe for concurrent invocation.
	SetEventSink(sink func(RawFrame))
}
