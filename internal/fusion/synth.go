package fusion

import (
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// DebounceFactor is the fraction of the effective interval a
// synthesizer must wait since its last emission before it will emit
// again, even once every required input has arrived (§4.F: "time
// since last emission ≥ effective_interval × 0.75"). A var, not a
// const, so cmd/sensord can apply the daemon's configured
// arbitration.debounce_factor (internal/config) at startup.
var DebounceFactor = 0.75

// Input is one upstream sample handed to a Synthesizer, tagged with
// which upstream sensor type it came from.
type Input struct {
	UpstreamType sensortype.Type
	Event        wire.SensorEvent
}

// Synthesizer is the per-algorithm contract §4.F describes: maintain
// rolling state per upstream input, and emit an output only once every
// required input has arrived since the last emission and the debounce
// interval has elapsed. A Synthesizer must be side-effect-free beyond
// its own state — given identical inputs in identical order it always
// produces identical outputs.
type Synthesizer interface {
	// Upstreams lists the sensor types this synthesizer subscribes to.
	Upstreams() []sensortype.Type

	// Step records in and returns an output plus whether to emit,
	// given the fusion handler's current effective interval in
	// microseconds (already including DebounceFactor).
	Step(in Input, minEmitIntervalUS int64) (wire.SensorEvent, bool)
}

// debounceGate is embedded by synthesizers that need the "haven't
// emitted recently enough" half of the emission contract; the
// "every required input has arrived" half is algorithm-specific and
// tracked separately by each synthesizer.
type debounceGate struct {
	lastEmitUS int64
	everEmit   bool
}

func (g *debounceGate) ready(nowUS, minEmitIntervalUS int64) bool {
	return !g.everEmit || nowUS-g.lastEmitUS >= minEmitIntervalUS
}

func (g *debounceGate) mark(nowUS int64) {
	g.lastEmitUS = nowUS
	g.everEmit = true
}
