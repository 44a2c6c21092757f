package fusion

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// LinearAccelSynth computes linear = accel - gravity_estimate, the
// two-input synthesizer shape §4.F describes literally: it waits for
// a fresh sample on both upstreams since its last emission, then
// subtracts (§4.F "Linear acceleration").
type LinearAccelSynth struct {
	mu deadlock.Mutex

	accel, gravity         [3]float64
	accelSeen, gravitySeen bool
	lastTimestampUS        int64
	gate                   debounceGate
}

func NewLinearAccelSynth() *LinearAccelSynth { return &LinearAccelSynth{} }

func (s *LinearAccelSynth) Upstreams() []sensortype.Type {
	return []sensortype.Type{sensortype.Accelerometer, sensortype.Gravity}
}

func (s *LinearAccelSynth) Step(in Input, minEmitIntervalUS int64) (wire.SensorEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch in.UpstreamType {
	case sensortype.Accelerometer:
		s.accel = valuesToVec3(in.Event.Values)
		s.accelSeen = true
	case sensortype.Gravity:
		s.gravity = valuesToVec3(in.Event.Values)
		s.gravitySeen = true
	default:
		return wire.SensorEvent{}, false
	}
	s.lastTimestampUS = in.Event.TimestampUS

	if !s.accelSeen || !s.gravitySeen {
		return wire.SensorEvent{}, false
	}
	if !s.gate.ready(s.lastTimestampUS, minEmitIntervalUS) {
		return wire.SensorEvent{}, false
	}

	linear := [3]float64{
		s.accel[0] - s.gravity[0],
		s.accel[1] - s.gravity[1],
		s.accel[2] - s.gravity[2],
	}
	s.gate.mark(s.lastTimestampUS)
	s.accelSeen, s.gravitySeen = false, false

	return wire.SensorEvent{
		EventType:   sensortype.EventType(sensortype.LinearAcceleration, sensortype.RawData),
		TimestampUS: s.lastTimestampUS,
		Accuracy:    in.Event.Accuracy,
		Values:      vec3ToValues(linear),
	}, true
}
