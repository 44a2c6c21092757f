package fusion

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// degToRad converts a gyroscope sample in degrees/second (the common
// device unit) to radians/second for quaternion integration.
const degToRad = 0.017453292519943295

// RotationVectorSynth integrates raw gyroscope angular rate into an
// orientation quaternion, renormalizing every step (§4.F
// "Gyro-integrated rotation").
type RotationVectorSynth struct {
	mu deadlock.Mutex

	q          quat
	haveLast   bool
	lastTsUS   int64
	gate       debounceGate
}

func NewRotationVectorSynth() *RotationVectorSynth {
	return &RotationVectorSynth{q: identityQuat()}
}

func (s *RotationVectorSynth) Upstreams() []sensortype.Type {
	return []sensortype.Type{sensortype.Gyroscope}
}

func (s *RotationVectorSynth) Step(in Input, minEmitIntervalUS int64) (wire.SensorEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := valuesToVec3(in.Event.Values)
	if s.haveLast {
		dt := float64(in.Event.TimestampUS-s.lastTsUS) / 1e6
		if dt > 0 {
			s.q = integrateGyro(s.q, g[0]*degToRad, g[1]*degToRad, g[2]*degToRad, dt)
		}
	}
	s.lastTsUS = in.Event.TimestampUS
	s.haveLast = true

	if !s.gate.ready(in.Event.TimestampUS, minEmitIntervalUS) {
		return wire.SensorEvent{}, false
	}
	s.gate.mark(in.Event.TimestampUS)

	return wire.SensorEvent{
		EventType:   sensortype.EventType(sensortype.RotationVector, sensortype.RawData),
		TimestampUS: in.Event.TimestampUS,
		Accuracy:    in.Event.Accuracy,
		Values:      []float32{float32(s.q.x), float32(s.q.y), float32(s.q.z), float32(s.q.w)},
	}, true
}
