package fusion

import (
	"math"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

const radToDeg = 180.0 / math.Pi

// OrientationSynth converts a rotation-vector quaternion into the
// conventional azimuth/pitch/roll triad (§4.F "quaternion to
// azimuth/pitch/roll"). Single upstream, so every sample that clears
// the debounce gate emits.
type OrientationSynth struct {
	mu   deadlock.Mutex
	gate debounceGate
}

func NewOrientationSynth() *OrientationSynth { return &OrientationSynth{} }

func (s *OrientationSynth) Upstreams() []sensortype.Type {
	return []sensortype.Type{sensortype.RotationVector}
}

func (s *OrientationSynth) Step(in Input, minEmitIntervalUS int64) (wire.SensorEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.gate.ready(in.Event.TimestampUS, minEmitIntervalUS) {
		return wire.SensorEvent{}, false
	}
	s.gate.mark(in.Event.TimestampUS)

	v := in.Event.Values
	var q quat
	if len(v) >= 4 {
		q = quat{x: float64(v[0]), y: float64(v[1]), z: float64(v[2]), w: float64(v[3])}
	} else {
		q = identityQuat()
	}
	azimuth, pitch, roll := q.normalized().toEuler()

	return wire.SensorEvent{
		EventType:   sensortype.EventType(sensortype.Orientation, sensortype.RawData),
		TimestampUS: in.Event.TimestampUS,
		Accuracy:    in.Event.Accuracy,
		Values:      []float32{float32(azimuth * radToDeg), float32(pitch * radToDeg), float32(roll * radToDeg)},
	}, true
}
