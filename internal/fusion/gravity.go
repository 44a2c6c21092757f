package fusion

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// DefaultGravityTau is the complementary filter's low-pass time
// constant: output = tau*prev + (1-tau)*accel (§4.F "Complementary
// gravity filter").
const DefaultGravityTau = 0.8

// GravitySynth estimates the gravity vector from raw accelerometer
// samples with a one-pole complementary low-pass filter.
type GravitySynth struct {
	tau float64

	mu    deadlock.Mutex
	prev  [3]float64
	ready bool
	gate  debounceGate
}

// NewGravitySynth creates a GravitySynth with the given low-pass time
// constant tau in [0,1]; DefaultGravityTau is used if tau is 0.
func NewGravitySynth(tau float64) *GravitySynth {
	if tau <= 0 {
		tau = DefaultGravityTau
	}
	return &GravitySynth{tau: tau}
}

func (s *GravitySynth) Upstreams() []sensortype.Type {
	return []sensortype.Type{sensortype.Accelerometer}
}

func (s *GravitySynth) Step(in Input, minEmitIntervalUS int64) (wire.SensorEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accel := valuesToVec3(in.Event.Values)
	var est [3]float64
	if !s.ready {
		est = accel
		s.ready = true
	} else {
		est[0] = s.tau*s.prev[0] + (1-s.tau)*accel[0]
		est[1] = s.tau*s.prev[1] + (1-s.tau)*accel[1]
		est[2] = s.tau*s.prev[2] + (1-s.tau)*accel[2]
	}
	s.prev = est

	if !s.gate.ready(in.Event.TimestampUS, minEmitIntervalUS) {
		return wire.SensorEvent{}, false
	}
	s.gate.mark(in.Event.TimestampUS)

	return wire.SensorEvent{
		EventType:   sensortype.EventType(sensortype.Gravity, sensortype.RawData),
		TimestampUS: in.Event.TimestampUS,
		Accuracy:    in.Event.Accuracy,
		Values:      vec3ToValues(est),
	}, true
}

func valuesToVec3(v []float32) [3]float64 {
	var out [3]float64
	for i := 0; i < 3 && i < len(v); i++ {
		out[i] = float64(v[i])
	}
	return out
}

func vec3ToValues(v [3]float64) []float32 {
	return []float32{float32(v[0]), float32(v[1]), float32(v[2])}
}
