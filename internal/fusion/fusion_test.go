package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

func TestGravitySynth_ConvergesTowardAccel(t *testing.T) {
	s := NewGravitySynth(0.8)
	var last wire.SensorEvent
	for i := 0; i < 50; i++ {
		ev, emit := s.Step(Input{UpstreamType: sensortype.Accelerometer, Event: wire.SensorEvent{
			TimestampUS: int64(i) * 10000,
			Values:      []float32{0, 9.8, 0},
		}}, 0)
		if emit {
			last = ev
		}
	}
	assert.InDelta(t, 9.8, last.Values[1], 0.1)
}

func TestLinearAccelSynth_SubtractsGravity(t *testing.T) {
	s := NewLinearAccelSynth()
	_, emit := s.Step(Input{UpstreamType: sensortype.Accelerometer, Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{1, 9.8, 0}}}, 0)
	assert.False(t, emit)

	ev, emit := s.Step(Input{UpstreamType: sensortype.Gravity, Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{0, 9.8, 0}}}, 0)
	assert.True(t, emit)
	assert.InDelta(t, 1.0, ev.Values[0], 1e-6)
	assert.InDelta(t, 0.0, ev.Values[1], 1e-6)
}

func TestLinearAccelSynth_DebounceGatesRepeatedEmission(t *testing.T) {
	s := NewLinearAccelSynth()
	s.Step(Input{UpstreamType: sensortype.Accelerometer, Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{1, 0, 0}}}, 1_000_000)
	_, emit := s.Step(Input{UpstreamType: sensortype.Gravity, Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 0, 0}}}, 1_000_000)
	assert.True(t, emit)

	// Both inputs refresh quickly, well inside the debounce window.
	s.Step(Input{UpstreamType: sensortype.Accelerometer, Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{2, 0, 0}}}, 1_000_000)
	_, emit = s.Step(Input{UpstreamType: sensortype.Gravity, Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{0, 0, 0}}}, 1_000_000)
	assert.False(t, emit)
}

func TestRotationVectorSynth_IntegratesAndRenormalizes(t *testing.T) {
	s := NewRotationVectorSynth()
	s.Step(Input{UpstreamType: sensortype.Gyroscope, Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 0, 0}}}, 0)
	ev, emit := s.Step(Input{UpstreamType: sensortype.Gyroscope, Event: wire.SensorEvent{TimestampUS: 500000, Values: []float32{90, 0, 0}}}, 0)
	assert.True(t, emit)

	norm := ev.Values[0]*ev.Values[0] + ev.Values[1]*ev.Values[1] + ev.Values[2]*ev.Values[2] + ev.Values[3]*ev.Values[3]
	assert.InDelta(t, 1.0, norm, 1e-3)
}

func TestOrientationSynth_IdentityQuaternionGivesZeroAngles(t *testing.T) {
	s := NewOrientationSynth()
	ev, emit := s.Step(Input{Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 0, 0, 1}}}, 0)
	assert.True(t, emit)
	assert.InDelta(t, 0, ev.Values[0], 1e-3)
	assert.InDelta(t, 0, ev.Values[1], 1e-3)
	assert.InDelta(t, 0, ev.Values[2], 1e-3)
}

func TestAutoRotationSynth_ClassifiesUprightAsDegree0(t *testing.T) {
	s := NewAutoRotationSynth()
	ev, emit := s.Step(Input{Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 9.8, 0}}}, 0)
	assert.True(t, emit)
	assert.Equal(t, float32(sensortype.Degree0), ev.Values[0])
}

func TestAutoRotationSynth_HysteresisResistsBoundaryFlutter(t *testing.T) {
	s := NewAutoRotationSynth()
	s.Step(Input{Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 9.8, 0}}}, 0)

	// A reading just past the 0/90 boundary (about 50°, the seam is at
	// 45°) shouldn't flip the classification thanks to the hysteresis
	// margin.
	ev, _ := s.Step(Input{Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{-9.8 * 0.766, 9.8 * 0.643, 0}}}, 0)
	assert.Equal(t, float32(sensortype.Degree0), ev.Values[0])
}

func TestOrientationFilterSynth_EmitsOnceAllThreeInputsArrive(t *testing.T) {
	s := NewOrientationFilterSynth()
	_, emit := s.Step(Input{UpstreamType: sensortype.Gyroscope, Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 0, 0}}}, 0)
	assert.False(t, emit)
	_, emit = s.Step(Input{UpstreamType: sensortype.Accelerometer, Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{0, 0, 9.8}}}, 0)
	assert.False(t, emit)
	ev, emit := s.Step(Input{UpstreamType: sensortype.Geomagnetic, Event: wire.SensorEvent{TimestampUS: 2000, Values: []float32{0, 30, 0}}}, 0)
	assert.True(t, emit)
	assert.Len(t, ev.Values, 7)
}

func TestOrientationFilterSynth_NoMagEmitsWithoutGeomagnetic(t *testing.T) {
	s := NewOrientationFilterSynthNoMag()
	assert.Equal(t, []sensortype.Type{sensortype.Accelerometer, sensortype.Gyroscope}, s.Upstreams())

	_, emit := s.Step(Input{UpstreamType: sensortype.Gyroscope, Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 0, 0}}}, 0)
	assert.False(t, emit)
	ev, emit := s.Step(Input{UpstreamType: sensortype.Accelerometer, Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{0, 0, 9.8}}}, 0)
	assert.True(t, emit)
	assert.Len(t, ev.Values, 7)
}

func TestOrientationFilterSynth_NoGyroEmitsFromAccelAndMagOnly(t *testing.T) {
	s := NewOrientationFilterSynthNoGyro()
	assert.Equal(t, []sensortype.Type{sensortype.Accelerometer, sensortype.Geomagnetic}, s.Upstreams())

	_, emit := s.Step(Input{UpstreamType: sensortype.Accelerometer, Event: wire.SensorEvent{TimestampUS: 0, Values: []float32{0, 0, 9.8}}}, 0)
	assert.False(t, emit)
	ev, emit := s.Step(Input{UpstreamType: sensortype.Geomagnetic, Event: wire.SensorEvent{TimestampUS: 1000, Values: []float32{0, 30, 0}}}, 0)
	assert.True(t, emit)

	norm := ev.Values[0]*ev.Values[0] + ev.Values[1]*ev.Values[1] + ev.Values[2]*ev.Values[2] + ev.Values[3]*ev.Values[3]
	assert.InDelta(t, 1.0, norm, 1e-3)
	assert.Equal(t, float32(0), ev.Values[4])
	assert.Equal(t, float32(0), ev.Values[5])
	assert.Equal(t, float32(0), ev.Values[6])
}
