package fusion

import (
	"math"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// HysteresisDegrees is the extra angular margin a tilt reading must
// cross past a zone boundary before auto-rotation switches out of its
// current classification, so a device resting near a 90°/180° seam
// doesn't flap (§4.F "auto-rotation tilt classification with
// hysteresis").
const HysteresisDegrees = 8.0

// AutoRotationSynth classifies the device's display rotation from the
// gravity vector's tilt angle into one of the four sensortype.Degree*
// buckets, with hysteresis at the zone boundaries.
type AutoRotationSynth struct {
	mu      deadlock.Mutex
	current sensortype.AutoRotationDegree
	gate    debounceGate
}

func NewAutoRotationSynth() *AutoRotationSynth {
	return &AutoRotationSynth{current: sensortype.DegreeUnknown}
}

func (s *AutoRotationSynth) Upstreams() []sensortype.Type {
	return []sensortype.Type{sensortype.Accelerometer}
}

func (s *AutoRotationSynth) Step(in Input, minEmitIntervalUS int64) (wire.SensorEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := valuesToVec3(in.Event.Values)
	// Near-flat on the table: tilt angle is undefined, keep the
	// current classification rather than guessing.
	if math.Hypot(v[0], v[1]) < 1.5 {
		if !s.gate.ready(in.Event.TimestampUS, minEmitIntervalUS) || s.current == sensortype.DegreeUnknown {
			return wire.SensorEvent{}, false
		}
	} else {
		angle := math.Atan2(-v[0], v[1]) * radToDeg
		if angle < 0 {
			angle += 360
		}
		s.current = classifyWithHysteresis(s.current, angle)
	}

	if !s.gate.ready(in.Event.TimestampUS, minEmitIntervalUS) {
		return wire.SensorEvent{}, false
	}
	s.gate.mark(in.Event.TimestampUS)

	return wire.SensorEvent{
		EventType:   sensortype.EventType(sensortype.AutoRotation, sensortype.ChangeState),
		TimestampUS: in.Event.TimestampUS,
		Accuracy:    in.Event.Accuracy,
		Values:      []float32{float32(s.current)},
	}, true
}

func classifyWithHysteresis(current sensortype.AutoRotationDegree, angle float64) sensortype.AutoRotationDegree {
	zones := []struct {
		deg    sensortype.AutoRotationDegree
		center float64
	}{
		{sensortype.Degree0, 0},
		{sensortype.Degree90, 90},
		{sensortype.Degree180, 180},
		{sensortype.Degree270, 270},
	}

	best := current
	bestDist := math.Inf(1)
	for _, z := range zones {
		d := angularDistance(angle, z.center)
		margin := 0.0
		if z.deg != current {
			// Each degree of tilt past a seam brings the reading one
			// degree closer to the far zone and one further from the
			// current one, so crossing HysteresisDegrees past the seam
			// shifts the gap between the two distances by twice that.
			margin = 2 * HysteresisDegrees
		}
		if d+margin < bestDist {
			bestDist = d + margin
			best = z.deg
		}
	}
	return best
}

func angularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
