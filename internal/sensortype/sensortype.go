// Package sensortype enumerates the sensor-type space and the wire
// event-type packing from the spec's §6 and §9 Glossary, ported from
// the original sensord's src/shared/sensor_types.h enumeration.
package sensortype

// Type identifies a sensor kind. Values are stable across the wire via
// EventType packing and must never be renumbered once shipped.
type Type uint32

const (
	Unknown Type = iota
	Accelerometer
	Gyroscope
	Geomagnetic
	Proximity
	Pressure
	Temperature
	Light
	RotationVector
	RVRaw
	Ultraviolet
	AutoRotation
	GamingRotationVector
	GeomagneticRotationVector
	Gravity
	LinearAcceleration
	Orientation
	Tilt
	UncalibratedGyroscope
	HeartRateMonitor
	Fusion
	// SystemLoad is a host-metrics pseudo-sensor (§2 expansion): it has
	// no physical/hardware analogue, but wraps the same DeviceShim
	// contract as a real device for the reference gopsutil shim
	// (internal/shim/loadshim) to exercise end to end.
	SystemLoad
)

// SubEvent is the low 16 bits of a wire EventType. RawData is the
// canonical raw stream, present for every sensor type (§6: "sub_event
// 0x0001 is always the canonical raw stream").
type SubEvent uint32

const (
	RawData           SubEvent = 0x0001
	UnprocessedData   SubEvent = 0x0002
	CalibrationNeeded SubEvent = 0x0002 // geomagnetic/orientation/RV-raw use 0x0002 for this
	ChangeState       SubEvent = 0x0001
)

// EventType packs (sensor_type << 16) | sub_event, exactly as §6
// specifies.
func EventType(t Type, sub SubEvent) uint32 {
	return (uint32(t) << 16) | uint32(sub)
}

// SplitEventType is the inverse of EventType.
func SplitEventType(eventType uint32) (Type, SubEvent) {
	return Type(eventType >> 16), SubEvent(eventType & 0xFFFF)
}

// AutoRotationDegree mirrors the original auto_rotation_state enum.
type AutoRotationDegree int

const (
	DegreeUnknown AutoRotationDegree = iota
	Degree0
	Degree90
	Degree180
	Degree270
)

func (t Type) String() string {
	switch t {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	case Geomagnetic:
		return "geomagnetic"
	case Proximity:
		return "proximity"
	case Pressure:
		return "pressure"
	case Temperature:
		return "temperature"
	case Light:
		return "light"
	case RotationVector:
		return "rotation_vector"
	case RVRaw:
		return "rv_raw"
	case Ultraviolet:
		return "ultraviolet"
	case AutoRotation:
		return "auto_rotation"
	case GamingRotationVector:
		return "gaming_rotation_vector"
	case GeomagneticRotationVector:
		return "geomagnetic_rotation_vector"
	case Gravity:
		return "gravity"
	case LinearAcceleration:
		return "linear_acceleration"
	case Orientation:
		return "orientation"
	case Tilt:
		return "tilt"
	case UncalibratedGyroscope:
		return "uncal_gyroscope"
	case HeartRateMonitor:
		return "hrm"
	case Fusion:
		return "fusion"
	case SystemLoad:
		return "system_load"
	default:
		return "unknown"
	}
}
