package sensortype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventType_PackAndSplit(t *testing.T) {
	packed := EventType(Accelerometer, RawData)
	assert.Equal(t, uint32(Accelerometer)<<16|uint32(RawData), packed)

	gotType, gotSub := SplitEventType(packed)
	assert.Equal(t, Accelerometer, gotType)
	assert.Equal(t, RawData, gotSub)
}

func TestEventType_DistinctSubEvents(t *testing.T) {
	raw := EventType(Geomagnetic, RawData)
	calib := EventType(Geomagnetic, CalibrationNeeded)
	assert.NotEqual(t, raw, calib)

	_, sub := SplitEventType(calib)
	assert.Equal(t, CalibrationNeeded, sub)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "accelerometer", Accelerometer.String())
	assert.Equal(t, "fusion", Fusion.String())
	assert.Equal(t, "unknown", Type(999).String())
}
