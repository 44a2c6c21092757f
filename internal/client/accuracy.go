package client

// Accuracy levels a sample can carry, matching the values the server
// already uses on wire.SensorEvent.Accuracy (§3, §4.H).
const (
	AccuracyBad    int32 = 0
	AccuracyLow    int32 = 1
	AccuracyMedium int32 = 2
	AccuracyHigh   int32 = 3
)
