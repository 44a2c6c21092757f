// Package proto is the hand-maintained counterpart of fusion.proto: it
// defines the FusionPlugin gRPC service and its message types without
// protoc-generated bindings, since generating them would require
// running the Go toolchain's code generator. Messages are plain
// structs exchanged through the package's own JSON grpc.Codec (see
// codec.go) instead of google.golang.org/protobuf's wire format.
package proto

import (
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

type MetadataRequest struct{}

type MetadataReply struct {
	Name          string
	Version       string
	UpstreamTypes []uint32
	OutputType    uint32
}

// EventPayload is the wire-agnostic event shape shared by both stream
// directions, converted to/from wire.SensorEvent at the package
// boundary the same way protocol/convert.go converts domain types.
type EventPayload struct {
	EventType   uint32
	TimestampUS int64
	Accuracy    int32
	Values      []float32
}

func EventPayloadFromWire(ev wire.SensorEvent) EventPayload {
	return EventPayload{
		EventType:   ev.EventType,
		TimestampUS: ev.TimestampUS,
		Accuracy:    ev.Accuracy,
		Values:      ev.Values,
	}
}

func (p EventPayload) ToWire() wire.SensorEvent {
	return wire.SensorEvent{
		EventType:   p.EventType,
		TimestampUS: p.TimestampUS,
		Accuracy:    p.Accuracy,
		Values:      p.Values,
	}
}

type UpstreamEvent struct {
	UpstreamType uint32
	Event        EventPayload
}

func UpstreamEventFromInput(upstreamType sensortype.Type, ev wire.SensorEvent) *UpstreamEvent {
	return &UpstreamEvent{UpstreamType: uint32(upstreamType), Event: EventPayloadFromWire(ev)}
}

type SynthesizedEvent struct {
	Event EventPayload
	Emit  bool
}
