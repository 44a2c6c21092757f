package pluginhost

import (
	"context"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/fusion"
	"github.com/lavataste/sensord/internal/obslog"
	pb "github.com/lavataste/sensord/internal/pluginhost/proto"
	"github.com/lavataste/sensord/internal/sensortype"
	"github.com/lavataste/sensord/internal/wire"
)

// remoteSynthesizer adapts an out-of-process FusionPlugin's
// Synthesize stream to the in-process fusion.Synthesizer contract
// (§4.K: "wraps the resulting client in an internal/fusion.Synthesizer
// adapter so the rest of the fusion handler never knows the
// synthesizer is out-of-process").
type remoteSynthesizer struct {
	name       string
	upstreams  []sensortype.Type
	outputType sensortype.Type

	mu     deadlock.Mutex
	stream pb.FusionPlugin_SynthesizeClient
}

// newRemoteSynthesizer dials meta from an already-connected client and
// opens its Synthesize stream.
func newRemoteSynthesizer(ctx context.Context, name string, client pb.FusionPluginClient, meta *pb.MetadataReply) (*remoteSynthesizer, error) {
	stream, err := client.Synthesize(ctx)
	if err != nil {
		return nil, err
	}
	upstreams := make([]sensortype.Type, len(meta.UpstreamTypes))
	for i, t := range meta.UpstreamTypes {
		upstreams[i] = sensortype.Type(t)
	}
	return &remoteSynthesizer{
		name:       name,
		upstreams:  upstreams,
		outputType: sensortype.Type(meta.OutputType),
		stream:     stream,
	}, nil
}

func (r *remoteSynthesizer) Upstreams() []sensortype.Type { return r.upstreams }

// Step sends in over the stream and blocks for its matching reply.
// The plugin protocol requires exactly one SynthesizedEvent per
// UpstreamEvent (possibly Emit=false), which keeps this call
// synchronous despite riding a bidirectional stream — see fusion.proto.
// A transport failure is treated as "nothing to emit" rather than
// propagated, matching how a physical handler tolerates a dropped
// sample rather than tearing down the whole pipeline.
func (r *remoteSynthesizer) Step(in fusion.Input, minEmitIntervalUS int64) (wire.SensorEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req := pb.UpstreamEventFromInput(in.UpstreamType, in.Event)
	if err := r.stream.Send(req); err != nil {
		obslog.Logger.Warnw("fusion plugin stream send failed", obslog.FieldPlugin, r.name, obslog.FieldErr, err)
		return wire.SensorEvent{}, false
	}
	reply, err := r.stream.Recv()
	if err != nil {
		obslog.Logger.Warnw("fusion plugin stream recv failed", obslog.FieldPlugin, r.name, obslog.FieldErr, err)
		return wire.SensorEvent{}, false
	}
	if !reply.Emit {
		return wire.SensorEvent{}, false
	}
	return reply.Event.ToWire(), true
}

var _ fusion.Synthesizer = (*remoteSynthesizer)(nil)
