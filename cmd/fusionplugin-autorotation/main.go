// fusionplugin-autorotation is a reference out-of-process fusion
// plugin (§4.K): it wraps internal/fusion's auto-rotation synthesizer
// and serves it over the FusionPlugin gRPC service on a unix socket,
// the same shape any third-party fusion plugin binary would take.
//
// Usage:
//
//	fusionplugin-autorotation -socket /tmp/sensord-plugin/autorotation.sock
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/lavataste/sensord/internal/fusion"
	pb "github.com/lavataste/sensord/internal/pluginhost/proto"
	"github.com/lavataste/sensord/internal/sensortype"
)

const pluginVersion = "1.0.0"

var socketPath = flag.String("socket", "", "unix socket path to serve the FusionPlugin service on")

func main() {
	flag.Parse()
	if *socketPath == "" {
		fmt.Fprintln(os.Stderr, "fusionplugin-autorotation: -socket is required")
		os.Exit(1)
	}

	lis, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fusionplugin-autorotation: listen: %v\n", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterFusionPluginServer(grpcServer, &autoRotationServer{synth: fusion.NewAutoRotationSynth()})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		grpcServer.GracefulStop()
	}()

	_ = ctx
	if err := grpcServer.Serve(lis); err != nil {
		fmt.Fprintf(os.Stderr, "fusionplugin-autorotation: serve: %v\n", err)
		os.Exit(1)
	}
}

// autoRotationServer adapts fusion.AutoRotationSynth, an in-process
// Synthesizer, to the FusionPluginServer RPC surface — the mirror
// image of pluginhost.remoteSynthesizer, which adapts the client side
// of the same contract back to fusion.Synthesizer.
type autoRotationServer struct {
	pb.UnimplementedFusionPluginServer
	synth *fusion.AutoRotationSynth
}

// defaultMinEmitIntervalUS stands in for the debounce interval a
// fusion handler would normally derive from its own effective
// arbitrated interval; this reference plugin has no arbitration
// surface of its own; see the RegisterProviderSlot/startPlugin split
// in internal/pluginhost for the mechanism.
const defaultMinEmitIntervalUS = 200_000

func (s *autoRotationServer) Metadata(ctx context.Context, _ *pb.MetadataRequest) (*pb.MetadataReply, error) {
	return &pb.MetadataReply{
		Name:          "autorotation",
		Version:       pluginVersion,
		UpstreamTypes: []uint32{uint32(sensortype.Accelerometer)},
		OutputType:    uint32(sensortype.AutoRotation),
	}, nil
}

func (s *autoRotationServer) Synthesize(stream pb.FusionPlugin_SynthesizeServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}
		out, emit := s.synth.Step(fusion.Input{
			UpstreamType: sensortype.Type(req.UpstreamType),
			Event:        req.Event.ToWire(),
		}, defaultMinEmitIntervalUS)

		reply := &pb.SynthesizedEvent{Emit: emit}
		if emit {
			reply.Event = pb.EventPayloadFromWire(out)
		}
		if err := stream.Send(reply); err != nil {
			return err
		}
	}
}
