package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	FusionPluginMetadataFullMethodName   = "/sensord.pluginhost.FusionPlugin/Metadata"
	FusionPluginSynthesizeFullMethodName = "/sensord.pluginhost.FusionPlugin/Synthesize"
)

// FusionPluginClient is the host's view of an out-of-process fusion
// plugin (§4.K).
type FusionPluginClient interface {
	Metadata(ctx context.Context, in *MetadataRequest, opts ...grpc.CallOption) (*MetadataReply, error)
	Synthesize(ctx context.Context, opts ...grpc.CallOption) (FusionPlugin_SynthesizeClient, error)
}

type fusionPluginClient struct {
	cc grpc.ClientConnInterface
}

func NewFusionPluginClient(cc grpc.ClientConnInterface) FusionPluginClient {
	return &fusionPluginClient{cc}
}

func (c *fusionPluginClient) Metadata(ctx context.Context, in *MetadataRequest, opts ...grpc.CallOption) (*MetadataReply, error) {
	out := new(MetadataReply)
	if err := c.cc.Invoke(ctx, FusionPluginMetadataFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fusionPluginClient) Synthesize(ctx context.Context, opts ...grpc.CallOption) (FusionPlugin_SynthesizeClient, error) {
	stream, err := c.cc.NewStream(ctx, &fusionPluginServiceDesc.Streams[0], FusionPluginSynthesizeFullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &fusionPluginSynthesizeClient{stream}, nil
}

// FusionPlugin_SynthesizeClient is the host side of the bidirectional
// Synthesize stream: one Send per upstream sample, one Recv per reply
// (§4.K, "the adapter's synchronous contract").
type FusionPlugin_SynthesizeClient interface {
	Send(*UpstreamEvent) error
	Recv() (*SynthesizedEvent, error)
	grpc.ClientStream
}

type fusionPluginSynthesizeClient struct {
	grpc.ClientStream
}

func (x *fusionPluginSynthesizeClient) Send(m *UpstreamEvent) error {
	return x.ClientStream.SendMsg(m)
}

func (x *fusionPluginSynthesizeClient) Recv() (*SynthesizedEvent, error) {
	m := new(SynthesizedEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// FusionPluginServer is what a plugin process implements.
type FusionPluginServer interface {
	Metadata(context.Context, *MetadataRequest) (*MetadataReply, error)
	Synthesize(FusionPlugin_SynthesizeServer) error
}

// UnimplementedFusionPluginServer can be embedded to satisfy
// FusionPluginServer without implementing every method up front.
type UnimplementedFusionPluginServer struct{}

func (UnimplementedFusionPluginServer) Metadata(context.Context, *MetadataRequest) (*MetadataReply, error) {
	return nil, status.Error(codes.Unimplemented, "method Metadata not implemented")
}

func (UnimplementedFusionPluginServer) Synthesize(FusionPlugin_SynthesizeServer) error {
	return status.Error(codes.Unimplemented, "method Synthesize not implemented")
}

func RegisterFusionPluginServer(s grpc.ServiceRegistrar, srv FusionPluginServer) {
	s.RegisterService(&fusionPluginServiceDesc, srv)
}

func fusionPluginMetadataHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MetadataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FusionPluginServer).Metadata(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FusionPluginMetadataFullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FusionPluginServer).Metadata(ctx, req.(*MetadataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fusionPluginSynthesizeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(FusionPluginServer).Synthesize(&fusionPluginSynthesizeServer{stream})
}

// FusionPlugin_SynthesizeServer is the plugin side of the Synthesize
// stream.
type FusionPlugin_SynthesizeServer interface {
	Send(*SynthesizedEvent) error
	Recv() (*UpstreamEvent, error)
	grpc.ServerStream
}

type fusionPluginSynthesizeServer struct {
	grpc.ServerStream
}

func (x *fusionPluginSynthesizeServer) Send(m *SynthesizedEvent) error {
	return x.ServerStream.SendMsg(m)
}

func (x *fusionPluginSynthesizeServer) Recv() (*UpstreamEvent, error) {
	m := new(UpstreamEvent)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

var fusionPluginServiceDesc = grpc.ServiceDesc{
	ServiceName: "sensord.pluginhost.FusionPlugin",
	HandlerType: (*FusionPluginServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Metadata", Handler: fusionPluginMetadataHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Synthesize",
			Handler:       fusionPluginSynthesizeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/pluginhost/proto/fusion.proto",
}
