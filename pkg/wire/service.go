package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name, used by clients
// dialing the control plane directly with grpc.Invoke/NewStream rather
// than through generated stubs.
const ServiceName = "controlplane.v1.RelayerService"

// RelayerServer is implemented by the control plane's session package and
// registered against a *grpc.Server via RegisterRelayerServer.
type RelayerServer interface {
	// RegisterCluster handles the unary registration call.
	RegisterCluster(ctx context.Context, req *RegisterClusterRequest) (*RegisterClusterResponse, error)

	// StreamWork handles the bidirectional StreamWork call for an already
	// registered cluster, authenticated via cluster-id/x-cluster-secret
	// metadata on stream attach.
	StreamWork(stream ServerStreamingServer) error
}

// ServerStreamingServer is the bidi-stream handle passed to StreamWork,
// mirroring the shape of a protoc-generated Xxx_StreamWorkServer.
type ServerStreamingServer interface {
	Send(*ServerFrame) error
	Recv() (*ClientFrame, error)
	Context() context.Context
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(frame *ServerFrame) error {
	return s.ServerStream.SendMsg(frame)
}

func (s *serverStream) Recv() (*ClientFrame, error) {
	frame := new(ClientFrame)
	if err := s.ServerStream.RecvMsg(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func registerClusterHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(RegisterClusterRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(RelayerServer).RegisterCluster(ctx, req)
}

func streamWorkHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayerServer).StreamWork(&serverStream{ServerStream: stream})
}

// ServiceDesc is the hand-written equivalent of a protoc-generated
// _ServiceDesc: one unary method (RegisterCluster) and one bidirectional
// streaming method (StreamWork).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterCluster",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				return registerClusterHandler(srv, ctx, dec, interceptor)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamWork",
			Handler:       streamWorkHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "controlplane/relayer.proto",
}

// RegisterRelayerServer registers srv as the implementation of ServiceDesc
// on s. It does not install Codec; s must be built with
// grpc.ForceServerCodec(Codec{}) for frames to decode as JSON.
func RegisterRelayerServer(s *grpc.Server, srv RelayerServer) {
	s.RegisterService(&ServiceDesc, srv)
}
