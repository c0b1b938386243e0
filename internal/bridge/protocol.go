// Package bridge relays frames between a local latchan channel and a
// remote peer over gRPC: one process streams its channel's frames out
// as the other receives them and republishes into its own local
// channel. A latchan frame is an opaque payload the channel itself
// never interprets, so the wire message is wrapperspb.BytesValue — the
// generic byte wrapper google.golang.org/protobuf ships ready-made —
// rather than a bespoke message requiring its own .proto and codegen.
package bridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MaxFrameWire bounds a single relayed frame, enforced via the server's
// and client's MaxRecvMsgSize so a corrupt or malicious peer can't
// force an unbounded allocation with an oversized message.
const MaxFrameWire = 64 << 20

const relayServiceName = "latchan.bridge.v1.Relay"

// relayServer is the interface Server implements. It, and
// relayServiceDesc below, are the shape protoc-gen-go-grpc would
// generate from a one-method relay.proto; writing them by hand costs
// nothing extra here because the wire type itself (wrapperspb.BytesValue)
// is already generated code, so there is no .proto of our own to
// compile.
type relayServer interface {
	Stream(*wrapperspb.BytesValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: relayServiceName,
	HandlerType: (*relayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       relayStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "bridge.proto",
}

func relayStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(relayServer).Stream(m, &grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

func newRelayClient(cc grpc.ClientConnInterface) *relayClient {
	return &relayClient{cc}
}

type relayClient struct {
	cc grpc.ClientConnInterface
}

// Stream opens the server-streaming RPC, sends the single handshake
// request (an empty BytesValue — the channel name is operator
// configuration on each end, not something negotiated on the wire),
// and returns the stream of relayed frames.
func (c *relayClient) Stream(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &relayServiceDesc.Streams[0], "/"+relayServiceName+"/Stream", opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(wrapperspb.Bytes(nil)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
