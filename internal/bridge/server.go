package bridge

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/latchan/latchan"
	"github.com/latchan/latchan/internal/metrics"
)

// Server accepts gRPC connections and streams a local channel's frames
// to each one: the push direction of the relay (the source channel is
// local, the sink is remote). The bridge is a pure byte relay: it
// never interprets frame contents, only forwards them.
type Server struct {
	ChannelName string
	ListenAddr  string
	Log         *zap.SugaredLogger
	Metrics     *metrics.Metrics
}

// Run listens on ListenAddr and serves the relay service until ctx is
// canceled. Each accepted stream gets its own goroutine under the
// hood courtesy of grpc.Server; there's no hand-rolled accept loop to
// maintain.
func (s *Server) Run(ctx context.Context) error {
	if s.Log == nil {
		s.Log = zap.NewNop().Sugar()
	}
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.ListenAddr, err)
	}

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(MaxFrameWire),
		grpc.MaxSendMsgSize(MaxFrameWire),
	)
	srv.RegisterService(&relayServiceDesc, s)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("bridge: serve: %w", err)
	}
	return nil
}

// Stream implements relayServer: it is invoked once per client
// connection and runs until the stream breaks or ctx is canceled.
func (s *Server) Stream(_ *wrapperspb.BytesValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := stream.Context()

	opts := []latchan.OpenOption{latchan.WithOpenLog(s.Log)}
	if s.Metrics != nil {
		opts = append(opts, latchan.WithMetrics(s.Metrics))
	}
	h, err := latchan.Open(s.ChannelName, opts...)
	if err != nil {
		return fmt.Errorf("bridge: open channel %q: %w", s.ChannelName, err)
	}
	defer h.Close()

	go func() {
		<-ctx.Done()
		h.Cancel(latchan.CancelOptions{AsyncUnsafe: true})
	}()

	buf := make([]byte, 1<<20)
	for {
		n, err := h.Receive(buf, latchan.ReceiveOptions{Flags: latchan.Wait})
		if err != nil && err != latchan.ErrMissedFrame {
			return fmt.Errorf("bridge: receive: %w", err)
		}
		if err := stream.Send(wrapperspb.Bytes(buf[:n])); err != nil {
			return err
		}
		if s.Metrics != nil {
			s.Metrics.BridgeBytes.WithLabelValues("tx").Add(float64(n))
		}
	}
}
