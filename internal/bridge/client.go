package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/latchan/latchan"
	"github.com/latchan/latchan/internal/metrics"
)

// Client dials a remote bridge Server and publishes every frame it
// receives into a local channel: the pull direction of the relay, with
// a cenkalti/backoff/v5 reconnect loop in place of a fixed retry
// interval.
type Client struct {
	ChannelName string
	DialAddr    string
	Log         *zap.SugaredLogger
	Metrics     *metrics.Metrics
}

// Run connects, relays frames into the local channel, and reconnects
// with backoff on any connection error, until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	if c.Log == nil {
		c.Log = zap.NewNop().Sugar()
	}

	opts := []latchan.OpenOption{latchan.WithOpenLog(c.Log)}
	if c.Metrics != nil {
		opts = append(opts, latchan.WithMetrics(c.Metrics))
	}
	h, err := latchan.Open(c.ChannelName, opts...)
	if err != nil {
		return fmt.Errorf("bridge client: open channel %q: %w", c.ChannelName, err)
	}
	defer h.Close()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	for ctx.Err() == nil {
		if err := c.runOnce(ctx, h); err != nil {
			c.Log.Warnw("bridge client connection ended, retrying", "err", err)
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = b.MaxInterval
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (c *Client) runOnce(ctx context.Context, h *latchan.Handle) error {
	conn, err := grpc.NewClient(
		c.DialAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(MaxFrameWire)),
	)
	if err != nil {
		return fmt.Errorf("bridge client: dial %s: %w", c.DialAddr, err)
	}
	defer conn.Close()

	stream, err := newRelayClient(conn).Stream(ctx)
	if err != nil {
		return fmt.Errorf("bridge client: open stream: %w", err)
	}

	for {
		frame, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("bridge client: recv frame: %w", err)
		}
		payload := frame.GetValue()
		if err := h.Publish(payload); err != nil {
			return fmt.Errorf("bridge client: publish: %w", err)
		}
		if c.Metrics != nil {
			c.Metrics.BridgeBytes.WithLabelValues("rx").Add(float64(len(payload)))
		}
	}
}
