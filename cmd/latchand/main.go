// Command latchand bridges a local latchan channel across a TCP
// connection, acting as either the listening (push) or dialing (pull)
// side depending on configuration. It is orchestration over the channel
// core's relay client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/latchan/latchan/internal/bridge"
	"github.com/latchan/latchan/internal/config"
	"github.com/latchan/latchan/internal/logging"
	"github.com/latchan/latchan/internal/metrics"
	"github.com/latchan/latchan/internal/xcmd"
)

var cmd Cmd

// Cmd holds the command-line arguments.
type Cmd struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "latchand",
	Short: "Relay a latchan channel's frames across a TCP connection",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			if errors.Is(err, xcmd.Interrupted{}) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := config.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.ListenAddr != "" {
		g.Go(func() error {
			return metrics.ListenAndServe(cfg.Metrics.ListenAddr, reg)
		})
	}

	switch {
	case cfg.Bridge.ListenAddr != "":
		srv := &bridge.Server{
			ChannelName: cfg.Channel.Name,
			ListenAddr:  cfg.Bridge.ListenAddr,
			Log:         log,
			Metrics:     m,
		}
		g.Go(func() error { return srv.Run(ctx) })
	case cfg.Bridge.DialAddr != "":
		cli := &bridge.Client{
			ChannelName: cfg.Channel.Name,
			DialAddr:    cfg.Bridge.DialAddr,
			Log:         log,
			Metrics:     m,
		}
		g.Go(func() error { return cli.Run(ctx) })
	default:
		return fmt.Errorf("config must set bridge.listen_addr or bridge.dial_addr")
	}

	g.Go(func() error {
		return xcmd.WaitInterrupted(ctx)
	})

	if err := g.Wait(); err != nil && !errors.As(err, new(xcmd.Interrupted)) {
		return err
	}
	return nil
}
