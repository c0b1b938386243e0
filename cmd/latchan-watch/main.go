// Command latchan-watch supervises a child process, restarting it on
// exit with exponential backoff, built entirely on top of os/exec
// rather than raw fork/exec.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/latchan/latchan/internal/config"
	"github.com/latchan/latchan/internal/logging"
	"github.com/latchan/latchan/internal/metrics"
	"github.com/latchan/latchan/internal/watchdog"
	"github.com/latchan/latchan/internal/xcmd"
)

var cmd Cmd

// Cmd holds the command-line arguments.
type Cmd struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "latchan-watch -- child [args...]",
	Short: "Watchdog that restarts a child process on exit",
	Args:  cobra.ArbitraryArgs,
	Run: func(_ *cobra.Command, args []string) {
		if err := run(cmd, args); err != nil {
			if errors.Is(err, xcmd.Interrupted{}) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd, args []string) error {
	cfg := config.DefaultConfig()
	if cmd.ConfigPath != "" {
		var err error
		cfg, err = config.LoadConfig(cmd.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	command := cfg.Watch.Command
	if len(args) > 0 {
		command = args
	}
	if len(command) == 0 {
		return fmt.Errorf("no child command given: pass it after `--` or set watch.command in config")
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.ListenAddr != "" {
		g.Go(func() error {
			return metrics.ListenAndServe(cfg.Metrics.ListenAddr, reg)
		})
	}

	sup := watchdog.New(command, cfg.Watch.PidFile, cfg.Watch.MaxRetries, log)
	sup.OnRestart = func(restarts int, lastErr error) {
		m.WatchdogResets.Inc()
		log.Warnw("restarting supervised process", "restarts", restarts, "last_err", lastErr)
	}
	g.Go(func() error { return sup.Run(ctx) })

	g.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		cancel()
		return err
	})

	if err := g.Wait(); err != nil && !errors.As(err, new(xcmd.Interrupted)) {
		return err
	}
	return nil
}
