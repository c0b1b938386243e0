// Package watchdog supervises a single child process, restarting it on
// unexpected exit with exponential backoff: os/exec instead of raw
// fork/exec, cenkalti/backoff/v5 for the restart delay, and gopsutil/v3
// to read the child's resource usage once it has exited, logged
// alongside its exit status.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Supervisor restarts Command whenever it exits, until its context is
// canceled or the child has exited MaxRestarts times. OnRestart is called
// after every such exit, including the last one that ends the loop.
type Supervisor struct {
	Command     []string
	MaxRestarts int // 0 means unlimited
	PidFile     string
	Log         *zap.SugaredLogger

	OnRestart func(restarts int, lastExit error)

	backoff *backoff.ExponentialBackOff
}

// New builds a Supervisor for command with sane backoff defaults.
func New(command []string, pidFile string, maxRestarts int, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // restart budget is MaxRestarts, not elapsed time

	return &Supervisor{
		Command:     command,
		MaxRestarts: maxRestarts,
		PidFile:     pidFile,
		Log:         log,
		backoff:     b,
	}
}

// Run starts the child and restarts it on exit until ctx is canceled or
// the restart budget is exhausted. It returns nil on a clean shutdown
// (ctx canceled) and the child's last error otherwise.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("watchdog: empty command")
	}

	unlock, err := s.lockPidFile()
	if err != nil {
		return err
	}
	defer unlock()

	restarts := 0
	var lastUsage *process.Process

	for {
		cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr

		s.Log.Infow("starting child", "command", s.Command, "attempt", restarts+1)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("watchdog: start child: %w", err)
		}
		if proc, perr := process.NewProcess(int32(cmd.Process.Pid)); perr == nil {
			lastUsage = proc
		}

		waitErr := cmd.Wait()

		if ctx.Err() != nil {
			s.Log.Infow("child stopped for shutdown", "err", waitErr)
			return nil
		}

		s.logUsageBeforeRestart(lastUsage, waitErr)

		restarts++
		if s.OnRestart != nil {
			s.OnRestart(restarts, waitErr)
		}
		if s.MaxRestarts > 0 && restarts >= s.MaxRestarts {
			return fmt.Errorf("watchdog: child exited %d times, giving up: %w", restarts, waitErr)
		}

		delay := s.backoff.NextBackOff()
		if delay == backoff.Stop {
			delay = s.backoff.MaxInterval
		}
		s.Log.Warnw("child exited, restarting", "err", waitErr, "restarts", restarts, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// logUsageBeforeRestart reads the child's RSS and CPU percent after
// cmd.Wait has returned and logs them alongside its exit status. No
// sample is taken while the child runs; by this point the child has been
// reaped, so a read that fails is logged as 0.
func (s *Supervisor) logUsageBeforeRestart(proc *process.Process, exitErr error) {
	if proc == nil {
		return
	}
	rss := uint64(0)
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		rss = mem.RSS
	}
	cpuPct, _ := proc.CPUPercent()
	s.Log.Warnw("child died", "exit_err", exitErr, "last_rss_bytes", rss, "last_cpu_percent", cpuPct)
}
