package watchdog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSupervisorRestartsOnExit(t *testing.T) {
	s := New([]string{"sh", "-c", "exit 1"}, "", 0, nil)
	s.backoff.InitialInterval = time.Millisecond
	s.backoff.MaxInterval = 5 * time.Millisecond

	var restarts int
	s.OnRestart = func(n int, lastExit error) {
		restarts = n
		require.Error(t, lastExit)
	}
	s.MaxRestarts = 3

	ctx := context.Background()
	err := s.Run(ctx)
	require.Error(t, err)
	require.Equal(t, 3, restarts)
}

func TestSupervisorStopsCleanlyOnContextCancel(t *testing.T) {
	s := New([]string{"sh", "-c", "sleep 5"}, "", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after context cancellation")
	}
}

func TestSupervisorRejectsEmptyCommand(t *testing.T) {
	s := New(nil, "", 0, nil)
	err := s.Run(context.Background())
	require.Error(t, err)
}

func TestLockPidFileRefusesSecondSupervisor(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "latchan-watch.pid")

	s1 := New([]string{"sh", "-c", "sleep 5"}, pidFile, 0, nil)
	unlock, err := s1.lockPidFile()
	require.NoError(t, err)
	defer unlock()

	s2 := New([]string{"sh", "-c", "sleep 5"}, pidFile, 0, nil)
	_, err = s2.lockPidFile()
	require.Error(t, err)
}

func TestLockPidFileEmptyPathIsNoop(t *testing.T) {
	s := New([]string{"true"}, "", 0, nil)
	unlock, err := s.lockPidFile()
	require.NoError(t, err)
	unlock()
}
