package latchan

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. It is re-executed as a separate
// OS process by tests that need genuine process isolation — a distinct
// address space is the only way to catch a FUTEX_PRIVATE_FLAG-class bug,
// since two goroutines in one process always share an mm regardless of
// which futex flag is used. See helperCommand.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("LATCHAN_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "helper: missing subcommand")
		os.Exit(2)
	}
	args = args[1:]

	switch args[0] {
	case "publish":
		h, err := Open(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "helper publish: open:", err)
			os.Exit(2)
		}
		defer h.Close()
		if err := h.Publish([]byte(args[2])); err != nil {
			fmt.Fprintln(os.Stderr, "helper publish:", err)
			os.Exit(2)
		}
	default:
		fmt.Fprintln(os.Stderr, "helper: unknown subcommand", args[0])
		os.Exit(2)
	}
}

// helperCommand builds a command that re-executes this same test binary
// as TestHelperProcess, the standard library's pattern (os/exec's own
// tests) for giving a test a genuine child process without a separate
// compiled helper.
func helperCommand(t *testing.T, args ...string) *exec.Cmd {
	t.Helper()
	cs := append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "LATCHAN_WANT_HELPER_PROCESS=1")
	cmd.Stderr = os.Stderr
	return cmd
}

// TestCrossProcessPublishWakesBlockedReceive covers the one thing no
// same-process goroutine test can: a Receive(Wait) blocked in this
// process must be woken by a Publish issued from a different OS process
// mapping the same named channel. A private futex (keyed off this
// process's mm) would never see a wake from another process's mm even
// though both map the identical shared header word; this test hangs and
// times out if that regresses.
func TestCrossProcessPublishWakesBlockedReceive(t *testing.T) {
	name := "latchan-xproc-test"
	require.NoError(t, Create(name, 4, 64, WithTruncate()))
	defer Unlink(name)

	h, err := Open(name)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 64)
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, rerr := h.Receive(buf, ReceiveOptions{Flags: Wait})
		done <- result{n, rerr}
	}()

	// Give the goroutine time to actually reach FUTEX_WAIT before the
	// child process publishes.
	time.Sleep(100 * time.Millisecond)

	cmd := helperCommand(t, "publish", name, "cross-process hello")
	require.NoError(t, cmd.Run())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, "cross-process hello", string(buf[:r.n]))
	case <-time.After(5 * time.Second):
		t.Fatal("blocked Receive in this process was never woken by a Publish from a separate OS process")
	}
}
