package latchan

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFreshChannelReportsStaleFrames(t *testing.T) {
	h, err := CreateAnon(4, 32)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 32)
	n, err := h.Receive(buf, ReceiveOptions{})
	require.ErrorIs(t, err, ErrStaleFrames)
	require.Zero(t, n)
}

func TestPublishThenReceiveRoundTrip(t *testing.T) {
	h, err := CreateAnon(4, 32)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Publish([]byte("hello")))

	buf := make([]byte, 32)
	n, err := h.Receive(buf, ReceiveOptions{})
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
	require.Equal(t, uint64(1), h.seqNum)
}

func TestWraparoundEvictionThenStale(t *testing.T) {
	h, err := CreateAnon(2, 4)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Publish([]byte("AAAA")))
	require.NoError(t, h.Publish([]byte("BBBB")))
	require.NoError(t, h.Publish([]byte("CCCC")))

	buf := make([]byte, 4)
	n, err := h.Receive(buf, ReceiveOptions{Flags: Last})
	require.NoError(t, err)
	require.Equal(t, "CCCC", string(buf[:n]))

	n, err = h.Receive(buf, ReceiveOptions{})
	require.ErrorIs(t, err, ErrStaleFrames)
	require.Zero(t, n)
}

func TestMissedFrameDeliversOldestLive(t *testing.T) {
	h, err := CreateAnon(2, 4)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Publish([]byte("1111")))

	buf := make([]byte, 4)
	_, err = h.Receive(buf, ReceiveOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.seqNum)

	require.NoError(t, h.Publish([]byte("2222")))
	require.NoError(t, h.Publish([]byte("3333")))
	require.NoError(t, h.Publish([]byte("4444")))

	n, err := h.Receive(buf, ReceiveOptions{})
	require.ErrorIs(t, err, ErrMissedFrame)
	require.Equal(t, "3333", string(buf[:n]))
	require.Equal(t, uint64(3), h.seqNum)

	n, err = h.Receive(buf, ReceiveOptions{})
	require.NoError(t, err)
	require.Equal(t, "4444", string(buf[:n]))
}

func TestOverflowThenSuccessfulRetry(t *testing.T) {
	h, err := CreateAnon(4, 32)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Publish([]byte("0123456789")))

	small := make([]byte, 4)
	n, err := h.Receive(small, ReceiveOptions{})
	var of *OverflowError
	require.ErrorAs(t, err, &of)
	require.Equal(t, uint64(10), of.Size)
	require.Zero(t, n)
	require.Equal(t, uint64(0), h.seqNum, "channel cursor unchanged on overflow")

	big := make([]byte, 10)
	n, err = h.Receive(big, ReceiveOptions{})
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(big[:n]))
}

// TestWaitAndAsyncUnsafeCancel covers a second execution context holding
// the blocked handle's reference (in production, a signal handler; here,
// a second goroutine) calling Cancel while a receive is parked in Wait.
func TestWaitAndAsyncUnsafeCancel(t *testing.T) {
	a, err := CreateAnon(4, 32)
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	var n int
	go func() {
		var rerr error
		n, rerr = a.Receive(make([]byte, 32), ReceiveOptions{Flags: Wait})
		done <- rerr
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Cancel(CancelOptions{AsyncUnsafe: true}))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return after cancel")
	}
	require.Zero(t, n)
}

func TestDirtyFlagPoisonsSubsequentOperations(t *testing.T) {
	h, err := CreateAnon(4, 32)
	require.NoError(t, err)
	defer h.Close()

	// Simulate what a writer that died mid-mutation leaves behind: the
	// dirty flag still set. The lock word itself is left free here.
	h.mu.SetDirty()

	err = h.Publish([]byte("x"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))

	buf := make([]byte, 32)
	_, err = h.Receive(buf, ReceiveOptions{})
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestFlushMakesNextNonCopyReceiveStale(t *testing.T) {
	h, err := CreateAnon(4, 32)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Publish([]byte("a")))
	require.NoError(t, h.Flush())

	buf := make([]byte, 32)
	_, err = h.Receive(buf, ReceiveOptions{})
	require.ErrorIs(t, err, ErrStaleFrames)

	n, err := h.Receive(buf, ReceiveOptions{Flags: Copy})
	require.NoError(t, err)
	require.Equal(t, "a", string(buf[:n]))
}

func TestConcurrentPublishAndWaitingReceive(t *testing.T) {
	h, err := CreateAnon(4, 32)
	require.NoError(t, err)
	defer h.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var got string
	go func() {
		defer wg.Done()
		buf := make([]byte, 32)
		n, rerr := h.Receive(buf, ReceiveOptions{Flags: Wait})
		require.NoError(t, rerr)
		got = string(buf[:n])
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.Publish([]byte("woke up")))
	wg.Wait()
	require.Equal(t, "woke up", got)
}
