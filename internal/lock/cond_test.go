package lock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCondBroadcastWakesWaiter(t *testing.T) {
	m := newTestMutex()
	var lastSeq atomic.Uint64
	c := NewCond(&lastSeq)

	require.NoError(t, m.Lock())
	done := make(chan error, 1)
	go func() {
		done <- c.Wait(m, time.Time{})
	}()

	// Give the waiter a chance to enqueue before we broadcast.
	time.Sleep(20 * time.Millisecond)
	lastSeq.Add(1)
	c.Broadcast()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by broadcast")
	}
	m.Unlock()
}

func TestCondWaitTimesOut(t *testing.T) {
	m := newTestMutex()
	var lastSeq atomic.Uint64
	c := NewCond(&lastSeq)

	require.NoError(t, m.Lock())
	err := c.Wait(m, time.Now().Add(30*time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
	m.Unlock()
}
