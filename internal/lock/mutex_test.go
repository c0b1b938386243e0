package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMutex() *Mutex {
	var word, holder, dirty atomic.Uint32
	return NewMutex(&word, &holder, &dirty)
}

func TestMutexLockUnlockRoundTrip(t *testing.T) {
	m := newTestMutex()
	require.NoError(t, m.Lock())
	m.Unlock()
	require.NoError(t, m.Lock())
	m.Unlock()
}

func TestMutexExcludesConcurrentHolders(t *testing.T) {
	m := newTestMutex()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, m.Lock())
			defer m.Unlock()
			counter++
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestMutexLockStealsFromDeadOwner(t *testing.T) {
	m := newTestMutex()
	*m.word = mutexLocked
	// A PID that (almost certainly) names no running process.
	atomic.StoreUint32(m.holder, 1<<30)

	err := m.Lock()
	require.ErrorIs(t, err, ErrOwnerDied)
	require.Equal(t, mutexLocked, atomic.LoadUint32(m.word))
	m.Unlock()
}

func TestMutexDirtyFlag(t *testing.T) {
	m := newTestMutex()
	require.False(t, m.Dirty())
	m.SetDirty()
	require.True(t, m.Dirty())
	m.ClearDirty()
	require.False(t, m.Dirty())
}
