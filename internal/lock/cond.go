package lock

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Cond is the channel's condition variable. It is bound to LastSeq
// itself rather than a separate generation counter: every publish
// increments LastSeq, and broadcasting on that same address after the
// increment is exactly the wakeup a waiting receive needs. Cancellation
// reuses the same address without touching the value, which is safe
// because FUTEX_WAKE doesn't require the word to change, only that
// waiters held it paired with the expected value when they enqueued.
type Cond struct {
	word *uint32
}

// NewCond builds a Cond over the low 32 bits of the channel's LastSeq
// counter. Using only the low word is sufficient: it still changes (or
// is woken without changing) on every publish/cancel, and a 64-bit futex
// word isn't available in the portable futex(2) ABI.
func NewCond(lastSeq *atomic.Uint64) *Cond {
	return &Cond{word: (*uint32)(unsafe.Pointer(lastSeq))}
}

// Wait blocks until Broadcast is called, the optional deadline elapses,
// or a spurious wakeup occurs (the caller's own loop re-checks its real
// condition and calls Wait again if needed). The mutex must be held on
// entry and is released while blocked and reacquired before returning,
// exactly like pthread_cond_wait / pthread_cond_timedwait.
func (c *Cond) Wait(m *Mutex, deadline time.Time) error {
	observed := atomic.LoadUint32(c.word)
	m.Unlock()
	err := futexWait(c.word, observed, deadlineToTimespec(deadline))
	lockErr := m.Lock()
	if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
		if errors.Is(err, unix.ETIMEDOUT) {
			return combineTimeout(lockErr)
		}
		return fmt.Errorf("lock: cond wait: %w", err)
	}
	return lockErr
}

func combineTimeout(lockErr error) error {
	if lockErr != nil {
		return fmt.Errorf("%w (after timeout)", lockErr)
	}
	return ErrTimeout
}

// ErrTimeout is returned by Wait when the deadline elapses before a
// broadcast arrives.
var ErrTimeout = errors.New("lock: wait timed out")

// Broadcast wakes every waiter blocked on the condition variable. Always
// broadcast, never signal: each reader tracks its own seq_num relative
// to last_seq, so only the reader itself can tell whether a given wake
// satisfies it.
func (c *Cond) Broadcast() {
	futexWake(c.word, 1<<30)
}
