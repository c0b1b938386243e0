package lock

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex mutex states, following the classic three-state futex mutex
// (Drepper, "Futexes Are Tricky"): unlocked, locked with no waiters,
// locked with waiters. The third state is what lets Unlock skip the wake
// syscall in the uncontended case.
const (
	mutexUnlocked uint32 = 0
	mutexLocked   uint32 = 1
	mutexWaiters  uint32 = 2
)

// ErrOwnerDied is returned by Lock when the previous holder's process no
// longer exists. The caller must inspect the dirty flag before trusting
// the region: this is the Go-native substitute for
// PTHREAD_MUTEX_ROBUST's EOWNERDEAD.
var ErrOwnerDied = errors.New("lock: owner died")

// Mutex is a process-shared, robust mutex living entirely inside a mapped
// region: the word it operates on (word) is the channel header's
// LockWord, so any process mapping the same region can lock it. Liveness
// of the previous holder is checked with a signal-0 kill rather than a
// kernel robust-futex list, since registering with set_robust_list isn't
// reachable from pure Go.
type Mutex struct {
	word   *uint32
	holder *uint32 // holder PID, atomic.Uint32-backed
	dirty  *uint32 // dirty flag, atomic.Uint32-backed (0 or 1)
}

// wordPtr returns the raw *uint32 backing an atomic.Uint32. atomic.Uint32
// is defined as struct{ noCopy; v uint32 } with the value at offset 0, so
// a pointer to the atomic value and a pointer to its single uint32 field
// coincide; this relies on that specific, stable layout and nothing else.
func wordPtr(a *atomic.Uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(a))
}

// NewMutex builds a Mutex over the three header fields backing it.
func NewMutex(word, holder, dirty *atomic.Uint32) *Mutex {
	return &Mutex{word: wordPtr(word), holder: wordPtr(holder), dirty: wordPtr(dirty)}
}

// ownerAlive reports whether the PID recorded in holder is still a live
// process. A PID of 0 means no one currently holds (or ever held) the
// mutex.
func (m *Mutex) ownerAlive() bool {
	pid := atomic.LoadUint32(m.holder)
	if pid == 0 {
		return true
	}
	err := unix.Kill(int(pid), 0)
	return err == nil || !errors.Is(err, unix.ESRCH)
}

// Lock acquires the mutex, blocking until it is available. If the
// previous holder died while holding it, Lock returns ErrOwnerDied
// alongside a successful acquisition (mirroring pthread's EOWNERDEAD);
// the caller must check the dirty flag and is responsible for deciding
// whether the region is still usable.
func (m *Mutex) Lock() error {
	// Once this caller has waited, it acquires in the waiters state so the
	// next Unlock still wakes anyone else left asleep on the word.
	acquire := mutexLocked
	for {
		if atomic.CompareAndSwapUint32(m.word, mutexUnlocked, acquire) {
			break
		}
		if !m.ownerAlive() {
			// Steal the lock from a dead holder. Another live process may
			// race us here; CAS again to confirm we actually won it.
			if atomic.CompareAndSwapUint32(m.word, atomic.LoadUint32(m.word), mutexLocked) {
				atomic.StoreUint32(m.holder, uint32(os.Getpid()))
				return ErrOwnerDied
			}
			continue
		}
		// Mark waiters present, then block until woken or the word changes.
		old := atomic.LoadUint32(m.word)
		if old == mutexUnlocked {
			continue
		}
		atomic.CompareAndSwapUint32(m.word, mutexLocked, mutexWaiters)
		acquire = mutexWaiters
		if err := futexWait(m.word, mutexWaiters, nil); err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("lock: futex wait: %w", err)
		}
	}
	atomic.StoreUint32(m.holder, uint32(os.Getpid()))
	return nil
}

// Unlock releases the mutex and wakes one waiter if any were recorded.
func (m *Mutex) Unlock() {
	atomic.StoreUint32(m.holder, 0)
	if atomic.SwapUint32(m.word, mutexUnlocked) == mutexWaiters {
		futexWake(m.word, 1)
	}
}

// MarkConsistent clears the dirty flag after the caller has inspected it
// following an ErrOwnerDied acquisition and decided the region is not
// corrupt. It is the Go substitute for pthread_mutex_consistent.
func (m *Mutex) MarkConsistent() {
	atomic.StoreUint32(m.dirty, 0)
}

// Dirty reports the header's dirty flag.
func (m *Mutex) Dirty() bool {
	return atomic.LoadUint32(m.dirty) != 0
}

// SetDirty sets the dirty flag; called by a write-lock holder immediately
// after acquiring the mutex.
func (m *Mutex) SetDirty() {
	atomic.StoreUint32(m.dirty, 1)
}

// ClearDirty clears the dirty flag; called before releasing a write lock.
func (m *Mutex) ClearDirty() {
	atomic.StoreUint32(m.dirty, 0)
}
