//go:build linux

// Package lock implements the channel's process-shared synchronization
// primitive: a robust mutex plus a broadcast condition variable, both
// built directly on Linux futexes so that they work across independent
// processes mapping the same region, not just goroutines in one process.
//
// This is the Go-native substitute for a pthread_mutex configured
// PTHREAD_PROCESS_SHARED | PTHREAD_MUTEX_ROBUST plus a
// PTHREAD_PROCESS_SHARED condition variable: the word a futex operates on
// is just a uint32 living in the mapped region, so any process holding
// the same mapping can wait on it or wake it.
package lock

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexWait blocks while *addr == expected, or until timeout elapses (nil
// means wait forever). It returns nil on a successful wake, and
// unix.ETIMEDOUT / unix.EAGAIN / unix.EINTR as appropriate; callers loop
// on spurious wakeups themselves.
//
// Deliberately not FUTEX_PRIVATE_FLAG: that flag keys the futex off
// (current->mm, address) instead of the physical page, which only holds
// within a single process's address space. Named channels are mapped
// MAP_SHARED across independent processes, each with its own mm, so a
// private wait in one process and a private wake in another would hash
// to different buckets and never rendezvous. The non-private path keys
// off the page itself and works identically for anonymous, in-process
// regions, just without the private path's faster lookup.
func futexWait(addr *uint32, expected uint32, timeout *unix.Timespec) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWaitOp),
		uintptr(expected),
		uintptr(unsafe.Pointer(timeout)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// futexWake wakes up to n waiters blocked on addr. Waking with n =
// 1<<30 (Cond.Broadcast) is how the channel broadcasts a publish (or a cancel) to
// every reader waiting on it: readers never get woken individually,
// only ever all together. See futexWait for why this is not
// FUTEX_PRIVATE_FLAG.
func futexWake(addr *uint32, n int32) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWakeOp),
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

// deadlineToTimespec converts an absolute deadline into the *relative*
// timespec the futex syscall wants (FUTEX_WAIT's timeout has always been
// relative, unlike FUTEX_WAIT_BITSET). A zero Time means "wait forever".
func deadlineToTimespec(deadline time.Time) *unix.Timespec {
	if deadline.IsZero() {
		return nil
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	return &ts
}
