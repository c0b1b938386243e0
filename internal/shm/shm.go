// Package shm maps a latchan region onto either a named shared-memory
// file (for cross-process channels) or a plain in-process allocation
// (for anonymous, same-process channels).
package shm

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"golang.org/x/sys/unix"
)

// NamePrefix is prepended to every channel name to form its backing
// shm_open(3)-style name.
const NamePrefix = "/latchan-"

// MaxNameLen bounds a channel's user-supplied name (not counting the
// prefix): the 200-byte bound of internal/region.MaxNameLen less the
// prefix and one terminator byte, i.e. 190.
const MaxNameLen = 200 - len(NamePrefix) - 1

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ErrInvalidName is returned when a channel name is empty, too long,
// starts with '.', or contains characters outside [A-Za-z0-9_.-].
var ErrInvalidName = errors.New("shm: invalid channel name")

// ValidateName enforces the channel naming rule.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("%w: %q: length must be 1..%d", ErrInvalidName, name, MaxNameLen)
	}
	if name[0] == '.' {
		return fmt.Errorf("%w: %q: must not start with '.'", ErrInvalidName, name)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q: only alphanumeric, '-', '_', '.' allowed", ErrInvalidName, name)
	}
	return nil
}

// shmPath returns the path shm_open would use, rooted under /dev/shm the
// way glibc's shm_open implements POSIX shared memory on Linux (the
// kernel's shm_open is itself implemented as open() on a tmpfs mount at
// /dev/shm, so opening the path directly is equivalent and avoids
// needing a cgo binding to shm_open/shm_unlink).
func shmPath(name string) string {
	return "/dev/shm" + NamePrefix + name
}

// Region is a mapped byte slice plus enough state to unmap and close it.
type Region struct {
	Buf    []byte
	fd     int
	anon   bool
	closed bool
}

// CreateNamed creates (or, with truncate, replaces) the backing file for
// a named channel and maps size bytes of it.
func CreateNamed(name string, size uint64, truncate bool, mode os.FileMode) (*Region, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	flags := unix.O_RDWR | unix.O_CREAT
	if !truncate {
		flags |= unix.O_EXCL
	}
	fd, err := retryEINTR(func() (int, error) {
		return unix.Open(shmPath(name), flags, uint32(mode))
	})
	if err != nil {
		return nil, fmt.Errorf("shm: create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate %q to %d: %w", name, size, err)
	}
	buf, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}
	return &Region{Buf: buf, fd: fd}, nil
}

// OpenNamed opens an existing named channel's file and maps size bytes.
// size is usually discovered in two steps by the caller (map the header
// alone first to learn index_cnt/data_size, then remap full length), per
// Open; this function performs one mmap of the given size.
func OpenNamed(name string, size uint64) (*Region, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	fd, err := retryEINTR(func() (int, error) {
		return unix.Open(shmPath(name), unix.O_RDWR, 0)
	})
	if err != nil {
		return nil, fmt.Errorf("shm: open %q: %w", name, err)
	}
	buf, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}
	return &Region{Buf: buf, fd: fd}, nil
}

// Remap grows or shrinks the mapping to newSize, used after discovering
// the true region size from the header-only mapping performed by Open.
func (r *Region) Remap(newSize uint64) error {
	if err := unix.Munmap(r.Buf); err != nil {
		return fmt.Errorf("shm: munmap for remap: %w", err)
	}
	buf, err := unix.Mmap(r.fd, 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: remap: %w", err)
	}
	r.Buf = buf
	return nil
}

// CreateAnon allocates an in-process region, with no backing file or
// file descriptor, shared only across goroutines/threads in this process
// (e.g. through a package-level registry; latchan itself holds the
// *Region for the lifetime of the anonymous channel).
func CreateAnon(size uint64) *Region {
	return &Region{Buf: make([]byte, size), anon: true}
}

// Chmod updates the permission bits of a named region's backing file.
func (r *Region) Chmod(mode os.FileMode) error {
	if r.anon {
		return fmt.Errorf("shm: chmod: anonymous region has no backing file")
	}
	return unix.Fchmod(r.fd, uint32(mode))
}

// Close unmaps the region and, for named channels, closes the file
// descriptor. Calling Close twice is a no-op.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if !r.anon {
		if e := unix.Munmap(r.Buf); e != nil {
			err = fmt.Errorf("shm: munmap: %w", e)
		}
		if e := retryEINTRErr(func() error { return unix.Close(r.fd) }); e != nil && err == nil {
			err = fmt.Errorf("shm: close: %w", e)
		}
	}
	r.Buf = nil
	return err
}

// Unlink removes a named channel's backing file. The region remains
// valid for any process that still has it mapped.
func Unlink(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := unix.Unlink(shmPath(name)); err != nil {
		return fmt.Errorf("shm: unlink %q: %w", name, err)
	}
	return nil
}

const maxEINTRRetry = 8

func retryEINTR(f func() (int, error)) (int, error) {
	var err error
	for i := 0; i < maxEINTRRetry; i++ {
		var fd int
		fd, err = f()
		if err == nil || !errors.Is(err, unix.EINTR) {
			return fd, err
		}
	}
	return -1, err
}

func retryEINTRErr(f func() error) error {
	var err error
	for i := 0; i < maxEINTRRetry; i++ {
		err = f()
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}
	return err
}
