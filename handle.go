// Package latchan implements a latest-message, fixed-capacity IPC
// channel shared between processes through a memory-mapped region: a
// circular index of frame descriptors over a circular byte buffer of
// payloads, with blocking wait for new frames, cancellable receives, and
// tolerance for the death of any participant while holding the
// channel's lock.
package latchan

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/latchan/latchan/internal/lock"
	"github.com/latchan/latchan/internal/metrics"
	"github.com/latchan/latchan/internal/region"
	"github.com/latchan/latchan/internal/ringstore"
	"github.com/latchan/latchan/internal/shm"
)

// Handle is per-process, per-open state referencing a channel. It is not
// safe for concurrent use by multiple goroutines without external
// synchronization: seqNum/nextIndex are private cursors tracked only in
// this Handle, not shared region state.
type Handle struct {
	name string
	anon bool

	shmRegion *shm.Region
	view      *region.View
	store     *ringstore.Store
	mu        *lock.Mutex
	cond      *lock.Cond

	seqNum    uint64
	nextIndex uint64
	canceled  atomic.Bool
	closed    bool

	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	label   string
}

func newHandle(r *shm.Region, name string, anon bool, log *zap.SugaredLogger, m *metrics.Metrics) *Handle {
	v := region.NewView(r.Buf)
	h := v.Header()
	label := name
	if anon {
		label = "anon"
	}
	return &Handle{
		name:      name,
		anon:      anon,
		shmRegion: r,
		view:      v,
		store:     ringstore.New(v),
		mu:        lock.NewMutex(&h.LockWord, &h.LockHolderPID, &h.Dirty),
		cond:      lock.NewCond(&h.LastSeq),
		nextIndex: 1,
		log:       log,
		metrics:   m,
		label:     label,
	}
}

// Create initializes a new named channel on disk with frameCount index
// slots each able to hold up to maxFrameSize bytes of payload. It does
// not return an open Handle: the region is unmapped and the file closed
// once initialization completes, and callers that want to use the
// channel immediately call Open.
func Create(name string, frameCount, maxFrameSize uint64, opts ...CreateOption) error {
	cfg := defaultCreateConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if frameCount == 0 || maxFrameSize == 0 {
		return fmt.Errorf("%w: frame_count and max_frame_size must be positive", ErrInvalidArgument)
	}

	dataSize := frameCount * maxFrameSize
	size := region.Size(frameCount, dataSize)

	r, err := shm.CreateNamed(name, size, cfg.truncate, cfg.mode)
	if err != nil {
		return translateShmErr(err)
	}
	defer r.Close()

	v := region.NewView(r.Buf)
	v.Init(frameCount, dataSize)
	if err := v.Header().SetName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	cfg.log.Debugw("created channel", "name", name, "frame_count", frameCount, "max_frame_size", maxFrameSize, "size_bytes", size)
	return nil
}

// CreateAnon creates an anonymous, in-process channel and returns it
// already open, since an anonymous region has no separate file to close
// between creation and use.
func CreateAnon(frameCount, maxFrameSize uint64, opts ...CreateOption) (*Handle, error) {
	cfg := defaultCreateConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if frameCount == 0 || maxFrameSize == 0 {
		return nil, fmt.Errorf("%w: frame_count and max_frame_size must be positive", ErrInvalidArgument)
	}

	dataSize := frameCount * maxFrameSize
	size := region.Size(frameCount, dataSize)
	r := shm.CreateAnon(size)
	v := region.NewView(r.Buf)
	v.Init(frameCount, dataSize)

	h := newHandle(r, "", true, cfg.log, cfg.metrics)
	h.seqNum = 0
	return h, nil
}

// Open maps an existing named channel and returns a fresh Handle whose
// cursor (sequence 0) starts before every frame: the first Receive
// delivers the oldest live frame (with ErrMissedFrame if earlier frames
// were already evicted), or reports ErrStaleFrames if nothing has been
// published yet.
func Open(name string, opts ...OpenOption) (*Handle, error) {
	cfg := defaultOpenConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := shm.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	headerOnly, err := shm.OpenNamed(name, uint64(region.HeaderSize))
	if err != nil {
		return nil, translateShmErr(err)
	}
	hdr := region.NewView(headerOnly.Buf).Header()
	if magic := hdr.Magic.Load(); magic != region.Magic {
		headerOnly.Close()
		return nil, fmt.Errorf("%w: magic %#x", ErrBadSHMFile, magic)
	}
	total := hdr.TotalLen()
	if err := headerOnly.Remap(total); err != nil {
		headerOnly.Close()
		return nil, translateShmErr(err)
	}

	v := region.NewView(headerOnly.Buf)
	if err := v.Validate(); err != nil {
		headerOnly.Close()
		return nil, err
	}

	h := newHandle(headerOnly, name, false, cfg.log, cfg.metrics)
	if h.mu.Dirty() {
		headerOnly.Close()
		return nil, fmt.Errorf("%w: dirty flag set on open", ErrCorrupt)
	}
	return h, nil
}

// Unlink removes a named channel's backing file. Processes that still
// have it mapped continue to operate on the (now unnamed) region.
func Unlink(name string) error {
	if err := shm.Unlink(name); err != nil {
		return translateShmErr(err)
	}
	return nil
}

// Chmod changes a named channel's backing file permissions.
func (h *Handle) Chmod(mode os.FileMode) error {
	if h.closed {
		return ErrClosed
	}
	if h.anon {
		return fmt.Errorf("%w: anonymous channel has no backing file", ErrInvalidArgument)
	}
	if err := h.shmRegion.Chmod(mode); err != nil {
		return translateShmErr(err)
	}
	return nil
}

// Close validates guards, unmaps the region and closes the file
// descriptor for named channels. Closing an anonymous handle also
// releases its backing allocation, since no other handle can name it
// afterward to reopen it.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.view.Validate(); err != nil {
		h.shmRegion.Close()
		return err
	}
	if err := h.shmRegion.Close(); err != nil {
		return translateShmErr(err)
	}
	return nil
}

// translateShmErr maps shm/region-layer errors onto the public sentinel
// taxonomy without discarding the underlying cause.
func translateShmErr(err error) error {
	switch {
	case errors.Is(err, shm.ErrInvalidName):
		return fmt.Errorf("%w: %v", ErrInvalidName, err)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %v", ErrExists, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	case errors.Is(err, region.ErrBadSHMFile), errors.Is(err, region.ErrCorrupt), errors.Is(err, region.ErrBadHeader):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrFailedSyscall, err)
	}
}

// writeLock acquires the channel's write lock: lock the mutex, detect
// owner death and poisoning, then set the dirty flag.
func (h *Handle) writeLock() error {
	err := h.mu.Lock()
	if err != nil && errors.Is(err, lock.ErrOwnerDied) {
		if h.mu.Dirty() {
			return fmt.Errorf("%w: previous writer died mid-mutation", ErrCorrupt)
		}
		h.mu.MarkConsistent()
	} else if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedSyscall, err)
	}
	if h.mu.Dirty() {
		h.mu.Unlock()
		return fmt.Errorf("%w: dirty flag observed set", ErrCorrupt)
	}
	h.mu.SetDirty()
	return nil
}

// writeUnlock clears the dirty flag, releases the mutex and broadcasts
// the condition variable so every waiting reader re-checks its cursor.
func (h *Handle) writeUnlock() {
	h.mu.ClearDirty()
	h.mu.Unlock()
	h.cond.Broadcast()
}

// readLock acquires the read lock with the usual wait semantics.
// On success the lock is held and the caller must call readUnlock.
func (h *Handle) readLock(wait bool, deadline time.Time) error {
	err := h.mu.Lock()
	if err != nil && errors.Is(err, lock.ErrOwnerDied) {
		if h.mu.Dirty() {
			return fmt.Errorf("%w: previous writer died mid-mutation", ErrCorrupt)
		}
		h.mu.MarkConsistent()
	} else if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedSyscall, err)
	}
	if h.mu.Dirty() {
		h.mu.Unlock()
		return fmt.Errorf("%w: dirty flag observed set", ErrCorrupt)
	}

	for {
		if h.canceled.Load() {
			h.mu.Unlock()
			return ErrCanceled
		}
		if !wait {
			return nil
		}
		lastSeq := h.view.Header().LastSeq.Load()
		if lastSeq != h.seqNum {
			return nil
		}
		waitErr := h.cond.Wait(h.mu, deadline)
		if waitErr != nil {
			if errors.Is(waitErr, lock.ErrTimeout) {
				h.mu.Unlock()
				return ErrTimeout
			}
			h.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrFailedSyscall, waitErr)
		}
		if h.mu.Dirty() {
			h.mu.Unlock()
			return fmt.Errorf("%w: dirty flag observed set while waiting", ErrCorrupt)
		}
	}
}

// readUnlock releases the read lock without broadcasting.
func (h *Handle) readUnlock() {
	h.mu.Unlock()
}
