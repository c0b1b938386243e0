package latchan

import (
	"errors"
	"fmt"
	"time"

	"github.com/latchan/latchan/internal/lock"
	"github.com/latchan/latchan/internal/ringstore"
)

// zeroTime is the zero time.Time value, meaning "no deadline" to readLock.
var zeroTime time.Time

// Publish writes p as a new frame, evicting the oldest frames
// oldest-first to make room if needed. Publish never blocks
// on readers.
func (h *Handle) Publish(p []byte) error {
	if h.closed {
		return ErrClosed
	}
	if err := h.view.Validate(); err != nil {
		return err
	}
	if err := h.writeLock(); err != nil {
		return err
	}
	defer h.writeUnlock()

	hdr := h.view.Header()
	_, evictions, err := h.store.Publish(hdr, p)
	if err != nil {
		var of *ringstore.ErrOverflow
		if errors.As(err, &of) {
			h.countPublish("overflow")
			return fromRingstoreOverflow(of)
		}
		h.countPublish("bug")
		return fmt.Errorf("%w: %v", ErrBug, err)
	}
	if h.metrics != nil && evictions > 0 {
		h.metrics.Evictions.Add(float64(evictions))
	}
	h.countPublish("ok")
	return nil
}

func (h *Handle) countPublish(status string) {
	if h.metrics != nil {
		h.metrics.Publishes.WithLabelValues(h.label, status).Inc()
	}
}

func (h *Handle) countReceive(status string) {
	if h.metrics != nil {
		h.metrics.Receives.WithLabelValues(h.label, status).Inc()
	}
}

// Receive copies the next frame into buf according to opts, following
// the usual receive flow. n is the number of bytes written to buf; it is
// meaningful even when err wraps ErrMissedFrame (the frame is still
// delivered). A nil error means a fresh, non-missed frame was read.
func (h *Handle) Receive(buf []byte, opts ReceiveOptions) (n int, err error) {
	if h.closed {
		return 0, ErrClosed
	}
	if err := h.view.Validate(); err != nil {
		return 0, err
	}

	wait := opts.Flags.has(Wait)
	if err := h.readLock(wait, opts.Deadline); err != nil {
		return 0, err
	}
	defer h.readUnlock()

	hdr := h.view.Header()
	lastSeq := hdr.LastSeq.Load()

	copyFlag := opts.Flags.has(Copy)
	lastFlag := opts.Flags.has(Last)

	stale := (h.seqNum == lastSeq && !copyFlag) || lastSeq == 0
	if stale {
		h.countReceive("stale")
		return 0, ErrStaleFrames
	}

	var slot uint64
	missed := false
	switch {
	case lastFlag:
		slot = h.store.LastIndex(hdr)
	case h.view.Slot(h.nextIndex).SeqNum.Load() == h.seqNum+1:
		slot = h.nextIndex
	case h.seqNum == lastSeq:
		// Only reachable under Copy: the client is caught up and wants
		// to re-read the newest frame.
		slot = h.store.LastIndex(hdr)
	default:
		slot = h.store.OldestIndex(hdr)
	}

	// Last skips ahead on purpose, so it never reports a missed frame.
	if want := h.view.Slot(slot).SeqNum.Load(); !lastFlag && want > h.seqNum+1 {
		missed = true
	}

	seq, written, copyErr := h.store.CopyOut(slot, h.seqNum, buf)
	if copyErr != nil {
		var of *ringstore.ErrOverflow
		if errors.As(copyErr, &of) {
			h.countReceive("overflow")
			return 0, fromRingstoreOverflow(of)
		}
		h.countReceive("bug")
		return 0, fmt.Errorf("%w: %v", ErrBug, copyErr)
	}

	h.seqNum = seq
	h.nextIndex = (slot + 1) % hdr.IndexCnt.Load()

	if missed {
		if h.metrics != nil {
			h.metrics.MissedFrames.Inc()
		}
		h.countReceive("missed")
		return written, ErrMissedFrame
	}
	h.countReceive("ok")
	return written, nil
}

// Flush sets the client's cursor to the newest frame without reading it;
// the next non-Last receive without Copy will then report
// ErrStaleFrames until a new publish occurs.
func (h *Handle) Flush() error {
	if h.closed {
		return ErrClosed
	}
	if err := h.view.Validate(); err != nil {
		return err
	}
	if err := h.readLock(false, zeroTime); err != nil {
		return err
	}
	defer h.readUnlock()

	hdr := h.view.Header()
	h.seqNum = hdr.LastSeq.Load()
	h.nextIndex = hdr.IndexHead.Load()
	return nil
}

// Cancel makes a Receive currently blocked on this Handle's condition
// variable return ErrCanceled. See CancelOptions.AsyncUnsafe for the
// two delivery modes.
func (h *Handle) Cancel(opts CancelOptions) error {
	if h.closed {
		return ErrClosed
	}
	h.canceled.Store(true)

	wake := func() {
		if err := h.mu.Lock(); err == nil || errors.Is(err, lock.ErrOwnerDied) {
			h.mu.Unlock()
		}
		h.cond.Broadcast()
	}

	if opts.AsyncUnsafe {
		wake()
		return nil
	}
	go wake()
	return nil
}

// ResetCancel clears the sticky cancel flag so the handle can wait
// again. The core never does this on its own ("sticky until
// reset by the caller").
func (h *Handle) ResetCancel() {
	h.canceled.Store(false)
}
