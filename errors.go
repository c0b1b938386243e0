package latchan

import (
	"errors"
	"fmt"

	"github.com/latchan/latchan/internal/region"
	"github.com/latchan/latchan/internal/ringstore"
)

// Sentinel errors covering every outcome the package can report. Callers
// distinguish outcomes with errors.Is, exactly as they would against any
// other Go sentinel error; there is no separate numeric status code.
var (
	// Parameter errors.
	ErrInvalidName     = errors.New("latchan: invalid channel name")
	ErrInvalidArgument = errors.New("latchan: invalid argument")

	// Lookup errors.
	ErrExists     = errors.New("latchan: channel already exists")
	ErrNotExist   = errors.New("latchan: channel does not exist")
	ErrPermission = errors.New("latchan: permission denied")

	// State errors.
	ErrStaleFrames = errors.New("latchan: no new frame available")
	ErrMissedFrame = errors.New("latchan: client missed one or more frames")

	// Timing errors.
	ErrTimeout  = errors.New("latchan: deadline exceeded")
	ErrCanceled = errors.New("latchan: receive canceled")

	// Integrity errors.
	ErrBadSHMFile = region.ErrBadSHMFile
	ErrCorrupt    = region.ErrCorrupt
	ErrBadHeader  = region.ErrBadHeader

	// System / handle errors.
	ErrFailedSyscall = errors.New("latchan: system call failed")
	ErrClosed        = errors.New("latchan: handle is closed")

	// Internal invariant violation.
	ErrBug = ringstore.ErrBug
)

// OverflowError reports that a buffer was too small to hold a frame.
// Size is the buffer length the caller needs to retry with. It is
// returned by both Publish (payload larger than the channel's data ring)
// and Receive (destination buffer smaller than the stored frame).
type OverflowError struct {
	Size uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("latchan: overflow: needs a %d byte buffer", e.Size)
}

// Is lets errors.Is(err, ErrOverflowKind) match any *OverflowError.
func (e *OverflowError) Is(target error) bool {
	return target == ErrOverflowKind
}

// ErrOverflowKind is matched by errors.Is against any *OverflowError,
// for callers that only care that overflow happened, not the size.
var ErrOverflowKind = errors.New("latchan: overflow")

func fromRingstoreOverflow(e *ringstore.ErrOverflow) *OverflowError {
	return &OverflowError{Size: e.Size}
}
