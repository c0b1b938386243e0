package region

import "errors"

// Sentinel integrity errors. The public package re-exports these as its
// ErrBadSHMFile, ErrCorrupt and ErrBadHeader; internal packages only need to detect and
// propagate them, never to interpret them further.
var (
	// ErrBadSHMFile means the region's magic tag does not match, i.e.
	// this is not a latchan region or was built by an incompatible
	// version.
	ErrBadSHMFile = errors.New("region: bad magic tag")
	// ErrCorrupt means a guard sentinel was overwritten or the dirty
	// flag was observed set after a robust-mutex owner death.
	ErrCorrupt = errors.New("region: corrupt")
	// ErrBadHeader means the header's structural invariants (recorded
	// sizes vs. actual mapped length) don't hold together.
	ErrBadHeader = errors.New("region: bad header")
)
