// Package region describes the bit-exact layout of a latchan shared
// region: header, index ring, data ring and the guard sentinels that
// separate them.
//
// A region is always addressed through a single mapped []byte. Every
// typed view (Header, Slot, data bytes) is carved from that one mapping
// with unsafe.Pointer casts; nothing here stores its own pointers into
// the region, so the layout survives being remapped at a different
// address in another process.
package region

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Magic occupies the first 4 bytes of every region. A mismatch means the
// mapped bytes are not a latchan region, or were built by an incompatible
// version.
const Magic uint32 = 0x6c617463 // "latc"

// Guard sentinels placed after the header, the index ring and the data
// ring respectively. They must be pairwise distinct so that a stray write
// landing in the wrong place is still detected as corruption.
const (
	HeaderGuard uint64 = 0x4845414445525f5f // "HEADER__"
	IndexGuard  uint64 = 0x494e4445585f5f5f // "INDEX___"
	DataGuard   uint64 = 0x444154415f5f5f5f // "DATA____"
)

// MaxNameLen bounds the channel name stored in the header.
const MaxNameLen = 200

// Header is placed at offset 0 of every region. Every field that can be
// touched outside the write lock (Dirty, LastSeq observed by a waiting
// reader, Cancel is per-handle and lives elsewhere) is an atomic type so
// that it overlays safely on memory shared across processes.
type Header struct {
	Magic    atomic.Uint32
	nameLen  atomic.Uint32
	name     [MaxNameLen]byte
	totalLen atomic.Uint64

	// Synchronization primitive. See internal/lock for the protocol.
	LockWord      atomic.Uint32
	LockHolderPID atomic.Uint32
	Dirty         atomic.Uint32
	ClockID       atomic.Uint32

	IndexCnt  atomic.Uint64
	IndexHead atomic.Uint64
	IndexFree atomic.Uint64

	DataHead atomic.Uint64
	DataFree atomic.Uint64
	DataSize atomic.Uint64

	// LastSeq is the monotonic counter of successful publishes. Zero
	// means no frame has ever been published. It doubles as the futex
	// word for the channel's condition variable: a publish's broadcast
	// wakes every reader waiting on this address, regardless of whether
	// the value they're waiting on actually changed (cancellation uses
	// the same wake without touching LastSeq).
	LastSeq atomic.Uint64
}

// HeaderSize is the size in bytes of Header as laid out in memory.
const HeaderSize = unsafe.Sizeof(Header{})

// SetName stores the bounded channel name in the header.
func (h *Header) SetName(name string) error {
	if len(name) >= MaxNameLen {
		return fmt.Errorf("channel name %q exceeds maximum length %d", name, MaxNameLen-1)
	}
	copy(h.name[:], name)
	h.nameLen.Store(uint32(len(name)))
	return nil
}

// Name returns the channel name stored in the header.
func (h *Header) Name() string {
	n := h.nameLen.Load()
	return string(h.name[:n])
}

// SetTotalLen records the total region length computed at creation time.
func (h *Header) SetTotalLen(n uint64) { h.totalLen.Store(n) }

// TotalLen returns the total region length recorded at creation time.
func (h *Header) TotalLen() uint64 { return h.totalLen.Load() }

// Slot is one entry of the index ring: it describes a single published
// frame's sequence number and where its payload lives in the data ring.
type Slot struct {
	SeqNum atomic.Uint64
	Size   atomic.Uint64
	Offset atomic.Uint64
}

// SlotSize is the size in bytes of one index slot.
const SlotSize = unsafe.Sizeof(Slot{})
