package region

import (
	"fmt"
	"unsafe"
)

// Size computes the total region length for a channel with indexCnt index
// slots and dataSize bytes of payload storage, per the layout in DATA MODEL:
// header, header guard, index ring, index guard, data ring, data guard.
func Size(indexCnt, dataSize uint64) uint64 {
	return uint64(HeaderSize) + 8 +
		indexCnt*uint64(SlotSize) + 8 +
		dataSize + 8
}

// View overlays the typed header, guards, index ring and data ring onto a
// single mapped byte slice. It never outlives the slice it was built from.
type View struct {
	buf []byte
}

// NewView builds a View over a freshly sized, zeroed or previously
// populated region buffer.
func NewView(buf []byte) *View {
	return &View{buf: buf}
}

// Bytes returns the underlying mapped region.
func (v *View) Bytes() []byte { return v.buf }

func (v *View) headerGuardOffset() uint64 { return uint64(HeaderSize) }

func (v *View) indexOffset() uint64 { return v.headerGuardOffset() + 8 }

func (v *View) indexGuardOffset(indexCnt uint64) uint64 {
	return v.indexOffset() + indexCnt*uint64(SlotSize)
}

func (v *View) dataOffset(indexCnt uint64) uint64 {
	return v.indexGuardOffset(indexCnt) + 8
}

func (v *View) dataGuardOffset(indexCnt, dataSize uint64) uint64 {
	return v.dataOffset(indexCnt) + dataSize
}

// Header returns the header view at offset 0.
func (v *View) Header() *Header {
	return (*Header)(unsafe.Pointer(&v.buf[0]))
}

func (v *View) guardAt(offset uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&v.buf[offset]))
}

// HeaderGuardPtr returns a pointer to the sentinel immediately after the header.
func (v *View) HeaderGuardPtr() *uint64 { return v.guardAt(v.headerGuardOffset()) }

// IndexGuardPtr returns a pointer to the sentinel immediately after the index ring.
func (v *View) IndexGuardPtr(indexCnt uint64) *uint64 { return v.guardAt(v.indexGuardOffset(indexCnt)) }

// DataGuardPtr returns a pointer to the sentinel immediately after the data ring.
func (v *View) DataGuardPtr(indexCnt, dataSize uint64) *uint64 {
	return v.guardAt(v.dataGuardOffset(indexCnt, dataSize))
}

// Slot returns the i'th index slot, 0 <= i < indexCnt.
func (v *View) Slot(i uint64) *Slot {
	off := v.indexOffset() + i*uint64(SlotSize)
	return (*Slot)(unsafe.Pointer(&v.buf[off]))
}

// Data returns the data ring as a byte slice of length dataSize.
func (v *View) Data(indexCnt, dataSize uint64) []byte {
	off := v.dataOffset(indexCnt)
	return v.buf[off : off+dataSize]
}

// Init zeroes and writes the magic, guards and initial header fields for a
// freshly created region.
func (v *View) Init(indexCnt, dataSize uint64) {
	for i := range v.buf {
		v.buf[i] = 0
	}

	h := v.Header()
	h.Magic.Store(Magic)
	h.SetTotalLen(Size(indexCnt, dataSize))
	h.IndexCnt.Store(indexCnt)
	h.IndexFree.Store(indexCnt)
	h.IndexHead.Store(0)
	h.DataHead.Store(0)
	h.DataFree.Store(dataSize)
	h.DataSize.Store(dataSize)
	h.LastSeq.Store(0)

	*v.HeaderGuardPtr() = HeaderGuard
	*v.IndexGuardPtr(indexCnt) = IndexGuard
	*v.DataGuardPtr(indexCnt, dataSize) = DataGuard
}

// Validate checks the magic tag and all three guard sentinels. Every
// public channel operation must call this before touching any other
// state; a mismatch is reported as corruption before proceeding further.
func (v *View) Validate() error {
	if len(v.buf) < int(HeaderSize)+8 {
		return fmt.Errorf("%w: region too small to hold a header", ErrBadHeader)
	}

	h := v.Header()
	if magic := h.Magic.Load(); magic != Magic {
		return fmt.Errorf("%w: magic %#x, want %#x", ErrBadSHMFile, magic, Magic)
	}

	indexCnt := h.IndexCnt.Load()
	dataSize := h.DataSize.Load()

	want := Size(indexCnt, dataSize)
	if uint64(len(v.buf)) < want {
		return fmt.Errorf("%w: region length %d shorter than computed size %d", ErrBadHeader, len(v.buf), want)
	}

	if g := *v.HeaderGuardPtr(); g != HeaderGuard {
		return fmt.Errorf("%w: header guard mismatch", ErrCorrupt)
	}
	if g := *v.IndexGuardPtr(indexCnt); g != IndexGuard {
		return fmt.Errorf("%w: index guard mismatch", ErrCorrupt)
	}
	if g := *v.DataGuardPtr(indexCnt, dataSize); g != DataGuard {
		return fmt.Errorf("%w: data guard mismatch", ErrCorrupt)
	}

	return nil
}
