// Package ringstore implements the circular index and data-ring
// algorithms of the channel: addressing, copy-out of a published frame,
// and the oldest-first eviction publish algorithm. It operates directly
// on an internal/region.View under a lock the caller already holds; it
// never acquires or releases the lock itself.
package ringstore

import (
	"errors"
	"fmt"

	"github.com/latchan/latchan/internal/region"
)

// ErrBug reports that an internal invariant was violated: the caller's
// seq_num is ahead of the slot it is about to read, which the algorithm
// treats as an impossible state.
var ErrBug = errors.New("ringstore: invariant violated")

// ErrOverflow reports that the destination buffer was smaller than the
// frame being copied out, or that a payload exceeds the ring's capacity.
// Size carries the size the caller needed.
type ErrOverflow struct {
	Size uint64
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("ringstore: overflow: needs %d bytes", e.Size)
}

// Store binds the ring algorithms to one region view's index_cnt and
// data_size, both fixed for the lifetime of a channel.
type Store struct {
	v        *region.View
	indexCnt uint64
	dataSize uint64
}

// New binds a Store to a view; indexCnt/dataSize are read once from the
// header since they never change after Create.
func New(v *region.View) *Store {
	h := v.Header()
	return &Store{v: v, indexCnt: h.IndexCnt.Load(), dataSize: h.DataSize.Load()}
}

// OldestIndex returns the slot index of the oldest live frame.
func (s *Store) OldestIndex(h *region.Header) uint64 {
	return (h.IndexHead.Load() + h.IndexFree.Load()) % s.indexCnt
}

// LastIndex returns the slot index of the most recently published frame.
// Only meaningful when last_seq != 0.
func (s *Store) LastIndex(h *region.Header) uint64 {
	return (h.IndexHead.Load() + s.indexCnt - 1) % s.indexCnt
}

// CopyOut copies the frame at slot k into dst. clientSeq
// is the caller's currently observed sequence number. On success it
// returns the frame's sequence number and the number of bytes written to
// dst. On *ErrOverflow the required size is reported and dst is
// untouched. ErrBug indicates a precondition violation by the caller (or
// by the engine itself): the lock must be held for this to be called.
func (s *Store) CopyOut(k uint64, clientSeq uint64, dst []byte) (seq uint64, n int, err error) {
	slot := s.v.Slot(k)
	seq = slot.SeqNum.Load()
	size := slot.Size.Load()
	offset := slot.Offset.Load()

	if clientSeq > seq {
		return seq, 0, fmt.Errorf("%w: client seq %d exceeds slot seq %d", ErrBug, clientSeq, seq)
	}

	if size > uint64(len(dst)) {
		return seq, 0, &ErrOverflow{Size: size}
	}

	data := s.v.Data(s.indexCnt, s.dataSize)
	if offset+size > s.dataSize {
		first := s.dataSize - offset
		copy(dst[:first], data[offset:])
		copy(dst[first:size], data[:size-first])
	} else {
		copy(dst[:size], data[offset:offset+size])
	}
	return seq, int(size), nil
}

// Publish writes payload p into the ring under the write lock the caller
// already holds, implementing the oldest-first eviction algorithm. It
// returns the new sequence number and the number of index slots the
// eviction loop freed to make room (0 when none were needed).
func (s *Store) Publish(h *region.Header, p []byte) (seq uint64, evictions int, err error) {
	l := uint64(len(p))
	if l > s.dataSize {
		return 0, 0, &ErrOverflow{Size: l}
	}

	target := h.IndexHead.Load()

	if h.IndexFree.Load() == 0 {
		s.freeSlot(h, target)
		evictions++
	}

	for h.DataFree.Load() < l {
		oldest := s.OldestIndex(h)
		if oldest == h.IndexHead.Load() {
			return 0, evictions, fmt.Errorf("%w: ran out of slots to evict while %d bytes still needed (data_size=%d)", ErrBug, l, s.dataSize)
		}
		s.freeSlot(h, oldest)
		evictions++
	}

	dataHead := h.DataHead.Load()
	data := s.v.Data(s.indexCnt, s.dataSize)
	if dataHead+l > s.dataSize {
		first := s.dataSize - dataHead
		copy(data[dataHead:], p[:first])
		copy(data[:l-first], p[first:])
	} else {
		copy(data[dataHead:dataHead+l], p)
	}

	newSeq := h.LastSeq.Add(1)
	slot := s.v.Slot(target)
	slot.SeqNum.Store(newSeq)
	slot.Size.Store(l)
	slot.Offset.Store(dataHead)

	h.DataHead.Store((dataHead + l) % s.dataSize)
	h.DataFree.Add(^(l - 1)) // DataFree -= l
	h.IndexHead.Store((target + 1) % s.indexCnt)
	h.IndexFree.Add(^uint64(0)) // IndexFree -= 1

	return newSeq, evictions, nil
}

// freeSlot clears the slot at index i, returning its bytes to data_free
// and incrementing index_free. It must never be called on the slot about
// to receive a new write (the caller enforces this).
func (s *Store) freeSlot(h *region.Header, i uint64) {
	slot := s.v.Slot(i)
	size := slot.Size.Load()
	slot.SeqNum.Store(0)
	slot.Size.Store(0)
	slot.Offset.Store(0)
	h.DataFree.Add(size)
	h.IndexFree.Add(1)
}
