package ringstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latchan/latchan/internal/region"
)

func newStore(t *testing.T, indexCnt, dataSize uint64) (*Store, *region.View) {
	t.Helper()
	buf := make([]byte, region.Size(indexCnt, dataSize))
	v := region.NewView(buf)
	v.Init(indexCnt, dataSize)
	return New(v), v
}

func TestPublishAndCopyOutRoundTrip(t *testing.T) {
	s, v := newStore(t, 4, 32)
	h := v.Header()

	seq, _, err := s.Publish(h, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	dst := make([]byte, 32)
	gotSeq, n, err := s.CopyOut(0, 0, dst)
	require.NoError(t, err)
	require.Equal(t, uint64(1), gotSeq)
	require.Equal(t, "hello", string(dst[:n]))
}

func TestPublishWraparoundEviction(t *testing.T) {
	s, v := newStore(t, 2, 8) // 2 frames of up to 4 bytes: data_size = 2*4
	h := v.Header()

	_, evictions, err := s.Publish(h, []byte("AAAA"))
	require.NoError(t, err)
	require.Zero(t, evictions)
	_, evictions, err = s.Publish(h, []byte("BBBB"))
	require.NoError(t, err)
	require.Zero(t, evictions)
	_, evictions, err = s.Publish(h, []byte("CCCC"))
	require.NoError(t, err)
	require.Equal(t, 1, evictions)

	require.Equal(t, uint64(0), h.IndexFree.Load())

	last := s.LastIndex(h)
	dst := make([]byte, 4)
	seq, n, err := s.CopyOut(last, 0, dst)
	require.NoError(t, err)
	require.Equal(t, uint64(3), seq)
	require.Equal(t, "CCCC", string(dst[:n]))
}

func TestCopyOutOverflow(t *testing.T) {
	s, v := newStore(t, 4, 32)
	h := v.Header()
	_, _, err := s.Publish(h, []byte("0123456789"))
	require.NoError(t, err)

	dst := make([]byte, 4)
	_, _, err = s.CopyOut(0, 0, dst)
	require.Error(t, err)
	var of *ErrOverflow
	require.True(t, errors.As(err, &of))
	require.Equal(t, uint64(10), of.Size)
}

func TestPublishOverflowRejectsOversizedPayload(t *testing.T) {
	s, v := newStore(t, 4, 8)
	h := v.Header()

	_, _, err := s.Publish(h, make([]byte, 9))
	require.Error(t, err)
	var of *ErrOverflow
	require.True(t, errors.As(err, &of))
	require.Equal(t, uint64(9), of.Size)

	// Channel state is unchanged on overflow.
	require.Equal(t, uint64(0), h.LastSeq.Load())
	require.Equal(t, uint64(8), h.DataFree.Load())
}

func TestCopyOutBugOnClientAheadOfSlot(t *testing.T) {
	s, v := newStore(t, 4, 32)
	h := v.Header()
	_, _, err := s.Publish(h, []byte("x"))
	require.NoError(t, err)

	dst := make([]byte, 32)
	_, _, err = s.CopyOut(0, 5, dst)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBug))
}

func TestDataRingPayloadActuallySplitsAcrossBoundary(t *testing.T) {
	s, v := newStore(t, 2, 8)
	h := v.Header()

	_, _, err := s.Publish(h, []byte("ABCDEF")) // data_head 0 -> 6
	require.NoError(t, err)
	_, _, err = s.Publish(h, []byte("WXYZ")) // offset 6, size 4: wraps past data_size=8
	require.NoError(t, err)

	dst := make([]byte, 8)
	last := s.LastIndex(h)
	_, n, err := s.CopyOut(last, 0, dst)
	require.NoError(t, err)
	require.Equal(t, "WXYZ", string(dst[:n]))
}

func TestDataRingWraparoundReusesFreedSpace(t *testing.T) {
	s, v := newStore(t, 4, 8)
	h := v.Header()

	_, _, err := s.Publish(h, []byte("ABCD")) // data_head -> 4
	require.NoError(t, err)
	_, _, err = s.Publish(h, []byte("EFGH")) // data_head wraps back to 0
	require.NoError(t, err)
	// data_head is now 0 again; this publish reuses that space after
	// evicting the first frame to free enough data_free.
	_, _, err = s.Publish(h, []byte("IJ"))
	require.NoError(t, err)

	dst := make([]byte, 8)
	last := s.LastIndex(h)
	_, n, err := s.CopyOut(last, 0, dst)
	require.NoError(t, err)
	require.Equal(t, "IJ", string(dst[:n]))
}
