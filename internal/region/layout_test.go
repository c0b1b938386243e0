package region

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitAndValidate(t *testing.T) {
	const indexCnt, dataSize = 4, 64
	buf := make([]byte, Size(indexCnt, dataSize))
	v := NewView(buf)
	v.Init(indexCnt, dataSize)

	require.NoError(t, v.Validate())

	h := v.Header()
	require.Equal(t, Magic, h.Magic.Load())
	require.Equal(t, uint64(indexCnt), h.IndexCnt.Load())
	require.Equal(t, uint64(indexCnt), h.IndexFree.Load())
	require.Equal(t, uint64(dataSize), h.DataSize.Load())
	require.Equal(t, uint64(dataSize), h.DataFree.Load())
	require.Equal(t, uint64(0), h.LastSeq.Load())
}

func TestValidateDetectsBadMagic(t *testing.T) {
	buf := make([]byte, Size(4, 64))
	v := NewView(buf)
	v.Init(4, 64)
	v.Header().Magic.Store(0xdeadbeef)

	err := v.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadSHMFile))
}

func TestValidateDetectsGuardCorruption(t *testing.T) {
	buf := make([]byte, Size(4, 64))
	v := NewView(buf)
	v.Init(4, 64)
	*v.HeaderGuardPtr() = 0

	err := v.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestValidateDetectsUndersizedBuffer(t *testing.T) {
	buf := make([]byte, Size(4, 64))
	v := NewView(buf)
	v.Init(4, 64)
	short := NewView(buf[:10])

	err := short.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadHeader))
}

func TestNameRoundTrip(t *testing.T) {
	buf := make([]byte, Size(4, 64))
	v := NewView(buf)
	v.Init(4, 64)

	require.NoError(t, v.Header().SetName("example"))
	require.Equal(t, "example", v.Header().Name())
}

func TestSlotAddressingDoesNotOverlapData(t *testing.T) {
	const indexCnt, dataSize = 3, 32
	buf := make([]byte, Size(indexCnt, dataSize))
	v := NewView(buf)
	v.Init(indexCnt, dataSize)

	v.Slot(0).SeqNum.Store(1)
	data := v.Data(indexCnt, dataSize)
	for _, b := range data {
		require.Zero(t, b)
	}
}
