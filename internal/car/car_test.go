package car

import (
	"testing"

	gocid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBlock(t *testing.T, data []byte) Block {
	t.Helper()
	b, err := NewBlock(data)
	require.NoError(t, err)
	return b
}

func TestWriteRead_RoundTripsBlocksAndRoots(t *testing.T) {
	b1 := mustBlock(t, []byte{0xa1, 0x61, 0x61, 0x01})
	b2 := mustBlock(t, []byte{0xa1, 0x61, 0x62, 0x02})

	data, err := Encode([]gocid.Cid{b1.CID}, []Block{b1, b2})
	require.NoError(t, err)

	blocks, roots, err := Read(data)
	require.NoError(t, err)

	require.Len(t, roots, 1)
	assert.True(t, roots[0].Equals(b1.CID))
	assert.Len(t, blocks, 2)

	got, ok := blocks.Get(b2.CID)
	require.True(t, ok)
	assert.Equal(t, b2.Data, got)
}

func TestRead_HeaderOnly(t *testing.T) {
	data, err := Encode(nil, nil)
	require.NoError(t, err)

	blocks, roots, err := Read(data)
	require.NoError(t, err)
	assert.Empty(t, blocks)
	assert.Empty(t, roots)
}

func TestRead_Truncated(t *testing.T) {
	b := mustBlock(t, []byte{0xf6})
	data, err := Encode(nil, []Block{b})
	require.NoError(t, err)

	_, _, err = Read(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRead_Empty(t *testing.T) {
	_, _, err := Read(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRead_Garbage(t *testing.T) {
	_, _, err := Read([]byte{0x03, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBlocks_GetMissing(t *testing.T) {
	b := mustBlock(t, []byte{0xf6})
	_, ok := Blocks{}.Get(b.CID)
	assert.False(t, ok)
}

func TestNewBlock_Deterministic(t *testing.T) {
	a := mustBlock(t, []byte("same bytes"))
	b := mustBlock(t, []byte("same bytes"))
	c := mustBlock(t, []byte("other bytes"))

	assert.True(t, a.CID.Equals(b.CID))
	assert.False(t, a.CID.Equals(c.CID))
	assert.Equal(t, uint64(gocid.DagCBOR), a.CID.Type())
}

func TestVerify(t *testing.T) {
	b := mustBlock(t, []byte("record"))

	assert.NoError(t, Verify(b.CID, b.Data))
	assert.ErrorIs(t, Verify(b.CID, []byte("tampered")), ErrHashMismatch)
}
