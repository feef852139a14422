package cell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashesEntry_SettersAndGetters(t *testing.T) {
	buf := make([]byte, HashesEntryLen)
	e := NewHashesEntry(buf)

	e.SetLevelMask(LevelMask(0b011))
	e.SetCellType(TypeMerkleProof)
	e.SetHashCount(2)
	e.SetDepthCount(2)
	e.SetTreeBitsCount(12345)
	e.SetTreeCellCount(42)
	e.SetHash(0, Hash256{1, 2, 3})
	e.SetHash(1, Hash256{4, 5, 6})
	e.SetDepth(0, 7)
	e.SetDepth(1, 8)

	require.Equal(t, LevelMask(0b011), e.LevelMask())
	require.Equal(t, TypeMerkleProof, e.CellType())
	require.Equal(t, 2, e.HashCount())
	require.Equal(t, 2, e.DepthCount())
	require.Equal(t, uint64(12345), e.TreeBitsCount())
	require.Equal(t, uint32(42), e.TreeCellCount())
	require.Equal(t, Hash256{1, 2, 3}, e.Hash(0))
	require.Equal(t, Hash256{4, 5, 6}, e.Hash(1))
	require.Equal(t, uint16(7), e.Depth(0))
	require.Equal(t, uint16(8), e.Depth(1))

	// Clamping aliases levels beyond HashCount/DepthCount to the highest
	// computed slot, mirroring Cell.HashAt/DepthAt.
	require.Equal(t, Hash256{4, 5, 6}, e.HashAtClamped(3))
	require.Equal(t, uint16(8), e.DepthAtClamped(3))
}

func TestEntriesBuffer_ChildIsolation(t *testing.T) {
	eb := NewEntriesBuffer()

	childBuf := make([]byte, HashesEntryLen)
	child := NewHashesEntry(childBuf)
	child.SetHash(0, Hash256{9})
	eb.SetChild(0, childBuf)

	eb.Current().SetHash(0, Hash256{1})
	require.Equal(t, Hash256{1}, eb.Current().Hash(0))
	require.Equal(t, Hash256{9}, eb.Child(0).Hash(0))

	eb.Reset()
	require.Equal(t, Hash256{}, eb.Current().Hash(0))
	// Resetting current must not disturb the (unrelated) mmap-backed
	// child slot.
	require.Equal(t, Hash256{9}, eb.Child(0).Hash(0))
}
