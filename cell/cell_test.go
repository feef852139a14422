package cell

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelMask_LevelAndWithLevel(t *testing.T) {
	require.Equal(t, 0, LevelMask(0).Level())
	require.Equal(t, 1, LevelMask(1).Level())
	require.Equal(t, 2, LevelMask(0b11).Level())
	require.Equal(t, 3, LevelMask(0b111).Level())

	require.Equal(t, LevelMask(0), WithLevel(0))
	require.Equal(t, LevelMask(0b1), WithLevel(1))
	require.Equal(t, LevelMask(0b11), WithLevel(2))
	require.Equal(t, LevelMask(0b111), WithLevel(3))
}

func TestType_ExoticAndString(t *testing.T) {
	require.False(t, TypeOrdinary.IsExotic())
	require.True(t, TypeMerkleProof.IsExotic())
	require.Equal(t, "Ordinary", TypeOrdinary.String())
	require.Equal(t, "PrunedBranch", TypePrunedBranch.String())
	require.Equal(t, "Unknown", typeUnknown.String())
}

// TestEmptyOrdinaryCellHash: for an
// Ordinary cell with no children and bit_len=0, the repr hash equals
// SHA-256 of the descriptor bytes alone.
func TestEmptyOrdinaryCellHash(t *testing.T) {
	d1, d2 := DescriptorBytes(0, false, WithLevel(0), 0)
	require.Equal(t, byte(0), d1)
	require.Equal(t, byte(0), d2)

	want := sha256.Sum256([]byte{d1, d2})

	c := &Cell{
		Type:       TypeOrdinary,
		BitLen:     0,
		Data:       nil,
		LevelMask:  0,
		HashCount:  1,
		DepthCount: 1,
	}
	c.Hashes[0] = Hash256(want)
	require.Equal(t, Hash256(want), c.ReprHash())
}

func TestCell_DataSize(t *testing.T) {
	c := &Cell{BitLen: 0}
	require.Equal(t, 0, c.DataSize())
	c.BitLen = 1
	require.Equal(t, 1, c.DataSize())
	c.BitLen = 8
	require.Equal(t, 1, c.DataSize())
	c.BitLen = 9
	require.Equal(t, 2, c.DataSize())
	c.BitLen = 1023
	require.Equal(t, 128, c.DataSize())
}

func TestCell_HashAtClamping(t *testing.T) {
	c := &Cell{Type: TypeOrdinary, HashCount: 2}
	c.Hashes[0] = Hash256{1}
	c.Hashes[1] = Hash256{2}
	require.Equal(t, Hash256{1}, c.HashAt(0))
	require.Equal(t, Hash256{2}, c.HashAt(1))
	require.Equal(t, Hash256{2}, c.HashAt(3)) // clamps to highest computed hash
}
