package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockID_BytesRoundTrip(t *testing.T) {
	id := BlockID{
		Shard:    ShardIdent{WorkchainID: 0, ShardTag: FullShardID},
		SeqNo:    12345,
		RootHash: Hash256{1, 2, 3},
		FileHash: Hash256{4, 5, 6},
	}
	b := id.Bytes()
	require.Len(t, b, BlockIDSize)

	got, err := ParseBlockID(b)
	require.NoError(t, err)
	require.True(t, id.Equal(got))
}

func TestParseBlockID_BadLength(t *testing.T) {
	_, err := ParseBlockID([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestBlockID_IsMasterchain(t *testing.T) {
	id := BlockID{Shard: MasterchainShard}
	require.True(t, id.IsMasterchain())

	id.Shard.WorkchainID = 0
	require.False(t, id.IsMasterchain())
}

func TestBlockID_Equal(t *testing.T) {
	a := BlockID{Shard: MasterchainShard, SeqNo: 1, RootHash: Hash256{1}, FileHash: Hash256{2}}
	b := a
	require.True(t, a.Equal(b))
	b.SeqNo = 2
	require.False(t, a.Equal(b))
}
