package topblocks

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/tonstate/common"
)

func TestTopBlocks_SplitAndMergedShards(t *testing.T) {
	left, right := common.MasterchainShard.Split()
	left.WorkchainID, right.WorkchainID = 0, 0

	heights := map[common.ShardIdent]uint32{
		left:  1000,
		right: 1001,
	}
	tb := New(common.BlockID{Shard: common.MasterchainShard, SeqNo: 100}, heights)

	// Exact miss on the right shard below its recorded height.
	require.False(t, tb.ContainsShardSeqNo(right, 100))
	require.True(t, tb.ContainsShardSeqNo(right, 1001))

	// Merged shard (unsplit) intersects both recorded heights; either
	// recorded height may be picked depending on map iteration order,
	// but a too-low seq_no must never be accepted.
	merged := common.ShardIdent{WorkchainID: 0, ShardTag: common.FullShardID}
	require.False(t, tb.ContainsShardSeqNo(merged, 100))
	require.True(t, tb.ContainsShardSeqNo(merged, 10000))

	// Masterchain compares directly against McBlock.
	require.False(t, tb.ContainsShardSeqNo(common.MasterchainShard, 99))
	require.True(t, tb.ContainsShardSeqNo(common.MasterchainShard, 100))
}

func TestTopBlocks_RoundTrip(t *testing.T) {
	left, right := common.MasterchainShard.Split()
	left.WorkchainID, right.WorkchainID = 0, 0

	tb := New(common.BlockID{Shard: common.MasterchainShard, SeqNo: 42}, map[common.ShardIdent]uint32{
		left:  1,
		right: 2,
	})

	got, err := Parse(tb.Bytes())
	require.NoError(t, err)
	require.Equal(t, tb.McBlock, got.McBlock)
	require.Equal(t, tb.ShardHeights, got.ShardHeights)
}
