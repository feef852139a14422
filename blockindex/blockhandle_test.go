package blockindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/tonstate/common"
)

// TestSetMasterchainRefSeqno_Idempotence: setting
// the same value twice returns true then false; setting a different
// value afterward fails with ErrRefSeqnoAlreadySet.
func TestSetMasterchainRefSeqno_Idempotence(t *testing.T) {
	h := NewBlockHandle(common.BlockID{Shard: common.ShardIdent{WorkchainID: 0, ShardTag: common.FullShardID}}, 0, 0)

	first, err := h.SetMasterchainRefSeqno(42)
	require.NoError(t, err)
	require.True(t, first)

	second, err := h.SetMasterchainRefSeqno(42)
	require.NoError(t, err)
	require.False(t, second)

	_, err = h.SetMasterchainRefSeqno(43)
	require.ErrorIs(t, err, ErrRefSeqnoAlreadySet)
}

func TestMasterchainRefSeqno_MasterchainReturnsOwnSeqno(t *testing.T) {
	id := common.BlockID{Shard: common.MasterchainShard, SeqNo: 777}
	h := NewBlockHandle(id, 0, 0)
	require.Equal(t, uint32(777), h.MasterchainRefSeqno())
}

func TestHasProofOrLink_MasterchainVsShard(t *testing.T) {
	mc := NewBlockHandle(common.BlockID{Shard: common.MasterchainShard}, 0, 0)
	mc.Meta().SetHasProof()
	has, isLink := mc.HasProofOrLink()
	require.True(t, has)
	require.False(t, isLink)

	shard := NewBlockHandle(common.BlockID{Shard: common.ShardIdent{WorkchainID: 0, ShardTag: common.FullShardID}}, 0, 0)
	shard.Meta().SetHasProofLink()
	has, isLink = shard.HasProofOrLink()
	require.True(t, has)
	require.True(t, isLink)
}

func TestBlockMeta_BytesRoundTrip(t *testing.T) {
	m := NewBlockMeta(100, 200)
	m.SetHasData()
	m.SetIsKeyBlock()
	m.trySetMasterchainRefSeqno(55)

	got := ParseBlockMeta(m.Bytes())
	require.True(t, got.HasData())
	require.True(t, got.IsKeyBlock())
	require.False(t, got.HasState())
	require.Equal(t, uint32(100), got.GenUtime())
	require.Equal(t, uint64(200), got.GenLt())
	require.Equal(t, uint32(55), got.MasterchainRefSeqno())
}

func TestBlockMeta_SetFlagReturnsChangedOnce(t *testing.T) {
	m := NewBlockMeta(0, 0)
	require.True(t, m.SetHasData())
	require.False(t, m.SetHasData())
	require.True(t, m.HasData())
}
