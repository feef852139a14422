package blockindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/kv"
)

func mkHandle(workchain int32, shardTag uint64, seqNo uint32, genLt uint64, genUtime uint32) *BlockHandle {
	id := common.BlockID{
		Shard: common.ShardIdent{WorkchainID: workchain, ShardTag: shardTag},
		SeqNo: seqNo,
	}
	id.RootHash[0] = byte(seqNo)
	return NewBlockHandle(id, genUtime, genLt)
}

func TestBlockIndexDB_AddHandle(t *testing.T) {
	db, err := New(kv.NewMemDatabase())
	require.NoError(t, err)

	h1 := mkHandle(0, common.FullShardID, 1000, 100, 1000)
	require.NoError(t, db.AddHandle(h1))

	// idempotent re-add with the same seq_no.
	require.NoError(t, db.AddHandle(h1))

	h2 := mkHandle(0, common.FullShardID, 999, 90, 900)
	err = db.AddHandle(h2)
	require.ErrorIs(t, err, ErrAscendingOrderRequired)

	h3 := mkHandle(0, common.FullShardID, 1001, 110, 1100)
	require.NoError(t, db.AddHandle(h3))
}

func TestBlockIndexDB_UnsplitShardLookup(t *testing.T) {
	db, err := New(kv.NewMemDatabase())
	require.NoError(t, err)

	h1 := mkHandle(0, common.FullShardID, 1000, 1000, 10000)
	require.NoError(t, db.AddHandle(h1))

	got, err := db.GetBlockBySeqNo(0, 0xabcd<<48, 1000)
	require.NoError(t, err)
	require.Equal(t, h1.ID(), got)

	_, err = db.GetBlockBySeqNo(0, 0xabcd<<48, 100)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestBlockIndexDB_SplitShardLookup(t *testing.T) {
	db, err := New(kv.NewMemDatabase())
	require.NoError(t, err)

	left := mkHandle(0, 0x4000_0000_0000_0000, 1000, 100, 1000)
	right := mkHandle(0, 0xC000_0000_0000_0000, 1001, 110, 1100)
	require.NoError(t, db.AddHandle(left))
	require.NoError(t, db.AddHandle(right))

	// An account prefix in the left half resolves through the left
	// shard's index.
	got, err := db.GetBlockBySeqNo(0, 0x1234<<44, 1000)
	require.NoError(t, err)
	require.Equal(t, left.ID(), got)

	got, err = db.GetBlockBySeqNo(0, 0x8000_0000_0000_0001, 1001)
	require.NoError(t, err)
	require.Equal(t, right.ID(), got)

	// A seq_no below everything on record is an exact-lookup miss.
	_, err = db.GetBlockBySeqNo(0, 0x1234<<44, 100)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestBlockHandle_RefSeqnoIdempotence(t *testing.T) {
	id := common.BlockID{Shard: common.ShardIdent{WorkchainID: 0, ShardTag: 1 << 62}, SeqNo: 1}
	h := NewBlockHandle(id, 0, 0)

	set, err := h.SetMasterchainRefSeqno(42)
	require.NoError(t, err)
	require.True(t, set)

	set, err = h.SetMasterchainRefSeqno(42)
	require.NoError(t, err)
	require.False(t, set)

	_, err = h.SetMasterchainRefSeqno(43)
	require.ErrorIs(t, err, ErrRefSeqnoAlreadySet)
}

func TestBlockIndexDB_GC(t *testing.T) {
	db, err := New(kv.NewMemDatabase())
	require.NoError(t, err)

	h1 := mkHandle(0, common.FullShardID, 1000, 100, 1000)
	h2 := mkHandle(0, common.FullShardID, 1001, 110, 1100)
	require.NoError(t, db.AddHandle(h1))
	require.NoError(t, db.AddHandle(h2))

	require.NoError(t, db.GC([]common.BlockID{h2.ID()}))

	_, err = db.LoadHandle(h2.ID())
	require.ErrorIs(t, err, ErrBlockNotFound)

	got, err := db.GetBlockBySeqNo(0, common.FullShardID, 1000)
	require.NoError(t, err)
	require.Equal(t, h1.ID(), got)
}

func TestBlockIndexDB_GC_AscendingOrderViolationFails(t *testing.T) {
	db, err := New(kv.NewMemDatabase())
	require.NoError(t, err)

	h1 := mkHandle(0, common.FullShardID, 1000, 100, 1000)
	require.NoError(t, db.AddHandle(h1))

	// GC target that doesn't match the shard's current last_seq_no must
	// fail loudly rather than silently succeed.
	stale := mkHandle(0, common.FullShardID, 999, 90, 900)
	err = db.GC([]common.BlockID{stale.ID()})
	require.ErrorIs(t, err, ErrAscendingOrderRequired)
}
