package replacetransaction

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/tonstate/cell"
	"github.com/ledgerwatch/tonstate/cellstorage"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/kv"
)

// boc builds a minimal single-root bag of cells: refSize=1, offsetSize=1,
// no CRC, one root, and the given already-encoded stored-cell records
// (tail-first order doesn't matter here, only the reader's forward
// stream order does).
func boc(records ...[]byte) []byte {
	var buf []byte
	buf = append(buf, 0xb5, 0xee, 0x9c, 0x72) // magic
	buf = append(buf, 0x01)                   // flags: refSize=1, no idx, no crc
	buf = append(buf, 0x01)                   // offsetSize
	buf = append(buf, byte(len(records)))     // cellCount
	buf = append(buf, 0x01)                   // rootCount
	buf = append(buf, 0x00)                   // absent count
	buf = append(buf, 0x00)                   // tot_cells_size (unused by reader)
	buf = append(buf, 0x00)                   // root index
	for _, r := range records {
		buf = append(buf, r...)
	}
	return buf
}

func newTestTransaction(t *testing.T) (*Transaction, kv.Database, *cellstorage.CellStorage) {
	t.Helper()
	db := kv.NewMemDatabase()
	cs, err := cellstorage.New(db)
	require.NoError(t, err)
	tx, err := New(db, cs, 0, 1, t.TempDir())
	require.NoError(t, err)
	return tx, db, cs
}

// TestReplaceTransaction_SingleEmptyOrdinaryCell exercises the full
// forward+backward pipeline on a one-cell snapshot and checks its repr
// hash: for an empty Ordinary cell it is the SHA-256 of the two
// descriptor bytes alone.
func TestReplaceTransaction_SingleEmptyOrdinaryCell(t *testing.T) {
	tx, _, _ := newTestTransaction(t)

	record := []byte{0x00, 0x00} // d1=0 (no refs, not exotic, mask=0), d2=0 (bit_len=0)
	data := boc(record)

	done, err := tx.ProcessPacket(context.Background(), data, nil)
	require.NoError(t, err)
	require.True(t, done)

	// Re-entry after completion stays idempotent.
	done, err = tx.ProcessPacket(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, done)

	blockID := common.BlockID{Shard: common.MasterchainShard, SeqNo: 1}
	stuff, err := tx.Finalize(context.Background(), blockID, nil)
	require.NoError(t, err)
	require.NotNil(t, stuff.RootCell)

	want := sha256.Sum256([]byte{0x00, 0x00})
	require.Equal(t, cell.Hash256(want), stuff.RootCell.ReprHash())
	require.Equal(t, blockID, stuff.BlockID)
}

// TestReplaceTransaction_ParentChild verifies a two-cell snapshot where
// the root references a single leaf: the leaf (higher index) is
// serialized after the root in forward stream order (children come
// after parents in the serialized order), and the
// finalizer resolves the leaf's hash before finalizing the root.
func TestReplaceTransaction_ParentChild(t *testing.T) {
	tx, _, cs := newTestTransaction(t)

	leaf := []byte{0x00, 0x00}       // cell index 1: empty ordinary leaf
	root := []byte{0x01, 0x00, 0x01} // cell index 0: 1 ref -> child index 1
	data := boc(root, leaf)

	done, err := tx.ProcessPacket(context.Background(), data, nil)
	require.NoError(t, err)
	require.True(t, done)

	blockID := common.BlockID{Shard: common.MasterchainShard, SeqNo: 2}
	stuff, err := tx.Finalize(context.Background(), blockID, nil)
	require.NoError(t, err)

	leafWant := sha256.Sum256([]byte{0x00, 0x00})
	require.Equal(t, cell.Hash256(leafWant), stuff.RootCell.Refs[0])

	// The leaf must itself be loadable from cell storage (content
	// addressed, written during finalize).
	loaded, err := cs.Load(cell.Hash256(leafWant))
	require.NoError(t, err)
	require.Equal(t, uint16(0), loaded.BitLen)
}

// TestReplaceTransaction_InvalidChildOrder: a reference index that does
// not exceed its parent's own index is an invalid cell.
func TestReplaceTransaction_InvalidChildOrder(t *testing.T) {
	tx, _, _ := newTestTransaction(t)

	// A single-cell snapshot whose only cell claims a self-reference
	// (ref index 0, which is not greater than its own index 0).
	bad := []byte{0x01, 0x00, 0x00}
	data := boc(bad)

	done, err := tx.ProcessPacket(context.Background(), data, nil)
	require.NoError(t, err)
	require.True(t, done)

	blockID := common.BlockID{Shard: common.MasterchainShard, SeqNo: 3}
	_, err = tx.Finalize(context.Background(), blockID, nil)
	require.ErrorIs(t, err, ErrInvalidCell)
}

func TestReplaceTransaction_StreamedAcrossPackets(t *testing.T) {
	tx, _, _ := newTestTransaction(t)

	record := []byte{0x00, 0x00}
	full := boc(record)

	// Feed the header and the single record byte by byte, simulating
	// packets arriving in small fragments.
	var done bool
	var err error
	for i := 0; i < len(full); i++ {
		done, err = tx.ProcessPacket(context.Background(), full[i:i+1], nil)
		require.NoError(t, err)
		if i < len(full)-1 {
			require.False(t, done)
		}
	}
	require.True(t, done)

	blockID := common.BlockID{Shard: common.MasterchainShard, SeqNo: 4}
	stuff, err := tx.Finalize(context.Background(), blockID, nil)
	require.NoError(t, err)
	want := sha256.Sum256([]byte{0x00, 0x00})
	require.Equal(t, cell.Hash256(want), stuff.RootCell.ReprHash())
}
