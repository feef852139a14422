package boot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/tonstate/blockindex"
	"github.com/ledgerwatch/tonstate/common"
)

// fakeNode is a minimal, in-memory Node used to drive warm/cold boot
// through their control flow without any real networking or proof
// cryptography.
type fakeNode struct {
	handles map[common.BlockID]*blockindex.BlockHandle

	lastApplied  *common.BlockID
	shardsClient *common.BlockID
	initBlockID  common.BlockID
	highKeyBlock *common.BlockID

	lastKeyBlockID common.BlockID

	zeroStateBytes []byte
	nextKeyBlocks  map[common.BlockID][]common.BlockID
	keyBlockProofs map[common.BlockID][]byte
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		handles:        make(map[common.BlockID]*blockindex.BlockHandle),
		nextKeyBlocks:  make(map[common.BlockID][]common.BlockID),
		keyBlockProofs: make(map[common.BlockID][]byte),
	}
}

func (n *fakeNode) LoadBlockHandle(id common.BlockID) (*blockindex.BlockHandle, bool, error) {
	h, ok := n.handles[id]
	return h, ok, nil
}

func (n *fakeNode) LoadLastKeyBlockID(ctx context.Context, mcBlockID common.BlockID) (common.BlockID, error) {
	return n.lastKeyBlockID, nil
}

func (n *fakeNode) InitMcBlockID() common.BlockID      { return n.initBlockID }
func (n *fakeNode) SetInitMcBlockID(id common.BlockID) { n.initBlockID = id }

func (n *fakeNode) DownloadBlockProof(ctx context.Context, id common.BlockID, asLink bool) ([]byte, error) {
	return n.keyBlockProofs[id], nil
}
func (n *fakeNode) CheckProofLink(proof []byte) error                         { return nil }
func (n *fakeNode) CheckWithPrevKeyBlockProof(proof, prevProof []byte) error  { return nil }
func (n *fakeNode) CheckWithMasterState(proof []byte, zeroState []byte) error { return nil }
func (n *fakeNode) StoreBlockProof(ctx context.Context, id common.BlockID, handle *blockindex.BlockHandle, proof []byte) (*blockindex.BlockHandle, error) {
	if handle == nil {
		handle = n.handles[id]
	}
	return handle, nil
}
func (n *fakeNode) IsHardFork(id common.BlockID) bool { return false }
func (n *fakeNode) DownloadNextKeyBlockIDs(ctx context.Context, after common.BlockID) ([]common.BlockID, error) {
	return n.nextKeyBlocks[after], nil
}

func (n *fakeNode) DownloadZeroState(ctx context.Context, id common.BlockID) ([]byte, error) {
	return n.zeroStateBytes, nil
}
func (n *fakeNode) StoreZeroState(ctx context.Context, id common.BlockID, state []byte) (*blockindex.BlockHandle, error) {
	h := blockindex.NewBlockHandle(id, uint32(time.Now().Unix()-500), 0)
	h.Meta().SetHasState()
	n.handles[id] = h
	return h, nil
}
func (n *fakeNode) BaseWorkchainZeroStateID(ctx context.Context, masterchainZeroState []byte) (common.BlockID, error) {
	return common.BlockID{Shard: common.ShardIdent{WorkchainID: 0, ShardTag: common.FullShardID}}, nil
}

func (n *fakeNode) DownloadBlockAndState(ctx context.Context, id, masterchainBlockID common.BlockID) (*blockindex.BlockHandle, error) {
	h := blockindex.NewBlockHandle(id, 1000, 0)
	n.handles[id] = h
	return h, nil
}
func (n *fakeNode) ShardBlockIDs(ctx context.Context, mcBlockID common.BlockID) ([]common.BlockID, error) {
	return nil, nil
}

func (n *fakeNode) SetApplied(ctx context.Context, handle *blockindex.BlockHandle, masterchainSeqNo uint32) error {
	handle.Meta().SetIsApplied()
	return nil
}

func (n *fakeNode) LoadLastAppliedMcBlockID() (common.BlockID, bool, error) {
	if n.lastApplied == nil {
		return common.BlockID{}, false, nil
	}
	return *n.lastApplied, true, nil
}
func (n *fakeNode) StoreLastAppliedMcBlockID(id common.BlockID) error {
	n.lastApplied = &id
	return nil
}
func (n *fakeNode) LoadShardsClientMcBlockID() (common.BlockID, bool, error) {
	if n.shardsClient == nil {
		return common.BlockID{}, false, nil
	}
	return *n.shardsClient, true, nil
}
func (n *fakeNode) StoreShardsClientMcBlockID(id common.BlockID) error {
	n.shardsClient = &id
	return nil
}
func (n *fakeNode) StoreHighKeyBlock(id common.BlockID) error {
	n.highKeyBlock = &id
	return nil
}

func mcBlockID(seqNo uint32) common.BlockID {
	return common.BlockID{Shard: common.MasterchainShard, SeqNo: seqNo}
}

func TestWarmBoot_AlreadyKeyBlock(t *testing.T) {
	node := newFakeNode()
	id := mcBlockID(100)
	h := blockindex.NewBlockHandle(id, 5000, 0)
	h.Meta().SetIsKeyBlock()
	node.handles[id] = h
	node.lastApplied = &id

	data, err := Boot(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, id, data.LastMcBlockID)
	require.Equal(t, id, data.ShardsClientMcBlockID)
}

func TestWarmBoot_WalksToLastKeyBlock(t *testing.T) {
	node := newFakeNode()
	id := mcBlockID(100)
	h := blockindex.NewBlockHandle(id, 5000, 0)
	node.handles[id] = h
	node.lastApplied = &id

	keyBlockID := mcBlockID(50)
	node.lastKeyBlockID = keyBlockID

	data, err := Boot(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, keyBlockID, data.LastMcBlockID)
}

func TestWarmBoot_MissingHandleFails(t *testing.T) {
	node := newFakeNode()
	id := mcBlockID(100)
	node.lastApplied = &id

	_, err := Boot(context.Background(), node)
	require.ErrorIs(t, err, ErrFailedToLoadInitialBlock)
}

func TestColdBoot_ZeroStatePath(t *testing.T) {
	node := newFakeNode()
	node.initBlockID = mcBlockID(0)
	node.zeroStateBytes = []byte("zero-state")

	data, err := Boot(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, uint32(0), data.LastMcBlockID.SeqNo)
	require.NotNil(t, node.highKeyBlock)
}

func TestIsPersistentState(t *testing.T) {
	require.False(t, isPersistentState(100, 50))
	require.True(t, isPersistentState(KeyBlockUtimeStep+1, 0))
}
