package blockindex

import (
	"errors"
	"sync"

	"github.com/ledgerwatch/tonstate/common"
)

// ErrRefSeqnoAlreadySet is returned when SetMasterchainRefSeqno is
// called with a value that differs from one already recorded.
var ErrRefSeqnoAlreadySet = errors.New("blockindex: masterchain ref seqno already set to a different value")

// BlockHandle is the per-block handle: an id, its
// meta bits, and two orthogonal RW locks guarding the external
// block/proof file bodies that live outside the KV engine.
type BlockHandle struct {
	id   common.BlockID
	meta *BlockMeta

	blockFileLock sync.RWMutex
	proofFileLock sync.RWMutex
}

// NewBlockHandle builds a fresh handle for id with zeroed meta.
func NewBlockHandle(id common.BlockID, genUtime uint32, genLt uint64) *BlockHandle {
	return &BlockHandle{id: id, meta: NewBlockMeta(genUtime, genLt)}
}

// NewBlockHandleWithMeta rebuilds a handle from a previously persisted
// meta record (e.g. after loading BlockHandlesBucket).
func NewBlockHandleWithMeta(id common.BlockID, meta *BlockMeta) *BlockHandle {
	return &BlockHandle{id: id, meta: meta}
}

func (h *BlockHandle) ID() common.BlockID { return h.id }
func (h *BlockHandle) Meta() *BlockMeta   { return h.meta }

// BlockFileLock returns the RWMutex guarding this handle's external
// block-body file.
func (h *BlockHandle) BlockFileLock() *sync.RWMutex { return &h.blockFileLock }

// ProofFileLock returns the RWMutex guarding this handle's external
// proof-body file.
func (h *BlockHandle) ProofFileLock() *sync.RWMutex { return &h.proofFileLock }

// HasProofOrLink reports whether the block has a proof (masterchain
// blocks) or a proof link (shard blocks), and reports via isLink which
// of the two was checked.
func (h *BlockHandle) HasProofOrLink() (hasProofOrLink, isLink bool) {
	isLink = !h.id.IsMasterchain()
	if isLink {
		return h.meta.HasProofLink(), true
	}
	return h.meta.HasProof(), false
}

// MasterchainRefSeqno returns this block's own seqno if it is a
// masterchain block, else the meta-stored ref seqno of the masterchain
// block that applied it.
func (h *BlockHandle) MasterchainRefSeqno() uint32 {
	if h.id.IsMasterchain() {
		return h.id.SeqNo
	}
	return h.meta.MasterchainRefSeqno()
}

// SetMasterchainRefSeqno records the masterchain seqno that first
// referenced (applied) this shard block. Returns true the first time it
// is set, false on an idempotent repeat with the same value, and
// ErrRefSeqnoAlreadySet if a different value was already recorded.
func (h *BlockHandle) SetMasterchainRefSeqno(seqno uint32) (bool, error) {
	switch prev := h.meta.trySetMasterchainRefSeqno(seqno); {
	case prev == 0:
		return true, nil
	case prev == seqno:
		return false, nil
	default:
		return false, ErrRefSeqnoAlreadySet
	}
}
