// Package blockindex holds the per-block metadata (block meta / block
// handle) and the secondary lookup index by logical time, wall-clock
// time and sequence number.
package blockindex

import (
	"encoding/binary"
	"sync/atomic"
)

// Meta flag bits, stored as one atomic word so every setter is a CAS.
const (
	metaHasData uint32 = 1 << iota
	metaHasProof
	metaHasProofLink
	metaHasState
	metaIsApplied
	metaIsKeyBlock
)

// BlockMeta bundles the flag bits with gen_utime/gen_lt and the
// masterchain ref seqno. Flags are a single atomic word so every
// set_* is a lock-free CAS; GenUtime/GenLt are set once at construction
// and never change afterward, so they need no synchronization of their
// own. masterchainRefSeqno is its own atomic word because it has a
// distinct CAS contract (see SetMasterchainRefSeqno).
type BlockMeta struct {
	flags               uint32
	genUtime            uint32
	genLt               uint64
	masterchainRefSeqno uint32
}

// NewBlockMeta builds a fresh, all-zero BlockMeta for genUtime/genLt.
func NewBlockMeta(genUtime uint32, genLt uint64) *BlockMeta {
	return &BlockMeta{genUtime: genUtime, genLt: genLt}
}

func (m *BlockMeta) setFlag(bit uint32) (changed bool) {
	for {
		old := atomic.LoadUint32(&m.flags)
		if old&bit != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&m.flags, old, old|bit) {
			return true
		}
	}
}

func (m *BlockMeta) hasFlag(bit uint32) bool {
	return atomic.LoadUint32(&m.flags)&bit != 0
}

func (m *BlockMeta) SetHasData() bool      { return m.setFlag(metaHasData) }
func (m *BlockMeta) HasData() bool         { return m.hasFlag(metaHasData) }
func (m *BlockMeta) SetHasProof() bool     { return m.setFlag(metaHasProof) }
func (m *BlockMeta) HasProof() bool        { return m.hasFlag(metaHasProof) }
func (m *BlockMeta) SetHasProofLink() bool { return m.setFlag(metaHasProofLink) }
func (m *BlockMeta) HasProofLink() bool    { return m.hasFlag(metaHasProofLink) }
func (m *BlockMeta) SetHasState() bool     { return m.setFlag(metaHasState) }
func (m *BlockMeta) HasState() bool        { return m.hasFlag(metaHasState) }
func (m *BlockMeta) SetIsApplied() bool    { return m.setFlag(metaIsApplied) }
func (m *BlockMeta) IsApplied() bool       { return m.hasFlag(metaIsApplied) }
func (m *BlockMeta) SetIsKeyBlock() bool   { return m.setFlag(metaIsKeyBlock) }
func (m *BlockMeta) IsKeyBlock() bool      { return m.hasFlag(metaIsKeyBlock) }

func (m *BlockMeta) GenUtime() uint32 { return m.genUtime }
func (m *BlockMeta) GenLt() uint64    { return m.genLt }

// MasterchainRefSeqno returns the currently stored ref seqno (0 if
// unset).
func (m *BlockMeta) MasterchainRefSeqno() uint32 {
	return atomic.LoadUint32(&m.masterchainRefSeqno)
}

// trySetMasterchainRefSeqno is the CAS primitive behind
// BlockHandle.SetMasterchainRefSeqno: it returns the value that was
// stored *before* this call (0 means "we just set it").
func (m *BlockMeta) trySetMasterchainRefSeqno(seqno uint32) uint32 {
	for {
		old := atomic.LoadUint32(&m.masterchainRefSeqno)
		if old != 0 {
			return old
		}
		if atomic.CompareAndSwapUint32(&m.masterchainRefSeqno, 0, seqno) {
			return 0
		}
	}
}

// MetaSize is the serialized width of a BlockMeta record.
const MetaSize = 4 + 4 + 8 + 4

// Bytes serializes the meta's flags/gen_utime/gen_lt/ref_seqno.
func (m *BlockMeta) Bytes() []byte {
	b := make([]byte, MetaSize)
	binary.LittleEndian.PutUint32(b[0:4], atomic.LoadUint32(&m.flags))
	binary.LittleEndian.PutUint32(b[4:8], m.genUtime)
	binary.LittleEndian.PutUint64(b[8:16], m.genLt)
	binary.LittleEndian.PutUint32(b[16:20], atomic.LoadUint32(&m.masterchainRefSeqno))
	return b
}

// ParseBlockMeta is the inverse of BlockMeta.Bytes.
func ParseBlockMeta(b []byte) *BlockMeta {
	m := &BlockMeta{}
	m.flags = binary.LittleEndian.Uint32(b[0:4])
	m.genUtime = binary.LittleEndian.Uint32(b[4:8])
	m.genLt = binary.LittleEndian.Uint64(b[8:16])
	m.masterchainRefSeqno = binary.LittleEndian.Uint32(b[16:20])
	return m
}
