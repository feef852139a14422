// Package topblocks carries the split/merge-aware "have we already
// superseded this shard block" check and the binary codec of a
// TopBlocks record. The archive sync pipeline does not consult it.
package topblocks

import (
	"encoding/binary"
	"fmt"

	"github.com/ledgerwatch/tonstate/common"
)

// TopBlocks stores the last applied block for the masterchain block
// itself plus every shard referenced by it.
type TopBlocks struct {
	McBlock      common.BlockID
	ShardHeights map[common.ShardIdent]uint32
}

// New builds a TopBlocks from a masterchain block id and the shard
// heights it references.
func New(mcBlock common.BlockID, shardHeights map[common.ShardIdent]uint32) *TopBlocks {
	return &TopBlocks{McBlock: mcBlock, ShardHeights: shardHeights}
}

// Contains reports whether id is equal to or newer than the last known
// block for its shard.
func (t *TopBlocks) Contains(id common.BlockID) bool {
	return t.ContainsShardSeqNo(id.Shard, id.SeqNo)
}

// ContainsShardSeqNo is Contains split out to (shard, seq_no): the
// masterchain case compares directly against McBlock; otherwise an
// exact shard_heights hit is used if present, else the first
// intersecting shard (covers a shard that has since split or merged
// relative to what was recorded).
func (t *TopBlocks) ContainsShardSeqNo(shard common.ShardIdent, seqNo uint32) bool {
	if shard.IsMasterchain() {
		return seqNo >= t.McBlock.SeqNo
	}
	if topSeqNo, ok := t.ShardHeights[shard]; ok {
		return seqNo >= topSeqNo
	}
	for s, topSeqNo := range t.ShardHeights {
		if shard.Intersects(s) {
			return seqNo >= topSeqNo
		}
	}
	return false
}

// Bytes serializes t as the mc block id, a u32 LE shard count, then
// one (shard, seq_no LE) record per shard.
func (t *TopBlocks) Bytes() []byte {
	b := make([]byte, 0, common.BlockIDSize+4+len(t.ShardHeights)*20)
	b = append(b, t.McBlock.Bytes()...)
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(t.ShardHeights)))
	b = append(b, count...)
	for shard, seqNo := range t.ShardHeights {
		b = append(b, shard.Key()...)
		rec := make([]byte, 4)
		binary.LittleEndian.PutUint32(rec, seqNo)
		b = append(b, rec...)
	}
	return b
}

// Parse is the inverse of Bytes.
func Parse(b []byte) (*TopBlocks, error) {
	if len(b) < common.BlockIDSize+4 {
		return nil, fmt.Errorf("topblocks: truncated record")
	}
	mcBlock, err := common.ParseBlockID(b[:common.BlockIDSize])
	if err != nil {
		return nil, err
	}
	i := common.BlockIDSize
	count := binary.LittleEndian.Uint32(b[i:])
	i += 4

	heights := make(map[common.ShardIdent]uint32, count)
	for n := uint32(0); n < count; n++ {
		if i+12+4 > len(b) {
			return nil, fmt.Errorf("topblocks: truncated shard record %d", n)
		}
		shard, err := common.ParseShardKey(b[i : i+12])
		if err != nil {
			return nil, err
		}
		i += 12
		seqNo := binary.LittleEndian.Uint32(b[i:])
		i += 4
		heights[shard] = seqNo
	}
	return &TopBlocks{McBlock: mcBlock, ShardHeights: heights}, nil
}
