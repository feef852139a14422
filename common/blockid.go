package common

import (
	"encoding/binary"
	"fmt"
)

// HashSize is the width of a SHA-256 digest, used for both repr hashes
// and block root/file hashes.
const HashSize = 32

// Hash256 is a content-addressed 32-byte digest.
type Hash256 [HashSize]byte

func (h Hash256) String() string {
	return fmt.Sprintf("%x", [HashSize]byte(h))
}

// BlockID identifies one block: its shard, sequence number, and the two
// hashes that pin down its content (root hash of the block's cell tree,
// file hash of its serialized bytes).
type BlockID struct {
	Shard     ShardIdent
	SeqNo     uint32
	RootHash  Hash256
	FileHash  Hash256
}

// BlockIDSize is the length of BlockID.Bytes(): 4B workchain LE + 8B
// shard tag LE + 4B seq_no LE + 32B root hash + 32B file hash.
const BlockIDSize = 4 + 8 + 4 + HashSize + HashSize

// Bytes serializes a BlockID in the fixed little-endian index-key layout.
func (id BlockID) Bytes() []byte {
	b := make([]byte, BlockIDSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(id.Shard.WorkchainID))
	binary.LittleEndian.PutUint64(b[4:12], id.Shard.ShardTag)
	binary.LittleEndian.PutUint32(b[12:16], id.SeqNo)
	copy(b[16:16+HashSize], id.RootHash[:])
	copy(b[16+HashSize:16+2*HashSize], id.FileHash[:])
	return b
}

// ParseBlockID is the inverse of BlockID.Bytes.
func ParseBlockID(b []byte) (BlockID, error) {
	if len(b) != BlockIDSize {
		return BlockID{}, fmt.Errorf("common: bad block id length %d", len(b))
	}
	var id BlockID
	id.Shard.WorkchainID = int32(binary.LittleEndian.Uint32(b[0:4]))
	id.Shard.ShardTag = binary.LittleEndian.Uint64(b[4:12])
	id.SeqNo = binary.LittleEndian.Uint32(b[12:16])
	copy(id.RootHash[:], b[16:16+HashSize])
	copy(id.FileHash[:], b[16+HashSize:16+2*HashSize])
	return id, nil
}

// IsMasterchain reports whether id belongs to the masterchain.
func (id BlockID) IsMasterchain() bool {
	return id.Shard.IsMasterchain()
}

func (id BlockID) String() string {
	return fmt.Sprintf("(%s, seqno=%d, rh=%s)", id.Shard, id.SeqNo, id.RootHash)
}

// Equal reports structural equality between two BlockIDs.
func (id BlockID) Equal(other BlockID) bool {
	return id.Shard == other.Shard && id.SeqNo == other.SeqNo &&
		id.RootHash == other.RootHash && id.FileHash == other.FileHash
}

// ShardStateKey returns the ShardStateDBBucket key for (shard, seq_no).
func (id BlockID) ShardStateKey() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], id.Shard.ShardTag)
	binary.LittleEndian.PutUint32(b[8:12], uint32(id.Shard.WorkchainID))
	binary.LittleEndian.PutUint32(b[12:16], id.SeqNo)
	return b
}
