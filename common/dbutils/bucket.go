// Package dbutils names the on-disk KV columns and the byte layout of
// their keys.
package dbutils

import "encoding/binary"

// Columns (LMDB buckets). Physical key/value layouts are noted per
// bucket below.
var (
	// CellDBBucket: key = 32-byte repr hash, value = serialized cell
	// (see cellstorage package for the exact layout). One entry per
	// distinct cell content; identical subtrees collapse onto one key.
	CellDBBucket = "cell_db"

	// CellDBAdditionalBucket shadows CellDBBucket with the GC marker
	// byte only, keyed the same way, so a mark-sweep can scan markers
	// without touching the (larger) cell payloads.
	CellDBAdditionalBucket = "cell_db_additional"

	// ShardStateDBBucket: key = shard_id(8B LE shard tag, 4B LE
	// workchain, 4B LE seq_no) -> value = 32-byte repr hash of the
	// root cell for that (shard, seq_no).
	ShardStateDBBucket = "shard_state_db"

	// BlockHandlesBucket: key = BlockId bytes -> value = serialized
	// BlockMeta (flags + gen_utime + gen_lt + masterchain_ref_seqno).
	BlockHandlesBucket = "block_handles"

	// KeyBlocksBucket: key = 4B LE seq_no of a masterchain key block ->
	// value = BlockId bytes. Used to walk the key-block chain without
	// a full index scan.
	KeyBlocksBucket = "key_blocks"

	// ArchiveBucket: key = PackageEntryId filename bytes -> value =
	// raw entry bytes (block/proof/proof-link), grouped by archive
	// slice prefix.
	ArchiveBucket = "archive"

	// ArchiveStorageBucket holds whole archive slices keyed by their
	// starting masterchain seq_no; a merge operator concatenates
	// fragments, prepending ArchivePrefix once.
	ArchiveStorageBucket = "archive_storage"

	// NodeStateBucket: small singleton keys (last_mc_block_id,
	// shards_client_mc_block_id, low_key_block, high_key_block, ...).
	NodeStateBucket = "node_state"

	// LtDescBucket: key = shard_id bytes -> value = serialized LtDesc.
	LtDescBucket = "lt_desc"

	// LtBucket: key = LtDbKey (shard_id | u32 LE index) -> value =
	// serialized LtDbEntry.
	LtBucket = "lt"

	// Prev1Bucket/Prev2Bucket/Next1Bucket/Next2Bucket: key = BlockId
	// bytes -> value = BlockId bytes, recording the block-graph edges
	// used to walk forward/backward across splits and merges.
	Prev1Bucket = "prev1"
	Prev2Bucket = "prev2"
	Next1Bucket = "next1"
	Next2Bucket = "next2"

	// BackgroundSyncMetaBucket: key = "low"/"high" -> value = 4B LE
	// masterchain seq_no, the persisted background-sync cursor.
	BackgroundSyncMetaBucket = "background_sync_meta"
)

// ArchivePrefix is prepended once by ArchiveStorageBucket's merge
// operator to the first fragment written under a given key.
var ArchivePrefix = []byte{0xe8, 0xb9, 0x52, 0xca}

// Buckets lists every column that must exist in a freshly opened
// database.
var Buckets = []string{
	CellDBBucket,
	CellDBAdditionalBucket,
	ShardStateDBBucket,
	BlockHandlesBucket,
	KeyBlocksBucket,
	ArchiveBucket,
	ArchiveStorageBucket,
	NodeStateBucket,
	LtDescBucket,
	LtBucket,
	Prev1Bucket,
	Prev2Bucket,
	Next1Bucket,
	Next2Bucket,
	BackgroundSyncMetaBucket,
}

// EncodeBlockIndex encodes a dense append-only Block Index DB row index.
func EncodeBlockIndex(index uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, index)
	return b
}

// DecodeBlockIndex is the inverse of EncodeBlockIndex.
func DecodeBlockIndex(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// LtDbKey builds the `shard_id | u32 LE index` key for LtBucket.
func LtDbKey(shardKey []byte, index uint32) []byte {
	key := make([]byte, len(shardKey)+4)
	copy(key, shardKey)
	binary.LittleEndian.PutUint32(key[len(shardKey):], index)
	return key
}

// EncodeSeqNo encodes a masterchain seq_no as a 4-byte LE key, used by
// KeyBlocksBucket and the background-sync cursor.
func EncodeSeqNo(seqNo uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, seqNo)
	return b
}

// DecodeSeqNo is the inverse of EncodeSeqNo.
func DecodeSeqNo(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
