// Package cellstorage implements the content-addressed persistence
// layer for individual cells: a thin, cache-wrapped writer over the
// embedded KV engine.
package cellstorage

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ledgerwatch/tonstate/cell"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/common/dbutils"
	"github.com/ledgerwatch/tonstate/kv"
)

// defaultCacheSize bounds the in-memory LRU of decoded cells; cell
// payloads are small (<=1023 bits + refs) so a few hundred thousand
// entries is a modest working set.
const defaultCacheSize = 250_000

// CellStorage is the content-addressed (repr hash -> serialized cell)
// mapping: put is idempotent, load is fatal on miss
// (callers that need a soft miss should check existence separately),
// and mark_sweep is reserved for an external GC driver.
type CellStorage struct {
	db    kv.Database
	cache *lru.Cache
}

// New wraps db with a read-through LRU cache of decoded cells.
func New(db kv.Database) (*CellStorage, error) {
	c, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &CellStorage{db: db, cache: c}, nil
}

// Put stores cell c under its repr hash. Writing the same cell twice
// is a no-op in effect (same key, same bytes).
func (cs *CellStorage) Put(marker byte, c *cell.Cell) error {
	key := c.ReprHash()
	value := Encode(marker, c)
	if err := cs.db.Put(dbutils.CellDBBucket, key[:], value); err != nil {
		return err
	}
	cs.cache.Add(key, c)
	return nil
}

// PutBatch stages a Put inside an open WriteBatch, used by the
// replace-transaction finalizer's CELLS_PER_BATCH flush cadence.
func (cs *CellStorage) PutBatch(batch kv.WriteBatch, marker byte, key cell.Hash256, value []byte) error {
	return batch.Put(dbutils.CellDBBucket, key[:], value)
}

// Load fetches and decodes the cell stored under hash. This
// is fatal-on-miss: a missing cell means the store's invariant (every
// referenced hash was itself finalized) has been violated.
func (cs *CellStorage) Load(hash cell.Hash256) (*cell.Cell, error) {
	if v, ok := cs.cache.Get(hash); ok {
		return v.(*cell.Cell), nil
	}
	raw, err := cs.db.Get(dbutils.CellDBBucket, hash[:])
	if err == kv.ErrKeyNotFound {
		panic(fmt.Sprintf("cellstorage: cell %s not found: store invariant violated", hash))
	}
	if err != nil {
		return nil, err
	}
	c, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	cs.cache.Add(hash, c)
	return c, nil
}

// Has reports whether hash is present without the fatal-on-miss
// contract of Load; used by callers (e.g. archive apply) that need to
// tell "already have it" from "need to fetch it".
func (cs *CellStorage) Has(hash cell.Hash256) (bool, error) {
	_, err := cs.db.Get(dbutils.CellDBBucket, hash[:])
	if err == kv.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSweep reserves the GC marker contract: cells written
// during a live traversal are stamped with newMarker; anything left
// with a stale marker value in CellDBAdditionalBucket becomes
// collectable. The sweep driver itself is out of scope for this core;
// this only flips the shadow marker byte.
func (cs *CellStorage) MarkSweep(hash cell.Hash256, newMarker byte) error {
	return cs.db.Put(dbutils.CellDBAdditionalBucket, hash[:], []byte{newMarker})
}

// StoreRootHash records the repr hash of a shard's state root under
// (shard, seq_no), the final step of a replace transaction's finalize.
func (cs *CellStorage) StoreRootHash(id common.BlockID, root cell.Hash256) error {
	return cs.db.Put(dbutils.ShardStateDBBucket, id.ShardStateKey(), root[:])
}

// LoadRootHash is the inverse of StoreRootHash.
func (cs *CellStorage) LoadRootHash(id common.BlockID) (cell.Hash256, error) {
	v, err := cs.db.Get(dbutils.ShardStateDBBucket, id.ShardStateKey())
	if err != nil {
		return cell.Hash256{}, err
	}
	var h cell.Hash256
	copy(h[:], v)
	return h, nil
}

// dataStorageSize returns the stored data width, which always
// carries one extra byte beyond ceil(bitLen/8) as a completion
// terminator: ceil((bitLen+8)/8).
func dataStorageSize(bitLen uint16) int {
	return int((uint32(bitLen) + 15) / 8)
}

// Encode serializes c into the on-disk value layout:
// [marker:1][cell_type:1][bit_len:u16][data][level_mask:1]
// [store_hashes=0:1][has_hashes=1:1][hash_count:1][hashes]
// [has_depths=1:1][depth_count:1][depths]
// [ref_count:1][child_repr_hashes][tree_bits_count:8][tree_cell_count:4]
func Encode(marker byte, c *cell.Cell) []byte {
	dataSize := dataStorageSize(c.BitLen)
	size := 1 + 1 + 2 + dataSize + 1 + 1 + 1 + 1 + 32*c.HashCount + 1 + 1 + 2*c.DepthCount + 1 + 32*len(c.Refs) + 8 + 4
	b := make([]byte, size)
	i := 0
	b[i] = marker
	i++
	b[i] = byte(c.Type)
	i++
	binary.LittleEndian.PutUint16(b[i:], c.BitLen)
	i += 2
	copy(b[i:i+dataSize], c.Data)
	i += dataSize
	b[i] = byte(c.LevelMask)
	i++
	b[i] = 0 // store_hashes
	i++
	b[i] = 1 // has_hashes
	i++
	b[i] = byte(c.HashCount)
	i++
	for h := 0; h < c.HashCount; h++ {
		copy(b[i:i+32], c.Hashes[h][:])
		i += 32
	}
	b[i] = 1 // has_depths
	i++
	b[i] = byte(c.DepthCount)
	i++
	for d := 0; d < c.DepthCount; d++ {
		binary.LittleEndian.PutUint16(b[i:], c.Depths[d])
		i += 2
	}
	b[i] = byte(len(c.Refs))
	i++
	for _, r := range c.Refs {
		copy(b[i:i+32], r[:])
		i += 32
	}
	binary.LittleEndian.PutUint64(b[i:], c.TreeBitsCount)
	i += 8
	binary.LittleEndian.PutUint32(b[i:], c.TreeCellCount)
	i += 4
	return b[:i]
}

// Decode is the inverse of Encode; it discards the marker byte (the
// caller doesn't generally care about the GC epoch a cell was last
// stamped with) and returns the reconstructed cell.
func Decode(raw []byte) (*cell.Cell, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("cellstorage: truncated record")
	}
	i := 0
	_ = raw[i] // marker
	i++
	c := &cell.Cell{}
	c.Type = cell.Type(raw[i])
	i++
	c.BitLen = binary.LittleEndian.Uint16(raw[i:])
	i += 2
	dataSize := dataStorageSize(c.BitLen)
	if i+dataSize > len(raw) {
		return nil, fmt.Errorf("cellstorage: truncated data")
	}
	c.Data = append([]byte{}, raw[i:i+dataSize]...)
	i += dataSize
	c.LevelMask = cell.LevelMask(raw[i])
	i++
	i++ // store_hashes
	i++ // has_hashes
	c.HashCount = int(raw[i])
	i++
	for h := 0; h < c.HashCount; h++ {
		copy(c.Hashes[h][:], raw[i:i+32])
		i += 32
	}
	i++ // has_depths
	c.DepthCount = int(raw[i])
	i++
	for d := 0; d < c.DepthCount; d++ {
		c.Depths[d] = binary.LittleEndian.Uint16(raw[i:])
		i += 2
	}
	refCount := int(raw[i])
	i++
	c.Refs = make([]cell.Hash256, refCount)
	for r := 0; r < refCount; r++ {
		copy(c.Refs[r][:], raw[i:i+32])
		i += 32
	}
	c.TreeBitsCount = binary.LittleEndian.Uint64(raw[i:])
	i += 8
	c.TreeCellCount = binary.LittleEndian.Uint32(raw[i:])
	i += 4
	return c, nil
}
