package blockindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/common/dbutils"
	"github.com/ledgerwatch/tonstate/kv"
	"github.com/ledgerwatch/tonstate/metrics"
)

// Errors returned by BlockIndexDB.
var (
	ErrAscendingOrderRequired = errors.New("blockindex: ascending order required")
	ErrBlockNotFound          = errors.New("blockindex: block not found")
	ErrLtEntryNotFound        = errors.New("blockindex: lt db entry not found")
)

// handleCacheSize bounds the in-memory LRU of decoded block handles
// fronting BlockHandlesBucket.
const handleCacheSize = 100_000

// Ordering is the three-way comparison result used by the per-depth
// binary search in GetBlock, matching Go's strings.Compare convention
// (negative: target is before, zero: equal, positive: target is after).
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// LtDesc is the per-shard summary row.
type LtDesc struct {
	FirstIndex uint32
	LastIndex  uint32
	LastSeqNo  uint32
	LastLt     uint64
	LastUtime  uint32
}

const ltDescSize = 4 + 4 + 4 + 8 + 4

func (d LtDesc) Bytes() []byte {
	b := make([]byte, ltDescSize)
	binary.LittleEndian.PutUint32(b[0:4], d.FirstIndex)
	binary.LittleEndian.PutUint32(b[4:8], d.LastIndex)
	binary.LittleEndian.PutUint32(b[8:12], d.LastSeqNo)
	binary.LittleEndian.PutUint64(b[12:20], d.LastLt)
	binary.LittleEndian.PutUint32(b[20:24], d.LastUtime)
	return b
}

func parseLtDesc(b []byte) (LtDesc, error) {
	if len(b) != ltDescSize {
		return LtDesc{}, fmt.Errorf("blockindex: bad lt_desc length %d", len(b))
	}
	return LtDesc{
		FirstIndex: binary.LittleEndian.Uint32(b[0:4]),
		LastIndex:  binary.LittleEndian.Uint32(b[4:8]),
		LastSeqNo:  binary.LittleEndian.Uint32(b[8:12]),
		LastLt:     binary.LittleEndian.Uint64(b[12:20]),
		LastUtime:  binary.LittleEndian.Uint32(b[20:24]),
	}, nil
}

// LtDbEntry is the per (shard, index) row.
type LtDbEntry struct {
	BlockID  common.BlockID
	GenLt    uint64
	GenUtime uint32
}

func (e LtDbEntry) Bytes() []byte {
	b := make([]byte, common.BlockIDSize+8+4)
	copy(b, e.BlockID.Bytes())
	binary.LittleEndian.PutUint64(b[common.BlockIDSize:], e.GenLt)
	binary.LittleEndian.PutUint32(b[common.BlockIDSize+8:], e.GenUtime)
	return b
}

func parseLtDbEntry(b []byte) (LtDbEntry, error) {
	if len(b) != common.BlockIDSize+8+4 {
		return LtDbEntry{}, fmt.Errorf("blockindex: bad lt entry length %d", len(b))
	}
	id, err := common.ParseBlockID(b[:common.BlockIDSize])
	if err != nil {
		return LtDbEntry{}, err
	}
	return LtDbEntry{
		BlockID:  id,
		GenLt:    binary.LittleEndian.Uint64(b[common.BlockIDSize:]),
		GenUtime: binary.LittleEndian.Uint32(b[common.BlockIDSize+8:]),
	}, nil
}

// BlockIndexDB is a dual-table index: LtDesc
// (per-shard summary) and Lt (shard, index -> entry), with a writer
// lock serializing LtDesc mutations and a read-through cache of decoded
// handles in front of BlockHandlesBucket.
type BlockIndexDB struct {
	db kv.Database

	// mu serializes LtDesc mutation; readers need no lock because the
	// (shard, index) -> entry mapping is append-only.
	mu sync.Mutex

	handles *lru.Cache
}

// New opens a BlockIndexDB over db's lt_desc/lt/block_handles columns.
func New(db kv.Database) (*BlockIndexDB, error) {
	c, err := lru.New(handleCacheSize)
	if err != nil {
		return nil, err
	}
	return &BlockIndexDB{db: db, handles: c}, nil
}

func (b *BlockIndexDB) loadLtDesc(key []byte) (LtDesc, bool, error) {
	raw, err := b.db.Get(dbutils.LtDescBucket, key)
	if err == kv.ErrKeyNotFound {
		return LtDesc{}, false, nil
	}
	if err != nil {
		return LtDesc{}, false, err
	}
	desc, err := parseLtDesc(raw)
	return desc, err == nil, err
}

func (b *BlockIndexDB) loadEntry(shardKey []byte, index uint32) (LtDbEntry, error) {
	raw, err := b.db.Get(dbutils.LtBucket, dbutils.LtDbKey(shardKey, index))
	if err == kv.ErrKeyNotFound {
		return LtDbEntry{}, ErrLtEntryNotFound
	}
	if err != nil {
		return LtDbEntry{}, err
	}
	return parseLtDbEntry(raw)
}

// AddHandle inserts h into its shard's index. Re-adding the
// current last seq_no is a no-op; a seq_no less than the last one fails
// ErrAscendingOrderRequired.
func (b *BlockIndexDB) AddHandle(h *BlockHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	shardKey := h.ID().Shard.Key()
	desc, ok, err := b.loadLtDesc(shardKey)
	if err != nil {
		return err
	}

	var index uint32
	if ok {
		switch {
		case h.ID().SeqNo == desc.LastSeqNo:
			return nil
		case h.ID().SeqNo < desc.LastSeqNo:
			return ErrAscendingOrderRequired
		default:
			index = desc.LastIndex + 1
		}
	} else {
		index = 1
		desc.FirstIndex = 1
	}

	entry := LtDbEntry{BlockID: h.ID(), GenLt: h.Meta().GenLt(), GenUtime: h.Meta().GenUtime()}
	if err := b.db.Put(dbutils.LtBucket, dbutils.LtDbKey(shardKey, index), entry.Bytes()); err != nil {
		return err
	}

	desc.LastIndex = index
	desc.LastSeqNo = h.ID().SeqNo
	desc.LastLt = h.Meta().GenLt()
	desc.LastUtime = h.Meta().GenUtime()
	if desc.FirstIndex == 0 {
		desc.FirstIndex = 1
	}
	if err := b.db.Put(dbutils.LtDescBucket, shardKey, desc.Bytes()); err != nil {
		return err
	}

	key := h.ID().Bytes()
	b.handles.Add(string(key), h)
	return b.db.Put(dbutils.BlockHandlesBucket, key, h.Meta().Bytes())
}

// LoadHandle fetches a handle by id, consulting the LRU before the KV
// engine.
func (b *BlockIndexDB) LoadHandle(id common.BlockID) (*BlockHandle, error) {
	key := id.Bytes()
	if v, ok := b.handles.Get(string(key)); ok {
		return v.(*BlockHandle), nil
	}
	raw, err := b.db.Get(dbutils.BlockHandlesBucket, key)
	if err == kv.ErrKeyNotFound {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	h := NewBlockHandleWithMeta(id, ParseBlockMeta(raw))
	b.handles.Add(string(key), h)
	return h, nil
}

// GetBlockBySeqNo finds the block in accountPrefix's shard tree with
// the given seq_no; only an exact match succeeds.
func (b *BlockIndexDB) GetBlockBySeqNo(workchainID int32, accountPrefix uint64, seqNo uint32) (common.BlockID, error) {
	return b.getBlock(workchainID, accountPrefix,
		func(d LtDesc) Ordering { return cmpUint32(seqNo, d.LastSeqNo) },
		func(e LtDbEntry) Ordering { return cmpUint32(seqNo, e.BlockID.SeqNo) },
		true,
	)
}

// GetBlockByUtime finds the block whose gen_utime straddles utime,
// settling for the nearest following block (the first whose gen_utime
// is past utime) when no exact match exists.
func (b *BlockIndexDB) GetBlockByUtime(workchainID int32, accountPrefix uint64, utime uint32) (common.BlockID, error) {
	return b.getBlock(workchainID, accountPrefix,
		func(d LtDesc) Ordering { return cmpUint32(utime, d.LastUtime) },
		func(e LtDbEntry) Ordering { return cmpUint32(utime, e.GenUtime) },
		false,
	)
}

// GetBlockByLt finds the block whose gen_lt straddles lt, settling
// for the nearest following block (the first whose gen_lt is past lt)
// when no exact match exists.
func (b *BlockIndexDB) GetBlockByLt(workchainID int32, accountPrefix uint64, lt uint64) (common.BlockID, error) {
	return b.getBlock(workchainID, accountPrefix,
		func(d LtDesc) Ordering { return cmpUint64(lt, d.LastLt) },
		func(e LtDbEntry) Ordering { return cmpUint64(lt, e.GenLt) },
		false,
	)
}

func cmpUint32(target, ref uint32) Ordering {
	switch {
	case target < ref:
		return Less
	case target > ref:
		return Greater
	default:
		return Equal
	}
}

func cmpUint64(target, ref uint64) Ordering {
	switch {
	case target < ref:
		return Less
	case target > ref:
		return Greater
	default:
		return Equal
	}
}

// getBlock scans prefix depths 0..=MaxSplitDepth, binary-searching
// each shard's dense index.
func (b *BlockIndexDB) getBlock(
	workchainID int32, accountPrefix uint64,
	cmpDesc func(LtDesc) Ordering,
	cmpEntry func(LtDbEntry) Ordering,
	exact bool,
) (common.BlockID, error) {
	metrics.IncBlockIndexLookups()

	found := false
	var result *common.BlockID
	var indexRangeBegin uint32

	for depth := 0; depth <= common.MaxSplitDepth; depth++ {
		shard := common.ShardAtDepth(workchainID, accountPrefix, depth)
		shardKey := shard.Key()

		desc, ok, err := b.loadLtDesc(shardKey)
		if err != nil {
			return common.BlockID{}, err
		}
		if !ok {
			if found {
				break
			}
			if shard.IsMasterchain() {
				return common.BlockID{}, ErrBlockNotFound
			}
			continue
		}
		found = true

		if cmpDesc(desc) == Greater {
			continue
		}

		firstIndex := desc.FirstIndex
		var firstBlockID *common.BlockID
		lastIndex := desc.LastIndex + 1
		var lastBlockID *common.BlockID

		previousIndex := ^uint32(0)
		for lastIndex > firstIndex {
			index := firstIndex + (lastIndex-firstIndex)/2
			if index == previousIndex {
				break
			}
			previousIndex = index

			entry, err := b.loadEntry(shardKey, index)
			if err != nil {
				return common.BlockID{}, err
			}
			switch cmpEntry(entry) {
			case Equal:
				return entry.BlockID, nil
			case Less:
				id := entry.BlockID
				lastBlockID = &id
				lastIndex = index
			case Greater:
				id := entry.BlockID
				firstBlockID = &id
				firstIndex = index
			}
		}

		if lastBlockID != nil {
			if result == nil || result.SeqNo > lastBlockID.SeqNo {
				result = lastBlockID
			}
		}
		if firstBlockID != nil && indexRangeBegin < firstBlockID.SeqNo {
			indexRangeBegin = firstBlockID.SeqNo
		}
		if result != nil && result.SeqNo == indexRangeBegin+1 {
			if exact {
				return common.BlockID{}, ErrBlockNotFound
			}
			return *result, nil
		}
	}

	if result != nil && !exact {
		return *result, nil
	}
	return common.BlockID{}, ErrBlockNotFound
}

// GC deletes the index rows for ids. An ascending-order violation is
// surfaced as an error rather than silently swallowed.
func (b *BlockIndexDB) GC(ids []common.BlockID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		shardKey := id.Shard.Key()
		desc, ok, err := b.loadLtDesc(shardKey)
		if err != nil {
			return err
		}
		if !ok || id.SeqNo != desc.LastSeqNo {
			return ErrAscendingOrderRequired
		}

		if err := b.db.Delete(dbutils.LtBucket, dbutils.LtDbKey(shardKey, desc.LastIndex)); err != nil {
			return err
		}
		if err := b.db.Delete(dbutils.BlockHandlesBucket, id.Bytes()); err != nil {
			return err
		}
		b.handles.Remove(string(id.Bytes()))

		if desc.LastIndex <= desc.FirstIndex {
			if err := b.db.Delete(dbutils.LtDescBucket, shardKey); err != nil {
				return err
			}
			continue
		}

		prev, err := b.loadEntry(shardKey, desc.LastIndex-1)
		if err != nil {
			return err
		}
		desc.LastIndex--
		desc.LastSeqNo = prev.BlockID.SeqNo
		desc.LastLt = prev.GenLt
		desc.LastUtime = prev.GenUtime
		if err := b.db.Put(dbutils.LtDescBucket, shardKey, desc.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
