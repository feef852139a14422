package replacetransaction

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"runtime"

	"github.com/ledgerwatch/tonstate/cell"
	"github.com/ledgerwatch/tonstate/cellstorage"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/kv"
	"github.com/ledgerwatch/tonstate/log"
	"github.com/ledgerwatch/tonstate/metrics"
)

// CellsPerBatch bounds how many finalized cells accumulate in one
// write batch before it is flushed, keeping memory bounded regardless
// of snapshot size.
const CellsPerBatch = 1_000_000

// ShardStateStuff bundles a block id with the root cell of its
// finalized state, borrowed from cell storage.
type ShardStateStuff struct {
	BlockID  common.BlockID
	RootCell *cell.Cell
}

// Transaction ingests one streamed BoC snapshot. It is single-owner: no
// concurrent ingestion may share its spill files.
type Transaction struct {
	db            kv.Database
	cellStorage   *cellstorage.CellStorage
	marker        byte
	minRefMcState uint32

	reader   *packetReader
	files    *filesContext
	spillDir string
	log      *log.Logger

	cellsWritten uint32
	finalized    bool
	complete     bool
}

// New creates a Replace Transaction against db/cellStorage. spillDir is
// where the two spill files are created.
func New(db kv.Database, cellStorage *cellstorage.CellStorage, minRefMcState uint32, marker byte, spillDir string) (*Transaction, error) {
	files, err := newFilesContext(spillDir)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		db:            db,
		cellStorage:   cellStorage,
		marker:        marker,
		minRefMcState: minRefMcState,
		reader:        newPacketReader(),
		files:         files,
		spillDir:      spillDir,
		log:           log.New("component", "replacetransaction"),
	}, nil
}

// ProcessPacket feeds one packet's bytes into the forward pass. It
// returns true once the full BoC (all cells plus optional CRC) has
// been consumed. Calling it again after returning true is a no-op.
func (t *Transaction) ProcessPacket(ctx context.Context, packet []byte, progress func(cellsRead uint32)) (bool, error) {
	if t.complete {
		return true, nil
	}
	t.reader.feed(packet)

	if t.reader.header == nil {
		ok, err := t.reader.tryParseHeader()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if err := t.files.prepareHashesFile(t.spillDir, t.reader.cellCount()); err != nil {
			return false, err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		rec, ok, err := t.reader.nextRecord()
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		if err := t.files.writeRecord(rec.raw); err != nil {
			return false, err
		}
		t.cellsWritten++
		if progress != nil {
			progress(t.cellsWritten)
		}
	}

	if err := t.files.endChunk(); err != nil {
		return false, err
	}

	if !t.reader.done() {
		return false, nil
	}
	if t.reader.header.hasCRC {
		ok, err := t.reader.consumeCRC()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	t.complete = true
	return true, nil
}

// Abort discards the transaction's spill files without finalizing.
func (t *Transaction) Abort() {
	if t.finalized {
		return
	}
	t.files.cleanup()
}

// rawCellFromRecord decodes a stored-cell record into a RawCell, the
// wire-level shape finalize_cell consumes.
func rawCellFromRecord(rec []byte, refSize int) (cell.RawCell, error) {
	if len(rec) < 2 {
		return cell.RawCell{}, fmt.Errorf("%w: short record", ErrInvalidCell)
	}
	d1, d2 := rec[0], rec[1]
	refCount := int(d1 & 0x07)
	isExotic := d1&0x08 != 0
	rawMask := cell.LevelMask((d1 >> 5) & 0x07)
	fullBytes := int(d2) / 2
	hasTail := d2%2 == 1
	dataSize := fullBytes
	if hasTail {
		dataSize++
	}
	if len(rec) < 2+dataSize+refCount*refSize {
		return cell.RawCell{}, fmt.Errorf("%w: truncated record", ErrInvalidCell)
	}
	data := rec[2 : 2+dataSize]

	bitLen := uint16(fullBytes) * 8
	if hasTail {
		extra, err := tailBitLen(data[dataSize-1])
		if err != nil {
			return cell.RawCell{}, err
		}
		bitLen += extra
	}

	t := cell.TypeOrdinary
	if isExotic && dataSize > 0 {
		t = cell.TypeFromByte(data[0], true)
	}

	refs := make([]uint32, refCount)
	off := 2 + dataSize
	for i := 0; i < refCount; i++ {
		refs[i] = readUint(rec[off:], refSize)
		off += refSize
	}

	return cell.RawCell{
		CellType:         t,
		LevelMask:        rawMask,
		BitLen:           bitLen,
		Data:             append([]byte{}, data...),
		ReferenceIndices: refs,
	}, nil
}

// tailBitLen recovers the exact bit count from a TON completion-tagged
// byte: the real payload bits occupy the high end, followed by a
// single terminating 1 bit, then zero padding.
func tailBitLen(last byte) (uint16, error) {
	if last == 0 {
		return 0, fmt.Errorf("%w: malformed completion tag", ErrInvalidCell)
	}
	tz := 0
	for last&1 == 0 {
		last >>= 1
		tz++
	}
	return uint16(8 - tz - 1), nil
}

// Finalize performs the backward pass over the spill files, writes
// every cell into cell storage, and returns the root cell bound to
// blockID.
func (t *Transaction) Finalize(ctx context.Context, blockID common.BlockID, progress func(cellsFinalized uint32)) (*ShardStateStuff, error) {
	defer t.files.cleanup()
	t.finalized = true

	if !t.complete {
		return nil, fmt.Errorf("%w: finalize called before packet stream exhausted", ErrInvalidShardStatePacket)
	}
	cellCount := t.reader.cellCount()
	refSize := t.reader.refSize()

	mm, err := t.files.mmapForFinalize()
	if err != nil {
		return nil, err
	}
	defer mm.unmap()

	prunedBranches := make(map[uint32][]byte)
	entries := cell.NewEntriesBuffer()

	batch, err := t.db.Batch()
	if err != nil {
		return nil, err
	}
	maybeFlush := func(force bool) error {
		if batch.Size() == 0 {
			return nil
		}
		if !force && batch.Size() < CellsPerBatch {
			return nil
		}
		if err := batch.Commit(); err != nil {
			return err
		}
		metrics.IncBatchesFlushed()
		newBatch, err := t.db.Batch()
		if err != nil {
			return err
		}
		batch = newBatch
		return nil
	}

	pos := int64(len(mm.cells))
	var cellIndex int64 = int64(cellCount) - 1
	rootIndex := int64(t.reader.rootIndex())
	var rootHash cell.Hash256
	cellsSeen := uint32(0)

	for pos > 0 && cellIndex >= 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if pos < 4 {
			return nil, fmt.Errorf("%w: truncated chunk trailer", ErrInvalidShardStatePacket)
		}
		chunkLen := binary.LittleEndian.Uint32(mm.cells[pos-4 : pos])
		pos -= 4
		chunkStart := pos - int64(chunkLen)
		if chunkStart < 0 {
			return nil, fmt.Errorf("%w: chunk length overruns buffer", ErrInvalidShardStatePacket)
		}
		cursor := pos

		for cursor > chunkStart {
			l := int64(mm.cells[cursor-1])
			recStart := cursor - 1 - l
			if recStart < chunkStart {
				return nil, fmt.Errorf("%w: malformed record boundary", ErrInvalidShardStatePacket)
			}
			rec := mm.cells[recStart : cursor-1]
			raw, err := rawCellFromRecord(rec, refSize)
			if err != nil {
				return nil, err
			}

			key, err := t.finalizeCell(uint32(cellIndex), raw, entries, mm, prunedBranches, batch)
			if err != nil {
				return nil, err
			}
			if cellIndex == rootIndex {
				rootHash = key
			}

			cellsSeen++
			if progress != nil {
				progress(cellsSeen)
			}
			if err := maybeFlush(false); err != nil {
				return nil, err
			}

			cursor = recStart
			cellIndex--
		}
		pos = chunkStart
		runtime.Gosched() // yield at chunk boundary
	}

	if cellIndex != -1 {
		return nil, fmt.Errorf("%w: expected %d cells, decoded %d", ErrInvalidShardStatePacket, cellCount, cellsSeen)
	}
	if err := maybeFlush(true); err != nil {
		return nil, err
	}
	metrics.IncCellsFinalized(int(cellsSeen))

	if err := t.cellStorage.StoreRootHash(blockID, rootHash); err != nil {
		return nil, err
	}
	root, err := t.cellStorage.Load(rootHash)
	if err != nil {
		return nil, err
	}
	return &ShardStateStuff{BlockID: blockID, RootCell: root}, nil
}

// finalizeCell computes one cell's level masks, depths and hashes from
// its already-finalized children and assembles its storage value.
func (t *Transaction) finalizeCell(
	cellIndex uint32,
	raw cell.RawCell,
	entries *cell.EntriesBuffer,
	mm *mmapState,
	prunedBranches map[uint32][]byte,
	batch kv.WriteBatch,
) (cell.Hash256, error) {
	entries.Reset()
	current := entries.Current()

	childCount := len(raw.ReferenceIndices)
	childMasks := make([]cell.LevelMask, childCount)
	for i, childIdx := range raw.ReferenceIndices {
		if childIdx <= cellIndex {
			return cell.Hash256{}, fmt.Errorf("%w: reference index %d does not exceed cell index %d", ErrInvalidCell, childIdx, cellIndex)
		}
		childEntry := mm.hashesEntryAt(childIdx)
		entries.SetChild(i, childEntry.RawBytes())
		childMasks[i] = childEntry.LevelMask()
	}

	var treeBits uint64 = uint64(raw.BitLen)
	var treeCells uint32 = 1
	for i := range raw.ReferenceIndices {
		child := entries.Child(i)
		treeBits += child.TreeBitsCount()
		treeCells += child.TreeCellCount()
	}

	levelMask, err := cell.DeriveLevelMask(raw.CellType, raw.LevelMask, childMasks)
	if err != nil {
		return cell.Hash256{}, fmt.Errorf("%w: %v", ErrInvalidCell, err)
	}
	if raw.LevelMask != levelMask {
		return cell.Hash256{}, fmt.Errorf("%w: level mask mismatch", ErrInvalidCell)
	}

	isPruned := raw.CellType == cell.TypePrunedBranch
	hashCount := levelMask.HashIndex()
	if isPruned {
		hashCount = 1
	}
	isMerkle := raw.CellType == cell.TypeMerkleProof || raw.CellType == cell.TypeMerkleUpdate
	dataSize := raw.DataSize()

	maxDepth := [4]uint16{}
	for i := 0; i < hashCount; i++ {
		effMask := levelMask
		if !isPruned {
			effMask = cell.WithLevel(i)
		}
		d1, d2 := cell.DescriptorBytes(childCount, raw.CellType.IsExotic(), effMask, raw.BitLen)

		h := sha256.New()
		h.Write([]byte{d1, d2})
		if i == 0 {
			h.Write(raw.Data[:dataSize])
		} else {
			prev := current.Hash(i - 1)
			h.Write(prev[:])
		}

		childLevel := i
		if isMerkle {
			childLevel = i + 1
		}
		for ci, childIdx := range raw.ReferenceIndices {
			var depth uint16
			if pb, ok := prunedBranches[childIdx]; ok {
				depth = cell.PrunedBranchDepth(i, pb)
			} else {
				depth = entries.Child(ci).DepthAtClamped(childLevel)
			}
			if depth+1 > maxDepth[i] {
				maxDepth[i] = depth + 1
			}
			if maxDepth[i] > cell.MaxDepth {
				return cell.Hash256{}, fmt.Errorf("%w: max tree depth exceeded", ErrInvalidCell)
			}
			var db [2]byte
			db[0] = byte(depth >> 8)
			db[1] = byte(depth)
			h.Write(db[:])
		}
		current.SetDepth(i, maxDepth[i])

		for ci, childIdx := range raw.ReferenceIndices {
			var childHash cell.Hash256
			if pb, ok := prunedBranches[childIdx]; ok {
				childHash = cell.PrunedBranchHash(i, pb)
			} else {
				childHash = entries.Child(ci).HashAtClamped(childLevel)
			}
			h.Write(childHash[:])
		}

		var sum cell.Hash256
		copy(sum[:], h.Sum(nil))
		current.SetHash(i, sum)
	}

	current.SetLevelMask(levelMask)
	current.SetCellType(raw.CellType)
	current.SetHashCount(hashCount)
	current.SetDepthCount(hashCount)
	current.SetTreeBitsCount(treeBits)
	current.SetTreeCellCount(treeCells)

	if isPruned {
		prunedBranches[cellIndex] = append([]byte{}, raw.Data[:dataSize]...)
	}

	c := &cell.Cell{
		Type:          raw.CellType,
		BitLen:        raw.BitLen,
		Data:          append([]byte{}, raw.Data[:dataSize]...),
		LevelMask:     levelMask,
		HashCount:     hashCount,
		DepthCount:    hashCount,
		TreeBitsCount: treeBits,
		TreeCellCount: treeCells,
	}
	for i := 0; i < hashCount; i++ {
		c.Hashes[i] = current.Hash(i)
		c.Depths[i] = current.Depth(i)
	}
	c.Refs = make([]cell.Hash256, childCount)
	for i, childIdx := range raw.ReferenceIndices {
		if pb, ok := prunedBranches[childIdx]; ok {
			c.Refs[i] = cell.PrunedBranchHash(3, pb)
		} else {
			c.Refs[i] = entries.Child(i).HashAtClamped(3)
		}
	}

	var key cell.Hash256
	if isPruned {
		key = cell.PrunedBranchHash(3, c.Data)
	} else {
		key = current.Hash(hashCount - 1)
	}

	value := cellstorage.Encode(t.marker, c)
	if err := t.cellStorage.PutBatch(batch, t.marker, key, value); err != nil {
		return cell.Hash256{}, err
	}

	// copy the finalized entry into this cell's own slot in the mmap
	// so that, once its parent is processed later in the walk, the
	// parent can resolve it exactly like any other already-written
	// child.
	dst := mm.hashesEntryAt(cellIndex)
	copy(dst.RawBytes(), current.RawBytes())

	return key, nil
}
