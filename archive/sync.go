package archive

import (
	"context"
	"fmt"
	"sort"

	"github.com/c2h5oh/datasize"
	"github.com/valyala/gozstd"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerwatch/tonstate/blockindex"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/log"
)

// Applier is the external collaborator that actually validates and
// applies one block's state transition; block/proof validation and
// shard-state application live outside this module.
type Applier interface {
	// ApplyBlock applies block (with its proof, when non-nil) to the
	// node's state. isHardFork suppresses proof verification for a
	// hard-fork block.
	ApplyBlock(ctx context.Context, id common.BlockID, block, proof []byte, isHardFork bool) error

	// ShardRefs decodes a masterchain block's McBlockExtra and returns
	// the shard block ids it references, so the importer can apply
	// shard blocks under the right masterchain parent. Block-content
	// decoding is out of scope for this module, so this is the
	// collaborator that supplies it.
	ShardRefs(ctx context.Context, mcBlockID common.BlockID, mcBlock []byte) ([]common.BlockID, error)
}

// HardForks reports whether a given masterchain seq_no names a known
// hard fork boundary, at which point proof verification is
// intentionally skipped.
type HardForks interface {
	IsHardFork(seqNo uint32) bool
}

// Importer applies downloaded archive packages
// over a BlockIndexDB and an Applier.
type Importer struct {
	index     *blockindex.BlockIndexDB
	applier   Applier
	hardForks HardForks
	log       *log.Logger

	// lastApplied is the most recent masterchain block applied across
	// every package this importer has seen; consecutive packages must
	// continue exactly where the previous one stopped.
	lastApplied *common.BlockID
}

// NewImporter builds an Importer over an already-open block index.
func NewImporter(index *blockindex.BlockIndexDB, applier Applier, hardForks HardForks) *Importer {
	return &Importer{index: index, applier: applier, hardForks: hardForks, log: log.New("component", "archive.importer")}
}

// ImportPackage decompresses a downloaded archive slice, splits it into
// its masterchain and shardchain streams, and applies both in
// order: masterchain blocks strictly in seq_no order,
// each one's referenced shard blocks in parallel once the masterchain
// block it belongs under has itself been imported.
func (im *Importer) ImportPackage(ctx context.Context, raw []byte) error {
	plain, err := gozstd.Decompress(nil, raw)
	if err != nil {
		// Not every slice is compressed; fall back to the raw bytes.
		plain = raw
	}

	mc, shards, err := splitPackage(plain)
	if err != nil {
		return err
	}
	if len(mc) == 0 {
		return ErrEmptyArchivePackage
	}

	im.log.Debug("importing archive package", "size", datasize.ByteSize(len(raw)).HumanReadable(), "mc_blocks", len(mc))

	if err := im.importMcBlocks(ctx, mc, shards); err != nil {
		return err
	}
	return nil
}

// importMcBlocks applies masterchain blocks strictly in ascending
// seq_no order, per block importing that block's referenced shard
// blocks before advancing.
func (im *Importer) importMcBlocks(ctx context.Context, mc []mcEntry, shards map[common.BlockID]entryPair) error {
	for _, entry := range mc {
		if last := im.lastApplied; last != nil {
			if entry.id.SeqNo <= last.SeqNo {
				if entry.id.SeqNo == last.SeqNo && entry.id != *last {
					return fmt.Errorf("%w: %s vs applied %s", ErrMasterchainBlockIDMismatch, entry.id, *last)
				}
				continue // already applied
			}
			if entry.id.SeqNo != last.SeqNo+1 {
				return fmt.Errorf("%w: got seq_no %d after %d", ErrBlocksSkippedInArchive, entry.id.SeqNo, last.SeqNo)
			}
		}

		isHardFork := im.hardForks != nil && im.hardForks.IsHardFork(entry.id.SeqNo)
		if err := im.applier.ApplyBlock(ctx, entry.id, entry.block, entry.proof, isHardFork); err != nil {
			return fmt.Errorf("archive: apply masterchain block %s: %w", entry.id, err)
		}
		if err := im.saveHandle(entry.id, entry.proof != nil); err != nil {
			return err
		}

		refs, err := im.applier.ShardRefs(ctx, entry.id, entry.block)
		if err != nil {
			return fmt.Errorf("archive: decode shard refs for %s: %w", entry.id, err)
		}
		if err := im.importShardBlocks(ctx, refs, shards); err != nil {
			return err
		}

		applied := entry.id
		im.lastApplied = &applied
	}
	return nil
}

// importShardBlocks applies every shard block a masterchain block
// refers to, concurrently, only advancing once every goroutine has
// joined.
func (im *Importer) importShardBlocks(ctx context.Context, refs []common.BlockID, shards map[common.BlockID]entryPair) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			entry, ok := shards[ref]
			if !ok {
				return fmt.Errorf("archive: apply shard block %s: %w", ref, ErrShardchainBlockHandleMissing)
			}
			if err := im.applier.ApplyBlock(gctx, ref, entry.block, entry.proof, false); err != nil {
				return fmt.Errorf("archive: apply shard block %s: %w", ref, err)
			}
			return im.saveHandle(ref, entry.proof != nil)
		})
	}
	return g.Wait()
}

func (im *Importer) saveHandle(id common.BlockID, hasProof bool) error {
	meta := blockindex.NewBlockMeta(0, 0)
	meta.SetHasData()
	meta.SetIsApplied()
	if hasProof {
		if id.IsMasterchain() {
			meta.SetHasProof()
		} else {
			meta.SetHasProofLink()
		}
	}
	handle := blockindex.NewBlockHandleWithMeta(id, meta)
	if err := im.index.AddHandle(handle); err != nil {
		return fmt.Errorf("archive: index block %s: %w", id, err)
	}
	return nil
}

type mcEntry struct {
	id    common.BlockID
	block []byte
	proof []byte
}

type entryPair struct {
	block []byte
	proof []byte
}

// splitPackage demultiplexes a decompressed archive package's framed
// entries into its masterchain stream (ordered) and a lookup table
// of shardchain entries keyed by block id.
//
// The shard-reference graph (which masterchain block names which shard
// blocks) lives in each masterchain block's McBlockExtra, which this
// module's cell layer does not decode (out of scope: virtual-machine /
// block-content interpretation) — importMcBlocks asks the Applier
// collaborator for it via ShardRefs instead.
func splitPackage(plain []byte) ([]mcEntry, map[common.BlockID]entryPair, error) {
	r := NewPackageReader(plain)
	mcByID := make(map[common.BlockID]*mcEntry)
	var mcOrder []common.BlockID
	shards := make(map[common.BlockID]entryPair)

	for {
		entry, ok, err := r.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		pid, err := ParsePackageEntryId(entry.Name)
		if err != nil {
			return nil, nil, err
		}

		if pid.BlockID.IsMasterchain() {
			e, exists := mcByID[pid.BlockID]
			if !exists {
				e = &mcEntry{id: pid.BlockID}
				mcByID[pid.BlockID] = e
				mcOrder = append(mcOrder, pid.BlockID)
			}
			switch pid.Kind {
			case entryKindBlock:
				e.block = entry.Data
			case entryKindProof:
				e.proof = entry.Data
			}
			continue
		}

		p := shards[pid.BlockID]
		switch pid.Kind {
		case entryKindBlock:
			p.block = entry.Data
		case entryKindProofLink:
			p.proof = entry.Data
		}
		shards[pid.BlockID] = p
	}

	mc := make([]mcEntry, 0, len(mcOrder))
	for _, id := range mcOrder {
		mc = append(mc, *mcByID[id])
	}
	sort.Slice(mc, func(i, j int) bool { return mc[i].id.SeqNo < mc[j].id.SeqNo })
	return mc, shards, nil
}
