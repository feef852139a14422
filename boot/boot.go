package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerwatch/tonstate/blockindex"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/log"
)

// Data is the result of Boot: the masterchain block a warm/cold boot
// settled on, and the cursor the shard client should resume from.
type Data struct {
	LastMcBlockID         common.BlockID
	ShardsClientMcBlockID common.BlockID
}

// Boot runs warm boot if a last-applied masterchain block is on record,
// cold boot otherwise, then resolves the shard-client cursor.
func Boot(ctx context.Context, node Node) (Data, error) {
	logger := log.New("component", "boot")
	logger.Info("starting boot")

	lastMcBlockID, ok, err := node.LoadLastAppliedMcBlockID()
	var lastMc common.BlockID
	if ok {
		lastMc, err = warmBoot(ctx, node, lastMcBlockID)
		if err != nil {
			return Data{}, err
		}
	} else {
		if err != nil {
			logger.Warn("failed to load last applied masterchain block id", "err", err)
		}
		lastMc, err = coldBoot(ctx, node)
		if err != nil {
			return Data{}, err
		}
		if err := node.StoreLastAppliedMcBlockID(lastMc); err != nil {
			return Data{}, fmt.Errorf("boot: store last applied mc block id: %w", err)
		}
		if err := node.StoreHighKeyBlock(lastMc); err != nil {
			return Data{}, fmt.Errorf("boot: store high key block: %w", err)
		}
	}

	shardsClientMcBlockID, ok, err := node.LoadShardsClientMcBlockID()
	if err != nil || !ok {
		shardsClientMcBlockID = lastMc
		if err := node.StoreShardsClientMcBlockID(lastMc); err != nil {
			return Data{}, fmt.Errorf("boot: store shards client mc block id: %w", err)
		}
	}

	return Data{LastMcBlockID: lastMc, ShardsClientMcBlockID: shardsClientMcBlockID}, nil
}

// warmBoot resumes from lastMcBlockID, falling back to the state's
// recorded last key block (an ancestor) if lastMcBlockID isn't itself
// one.
func warmBoot(ctx context.Context, node Node, lastMcBlockID common.BlockID) (common.BlockID, error) {
	logger := log.New("component", "boot")
	logger.Info("starting warm boot")

	handle, ok, err := node.LoadBlockHandle(lastMcBlockID)
	if err != nil {
		return common.BlockID{}, fmt.Errorf("boot: warm boot: %w", err)
	}
	if !ok {
		return common.BlockID{}, ErrFailedToLoadInitialBlock
	}

	if lastMcBlockID.SeqNo != 0 && !handle.Meta().IsKeyBlock() {
		keyBlockID, err := node.LoadLastKeyBlockID(ctx, lastMcBlockID)
		if err != nil {
			return common.BlockID{}, fmt.Errorf("%w: %v", ErrMasterchainStateNotFound, err)
		}
		lastMcBlockID = keyBlockID
	}

	logger.Info("warm boot finished", "mc_block", lastMcBlockID)
	return lastMcBlockID, nil
}

// coldBoot walks the key-block proof chain from the configured init
// block and installs the chosen persistent state.
func coldBoot(ctx context.Context, node Node) (common.BlockID, error) {
	logger := log.New("component", "boot")
	logger.Info("starting cold boot")

	bootData, err := prepareColdBootData(ctx, node)
	if err != nil {
		return common.BlockID{}, err
	}

	keyBlocks, err := getKeyBlocks(ctx, node, bootData)
	if err != nil {
		return common.BlockID{}, err
	}
	lastKeyBlock, err := chooseKeyBlock(keyBlocks)
	if err != nil {
		return common.BlockID{}, err
	}

	blockID := lastKeyBlock.id
	if blockID.SeqNo == 0 && bootData.zeroState != nil {
		if err := downloadBaseWcZeroState(ctx, node, bootData.zeroState); err != nil {
			return common.BlockID{}, err
		}
	} else if err := downloadStartBlocksAndStates(ctx, node, blockID); err != nil {
		return common.BlockID{}, err
	}

	logger.Info("cold boot finished")
	return blockID, nil
}

// coldBootData is the result of prepareColdBootData: either the zero
// state or a verified key block, along with enough context to chain
// the next proof verification from.
type coldBootData struct {
	handle    *blockindex.BlockHandle
	id        common.BlockID
	proof     []byte // nil for the zero-state variant
	zeroState []byte // nil for the key-block variant
}

func prepareColdBootData(ctx context.Context, node Node) (coldBootData, error) {
	logger := log.New("component", "boot")
	blockID := node.InitMcBlockID()
	logger.Info("cold boot from configured block", "block", blockID)

	if blockID.SeqNo == 0 {
		logger.Info("using zero state")
		state, err := downloadZeroState(ctx, node, blockID)
		if err != nil {
			return coldBootData{}, err
		}
		handle, _, err := node.LoadBlockHandle(blockID)
		if err != nil {
			return coldBootData{}, fmt.Errorf("boot: load zero state handle: %w", err)
		}
		return coldBootData{handle: handle, id: blockID, zeroState: state}, nil
	}

	logger.Info("using key block")
	handle, ok, err := node.LoadBlockHandle(blockID)
	if err != nil {
		return coldBootData{}, fmt.Errorf("boot: load init block handle: %w", err)
	}
	if ok {
		hasProofOrLink, _ := handle.HasProofOrLink()
		if hasProofOrLink {
			proof, err := node.DownloadBlockProof(ctx, blockID, true)
			if err != nil {
				logger.Warn("failed to load block proof as link", "err", err)
				proof, err = node.DownloadBlockProof(ctx, blockID, false)
				if err != nil {
					return coldBootData{}, fmt.Errorf("boot: download init block proof: %w", err)
				}
			}
			if !handle.Meta().IsKeyBlock() {
				return coldBootData{}, ErrStartingFromNonKeyBlock
			}
			return coldBootData{handle: handle, id: blockID, proof: proof}, nil
		}
	}

	for {
		proof, err := node.DownloadBlockProof(ctx, blockID, true)
		if err != nil {
			logger.Warn("failed to download block proof for init block", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := node.CheckProofLink(proof); err != nil {
			logger.Warn("got invalid block proof for init block", "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		handle, err = node.StoreBlockProof(ctx, blockID, handle, proof)
		if err != nil {
			return coldBootData{}, fmt.Errorf("boot: store init block proof: %w", err)
		}
		if !handle.Meta().IsKeyBlock() {
			return coldBootData{}, ErrStartingFromNonKeyBlock
		}
		return coldBootData{handle: handle, id: blockID, proof: proof}, nil
	}
}
