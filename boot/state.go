package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerwatch/tonstate/blockindex"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/log"
)

// downloadZeroState fetches and installs the zero state for id,
// retrying forever on a failed download.
func downloadZeroState(ctx context.Context, node Node, id common.BlockID) ([]byte, error) {
	logger := log.New("component", "boot")

	if handle, ok, err := node.LoadBlockHandle(id); err == nil && ok && handle.Meta().HasState() {
		return node.DownloadZeroState(ctx, id)
	}

	for {
		state, err := node.DownloadZeroState(ctx, id)
		if err == nil {
			handle, storeErr := node.StoreZeroState(ctx, id, state)
			if storeErr != nil {
				return nil, fmt.Errorf("boot: store zero state: %w", storeErr)
			}
			if err := node.SetApplied(ctx, handle, 0); err != nil {
				return nil, fmt.Errorf("boot: set zero state applied: %w", err)
			}
			return state, nil
		}
		logger.Warn("failed to download zero state", "err", err)
		time.Sleep(10 * time.Millisecond)
	}
}

// downloadBaseWcZeroState derives the base workchain's own zero state
// id from the masterchain zero state and downloads it too.
func downloadBaseWcZeroState(ctx context.Context, node Node, masterchainZeroState []byte) error {
	id, err := node.BaseWorkchainZeroStateID(ctx, masterchainZeroState)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBaseWorkchainInfoNotFound, err)
	}

	log.New("component", "boot").Info("base workchain zerostate", "id", id)

	_, err = downloadZeroState(ctx, node, id)
	return err
}

// downloadStartBlocksAndStates downloads the chosen masterchain block
// and state, then every shard block (or zero state, for a shard that
// hasn't produced a block yet) it references.
func downloadStartBlocksAndStates(ctx context.Context, node Node, masterchainBlockID common.BlockID) error {
	logger := log.New("component", "boot")

	initMcHandle, err := downloadBlockAndState(ctx, node, masterchainBlockID, masterchainBlockID)
	if err != nil {
		return err
	}
	logger.Info("downloaded init mc block state", "id", initMcHandle.ID())

	shardIDs, err := node.ShardBlockIDs(ctx, masterchainBlockID)
	if err != nil {
		return fmt.Errorf("boot: load shard block ids: %w", err)
	}

	for _, shardID := range shardIDs {
		if shardID.SeqNo == 0 {
			if _, err := downloadZeroState(ctx, node, shardID); err != nil {
				return err
			}
			continue
		}
		if _, err := downloadBlockAndState(ctx, node, shardID, masterchainBlockID); err != nil {
			return err
		}
	}
	return nil
}

// downloadBlockAndState fetches id's block (and proof) and its shard
// state relative to masterchainBlockID, applying both and marking the
// result applied.
func downloadBlockAndState(ctx context.Context, node Node, id, masterchainBlockID common.BlockID) (*blockindex.BlockHandle, error) {
	logger := log.New("component", "boot")
	logger.Info("downloading block state", "id", id)

	handle, err := node.DownloadBlockAndState(ctx, id, masterchainBlockID)
	if err != nil {
		return nil, fmt.Errorf("boot: download block and state for %s: %w", id, err)
	}

	if err := node.SetApplied(ctx, handle, masterchainBlockID.SeqNo); err != nil {
		return nil, fmt.Errorf("boot: set applied for %s: %w", id, err)
	}
	return handle, nil
}
