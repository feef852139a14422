package boot

import (
	"context"
	"time"

	"github.com/ledgerwatch/tonstate/blockindex"
	"github.com/ledgerwatch/tonstate/common"
	"github.com/ledgerwatch/tonstate/log"
)

// keyBlockEntry pairs a key block's handle with the proof that chained
// it to its predecessor (nil for the chain's own starting point).
type keyBlockEntry struct {
	handle *blockindex.BlockHandle
	id     common.BlockID
	proof  []byte
}

// isPersistentState reports whether utime and prevUtime straddle a
// KeyBlockUtimeStep boundary, which is what makes a key block the
// anchor of a new persistent state.
func isPersistentState(utime, prevUtime uint32) bool {
	return utime/KeyBlockUtimeStep != prevUtime/KeyBlockUtimeStep
}

// getKeyBlocks walks forward from bootData's block, downloading and
// verifying each subsequent key block's proof, until the chain is
// recent enough to stop at.
func getKeyBlocks(ctx context.Context, node Node, bootData coldBootData) ([]keyBlockEntry, error) {
	logger := log.New("component", "boot")

	current := keyBlockEntry{handle: bootData.handle, id: bootData.id, proof: bootData.proof}
	result := []keyBlockEntry{current}

	for {
		logger.Info("downloading next key blocks", "after", current.id)

		ids, err := node.DownloadNextKeyBlockIDs(ctx, current.id)
		if err != nil {
			logger.Warn("failed to download next key block ids", "after", current.id, "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if len(ids) > 0 {
			logger.Info("last key block id", "id", ids[len(ids)-1])
			for _, id := range ids {
				prevUtime := current.handle.Meta().GenUtime()
				handle, proof, err := downloadKeyBlockProof(ctx, node, id, bootData)
				if err != nil {
					return nil, err
				}
				if isPersistentState(handle.Meta().GenUtime(), prevUtime) {
					node.SetInitMcBlockID(id)
				}

				current = keyBlockEntry{handle: handle, id: id, proof: proof}
				result = append(result, current)
				bootData = coldBootData{handle: handle, id: id, proof: proof}
			}
		}

		lastUtime := int64(current.handle.Meta().GenUtime())
		now := time.Now().Unix()

		logger.Info("last known key block", "id", current.id, "utime", lastUtime, "now", now)

		if lastUtime+InitialSyncTimeSeconds > now || lastUtime+2*KeyBlockUtimeStep > now {
			return result, nil
		}
	}
}

// chooseKeyBlock picks the newest key block in keyBlocks old enough and
// persistent relative to its predecessor.
func chooseKeyBlock(keyBlocks []keyBlockEntry) (keyBlockEntry, error) {
	logger := log.New("component", "boot")
	now := time.Now().Unix()

	for i := len(keyBlocks) - 1; i >= 0; i-- {
		entry := keyBlocks[i]
		utime := entry.handle.Meta().GenUtime()
		var prevUtime uint32
		if i > 0 {
			prevUtime = keyBlocks[i-1].handle.Meta().GenUtime()
		}

		persistent := prevUtime == 0 || isPersistentState(utime, prevUtime)
		logger.Info("key block candidate", "seq_no", entry.id.SeqNo, "persistent", persistent)

		if !persistent || int64(utime)+InitialSyncTimeSeconds > now {
			logger.Info("ignoring candidate: too new")
			continue
		}

		logger.Info("best key block handle", "id", entry.id)
		return entry, nil
	}

	return keyBlockEntry{}, ErrPersistentShardStateNotFound
}

// downloadKeyBlockProof fetches and verifies id's key block proof,
// chaining it from bootData.proof (or the zero state's embedded
// validator set, for the chain's first hop), retrying forever on an
// invalid proof, with hard-fork suppression.
func downloadKeyBlockProof(ctx context.Context, node Node, id common.BlockID, bootData coldBootData) (*blockindex.BlockHandle, []byte, error) {
	logger := log.New("component", "boot")

	if handle, ok, err := node.LoadBlockHandle(id); err == nil && ok {
		if proof, err := node.DownloadBlockProof(ctx, id, false); err == nil {
			return handle, proof, nil
		}
	}

	for {
		proof, err := node.DownloadBlockProof(ctx, id, false)
		if err != nil {
			return nil, nil, err
		}

		var checkErr error
		if bootData.zeroState != nil {
			checkErr = node.CheckWithMasterState(proof, bootData.zeroState)
		} else {
			checkErr = node.CheckWithPrevKeyBlockProof(proof, bootData.proof)
			if checkErr != nil && node.IsHardFork(id) {
				logger.Warn("received hard fork key block, ignoring proof", "id", id)
				checkErr = nil
			}
		}

		if checkErr == nil {
			handle, err := node.StoreBlockProof(ctx, id, nil, proof)
			if err != nil {
				return nil, nil, err
			}
			return handle, proof, nil
		}

		logger.Warn("got invalid key block proof", "err", checkErr)
		time.Sleep(10 * time.Millisecond)
	}
}
