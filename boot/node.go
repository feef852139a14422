package boot

import (
	"context"

	"github.com/ledgerwatch/tonstate/blockindex"
	"github.com/ledgerwatch/tonstate/common"
)

// Node is the full set of external collaborators boot needs: loading
// and persisting block handles/cursors, downloading proofs and states,
// and verifying proof chains. Proof cryptography and shard-state
// interpretation live outside this module; every call here stands in
// for one of those collaborators.
type Node interface {
	// LoadBlockHandle returns the handle for id, if already known.
	LoadBlockHandle(id common.BlockID) (*blockindex.BlockHandle, bool, error)

	// LoadLastKeyBlockID reads the masterchain state at mcBlockID and
	// returns the key block id it considers its most recent ancestor.
	LoadLastKeyBlockID(ctx context.Context, mcBlockID common.BlockID) (common.BlockID, error)

	// InitMcBlockID returns the configured starting point for cold boot.
	InitMcBlockID() common.BlockID
	// SetInitMcBlockID records a new cold-boot starting point, called
	// when get_key_blocks crosses a persistent-state boundary.
	SetInitMcBlockID(id common.BlockID)

	// DownloadBlockProof fetches id's proof (asLink requests a
	// ProofLink instead of a full Proof).
	DownloadBlockProof(ctx context.Context, id common.BlockID, asLink bool) ([]byte, error)
	// CheckProofLink validates a standalone proof link (no predecessor
	// to chain from).
	CheckProofLink(proof []byte) error
	// CheckWithPrevKeyBlockProof validates proof as the direct
	// successor of prevProof in the key-block chain.
	CheckWithPrevKeyBlockProof(proof, prevProof []byte) error
	// CheckWithMasterState validates proof against the zero state's
	// embedded validator set (the chain's starting trust anchor).
	CheckWithMasterState(proof []byte, zeroState []byte) error
	// StoreBlockProof persists proof for id, updating handle if
	// non-nil or creating a fresh one otherwise.
	StoreBlockProof(ctx context.Context, id common.BlockID, handle *blockindex.BlockHandle, proof []byte) (*blockindex.BlockHandle, error)
	// IsHardFork reports whether id names a known hard-fork boundary,
	// at which point proof verification failures are suppressed.
	IsHardFork(id common.BlockID) bool
	// DownloadNextKeyBlockIDs returns the key block ids immediately
	// following after, in ascending order (possibly empty if after is
	// the newest known key block).
	DownloadNextKeyBlockIDs(ctx context.Context, after common.BlockID) ([]common.BlockID, error)

	// DownloadZeroState fetches and returns the raw zero state bytes
	// for id.
	DownloadZeroState(ctx context.Context, id common.BlockID) ([]byte, error)
	// StoreZeroState persists a downloaded zero state and returns its
	// handle.
	StoreZeroState(ctx context.Context, id common.BlockID, state []byte) (*blockindex.BlockHandle, error)
	// BaseWorkchainZeroStateID derives the base workchain's own zero
	// state block id from the masterchain zero state bytes.
	BaseWorkchainZeroStateID(ctx context.Context, masterchainZeroState []byte) (common.BlockID, error)

	// DownloadBlockAndState fetches id's block/proof and shard state
	// (relative to masterchainBlockID) and applies it, returning the
	// resulting handle.
	DownloadBlockAndState(ctx context.Context, id, masterchainBlockID common.BlockID) (*blockindex.BlockHandle, error)
	// ShardBlockIDs returns the shard block ids a masterchain block
	// references.
	ShardBlockIDs(ctx context.Context, mcBlockID common.BlockID) ([]common.BlockID, error)

	// SetApplied marks handle applied against masterchainSeqNo.
	SetApplied(ctx context.Context, handle *blockindex.BlockHandle, masterchainSeqNo uint32) error

	// LoadLastAppliedMcBlockID reads the persisted resume point, ok is
	// false on first-ever boot.
	LoadLastAppliedMcBlockID() (common.BlockID, bool, error)
	// StoreLastAppliedMcBlockID persists the boot result.
	StoreLastAppliedMcBlockID(id common.BlockID) error
	// LoadShardsClientMcBlockID reads the persisted shard-client
	// cursor, ok is false on first-ever boot.
	LoadShardsClientMcBlockID() (common.BlockID, bool, error)
	// StoreShardsClientMcBlockID persists the shard-client cursor.
	StoreShardsClientMcBlockID(id common.BlockID) error

	// StoreHighKeyBlock persists the cold-boot result as the
	// background sync high watermark.
	StoreHighKeyBlock(id common.BlockID) error
}
