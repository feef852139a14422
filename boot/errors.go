// Package boot selects the trusted starting point a node resumes or
// cold-starts from: warm boot from the last applied masterchain
// block, or cold boot from a zero state or a verified key-block proof
// chain. Proof cryptography, shard-state interpretation and network
// transport are external collaborators behind the Node interface; this
// package only implements the control flow that decides which block id
// to start from and orchestrates the collaborator calls in the right
// order.
package boot

import "errors"

// Error kinds for Boot.
var (
	ErrStartingFromNonKeyBlock      = errors.New("boot: starting block is not a key block")
	ErrFailedToLoadInitialBlock     = errors.New("boot: failed to load initial block handle")
	ErrMasterchainStateNotFound     = errors.New("boot: masterchain state not found")
	ErrBaseWorkchainInfoNotFound    = errors.New("boot: base workchain info not found")
	ErrShardStateHashMismatch       = errors.New("boot: downloaded shard state hash mismatch")
	ErrPersistentShardStateNotFound = errors.New("boot: no persistent shard state found among key block candidates")
)

// KeyBlockUtimeStep is the nominal spacing between key blocks, used to
// detect a persistent-state boundary.
const KeyBlockUtimeStep = 86400

// InitialSyncTimeSeconds bounds how close to "now" a key block must be
// before cold boot stops walking forward.
const InitialSyncTimeSeconds = 300
