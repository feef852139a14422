package replacetransaction

import "errors"

// Error kinds for the Replace Transaction: parser/hash mismatches
// are fatal to the current transaction and its spill files are dropped.
var (
	ErrInvalidShardStatePacket = errors.New("replacetransaction: invalid shard state packet")
	ErrInvalidCell             = errors.New("replacetransaction: invalid cell")
	ErrNotFound                = errors.New("replacetransaction: not found")
)
