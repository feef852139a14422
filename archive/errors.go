// Package archive implements the Archive Sync Pipeline: the
// concurrent Downloader, ordered masterchain/shard application,
// and the background historical sync driver. Node networking itself
// (peer discovery, overlay transport) is an external collaborator
// modeled as the Fetcher/ProofFetcher interfaces.
package archive

import "errors"

// Error kinds for the Archive Sync Pipeline.
var (
	ErrEmptyArchivePackage          = errors.New("archive: empty archive package")
	ErrMasterchainBlockIDMismatch   = errors.New("archive: masterchain block id mismatch")
	ErrBlocksSkippedInArchive       = errors.New("archive: blocks skipped in archive")
	ErrBlockNotFound                = errors.New("archive: block not found in archive")
	ErrBlockProofNotFound           = errors.New("archive: block proof not found in archive")
	ErrMasterchainBlockNotFound     = errors.New("archive: masterchain block not found")
	ErrShardchainBlockHandleMissing = errors.New("archive: shardchain block handle not found")
	ErrBrokenQueue                  = errors.New("archive: broken download queue")

	// ErrArchiveNotFound is returned by a Fetcher when no
	// archive slice exists (yet) for a requested starting seq_no —
	// distinct from a transport error, which is retried differently.
	ErrArchiveNotFound = errors.New("archive: slice not found")
)
