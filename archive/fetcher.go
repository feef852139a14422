package archive

import "context"

// ProofFetcher retrieves a single masterchain key block proof by
// seq_no, used by the boot sequence's key-block chain walk. It is a
// narrower sibling of Fetcher: one proof, not an archive slice.
type ProofFetcher interface {
	FetchKeyBlockProof(ctx context.Context, seqNo uint32) ([]byte, error)
}

// MagnetResolver maps an archive slice's starting seq_no to the
// announce magnet link that names its torrent, the piece of overlay
// routing that sits outside this module's scope.
type MagnetResolver interface {
	ResolveArchive(seqNo uint32) (magnet string, ok bool)
	ResolveKeyBlockProof(seqNo uint32) (magnet string, ok bool)
}
