package archive

import "sync"

// ActivePeers is a process-wide registry of which peer is currently
// serving which archive seq_no, so a retried download can ask the
// fetcher to avoid the peer that just failed.
type ActivePeers struct {
	mu      sync.Mutex
	byQuery map[uint32]string
}

// NewActivePeers builds an empty registry.
func NewActivePeers() *ActivePeers {
	return &ActivePeers{byQuery: make(map[uint32]string)}
}

// Set records peerID as currently serving seqNo.
func (p *ActivePeers) Set(seqNo uint32, peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byQuery[seqNo] = peerID
}

// Clear forgets the peer previously recorded for seqNo.
func (p *ActivePeers) Clear(seqNo uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byQuery, seqNo)
}

// Excluded returns the peer (if any) that should be excluded from the
// next retry of seqNo.
func (p *ActivePeers) Excluded(seqNo uint32) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byQuery[seqNo]
	return id, ok
}
