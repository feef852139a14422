package archive

import (
	"context"
	"time"

	"github.com/ledgerwatch/tonstate/log"
	"github.com/ledgerwatch/tonstate/metrics"
)

// SyncStatus is the collaborator that knows whether the node has caught
// up with the network head; live sync keeps pulling archives until it
// says so.
type SyncStatus interface {
	IsSynced() bool
}

// LiveSync pulls archive slices from lastApplied+1 with an open upper
// bound and applies them in strict order. A failed apply is not
// accepted, so the downloader re-schedules the same slice.
type LiveSync struct {
	importer *Importer
	fetcher  Fetcher
	peers    *ActivePeers
	status   SyncStatus
	storage  *Storage // optional: applied slices are kept for re-serving
	log      *log.Logger
}

// NewLiveSync builds the live sync driver.
func NewLiveSync(importer *Importer, fetcher Fetcher, status SyncStatus) *LiveSync {
	return &LiveSync{
		importer: importer,
		fetcher:  fetcher,
		peers:    NewActivePeers(),
		status:   status,
		log:      log.New("component", "archive.livesync"),
	}
}

// WithStorage makes the driver persist every accepted slice.
func (s *LiveSync) WithStorage(storage *Storage) *LiveSync {
	s.storage = storage
	return s
}

// Run drives the loop until the node reports itself synced or ctx is
// cancelled. fromSeqNo is the first masterchain seq_no still missing
// (last applied + 1).
func (s *LiveSync) Run(ctx context.Context, fromSeqNo uint32) error {
	downloader := NewDownloader(s.fetcher, s.peers, fromSeqNo, nil)

	for !s.status.IsSynced() {
		raw, seqNo, err := downloader.Next(ctx)
		if err != nil {
			return err
		}

		start := time.Now()
		if err := s.importer.ImportPackage(ctx, raw); err != nil {
			s.log.Warn("archive apply failed, rescheduling", "seq_no", seqNo, "err", err)
			continue
		}
		metrics.ObserveArchiveApply(time.Since(start).Seconds())

		if s.storage != nil {
			if err := s.storage.AppendFragment(seqNo, raw); err != nil {
				return err
			}
		}

		s.log.Info("applied archive", "seq_no", seqNo)
		downloader.Accept()
	}

	s.log.Info("sync complete", "seq_no", fromSeqNo)
	return nil
}
