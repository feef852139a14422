package archive

import (
	"context"
	"fmt"

	"github.com/ledgerwatch/tonstate/log"
)

// CursorStore persists the background sync cursor so a restarted sync
// resumes instead of re-walking already-imported history. When no low
// cursor has ever been persisted, the sync falls back once to the
// caller-supplied starting seq_no.
//
// Low is the starting masterchain seq_no of the next slice to download,
// advancing toward High; High is fixed for the lifetime of one background
// sync run (the seq_no boot resumed from).
type CursorStore interface {
	LoadLow() (seqNo uint32, ok bool, err error)
	StoreLow(seqNo uint32) error
	LoadHigh() (seqNo uint32, ok bool, err error)
	StoreHigh(seqNo uint32) error
}

// BackgroundSync drives the historical-archive backfill: it downloads
// and imports masterchain archives from a low watermark up to the high
// watermark recorded at boot, persisting progress so a crash resumes
// rather than restarts.
type BackgroundSync struct {
	importer *Importer
	fetcher  Fetcher
	peers    *ActivePeers
	cursor   CursorStore
	log      *log.Logger
}

// NewBackgroundSync builds a BackgroundSync driver.
func NewBackgroundSync(importer *Importer, fetcher Fetcher, cursor CursorStore) *BackgroundSync {
	return &BackgroundSync{
		importer: importer,
		fetcher:  fetcher,
		peers:    NewActivePeers(),
		cursor:   cursor,
		log:      log.New("component", "archive.backgroundsync"),
	}
}

// Run downloads archives from the persisted low cursor (falling back to
// fromSeqNo the first time this node ever runs background sync) up to
// highSeqNo, which is stored once and then reused across restarts.
func (s *BackgroundSync) Run(ctx context.Context, fromSeqNo, highSeqNo uint32) error {
	high, ok, err := s.cursor.LoadHigh()
	if err != nil {
		return fmt.Errorf("archive: load high cursor: %w", err)
	}
	if !ok {
		high = highSeqNo
		if err := s.cursor.StoreHigh(high); err != nil {
			return fmt.Errorf("archive: store high cursor: %w", err)
		}
	}

	low, ok, err := s.cursor.LoadLow()
	if err != nil {
		return fmt.Errorf("archive: load low cursor: %w", err)
	}
	if !ok {
		low = fromSeqNo
	} else {
		s.log.Warn("ignoring caller-supplied starting seq_no, resuming from persisted cursor", "seq_no", low)
	}

	s.log.Info("background sync started", "low", low, "high", high)

	if low >= high {
		s.log.Info("background sync already complete")
		return nil
	}

	upper := high
	downloader := NewDownloader(s.fetcher, s.peers, low, &upper)

	for {
		raw, seqNo, err := downloader.Next(ctx)
		if err != nil {
			return fmt.Errorf("archive: background sync download: %w", err)
		}

		if err := s.importer.ImportPackage(ctx, raw); err != nil {
			return fmt.Errorf("archive: background sync import at %d: %w", seqNo, err)
		}

		next := seqNo + ArchiveSlice
		if err := s.cursor.StoreLow(next); err != nil {
			return fmt.Errorf("archive: store low cursor: %w", err)
		}
		s.log.Info("background sync progress", "low", next, "high", high)

		if next >= high {
			s.log.Info("background sync complete")
			return nil
		}
		downloader.Accept()
	}
}
