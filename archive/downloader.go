package archive

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/ledgerwatch/tonstate/log"
	"github.com/ledgerwatch/tonstate/metrics"
)

// MaxConcurrency bounds the number of in-flight archive downloads
//.
const MaxConcurrency = 8

// ArchiveSlice is the number of masterchain blocks packaged per archive
// download unit.
const ArchiveSlice = 100

// Fetcher is the external collaborator that actually retrieves an
// archive slice's bytes for a given starting masterchain seq_no. Peer
// selection, overlay routing and retransport live outside this module;
// this interface is the whole surface the downloader depends on.
type Fetcher interface {
	// Fetch returns the raw archive slice bytes starting at seqNo, or
	// ErrArchiveNotFound if no such slice currently exists, excluding
	// (when non-empty) the peer recorded in ActivePeers for seqNo.
	Fetch(ctx context.Context, seqNo uint32, exclude string) ([]byte, string, error)
}

type queueStatus int

const (
	statusDownloading queueStatus = iota
	statusNotFound
	statusDownloaded
)

type queueEntry struct {
	status queueStatus
	data   []byte
}

type downloadResult struct {
	seqNo    uint32
	data     []byte
	peer     string
	notFound bool
	err      error
}

// Downloader is the archive download state machine: a bounded
// in-flight pool of archive-slice fetches, reordered into strict
// ascending delivery and retried on transient "not found" gaps.
type Downloader struct {
	fetcher Fetcher
	peers   *ActivePeers

	step        uint32
	upperBound  *uint32 // nil: open-ended (live sync)
	target      uint32  // next seq_no that must be applied
	concurrency int     // slow-start: 1 until the first successful apply

	mu      sync.Mutex
	queue   map[uint32]*queueEntry
	pending *roaring.Bitmap // seq_nos currently Downloading

	results chan downloadResult
	log     *log.Logger
}

// NewDownloader builds a downloader that will deliver archives starting
// at startSeqNo in strict ascending order. upperBound, if non-nil, caps
// the range (used by background_sync's closed range); nil means open
// (live sync).
func NewDownloader(fetcher Fetcher, peers *ActivePeers, startSeqNo uint32, upperBound *uint32) *Downloader {
	return &Downloader{
		fetcher:     fetcher,
		peers:       peers,
		step:        ArchiveSlice,
		upperBound:  upperBound,
		target:      startSeqNo,
		concurrency: 1,
		queue:       make(map[uint32]*queueEntry),
		pending:     roaring.New(),
		results:     make(chan downloadResult, MaxConcurrency*2),
		log:         log.New("component", "archive.downloader"),
	}
}

// Next blocks until the archive slice starting at the current target is
// ready. Callers must
// call Accept after successfully applying the returned slice.
func (d *Downloader) Next(ctx context.Context) ([]byte, uint32, error) {
	for {
		if d.upperBound != nil && d.target > *d.upperBound {
			return nil, 0, context.Canceled
		}

		d.scheduleDownloads(ctx)

		if data, ok := d.finishDownload(d.target); ok {
			return data, d.target, nil
		}

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case res := <-d.results:
			d.handleResult(ctx, res)
		}
	}
}

// Accept advances the target past the slice just applied and lifts the
// slow-start concurrency cap to MaxConcurrency after the first
// successful apply.
func (d *Downloader) Accept() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target += d.step
	d.concurrency = MaxConcurrency
}

func (d *Downloader) scheduleDownloads(ctx context.Context) {
	d.retryNotFound(ctx)

	d.mu.Lock()
	concurrency := d.concurrency
	seqNo := d.target
	toStart := make([]uint32, 0, concurrency)
	// The target slice itself is always (re)scheduled, so a slice dropped
	// after a failed apply is fetched again even when every slot is busy.
	for seqNo == d.target || uint64(len(toStart))+d.pending.GetCardinality() < uint64(concurrency) {
		if d.upperBound != nil && seqNo > *d.upperBound {
			break
		}
		if _, exists := d.queue[seqNo]; !exists {
			d.queue[seqNo] = &queueEntry{status: statusDownloading}
			d.pending.Add(seqNo)
			toStart = append(toStart, seqNo)
		}
		seqNo += d.step
		if len(d.queue) > int(concurrency)*4 {
			break // guard against unbounded queue growth on a stalled fetcher
		}
	}
	d.mu.Unlock()

	metrics.SetArchiveDownloadsInFlight(int(d.pending.GetCardinality()))
	for _, s := range toStart {
		d.startDownload(ctx, s)
	}
}

func (d *Downloader) startDownload(ctx context.Context, seqNo uint32) {
	exclude, _ := d.peers.Excluded(seqNo)
	go func() {
		data, peer, err := d.fetcher.Fetch(ctx, seqNo, exclude)
		switch {
		case err == ErrArchiveNotFound:
			d.results <- downloadResult{seqNo: seqNo, notFound: true}
		case err != nil:
			d.results <- downloadResult{seqNo: seqNo, err: err}
		default:
			d.results <- downloadResult{seqNo: seqNo, data: data, peer: peer}
		}
	}()
}

func (d *Downloader) handleResult(ctx context.Context, res downloadResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.Remove(res.seqNo)

	switch {
	case res.err != nil:
		d.log.Warn("archive download failed, rescheduling", "seq_no", res.seqNo, "err", res.err)
		delete(d.queue, res.seqNo)
	case res.notFound:
		if e, ok := d.queue[res.seqNo]; ok {
			e.status = statusNotFound
		}
	default:
		d.peers.Set(res.seqNo, res.peer)
		if e, ok := d.queue[res.seqNo]; ok {
			e.status = statusDownloaded
			e.data = res.data
		}
	}
}

// finishDownload returns the queued archive for target, if already
// downloaded, and removes it from the queue. Applies proceed in strict
// order, so there is at most one live target at a time.
func (d *Downloader) finishDownload(target uint32) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.queue[target]
	if !ok || e.status != statusDownloaded {
		return nil, false
	}
	delete(d.queue, target)
	return e.data, true
}

// retryNotFound reissues stalled gap entries: if some entry is
// Downloaded, there must be data beyond any NotFound entry at or below
// it, so every such NotFound is reissued; otherwise, when every queued
// entry is NotFound, only the earliest one is reissued to probe the
// frontier. The sync status is not consulted: that probe is reissued on
// every scheduling pass.
func (d *Downloader) retryNotFound(ctx context.Context) {
	d.mu.Lock()
	var latest uint32
	haveLatest := false
	for seqNo, e := range d.queue {
		if e.status != statusDownloaded {
			continue
		}
		if !haveLatest || seqNo > latest {
			latest = seqNo
			haveLatest = true
		}
	}

	var toRetry []uint32
	if haveLatest {
		for seqNo, e := range d.queue {
			if e.status == statusNotFound && seqNo <= latest {
				e.status = statusDownloading
				d.pending.Add(seqNo)
				toRetry = append(toRetry, seqNo)
			}
		}
	} else {
		allNotFound := true
		var earliest uint32
		haveEarliest := false
		for seqNo, e := range d.queue {
			if e.status != statusNotFound {
				allNotFound = false
				break
			}
			if !haveEarliest || seqNo < earliest {
				earliest = seqNo
				haveEarliest = true
			}
		}
		if allNotFound && haveEarliest {
			d.queue[earliest].status = statusDownloading
			d.pending.Add(earliest)
			toRetry = append(toRetry, earliest)
		}
	}
	d.mu.Unlock()

	for _, s := range toRetry {
		d.startDownload(ctx, s)
	}
}
