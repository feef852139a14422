// Package metrics wraps the prometheus client behind an Enabled gate
// so that instrumentation can be compiled in but switched off without
// branching at every call site.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Enabled gates every collector update in this package. Off by default;
// a host process flips it on before wiring a /metrics handler.
var Enabled = false

var (
	CellsFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tonstate_cells_finalized_total",
		Help: "Cells written to cell storage during replace-transaction finalization.",
	})
	BatchesFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tonstate_cell_batches_flushed_total",
		Help: "Write batches flushed by the replace-transaction finalizer.",
	})
	ArchiveDownloadsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tonstate_archive_downloads_in_flight",
		Help: "Archive slice downloads currently pending in the downloader's queue.",
	})
	ArchiveApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "tonstate_archive_apply_duration_seconds",
		Help: "Time to apply one archive package end-to-end.",
		Buckets: prometheus.DefBuckets,
	})
	BlockIndexLookups = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tonstate_block_index_lookups_total",
		Help: "Block Index DB get_block calls.",
	})
)

func init() {
	prometheus.MustRegister(CellsFinalized, BatchesFlushed, ArchiveDownloadsInFlight, ArchiveApplyDuration, BlockIndexLookups)
}

// IncCellsFinalized adds n to the cells-finalized counter iff enabled.
func IncCellsFinalized(n int) {
	if !Enabled {
		return
	}
	CellsFinalized.Add(float64(n))
}

// IncBatchesFlushed bumps the batch-flush counter iff enabled.
func IncBatchesFlushed() {
	if !Enabled {
		return
	}
	BatchesFlushed.Inc()
}

// SetArchiveDownloadsInFlight reports how many archive downloads the
// downloader currently has in flight.
func SetArchiveDownloadsInFlight(n int) {
	if !Enabled {
		return
	}
	ArchiveDownloadsInFlight.Set(float64(n))
}

// ObserveArchiveApply records one archive-apply latency sample in seconds.
func ObserveArchiveApply(seconds float64) {
	if !Enabled {
		return
	}
	ArchiveApplyDuration.Observe(seconds)
}

// IncBlockIndexLookups bumps the lookup counter iff enabled.
func IncBlockIndexLookups() {
	if !Enabled {
		return
	}
	BlockIndexLookups.Inc()
}
