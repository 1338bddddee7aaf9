package lsmkv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the engine's Prometheus series, grounded on
// pkg/metrics.Registry, narrowed from the teacher's HTTP/query/cluster/
// replication/licensing series (none of which this module has a
// component for) down to the ones an embedded storage engine itself
// produces.
type Registry struct {
	UpsertsTotal    prometheus.Counter
	GetsTotal       prometheus.Counter
	ScanEntries     prometheus.Counter
	FlushesTotal    prometheus.Counter
	FlushDuration   prometheus.Histogram
	CompactionsTotal prometheus.Counter
	CompactionDuration prometheus.Histogram
	BytesWritten    prometheus.Counter
	ActiveRunCount  prometheus.Gauge
	MemtableBytes   prometheus.Gauge
	TooManyFlushes  prometheus.Counter
}

// NewRegistry builds an unregistered Registry (the embedder decides
// whether/where to register it with a prometheus.Registerer; an
// embedded library must not reach into a global default registry on the
// caller's behalf).
func NewRegistry() *Registry {
	return &Registry{
		UpsertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_upserts_total",
			Help: "Total number of Upsert calls, including deletes.",
		}),
		GetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_gets_total",
			Help: "Total number of Get calls.",
		}),
		ScanEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_scan_entries_total",
			Help: "Total number of live entries yielded across all Scan iterators.",
		}),
		FlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_flushes_total",
			Help: "Total number of completed flushes.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "lsmkv_flush_duration_seconds",
			Help: "Duration of a flush from freeze to installed run.",
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_compactions_total",
			Help: "Total number of completed compactions.",
		}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "lsmkv_compaction_duration_seconds",
			Help: "Duration of a compaction from plan to installed storage set.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_bytes_written_total",
			Help: "Total bytes written to sorted runs by flush and compaction.",
		}),
		ActiveRunCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lsmkv_active_run_count",
			Help: "Number of sorted runs currently in the storage set.",
		}),
		MemtableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lsmkv_memtable_bytes",
			Help: "Accounted size of the active memtable in bytes.",
		}),
		TooManyFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmkv_too_many_flushes_total",
			Help: "Total number of overflow-triggered flushes rejected as back-pressure.",
		}),
	}
}

// Collectors returns every metric so the embedder can register them with
// their own prometheus.Registerer.
func (r *Registry) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.UpsertsTotal, r.GetsTotal, r.ScanEntries,
		r.FlushesTotal, r.FlushDuration,
		r.CompactionsTotal, r.CompactionDuration,
		r.BytesWritten,
		r.ActiveRunCount, r.MemtableBytes, r.TooManyFlushes,
	}
}

func observeDuration(h prometheus.Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
