package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kvlog"

// StoreStats is what gauges read on every scrape
type StoreStats struct {
	Keys    int
	LogSize int64
	Appends int64
	Failed  bool
}

var statsFn atomic.Pointer[func() StoreStats]

// SetStatsFunc sets the function gauges use to read the state of the store.
// Can be called multiple times, the last one wins.
func SetStatsFunc(fn func() StoreStats) {
	statsFn.Store(&fn)
}

func currentStats() StoreStats {
	fn := statsFn.Load()
	if fn == nil {
		return StoreStats{}
	}
	return (*fn)()
}

var (
	// StartupTime stores how long it took to replay the log (in seconds)
	StartupTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "startup_seconds",
		Help:      "Seconds taken to replay the log on startup",
	})

	ReplayedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "replayed_records",
		Help:      "Number of records replayed from the log on startup",
	})

	// CompactionTime stores how long the shutdown compaction took (in seconds)
	CompactionTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "compaction_seconds",
		Help:      "Seconds taken by the last compaction",
	})

	// GetsTotal counts lookups partitioned by result (hit, miss)
	GetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gets_total",
		Help:      "Number of get requests partitioned by result",
	}, []string{"result"})

	// SetsTotal counts writes partitioned by result (ok, rejected, error)
	SetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sets_total",
		Help:      "Number of set requests partitioned by result",
	}, []string{"result"})

	// RequestDuration stores the processing time of http requests
	// partitioned by path
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "HTTP request processing time partitioned by path",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"path"})

	// ArchivedBytes counts bytes uploaded to archive targets
	ArchivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archived_bytes_total",
		Help:      "Number of compressed bytes written to archive partitioned by target",
	}, []string{"target"})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "keys",
		Help:      "Number of keys in the index",
	}, func() float64 {
		return float64(currentStats().Keys)
	})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_size_bytes",
		Help:      "Size of the log file",
	}, func() float64 {
		return float64(currentStats().LogSize)
	})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "appends",
		Help:      "Number of records appended to the log since startup",
	}, func() float64 {
		return float64(currentStats().Appends)
	})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "failed",
		Help:      "1 if a write to the log failed and the store rejects writes",
	}, func() float64 {
		if currentStats().Failed {
			return 1
		}
		return 0
	})
)
