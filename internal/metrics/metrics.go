package metrics

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"durakv/internal/engine"
)

// RequestMetrics are the HTTP-side counters, maintained by the API layer.
type RequestMetrics struct {
	RequestCount     int64
	RejectedRequests int64
}

var Requests RequestMetrics

func IncrementRequestCount()    { atomic.AddInt64(&Requests.RequestCount, 1) }
func IncrementRejectedRequest() { atomic.AddInt64(&Requests.RejectedRequests, 1) }

// Prometheus collectors. Engine counters are mirrored into gauges by the
// background exporter; HTTP counters update inline.
var (
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durakv_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "durakv_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	engineReads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_reads_total",
		Help: "Read operations served by the engine",
	})
	engineWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_writes_total",
		Help: "Write operations accepted by the engine",
	})
	engineCacheHits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_cache_hits_total",
		Help: "Reads answered from the in-memory cache",
	})
	engineDiskReads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_disk_reads_total",
		Help: "Reads that fell through to the data log",
	})
	engineActiveKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_active_keys",
		Help: "Live keys in the index",
	})
	engineDataFileBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_data_file_bytes",
		Help: "Size of the data log on disk",
	})
	engineWastedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_wasted_bytes",
		Help: "Dead bytes awaiting compaction",
	})
	engineWALBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_wal_bytes",
		Help: "Size of the index WAL since the last checkpoint",
	})
	engineCompactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_compactions_total",
		Help: "Completed compactions",
	})
	engineCheckpoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_engine_checkpoints_total",
		Help: "Completed checkpoints",
	})
	goroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "durakv_goroutines",
		Help: "Live goroutines in the process",
	})
)

// PublishEngineStats copies one stats snapshot into the Prometheus gauges.
func PublishEngineStats(stats engine.EngineStats) {
	engineReads.Set(float64(stats.Reads))
	engineWrites.Set(float64(stats.Writes))
	engineCacheHits.Set(float64(stats.Hits))
	engineDiskReads.Set(float64(stats.DiskReads))
	engineActiveKeys.Set(float64(stats.ActiveKeys))
	engineDataFileBytes.Set(float64(stats.DataFileSize))
	engineWastedBytes.Set(float64(stats.WastedSpace))
	engineWALBytes.Set(float64(stats.WALSizeBytes))
	engineCompactions.Set(float64(stats.Compactions))
	engineCheckpoints.Set(float64(stats.Checkpoints))
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// StartExporter mirrors engine stats into the gauges on a fixed cadence
// until stop is closed.
func StartExporter(e *engine.Engine, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				PublishEngineStats(e.Stats())
			case <-stop:
				return
			}
		}
	}()
}
