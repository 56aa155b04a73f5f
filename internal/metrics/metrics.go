// Package metrics exposes the worker's Prometheus series: request
// throughput and latency by type and terminal status, queue depths,
// worker-thread utilization, replica-create transfer volume and
// checksums, director-index extraction sizes, and DB connection pool
// occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the worker registers.
type Collector struct {
	Registry *prometheus.Registry

	requestsSubmitted *prometheus.CounterVec
	requestsFinished  *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec

	queueNewDepth        prometheus.Gauge
	queueInProgressDepth prometheus.Gauge
	queueFinishedDepth   prometheus.Gauge
	workerThreadsBusy    prometheus.Gauge

	replicaBytesCopied    *prometheus.CounterVec
	replicaChecksumEvents *prometheus.CounterVec

	directorIndexFileBytes prometheus.Histogram

	dbPoolActive  prometheus.Gauge
	dbPoolIdle    prometheus.Gauge
	dbPoolWaiting prometheus.Gauge
}

// New creates and registers every metric on a fresh registry. Safe to
// call more than once (tests, config reload) since each call is backed
// by its own independent registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		requestsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qserv_worker_requests_submitted_total",
				Help: "Total requests submitted to the processor, by type",
			},
			[]string{"type"},
		),
		requestsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qserv_worker_requests_finished_total",
				Help: "Total requests reaching a terminal status, by type and status",
			},
			[]string{"type", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qserv_worker_request_duration_seconds",
				Help:    "Time from start() to a terminal status, by request type",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
			},
			[]string{"type"},
		),
		queueNewDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qserv_worker_queue_new_depth",
			Help: "Number of requests waiting in the new queue",
		}),
		queueInProgressDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qserv_worker_queue_in_progress_depth",
			Help: "Number of requests currently in progress",
		}),
		queueFinishedDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qserv_worker_queue_finished_depth",
			Help: "Number of finished requests awaiting dispose",
		}),
		workerThreadsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qserv_worker_threads_busy",
			Help: "Number of worker-pool threads currently executing a request",
		}),
		replicaBytesCopied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qserv_worker_replica_bytes_copied_total",
				Help: "Bytes copied by replica-create, by database",
			},
			[]string{"database"},
		),
		replicaChecksumEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qserv_worker_replica_checksum_files_total",
				Help: "Files processed by the incremental checksum engine, by outcome",
			},
			[]string{"outcome"},
		),
		directorIndexFileBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qserv_worker_director_index_file_bytes",
			Help:    "Size of the staging TSV file produced by a director-index extraction",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 14),
		}),
		dbPoolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qserv_worker_db_pool_active_connections",
			Help: "Connections currently checked out of the database pool",
		}),
		dbPoolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qserv_worker_db_pool_idle_connections",
			Help: "Idle connections sitting in the database pool",
		}),
		dbPoolWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qserv_worker_db_pool_waiting_acquirers",
			Help: "Goroutines blocked waiting to acquire a database connection",
		}),
	}

	reg.MustRegister(
		c.requestsSubmitted,
		c.requestsFinished,
		c.requestDuration,
		c.queueNewDepth,
		c.queueInProgressDepth,
		c.queueFinishedDepth,
		c.workerThreadsBusy,
		c.replicaBytesCopied,
		c.replicaChecksumEvents,
		c.directorIndexFileBytes,
		c.dbPoolActive,
		c.dbPoolIdle,
		c.dbPoolWaiting,
	)

	return c
}

// RequestSubmitted increments the submission counter for a request type.
func (c *Collector) RequestSubmitted(requestType string) {
	c.requestsSubmitted.WithLabelValues(requestType).Inc()
}

// RequestFinished records a terminal status and the total time spent
// from start to finish.
func (c *Collector) RequestFinished(requestType, status string, d time.Duration) {
	c.requestsFinished.WithLabelValues(requestType, status).Inc()
	c.requestDuration.WithLabelValues(requestType).Observe(d.Seconds())
}

// SetQueueDepths updates the three queue-depth gauges together.
func (c *Collector) SetQueueDepths(newCount, inProgress, finished int) {
	c.queueNewDepth.Set(float64(newCount))
	c.queueInProgressDepth.Set(float64(inProgress))
	c.queueFinishedDepth.Set(float64(finished))
}

// SetWorkerThreadsBusy updates the busy-thread gauge.
func (c *Collector) SetWorkerThreadsBusy(n int) {
	c.workerThreadsBusy.Set(float64(n))
}

// ReplicaBytesCopied adds to the running byte counter for a database's
// replica-create traffic.
func (c *Collector) ReplicaBytesCopied(database string, n int64) {
	c.replicaBytesCopied.WithLabelValues(database).Add(float64(n))
}

// ReplicaChecksumFileProcessed records one file having passed through
// the incremental checksum engine, tagged "complete" or "short".
func (c *Collector) ReplicaChecksumFileProcessed(outcome string) {
	c.replicaChecksumEvents.WithLabelValues(outcome).Inc()
}

// DirectorIndexFileSize observes the size of a completed OUTFILE
// extraction.
func (c *Collector) DirectorIndexFileSize(bytes int64) {
	c.directorIndexFileBytes.Observe(float64(bytes))
}

// SetDBPoolStats mirrors a dbconn.Pool.Stats() snapshot into the pool
// gauges.
func (c *Collector) SetDBPoolStats(active, idle, waiting int) {
	c.dbPoolActive.Set(float64(active))
	c.dbPoolIdle.Set(float64(idle))
	c.dbPoolWaiting.Set(float64(waiting))
}
