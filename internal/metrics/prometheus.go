package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pairdb"
	subsystem = "transfer"
)

// Error stages
const (
	StageSource = "source"
	StageSink   = "sink"
)

// Metrics holds all Prometheus metrics for a transfer run
type Metrics struct {
	// Pump metrics
	BatchesTotal        prometheus.Counter
	RecordsTotal        prometheus.Counter
	BytesTotal          prometheus.Counter
	RecordsSkippedTotal prometheus.Counter
	EmptyBatchesTotal   prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	BatchPullDuration   prometheus.Histogram
	SinkConsumeDuration prometheus.Histogram
	BatchRecords        prometheus.Histogram
	BatchBytes          prometheus.Histogram

	// Partition metrics
	PartitionsTotal    prometheus.Counter
	PartitionsInFlight prometheus.Gauge

	// System metrics
	DiskUsageBytes     prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates all transfer metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, runID string) *Metrics {
	labels := prometheus.Labels{"run_id": runID}
	factory := promauto.With(reg)

	return &Metrics{
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "batches_total",
			Help:        "Total number of non-empty batches handed to the sink",
			ConstLabels: labels,
		}),
		RecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "records_total",
			Help:        "Total number of records handed to the sink",
			ConstLabels: labels,
		}),
		BytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "value_bytes_total",
			Help:        "Total number of value bytes handed to the sink",
			ConstLabels: labels,
		}),
		RecordsSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "records_skipped_total",
			Help:        "Total number of records excluded by the filter",
			ConstLabels: labels,
		}),
		EmptyBatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "empty_batches_total",
			Help:        "Total number of empty batches returned by the source",
			ConstLabels: labels,
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors by stage",
			ConstLabels: labels,
		}, []string{"stage"}),
		BatchPullDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "batch_pull_duration_seconds",
			Help:        "Histogram of source pull durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		SinkConsumeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "sink_consume_duration_seconds",
			Help:        "Histogram of sink consume durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		BatchRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "batch_records",
			Help:        "Histogram of records per batch",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 11), // 1 to 1024
		}),
		BatchBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "batch_bytes",
			Help:        "Histogram of value bytes per batch",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(256, 2, 12), // 256B to 512KB
		}),

		PartitionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "partitions_total",
			Help:        "Total number of partition plans run to completion",
			ConstLabels: labels,
		}),
		PartitionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "partitions_in_flight",
			Help:        "Number of partition plans currently running",
			ConstLabels: labels,
		}),

		DiskUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_usage_bytes",
			Help:        "Disk usage of the output directory in bytes",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Disk space available to the output directory in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage of the output directory",
			ConstLabels: labels,
		}),
		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Heap memory in use in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// RecordPull records one source pull
func (m *Metrics) RecordPull(duration float64) {
	m.BatchPullDuration.Observe(duration)
}

// RecordEmptyBatch records an empty batch returned by the source
func (m *Metrics) RecordEmptyBatch() {
	m.EmptyBatchesTotal.Inc()
}

// RecordBatch records a batch handed to the sink
func (m *Metrics) RecordBatch(records, bytes int, consumeDuration float64) {
	m.BatchesTotal.Inc()
	m.RecordsTotal.Add(float64(records))
	m.BytesTotal.Add(float64(bytes))
	m.BatchRecords.Observe(float64(records))
	m.BatchBytes.Observe(float64(bytes))
	m.SinkConsumeDuration.Observe(consumeDuration)
}

// RecordError records an error at the given stage
func (m *Metrics) RecordError(stage string) {
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}

// PartitionStarted marks a partition plan as running
func (m *Metrics) PartitionStarted() {
	m.PartitionsInFlight.Inc()
}

// PartitionFinished marks a partition plan as done and adds its skipped records
func (m *Metrics) PartitionFinished(skipped int64) {
	m.PartitionsInFlight.Dec()
	m.PartitionsTotal.Inc()
	m.RecordsSkippedTotal.Add(float64(skipped))
}

// UpdateSystemStats updates system-level statistics
func (m *Metrics) UpdateSystemStats(diskUsage, diskAvailable, memoryUsage int64, goroutines int) {
	m.DiskUsageBytes.Set(float64(diskUsage))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	if diskUsage+diskAvailable > 0 {
		m.DiskUsagePercent.Set(float64(diskUsage) / float64(diskUsage+diskAvailable) * 100)
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
