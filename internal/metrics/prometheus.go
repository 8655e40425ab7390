package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ringkv"

// Metrics holds all Prometheus metrics for a storage node. Every Record and
// Update method is a no-op on a nil *Metrics.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheEntries        prometheus.Gauge

	// Node state
	WriteLocked prometheus.Gauge
	StoredKeys  prometheus.Gauge

	// Connection metrics
	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected prometheus.Counter

	// Migration metrics
	MigrationsTotal   *prometheus.CounterVec
	MigrationKeysSent prometheus.Counter
	MigrationDuration prometheus.Histogram

	// Gossip metrics
	GossipMembersTotal prometheus.Gauge
	GossipEventsTotal  *prometheus.CounterVec

	// System metrics
	DiskUsagePercent   prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
}

// NewMetrics creates the node metrics and registers them with reg
func NewMetrics(nodeName string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node": nodeName}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "requests_total",
			Help:        "Total number of client requests by operation and status",
			ConstLabels: labels,
		}, []string{"operation", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "request_duration_seconds",
			Help:        "Histogram of client request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),

		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Total number of cache hits",
			ConstLabels: labels,
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Total number of cache misses",
			ConstLabels: labels,
		}),
		CacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Total number of cache evictions",
			ConstLabels: labels,
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Current number of entries in cache",
			ConstLabels: labels,
		}),

		WriteLocked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "write_locked",
			Help:        "1 while the node rejects writes",
			ConstLabels: labels,
		}),
		StoredKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "stored_keys",
			Help:        "Number of persisted records seen by the last scan",
			ConstLabels: labels,
		}),

		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "server",
			Name:        "connections_total",
			Help:        "Total number of accepted client connections",
			ConstLabels: labels,
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "server",
			Name:        "connections_active",
			Help:        "Current number of open client connections",
			ConstLabels: labels,
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "server",
			Name:        "connections_rejected_total",
			Help:        "Connections closed because the connection limit was reached",
			ConstLabels: labels,
		}),

		MigrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "migration",
			Name:        "runs_total",
			Help:        "Total number of range migrations by result",
			ConstLabels: labels,
		}, []string{"result"}),
		MigrationKeysSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "migration",
			Name:        "keys_sent_total",
			Help:        "Total number of keys forwarded to other nodes",
			ConstLabels: labels,
		}),
		MigrationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "migration",
			Name:        "duration_seconds",
			Help:        "Histogram of range migration durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 8),
		}),

		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "members",
			Help:        "Current number of gossip members",
			ConstLabels: labels,
		}),
		GossipEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "events_total",
			Help:        "Total number of membership events by type",
			ConstLabels: labels,
		}, []string{"type"}),

		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage of the data directory filesystem",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available bytes on the data directory filesystem",
			ConstLabels: labels,
		}),
	}
}

// RecordRequest records a served client request
func (m *Metrics) RecordRequest(operation, status string, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordCacheEviction records a cache eviction
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.Inc()
}

// UpdateCacheEntries sets the cache entry gauge
func (m *Metrics) UpdateCacheEntries(entries int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(entries))
}

// UpdateWriteLock sets the write lock gauge
func (m *Metrics) UpdateWriteLock(locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.WriteLocked.Set(1)
	} else {
		m.WriteLocked.Set(0)
	}
}

// UpdateStoredKeys sets the persisted record gauge
func (m *Metrics) UpdateStoredKeys(n int) {
	if m == nil {
		return
	}
	m.StoredKeys.Set(float64(n))
}

// RecordConnectionOpened records an accepted connection
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// RecordConnectionClosed records a closed connection
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordConnectionRejected records a connection turned away at the limit
func (m *Metrics) RecordConnectionRejected() {
	if m == nil {
		return
	}
	m.ConnectionsRejected.Inc()
}

// RecordMigration records a finished migration
func (m *Metrics) RecordMigration(result string, keysSent int, duration float64) {
	if m == nil {
		return
	}
	m.MigrationsTotal.WithLabelValues(result).Inc()
	m.MigrationKeysSent.Add(float64(keysSent))
	m.MigrationDuration.Observe(duration)
}

// UpdateGossipMembers sets the gossip member gauge
func (m *Metrics) UpdateGossipMembers(total int) {
	if m == nil {
		return
	}
	m.GossipMembersTotal.Set(float64(total))
}

// RecordGossipEvent records a membership event
func (m *Metrics) RecordGossipEvent(eventType string) {
	if m == nil {
		return
	}
	m.GossipEventsTotal.WithLabelValues(eventType).Inc()
}

// UpdateDiskStats sets the disk gauges
func (m *Metrics) UpdateDiskStats(usagePercent float64, availableBytes uint64) {
	if m == nil {
		return
	}
	m.DiskUsagePercent.Set(usagePercent)
	m.DiskAvailableBytes.Set(float64(availableBytes))
}
