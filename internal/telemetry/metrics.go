// Package telemetry wires the engine's counters and histograms into a
// private Prometheus registry, following the custom-registry pattern in
// FairForge's internal/api/metrics.go (a private registry per instance
// avoids duplicate-registration panics when multiple engines share a
// process, e.g. in tests).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every metric the storage engine emits.
type Metrics struct {
	registry *prometheus.Registry

	CodecOperations   *prometheus.CounterVec   // result=hit|fallback, algorithm
	CodecRatio        prometheus.Histogram
	ChunkOperations   *prometheus.CounterVec   // op=store|retrieve|delete, result=ok|error
	RouterWrites      *prometheus.CounterVec   // backend, result=ok|error
	RouterReads       *prometheus.CounterVec   // backend, result=ok|corrupt|error
	RouterRepairs     prometheus.Counter
	BackendHealth     *prometheus.GaugeVec     // backend -> 1 up / 0 down
	DedupGroups       prometheus.Counter
	DedupBytesSaved   prometheus.Counter
	ArchivesCreated   *prometheus.CounterVec   // policy, result
	ArchiveBytes      prometheus.Counter
	FacadeOperations  *prometheus.CounterVec   // op, result
}

// New builds and registers all metrics against a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CodecOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memvault_codec_operations_total",
			Help: "Codec compress operations by chosen algorithm and whether it beat the none fallback.",
		}, []string{"algorithm", "result"}),
		CodecRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memvault_codec_compression_ratio",
			Help:    "Compression ratio (1 - compressed/original) achieved per compress call.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ChunkOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memvault_chunk_operations_total",
			Help: "Chunk store operations.",
		}, []string{"op", "result"}),
		RouterWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memvault_router_writes_total",
			Help: "Storage router replica writes by backend and outcome.",
		}, []string{"backend", "result"}),
		RouterReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memvault_router_reads_total",
			Help: "Storage router reads by backend and outcome.",
		}, []string{"backend", "result"}),
		RouterRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memvault_router_repairs_total",
			Help: "Asynchronous repair writes triggered by a non-primary read.",
		}),
		BackendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memvault_backend_health",
			Help: "1 if a backend is up, 0 if down.",
		}, []string{"backend"}),
		DedupGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memvault_dedup_groups_total",
			Help: "Duplicate groups found across all find_duplicates calls.",
		}),
		DedupBytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memvault_dedup_bytes_saved_total",
			Help: "Bytes reclaimed by merge_duplicates.",
		}),
		ArchivesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memvault_archives_created_total",
			Help: "Archives created by policy and outcome.",
		}, []string{"policy", "result"}),
		ArchiveBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memvault_archive_bytes_total",
			Help: "Total bytes written to pack-files.",
		}),
		FacadeOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memvault_facade_operations_total",
			Help: "Facade-level operations by name and outcome.",
		}, []string{"op", "result"}),
	}

	registry.MustRegister(
		m.CodecOperations, m.CodecRatio, m.ChunkOperations,
		m.RouterWrites, m.RouterReads, m.RouterRepairs, m.BackendHealth,
		m.DedupGroups, m.DedupBytesSaved,
		m.ArchivesCreated, m.ArchiveBytes, m.FacadeOperations,
	)

	return m
}

// Registry exposes the underlying registry, e.g. for promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
