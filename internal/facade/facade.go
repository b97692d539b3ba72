// Package facade orchestrates §4.1-4.6 behind the memory lifecycle API of
// spec §4.7: create/get/update/delete/search, bulk_create, context and
// relation CRUD, statistics, and ingest_book. Business rules (default
// filling, lazy/eager toggling, validation) live here; every other package
// stays a pure mechanism invoked through its narrow, already-grounded API.
//
// The dynamic "use_X" boolean flags the source facade carried
// (use_chunked_storage, use_hybrid_storage, use_deduplication, ...) are
// replaced by a single StorageOptions value built once per call, per spec
// §9's redesign note.
package facade

import (
	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/archival"
	"github.com/memcontext/vault/internal/chunkstore"
	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/dedup"
	"github.com/memcontext/vault/internal/repository"
	"github.com/memcontext/vault/internal/router"
	"github.com/memcontext/vault/internal/telemetry"
	"github.com/memcontext/vault/internal/workerpool"
)

// StorageOptions controls how CreateMemory stores content, replacing the
// source facade's scattered use_* booleans with one explicit value
// constructed per call (or once, for a facade-wide default).
type StorageOptions struct {
	// LazyLoading, on the facade's default options, makes a non-eager
	// GetMemory return only ContentPreview until LoadFullContent is called.
	LazyLoading bool
	// PreviewLength bounds ContentPreview, in bytes of the uncompressed content.
	PreviewLength int
	// ChunkingEnabled splits content larger than ChunkSize into MemoryChunks
	// instead of storing it inline on the Memory row.
	ChunkingEnabled bool
	ChunkSize       int
	MaxChunks       int
	// UseRouter stores the compressed blob through the storage router's
	// backend chain instead of inline in the memories table.
	UseRouter bool
	// DeduplicateOnCreate runs an exact-strategy duplicate check against the
	// owner's existing memories before inserting a new one.
	DeduplicateOnCreate bool
}

func (o StorageOptions) withDefaults() StorageOptions {
	if o.PreviewLength <= 0 {
		o.PreviewLength = 100
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 10000
	}
	if o.MaxChunks <= 0 {
		o.MaxChunks = 100
	}
	return o
}

// Facade is the single entrypoint embedding applications use.
type Facade struct {
	repo     *repository.Repository
	chunks   *chunkstore.Store
	codec    *codec.Pipeline
	router   *router.Router
	dedup    *dedup.Engine
	archival *archival.Engine
	pool     *workerpool.Pool
	metrics  *telemetry.Metrics
	logger   *zap.Logger

	opts StorageOptions
}

// New builds a Facade from its collaborators and default StorageOptions.
// archivalEngine and r (the router) are optional; nil disables the features
// that depend on them (StorageReport, UseRouter respectively).
func New(repo *repository.Repository, chunks *chunkstore.Store, pipeline *codec.Pipeline, r *router.Router, dedupEngine *dedup.Engine, archivalEngine *archival.Engine, pool *workerpool.Pool, metrics *telemetry.Metrics, logger *zap.Logger, opts StorageOptions) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = workerpool.New(0)
	}
	return &Facade{
		repo: repo, chunks: chunks, codec: pipeline, router: r,
		dedup: dedupEngine, archival: archivalEngine, pool: pool, metrics: metrics,
		logger: logger, opts: opts.withDefaults(),
	}
}

func (f *Facade) observe(op string, err error) {
	if f.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	f.metrics.FacadeOperations.WithLabelValues(op, result).Inc()
}

func preview(content []byte, n int) string {
	if len(content) <= n {
		return string(content)
	}
	return string(content[:n])
}
