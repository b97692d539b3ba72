// Package router implements the storage router of spec §4.4: it decides
// which backend(s) an object goes to, replicates according to a
// redundancy_factor, routes reads to the fastest healthy copy, and repairs
// a primary that's missing an object a non-primary read just served.
//
// The health/score/selection split is grounded on FairForge's
// internal/engine/health.go and internal/engine/selector.go (HealthScorer,
// CalculateScore, BackendSelector.SelectBackendWithFallback), narrowed to
// the spec's N-consecutive-errors up/down model instead of a continuous
// score threshold. The up/down transition itself borrows the functional-
// options, threshold-counter shape of internal/drivers/circuit_breaker.go.
// Backend.Put/Get/Delete follows the Driver interface convention in
// internal/drivers/driver.go.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/telemetry"
)

// Backend is the adapter interface every storage implementation fulfills
// (spec §4.4: in-memory, local filesystem, S3-compatible, Azure Blob, GCS,
// and an optional Redis-like KV adapter).
type Backend interface {
	Name() string
	Store(ctx context.Context, id string, name string, data []byte) error
	Retrieve(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (BackendStats, error)
	HealthCheck(ctx context.Context) error
}

// BackendStats is the summary spec §4.4 requires from stats().
type BackendStats struct {
	TotalSize      int64
	FileCount      int64
	AvailableSpace int64
	ErrorCount     int64
	Latency        time.Duration
}

// FileMeta is one entry in the router's persisted metadata cache:
// file_id -> {filename, size, checksum, backends_holding_it, ...}.
type FileMeta struct {
	FileID            string                `json:"file_id"`
	Filename          string                `json:"filename"`
	Size              int64                 `json:"size"`
	Checksum          string                `json:"checksum"`
	BackendsHoldingIt []string              `json:"backends_holding_it"`
	CreatedAt         time.Time             `json:"created_at"`
	AccessedAt        time.Time             `json:"accessed_at"`
	AccessCount       int64                 `json:"access_count"`
	CompressionInfo   model.CompressionType `json:"compression_info"`
}

// metaCacheFile is the on-disk shape of metadata_cache.json (spec §6):
// {"version":"1.0","files":{<file_id>: <entry>},"updated_at":<iso8601>}.
type metaCacheFile struct {
	Version   string               `json:"version"`
	Files     map[string]*FileMeta `json:"files"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// health tracks one backend's up/down state per spec §4.4's health model.
type health struct {
	up                bool
	lastOK            time.Time
	consecutiveErrors int
	avgLatencyMS      float64
}

// descriptor pairs a registered backend with its priority (lower = preferred).
type descriptor struct {
	backend  Backend
	priority int
	enabled  bool
}

// Config controls router behavior.
type Config struct {
	RedundancyFactor int           // minimum distinct successful writes; default 1
	DownAfterErrors  int           // consecutive errors before marking down; default 5
	ProbeInterval    time.Duration // background health probe cadence; default 300s

	// MetadataCachePath persists the file_id -> FileMeta map alongside the
	// data per spec §4.4/§6, so it survives process restart. Defaults to
	// spec §6's ./data/cache/metadata_cache.json.
	MetadataCachePath string
}

func (c Config) withDefaults() Config {
	if c.RedundancyFactor <= 0 {
		c.RedundancyFactor = 1
	}
	if c.DownAfterErrors <= 0 {
		c.DownAfterErrors = 5
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 300 * time.Second
	}
	if c.MetadataCachePath == "" {
		c.MetadataCachePath = "./data/cache/metadata_cache.json"
	}
	return c
}

// Router owns the registered backends, their health, and the metadata cache.
type Router struct {
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu          sync.RWMutex
	descriptors map[string]*descriptor
	healthOf    map[string]*health
	metaCache   map[string]*FileMeta

	stopProbe chan struct{}
}

// New builds a Router, loading any metadata cache persisted at
// cfg.MetadataCachePath by a previous run. metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics *telemetry.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	r := &Router{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		descriptors: make(map[string]*descriptor),
		healthOf:    make(map[string]*health),
		metaCache:   make(map[string]*FileMeta),
		stopProbe:   make(chan struct{}),
	}
	if loaded, err := loadMetaCache(cfg.MetadataCachePath); err != nil {
		r.logger.Warn("router metadata cache load failed, starting empty", zap.Error(err))
	} else {
		r.metaCache = loaded
	}
	return r
}

// loadMetaCache reads the persisted metadata cache, if any. A missing file
// is not an error -- every fresh deployment starts with none.
func loadMetaCache(path string) (map[string]*FileMeta, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]*FileMeta), nil
	}
	if err != nil {
		return nil, model.ErrTransient("metadata_cache_open", err)
	}
	var file metaCacheFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, model.ErrCorruption("metadata cache decode", err)
	}
	if file.Files == nil {
		file.Files = make(map[string]*FileMeta)
	}
	return file.Files, nil
}

// saveMetaLocked writes the metadata cache to a temp file and renames it
// over cfg.MetadataCachePath, the same crash-atomic write the archival
// registry uses, so a reader never observes a partially-written cache.
// Callers must hold r.mu.
func (r *Router) saveMetaLocked() {
	dir := filepath.Dir(r.cfg.MetadataCachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("metadata cache mkdir failed", zap.Error(err))
		return
	}

	file := metaCacheFile{Version: "1.0", Files: r.metaCache, UpdatedAt: time.Now().UTC()}

	tmp, err := os.CreateTemp(dir, ".metadata_cache-*.tmp")
	if err != nil {
		r.logger.Warn("metadata cache tempfile failed", zap.Error(err))
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file); err != nil {
		_ = tmp.Close()
		r.logger.Warn("metadata cache encode failed", zap.Error(err))
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		r.logger.Warn("metadata cache sync failed", zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		r.logger.Warn("metadata cache close failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmpPath, r.cfg.MetadataCachePath); err != nil {
		r.logger.Warn("metadata cache rename failed", zap.Error(err))
	}
}

// Register adds a backend at the given priority (lower = preferred).
func (r *Router) Register(b Backend, priority int, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[b.Name()] = &descriptor{backend: b, priority: priority, enabled: enabled}
	r.healthOf[b.Name()] = &health{up: true, lastOK: time.Now()}
}

// orderedEnabled returns registered, enabled backends sorted by priority.
func (r *Router) orderedEnabled() []*descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.enabled {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out
}

func (r *Router) isUp(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.healthOf[name]
	return !ok || h.up
}

func (r *Router) recordResult(name string, err error, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.healthOf[name]
	if !ok {
		h = &health{up: true}
		r.healthOf[name] = h
	}

	if h.avgLatencyMS == 0 {
		h.avgLatencyMS = float64(latency.Milliseconds())
	} else {
		h.avgLatencyMS = 0.8*h.avgLatencyMS + 0.2*float64(latency.Milliseconds())
	}

	if err != nil {
		h.consecutiveErrors++
		if h.consecutiveErrors >= r.cfg.DownAfterErrors {
			h.up = false
		}
		return
	}

	h.consecutiveErrors = 0
	h.lastOK = time.Now()
	h.up = true
}

func (r *Router) setBackendGauge(name string, up bool) {
	if r.metrics == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	r.metrics.BackendHealth.WithLabelValues(name).Set(v)
}

// Write replicates data across the highest-priority enabled backends until
// redundancy_factor distinct successful writes complete, trying
// lower-priority backends if higher ones fail. Fails only when no backend
// accepts the write.
func (r *Router) Write(ctx context.Context, id, filename string, data []byte, checksum string, tag model.CompressionType) error {
	candidates := r.orderedEnabled()
	if len(candidates) == 0 {
		return model.ErrConfig("router: no backends registered")
	}

	var holders []string
	var lastErr error

	for _, d := range candidates {
		if len(holders) >= r.cfg.RedundancyFactor {
			break
		}
		select {
		case <-ctx.Done():
			return model.ErrCancelled
		default:
		}

		start := time.Now()
		err := d.backend.Store(ctx, id, filename, data)
		latency := time.Since(start)
		r.recordResult(d.backend.Name(), err, latency)
		r.setBackendGauge(d.backend.Name(), err == nil)

		result := "ok"
		if err != nil {
			result = "error"
			lastErr = err
			r.logger.Warn("router write failed", zap.String("backend", d.backend.Name()), zap.Error(err))
		} else {
			holders = append(holders, d.backend.Name())
		}
		if r.metrics != nil {
			r.metrics.RouterWrites.WithLabelValues(d.backend.Name(), result).Inc()
		}
	}

	if len(holders) == 0 {
		return model.ErrTransient("router_write", fmt.Errorf("no backend accepted the write: %w", lastErr))
	}

	r.mu.Lock()
	r.metaCache[id] = &FileMeta{
		FileID:            id,
		Filename:          filename,
		Size:              int64(len(data)),
		Checksum:          checksum,
		BackendsHoldingIt: holders,
		CreatedAt:         time.Now(),
		AccessedAt:        time.Now(),
		CompressionInfo:   tag,
	}
	r.saveMetaLocked()
	r.mu.Unlock()

	return nil
}

// Read iterates backends in priority order, skipping down ones, verifying
// the stored checksum against meta on retrieval. A checksum mismatch marks
// that copy corrupt and the router tries the next backend; a successful
// non-primary read triggers an async repair write to a healthy-but-missing
// primary.
func (r *Router) Read(ctx context.Context, id string, checksumFn func([]byte) string) ([]byte, error) {
	r.mu.RLock()
	meta := r.metaCache[id]
	r.mu.RUnlock()
	if meta == nil {
		return nil, model.ErrNotFound("file", id)
	}

	candidates := r.orderedEnabled()

	for i, d := range candidates {
		if !r.isUp(d.backend.Name()) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, model.ErrCancelled
		default:
		}

		start := time.Now()
		data, err := d.backend.Retrieve(ctx, id)
		latency := time.Since(start)

		if err != nil {
			r.recordResult(d.backend.Name(), err, latency)
			r.setBackendGauge(d.backend.Name(), false)
			if r.metrics != nil {
				r.metrics.RouterReads.WithLabelValues(d.backend.Name(), "error").Inc()
			}
			continue
		}

		if checksumFn != nil && meta.Checksum != "" && checksumFn(data) != meta.Checksum {
			r.recordResult(d.backend.Name(), fmt.Errorf("checksum mismatch"), latency)
			if r.metrics != nil {
				r.metrics.RouterReads.WithLabelValues(d.backend.Name(), "corrupt").Inc()
			}
			r.logger.Warn("router detected corrupt copy", zap.String("backend", d.backend.Name()), zap.String("file_id", id))
			continue
		}

		r.recordResult(d.backend.Name(), nil, latency)
		r.setBackendGauge(d.backend.Name(), true)
		if r.metrics != nil {
			r.metrics.RouterReads.WithLabelValues(d.backend.Name(), "ok").Inc()
		}

		r.mu.Lock()
		meta.AccessedAt = time.Now()
		meta.AccessCount++
		r.saveMetaLocked()
		r.mu.Unlock()

		if i > 0 && len(candidates) > 0 {
			r.maybeRepair(candidates[0], id, meta.Filename, data)
		}

		return data, nil
	}

	return nil, model.ErrCorruption(fmt.Sprintf("no healthy backend holds an intact copy of file %s", id), nil)
}

// maybeRepair fires an async write to primary if it's healthy but does not
// currently list itself as holding the object.
func (r *Router) maybeRepair(primary *descriptor, id, filename string, data []byte) {
	r.mu.RLock()
	meta := r.metaCache[id]
	holds := false
	if meta != nil {
		for _, b := range meta.BackendsHoldingIt {
			if b == primary.backend.Name() {
				holds = true
				break
			}
		}
	}
	r.mu.RUnlock()

	if holds || !r.isUp(primary.backend.Name()) {
		return
	}

	go func() {
		if err := primary.backend.Store(context.Background(), id, filename, data); err != nil {
			r.logger.Warn("router repair write failed", zap.String("backend", primary.backend.Name()), zap.Error(err))
			return
		}
		r.mu.Lock()
		if m := r.metaCache[id]; m != nil {
			m.BackendsHoldingIt = append(m.BackendsHoldingIt, primary.backend.Name())
		}
		r.saveMetaLocked()
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.RouterRepairs.Inc()
		}
	}()
}

// Delete removes an object from every backend currently holding it.
func (r *Router) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	meta := r.metaCache[id]
	delete(r.metaCache, id)
	r.saveMetaLocked()
	r.mu.Unlock()
	if meta == nil {
		return nil
	}

	descriptorsByName := map[string]*descriptor{}
	for _, d := range r.orderedEnabled() {
		descriptorsByName[d.backend.Name()] = d
	}

	var firstErr error
	for _, name := range meta.BackendsHoldingIt {
		d, ok := descriptorsByName[name]
		if !ok {
			continue
		}
		if err := d.backend.Delete(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Probe runs one round of health_check against every registered backend.
// StartProbing calls this every ProbeInterval on a background goroutine
// (spec §5's background task).
func (r *Router) Probe(ctx context.Context) {
	for _, d := range r.orderedEnabled() {
		err := d.backend.HealthCheck(ctx)
		r.recordResult(d.backend.Name(), err, 0)
		r.setBackendGauge(d.backend.Name(), err == nil)
	}
}

// StartProbing launches the background health-probe loop; call Stop to end it.
func (r *Router) StartProbing(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Probe(ctx)
			case <-r.stopProbe:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the background probe loop.
func (r *Router) Stop() {
	close(r.stopProbe)
}

// Meta returns the current metadata cache entry for a file, if any.
func (r *Router) Meta(id string) (*FileMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metaCache[id]
	return m, ok
}
