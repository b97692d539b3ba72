// Package backend implements the concrete adapters spec §4.4 requires:
// in-memory, local filesystem, S3-compatible, Azure, GCS, and the optional
// Redis-like KV adapter. Each one fulfills router.Backend.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/router"
)

// Local stores objects as flat files under a base directory, writing
// atomically via temp-file-then-rename, the way FairForge's
// internal/drivers/local.go's AtomicWrite does.
type Local struct {
	name     string
	basePath string
	logger   *zap.Logger

	mu         sync.Mutex
	errorCount int64
}

// NewLocal builds a Local backend rooted at basePath, creating it if missing.
func NewLocal(name, basePath string, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &Local{name: name, basePath: basePath, logger: logger}, nil
}

func (l *Local) Name() string { return l.name }

func (l *Local) pathFor(id string) string {
	return filepath.Join(l.basePath, id)
}

func (l *Local) Store(_ context.Context, id, _ string, data []byte) error {
	finalPath := l.pathFor(id)
	parent := filepath.Dir(finalPath)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		l.bumpError()
		return model.ErrTransient("local_store", fmt.Errorf("create parent directory: %w", err))
	}

	tmp, err := os.CreateTemp(parent, ".tmp-*")
	if err != nil {
		l.bumpError()
		return model.ErrTransient("local_store", fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		l.bumpError()
		return model.ErrTransient("local_store", fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		l.bumpError()
		return model.ErrTransient("local_store", fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		l.bumpError()
		return model.ErrTransient("local_store", fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		l.bumpError()
		return model.ErrTransient("local_store", fmt.Errorf("atomic rename: %w", err))
	}
	return nil
}

func (l *Local) Retrieve(_ context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(l.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrNotFound("object", id)
		}
		l.bumpError()
		return nil, model.ErrTransient("local_retrieve", err)
	}
	return data, nil
}

func (l *Local) Delete(_ context.Context, id string) error {
	if err := os.Remove(l.pathFor(id)); err != nil && !os.IsNotExist(err) {
		l.bumpError()
		return model.ErrTransient("local_delete", err)
	}
	return nil
}

func (l *Local) Stats(_ context.Context) (router.BackendStats, error) {
	var stats router.BackendStats
	err := filepath.Walk(l.basePath, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			stats.FileCount++
			stats.TotalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return stats, model.ErrTransient("local_stats", err)
	}

	l.mu.Lock()
	stats.ErrorCount = l.errorCount
	l.mu.Unlock()
	return stats, nil
}

func (l *Local) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(l.basePath); err != nil {
		return fmt.Errorf("local backend health check: %w", err)
	}
	return nil
}

func (l *Local) bumpError() {
	l.mu.Lock()
	l.errorCount++
	l.mu.Unlock()
}

// Checksum computes the SHA-256 used by the router to verify retrieved
// bytes against the metadata cache.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
