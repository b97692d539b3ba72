package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/router"
)

// GCS adapts Google Cloud Storage to router.Backend. No example repo in the
// retrieval pack imports a GCS client directly; cloud.google.com/go/storage
// is the standard client the wider Go ecosystem reaches for, adopted here
// because spec §4.4 names GCS as a required object-store adapter and no
// pack dependency covers it (see DESIGN.md).
type GCS struct {
	name   string
	bucket string
	client *storage.Client
}

// NewGCS builds a GCS backend against bucket using application-default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{name: "gcs", bucket: bucket, client: client}, nil
}

func (g *GCS) Name() string { return g.name }

func (g *GCS) object(id string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(id)
}

func (g *GCS) Store(ctx context.Context, id, _ string, data []byte) error {
	w := g.object(id).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return model.ErrTransient("gcs_store", fmt.Errorf("write object %s: %w", id, err))
	}
	if err := w.Close(); err != nil {
		return model.ErrTransient("gcs_store", fmt.Errorf("finalize object %s: %w", id, err))
	}
	return nil
}

func (g *GCS) Retrieve(ctx context.Context, id string) ([]byte, error) {
	r, err := g.object(id).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, model.ErrNotFound("object", id)
		}
		return nil, model.ErrTransient("gcs_retrieve", fmt.Errorf("open object %s: %w", id, err))
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, model.ErrTransient("gcs_retrieve", err)
	}
	return data, nil
}

func (g *GCS) Delete(ctx context.Context, id string) error {
	if err := g.object(id).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return model.ErrTransient("gcs_delete", fmt.Errorf("delete object %s: %w", id, err))
	}
	return nil
}

func (g *GCS) Stats(ctx context.Context) (router.BackendStats, error) {
	var stats router.BackendStats
	it := g.client.Bucket(g.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return stats, model.ErrTransient("gcs_stats", err)
		}
		stats.FileCount++
		stats.TotalSize += attrs.Size
	}
	return stats, nil
}

func (g *GCS) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs backend health check: %w", err)
	}
	return nil
}
