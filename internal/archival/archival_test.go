package archival

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/memcontext/vault/internal/chunkstore"
	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/repository"
)

func newTestEngine(t *testing.T, policy Policy) (*Engine, *repository.Repository) {
	t.Helper()
	repo, err := repository.Open(context.Background(), repository.EngineSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	dataDir := t.TempDir()
	pipeline := codec.New(codec.Config{}, nil)
	store := chunkstore.New(chunkstore.Config{}, pipeline, nil)
	eng, err := NewEngine(repo, store, pipeline, dataDir, map[string]Policy{policy.Name: policy}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, repo
}

func seedMemory(t *testing.T, repo *repository.Repository, title string) int64 {
	t.Helper()
	var id int64
	err := repo.WithUnitOfWork(context.Background(), 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		id, err = uow.CreateMemory(ctx, &model.Memory{Title: title, Content: []byte("content of " + title), OwnerID: "alice"})
		return err
	})
	if err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return id
}

func TestCreateArchiveZipAndVerify(t *testing.T) {
	policy := Policy{Name: "daily", RetentionDays: 30, ArchiveFormat: FormatZip, IncludeMetadata: true, ChecksumVerification: true}
	eng, repo := newTestEngine(t, policy)
	id := seedMemory(t, repo, "first")

	rec, err := eng.CreateArchive(context.Background(), "daily", Selector{IDs: []int64{id}})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	if rec.MemoryCount != 1 || rec.Status != model.ArchiveCompleted {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := os.Stat(rec.PackPath); err != nil {
		t.Fatalf("pack file missing: %v", err)
	}

	if err := eng.Verify(context.Background(), rec.ArchiveID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, err := eng.registry.Get(rec.ArchiveID)
	if err != nil {
		t.Fatalf("registry get: %v", err)
	}
	if got.Status != model.ArchiveVerified {
		t.Fatalf("expected verified status, got %s", got.Status)
	}
}

func TestCreateArchiveTarGzAndRestore(t *testing.T) {
	policy := Policy{Name: "cold", ArchiveFormat: FormatTarGz, IncludeMetadata: true}
	eng, repo := newTestEngine(t, policy)
	id := seedMemory(t, repo, "restorable")

	rec, err := eng.CreateArchive(context.Background(), "cold", Selector{IDs: []int64{id}})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}

	err = repo.WithUnitOfWork(context.Background(), 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		return uow.DeleteMemory(ctx, id)
	})
	if err != nil {
		t.Fatalf("delete memory: %v", err)
	}

	if err := eng.Restore(context.Background(), rec.ArchiveID); err != nil {
		t.Fatalf("restore: %v", err)
	}

	err = repo.WithUnitOfWork(context.Background(), 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		results, err := uow.Search(ctx, "restorable", repository.SearchFilters{}, 10)
		if err != nil {
			return err
		}
		if len(results) != 1 {
			t.Fatalf("expected restored memory to be findable, got %d results", len(results))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("post-restore search: %v", err)
	}
}

func TestCreateArchiveDirectoryFormat(t *testing.T) {
	policy := Policy{Name: "plain", ArchiveFormat: FormatDirectory}
	eng, repo := newTestEngine(t, policy)
	id := seedMemory(t, repo, "plain-memory")

	rec, err := eng.CreateArchive(context.Background(), "plain", Selector{IDs: []int64{id}})
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(rec.PackPath, "memories")); err != nil {
		t.Fatalf("expected memories directory in pack: %v", err)
	}
}

func TestCreateArchiveUnknownPolicy(t *testing.T) {
	eng, repo := newTestEngine(t, Policy{Name: "x", ArchiveFormat: FormatZip})
	id := seedMemory(t, repo, "whatever")

	_, err := eng.CreateArchive(context.Background(), "does-not-exist", Selector{IDs: []int64{id}})
	if !model.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestCreateArchiveTarBz2Rejected(t *testing.T) {
	eng, repo := newTestEngine(t, Policy{Name: "bz", ArchiveFormat: FormatTarBz2})
	id := seedMemory(t, repo, "whatever")

	_, err := eng.CreateArchive(context.Background(), "bz", Selector{IDs: []int64{id}})
	if !model.IsConfig(err) {
		t.Fatalf("expected config error for unsupported tar.bz2 write, got %v", err)
	}
}

func TestCleanupRespectsPermanentPolicy(t *testing.T) {
	policy := Policy{Name: permanentPolicy, ArchiveFormat: FormatZip}
	eng, repo := newTestEngine(t, policy)
	id := seedMemory(t, repo, "forever")

	if _, err := eng.CreateArchive(context.Background(), permanentPolicy, Selector{IDs: []int64{id}}); err != nil {
		t.Fatalf("create archive: %v", err)
	}

	removed, err := eng.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected permanent policy archive to survive cleanup, removed=%d", removed)
	}
}
