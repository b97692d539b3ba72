package repository

import (
	"context"
	"testing"

	"github.com/memcontext/vault/internal/model"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), EngineSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestCreateAndFindMemory(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	var id int64
	err := repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		id, err = uow.CreateMemory(ctx, &model.Memory{
			Title:       "first",
			Content:     []byte("hello"),
			ContentSize: 5,
			OwnerID:     "alice",
			AccessLevel: model.AccessUser,
			Metadata:    map[string]string{"k": "v"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected nonzero id")
	}

	err = repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		m, err := uow.FindMemoryByID(ctx, id)
		if err != nil {
			return err
		}
		if m.Title != "first" || m.OwnerID != "alice" || m.Metadata["k"] != "v" {
			t.Fatalf("unexpected memory: %+v", m)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
}

func TestUpdateMemoryRollsBackOnFailure(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	var id int64
	_ = repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		id, err = uow.CreateMemory(ctx, &model.Memory{Title: "orig", OwnerID: "bob"})
		return err
	})

	boom := errorString("chunk store failed")
	err := repo.WithUnitOfWork(ctx, id, func(ctx context.Context, uow *UnitOfWork) error {
		m, err := uow.FindMemoryByID(ctx, id)
		if err != nil {
			return err
		}
		m.Title = "changed"
		if err := uow.UpdateMemory(ctx, m); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	_ = repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		m, err := uow.FindMemoryByID(ctx, id)
		if err != nil {
			t.Fatalf("find after rollback: %v", err)
		}
		if m.Title != "orig" {
			t.Fatalf("expected rollback to preserve title, got %q", m.Title)
		}
		return nil
	})
}

func TestDeleteMemoryNotFound(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	err := repo.WithUnitOfWork(ctx, 999, func(ctx context.Context, uow *UnitOfWork) error {
		return uow.DeleteMemory(ctx, 999)
	})
	if !model.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSearchMatchesTitleAndPreview(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_ = repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		_, err := uow.CreateMemory(ctx, &model.Memory{Title: "Recipe for Soup", ContentPreview: "a warm broth", OwnerID: "carol"})
		if err != nil {
			return err
		}
		_, err = uow.CreateMemory(ctx, &model.Memory{Title: "Unrelated", ContentPreview: "nothing matching", OwnerID: "carol"})
		return err
	})

	err := repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		results, err := uow.Search(ctx, "soup", SearchFilters{OwnerID: "carol"}, 10)
		if err != nil {
			return err
		}
		if len(results) != 1 || results[0].Title != "Recipe for Soup" {
			t.Fatalf("unexpected search results: %+v", results)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
}

func TestRelationsAndChunksRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	var a, b int64
	_ = repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		a, err = uow.CreateMemory(ctx, &model.Memory{Title: "a", OwnerID: "dan"})
		if err != nil {
			return err
		}
		b, err = uow.CreateMemory(ctx, &model.Memory{Title: "b", OwnerID: "dan"})
		if err != nil {
			return err
		}
		_, err = uow.CreateRelation(ctx, &model.Relation{Name: "next", SourceMemoryID: a, TargetMemoryID: b, Strength: 1, OwnerID: "dan"})
		return err
	})

	err := repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *UnitOfWork) error {
		rels, err := uow.FindRelationsBySource(ctx, a)
		if err != nil {
			return err
		}
		if len(rels) != 1 || rels[0].TargetMemoryID != b {
			t.Fatalf("unexpected relations: %+v", rels)
		}

		chunks := []model.MemoryChunk{
			{ChunkIndex: 0, ChunkData: []byte("x"), Metadata: model.ChunkMetadata{SHA256Hash: "h0", WholeObjectSHA256: "w"}},
			{ChunkIndex: 1, ChunkData: []byte("y"), Metadata: model.ChunkMetadata{SHA256Hash: "h1"}},
		}
		if err := uow.ReplaceChunks(ctx, a, chunks); err != nil {
			return err
		}
		got, err := uow.FindChunksByMemory(ctx, a)
		if err != nil {
			return err
		}
		if len(got) != 2 || got[0].Metadata.WholeObjectSHA256 != "w" {
			t.Fatalf("unexpected chunks: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("relations/chunks: %v", err)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
