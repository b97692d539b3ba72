package facade

import (
	"context"
	"testing"

	"github.com/memcontext/vault/internal/chunkstore"
	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/dedup"
	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/repository"
	"github.com/memcontext/vault/internal/workerpool"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	repo, err := repository.Open(context.Background(), repository.EngineSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	pipeline := codec.New(codec.Config{}, nil)
	store := chunkstore.New(chunkstore.Config{}, pipeline, nil)
	dedupEngine := dedup.New(dedup.Config{}, nil)
	pool := workerpool.New(4)

	return New(repo, store, pipeline, nil, dedupEngine, nil, pool, nil, nil, StorageOptions{
		ChunkingEnabled: true, ChunkSize: 32,
	})
}

func TestCreateGetUpdateDeleteMemory(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	id, err := f.CreateMemory(ctx, CreateMemoryInput{
		Title: "note", Content: []byte("hello world"), OwnerID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	lm, err := f.GetMemory(ctx, id, true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !lm.ContentLoaded || string(lm.Content) != "hello world" {
		t.Fatalf("unexpected content: %+v", lm)
	}

	newTitle := "renamed note"
	if err := f.UpdateMemory(ctx, UpdateMemoryInput{ID: id, Title: &newTitle}); err != nil {
		t.Fatalf("update: %v", err)
	}
	lm2, err := f.GetMemory(ctx, id, false)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if lm2.Title != newTitle {
		t.Fatalf("expected title %q, got %q", newTitle, lm2.Title)
	}

	if err := f.DeleteMemory(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.GetMemory(ctx, id, false); !model.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestCreateMemoryChunksLargeContent(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	big := make([]byte, 500)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	id, err := f.CreateMemory(ctx, CreateMemoryInput{Title: "big", Content: big, OwnerID: "bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	lm, err := f.GetMemory(ctx, id, true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(lm.Content) != string(big) {
		t.Fatalf("chunked round trip mismatch: got %d bytes, want %d", len(lm.Content), len(big))
	}
}

// TestCreateMemoryChunksIncompressibleContent exercises a chunked memory
// whose content doesn't compress at all (random bytes): the codec picks
// CompressionNone for the whole payload, which must not be mistaken for
// "content stored inline" when deciding how to read chunked bytes back.
func TestCreateMemoryChunksIncompressibleContent(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	// Deterministic pseudo-random bytes: large enough to chunk, and
	// varied enough that no compressor shrinks it below its own size.
	big := make([]byte, 200)
	state := uint32(12345)
	for i := range big {
		state = state*1664525 + 1013904223
		big[i] = byte(state >> 24)
	}

	id, err := f.CreateMemory(ctx, CreateMemoryInput{Title: "random", Content: big, OwnerID: "gale"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	lm, err := f.GetMemory(ctx, id, true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(lm.Content) != len(big) {
		t.Fatalf("expected %d bytes back, got %d (likely read the wrong branch)", len(big), len(lm.Content))
	}
	if string(lm.Content) != string(big) {
		t.Fatal("incompressible chunked content round trip mismatch")
	}
}

func TestChunkInfoAndCompactStorage(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	big := make([]byte, 200)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	id, err := f.CreateMemory(ctx, CreateMemoryInput{Title: "chunked", Content: big, OwnerID: "hank"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	info, err := f.ChunkInfo(ctx, id)
	if err != nil {
		t.Fatalf("chunk info: %v", err)
	}
	if info.ChunkCount == 0 {
		t.Fatal("expected a non-zero chunk count for chunked content")
	}
	if info.TotalOriginalSize != uint64(len(big)) {
		t.Fatalf("expected total original size %d, got %d", len(big), info.TotalOriginalSize)
	}

	if err := f.CompactStorage(ctx, id); err != nil {
		t.Fatalf("compact storage: %v", err)
	}

	lm, err := f.GetMemory(ctx, id, true)
	if err != nil {
		t.Fatalf("get after compact: %v", err)
	}
	if string(lm.Content) != string(big) {
		t.Fatal("content mismatch after compaction")
	}
}

func TestUpdateMemoryReplacesChunks(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	big := make([]byte, 200)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	id, err := f.CreateMemory(ctx, CreateMemoryInput{Title: "chunked", Content: big, OwnerID: "ivy"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, err := f.ChunkInfo(ctx, id)
	if err != nil {
		t.Fatalf("chunk info before: %v", err)
	}
	if before.ChunkCount == 0 {
		t.Fatal("expected the initial memory to be chunk-stored")
	}

	small := []byte("short now")
	if err := f.UpdateMemory(ctx, UpdateMemoryInput{ID: id, Content: small}); err != nil {
		t.Fatalf("update: %v", err)
	}

	after, err := f.ChunkInfo(ctx, id)
	if err != nil {
		t.Fatalf("chunk info after: %v", err)
	}
	if after.ChunkCount != 0 {
		t.Fatalf("expected stale chunks to be deleted on update, found %d", after.ChunkCount)
	}

	lm, err := f.GetMemory(ctx, id, true)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if string(lm.Content) != string(small) {
		t.Fatalf("expected updated content %q, got %q", small, lm.Content)
	}
}

func TestSearchMemories(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	if _, err := f.CreateMemory(ctx, CreateMemoryInput{Title: "Quarterly Report", Content: []byte("numbers"), OwnerID: "carol"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.CreateMemory(ctx, CreateMemoryInput{Title: "Grocery List", Content: []byte("milk"), OwnerID: "carol"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	results, err := f.SearchMemories(ctx, SearchInput{Query: "report", OwnerID: "carol", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Quarterly Report" {
		t.Fatalf("unexpected search results: %+v", results)
	}
}

func TestBulkCreate(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	items := []BulkItem{
		{OwnerID: "dave", Title: "a", Content: "one"},
		{OwnerID: "dave", Title: "b", Content: "two"},
		{OwnerID: "", Title: "bad", Content: "no owner"},
	}
	results, err := f.BulkCreate(ctx, items)
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	okCount := 0
	for _, r := range results {
		if r.Err == nil {
			okCount++
		}
	}
	if okCount != 2 {
		t.Fatalf("expected 2 successful creates, got %d", okCount)
	}
}

func TestBulkCreateRejectsOversizedBatch(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	prev := BulkQueueLimit
	BulkQueueLimit = 1
	defer func() { BulkQueueLimit = prev }()

	_, err := f.BulkCreate(ctx, []BulkItem{
		{OwnerID: "a", Content: "x"},
		{OwnerID: "a", Content: "y"},
	})
	if !model.IsConfig(err) {
		t.Fatalf("expected config error for oversized batch, got %v", err)
	}
}

func TestIngestBook(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	text := "Chapter 1\nOnce upon a time.\n\nChapter 2\nThe end."
	ids, err := f.IngestBook(ctx, IngestBookInput{
		Title: "Fable", OwnerID: "erin", ContextName: "books", Text: text,
	})
	if err != nil {
		t.Fatalf("ingest book: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(ids))
	}

	rels, err := f.RelationsFrom(ctx, ids[0])
	if err != nil {
		t.Fatalf("relations: %v", err)
	}
	if len(rels) != 1 || rels[0].Name != "next" || rels[0].TargetMemoryID != ids[1] {
		t.Fatalf("expected a next relation from chapter 1 to chapter 2, got %+v", rels)
	}

	contexts, err := f.ListContexts(ctx, "erin")
	if err != nil {
		t.Fatalf("list contexts: %v", err)
	}
	if len(contexts) != 1 || contexts[0].Name != "books" {
		t.Fatalf("expected a books context, got %+v", contexts)
	}
}

func TestStatistics(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	if _, err := f.CreateMemory(ctx, CreateMemoryInput{Title: "x", Content: []byte("y"), OwnerID: "finn"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	stats, err := f.Statistics(ctx, "finn")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.MemoryCount != 1 {
		t.Fatalf("expected 1 memory, got %d", stats.MemoryCount)
	}
	if stats.Archival != nil {
		t.Fatalf("expected nil archival report when no archival engine is wired in")
	}
}
