package dedup

import (
	"context"
	"testing"
)

func TestEngine_FindDuplicates_Exact(t *testing.T) {
	e := New(Config{}, nil)
	candidates := []Candidate{
		{MemoryID: 1, Content: "hello world"},
		{MemoryID: 2, Content: "hello world"},
		{MemoryID: 3, Content: "something else entirely"},
	}

	groups, stats, err := e.FindDuplicates(context.Background(), StrategyExact, 0, candidates)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	if len(groups[0].MemoryIDs) != 2 {
		t.Errorf("expected group of 2, got %d", len(groups[0].MemoryIDs))
	}
	if stats.DuplicatesFound != 1 {
		t.Errorf("expected 1 duplicate found, got %d", stats.DuplicatesFound)
	}
}

func TestEngine_FindDuplicates_Exact_NoMatches(t *testing.T) {
	e := New(Config{}, nil)
	candidates := []Candidate{
		{MemoryID: 1, Content: "alpha"},
		{MemoryID: 2, Content: "beta"},
	}

	groups, stats, err := e.FindDuplicates(context.Background(), StrategyExact, 0, candidates)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected no duplicate groups, got %d", len(groups))
	}
	if stats.Candidates != 2 {
		t.Errorf("expected Candidates=2, got %d", stats.Candidates)
	}
}

func TestEngine_FindDuplicates_Fuzzy(t *testing.T) {
	e := New(Config{FuzzyCandidateK: 10}, nil)
	candidates := []Candidate{
		{MemoryID: 1, Content: "the quick brown fox jumps over the lazy dog"},
		{MemoryID: 2, Content: "the quick brown fox jumps over the lazy dog!"},
		{MemoryID: 3, Content: "completely unrelated text about cooking pasta recipes"},
	}

	groups, _, err := e.FindDuplicates(context.Background(), StrategyFuzzy, 0.8, candidates)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 fuzzy duplicate group, got %d groups: %+v", len(groups), groups)
	}
	if len(groups[0].MemoryIDs) != 2 {
		t.Errorf("expected group of 2, got %d", len(groups[0].MemoryIDs))
	}
}

func TestEngine_FindDuplicates_Semantic(t *testing.T) {
	e := New(Config{}, nil)
	candidates := []Candidate{
		{MemoryID: 1, Embedding: []float32{1, 0, 0}},
		{MemoryID: 2, Embedding: []float32{0.99, 0.01, 0}},
		{MemoryID: 3, Embedding: []float32{0, 1, 0}},
	}

	groups, _, err := e.FindDuplicates(context.Background(), StrategySemantic, 0.95, candidates)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 semantic group, got %d", len(groups))
	}
}

type fakeRelocator struct {
	repointed  map[int64]int64
	deleted    []int64
	concatCall bool
}

func newFakeRelocator() *fakeRelocator {
	return &fakeRelocator{repointed: map[int64]int64{}}
}

func (f *fakeRelocator) RepointRelations(_ context.Context, from, to int64) error {
	f.repointed[from] = to
	return nil
}

func (f *fakeRelocator) DeleteMemory(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRelocator) ConcatenateContent(_ context.Context, survivorID int64, delimiter string, otherIDs []int64) error {
	f.concatCall = true
	return nil
}

func TestEngine_Merge_KeepFirst(t *testing.T) {
	e := New(Config{}, nil)
	group := Group{MemoryIDs: []int64{5, 2, 8}}
	candidates := map[int64]Candidate{
		5: {MemoryID: 5, Size: 100},
		2: {MemoryID: 2, Size: 50},
		8: {MemoryID: 8, Size: 200},
	}
	r := newFakeRelocator()

	survivor, reclaimed, err := e.Merge(context.Background(), group, MergeKeepFirst, candidates, r)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if survivor != 2 {
		t.Errorf("expected survivor 2 (lowest id), got %d", survivor)
	}
	if reclaimed != 300 {
		t.Errorf("expected 300 bytes reclaimed, got %d", reclaimed)
	}
	if len(r.deleted) != 2 {
		t.Errorf("expected 2 deletions, got %d", len(r.deleted))
	}
}

func TestEngine_Merge_KeepLongest(t *testing.T) {
	e := New(Config{}, nil)
	group := Group{MemoryIDs: []int64{1, 2}}
	candidates := map[int64]Candidate{
		1: {MemoryID: 1, Size: 100},
		2: {MemoryID: 2, Size: 500},
	}
	r := newFakeRelocator()

	survivor, _, err := e.Merge(context.Background(), group, MergeKeepLongest, candidates, r)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if survivor != 2 {
		t.Errorf("expected survivor 2 (longest), got %d", survivor)
	}
}

func TestEngine_Merge_All_Concatenates(t *testing.T) {
	e := New(Config{}, nil)
	group := Group{MemoryIDs: []int64{1, 2}}
	candidates := map[int64]Candidate{
		1: {MemoryID: 1, Size: 10},
		2: {MemoryID: 2, Size: 20},
	}
	r := newFakeRelocator()

	if _, _, err := e.Merge(context.Background(), group, MergeAll, candidates, r); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !r.concatCall {
		t.Error("expected ConcatenateContent to be called for merge_all")
	}
}

func TestEngine_Merge_SingleMemberGroup_Conflict(t *testing.T) {
	e := New(Config{}, nil)
	group := Group{MemoryIDs: []int64{1}}
	r := newFakeRelocator()

	_, _, err := e.Merge(context.Background(), group, MergeKeepFirst, map[int64]Candidate{1: {MemoryID: 1}}, r)
	if err == nil {
		t.Fatal("expected an error for a single-member group")
	}
}
