package chunkstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/model"
)

func newTestStore(t *testing.T, chunkSize, maxChunks int) *Store {
	t.Helper()
	return New(Config{ChunkSize: chunkSize, MaxChunks: maxChunks}, codec.New(codec.Config{}, nil), nil)
}

func TestStore_SplitReassemble_RoundTrip(t *testing.T) {
	s := newTestStore(t, 100, 100)
	original := bytes.Repeat([]byte("0123456789"), 37) // 370 bytes, 4 chunks at size 100

	chunks, err := s.Split(1, original)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	out, err := s.Reassemble(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Reassemble failed: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Error("reassembled content doesn't match original")
	}
}

func TestStore_Split_ExceedsMaxChunks_IntegrityError(t *testing.T) {
	s := newTestStore(t, 10, 5)
	original := bytes.Repeat([]byte("x"), 1000) // would need 100 chunks

	_, err := s.Split(1, original)
	if err == nil {
		t.Fatal("expected an error when max_chunks would be exceeded")
	}
	if !model.IsIntegrity(err) {
		t.Errorf("expected an IntegrityError, got %T: %v", err, err)
	}
}

func TestStore_Reassemble_OutOfOrderChunks(t *testing.T) {
	s := newTestStore(t, 50, 100)
	original := bytes.Repeat([]byte("abcde"), 40) // 200 bytes, 4 chunks

	chunks, err := s.Split(1, original)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	shuffled := []model.MemoryChunk{chunks[2], chunks[0], chunks[3], chunks[1]}
	out, err := s.Reassemble(context.Background(), shuffled)
	if err != nil {
		t.Fatalf("Reassemble failed: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Error("reassembly should sort by chunk index regardless of input order")
	}
}

func TestStore_Reassemble_CorruptChunk_CorruptionError(t *testing.T) {
	s := newTestStore(t, 50, 100)
	original := bytes.Repeat([]byte("abcde"), 40)

	chunks, err := s.Split(1, original)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	chunks[1].Metadata.SHA256Hash = "0000000000000000000000000000000000000000000000000000000000000000"

	_, err = s.Reassemble(context.Background(), chunks)
	if err == nil {
		t.Fatal("expected an error for a chunk hash mismatch")
	}
	if !model.IsCorruption(err) {
		t.Errorf("expected a CorruptionError, got %T: %v", err, err)
	}
}

func TestStore_Reassemble_Empty(t *testing.T) {
	s := newTestStore(t, 50, 100)
	out, err := s.Reassemble(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reassemble of no chunks should not error: %v", err)
	}
	if len(out) != 0 {
		t.Error("expected empty output for no chunks")
	}
}

func TestStore_SplitReassemble_CachedRead(t *testing.T) {
	s := newTestStore(t, 100, 100)
	original := bytes.Repeat([]byte("z"), 250)

	chunks, err := s.Split(1, original)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		out, err := s.Reassemble(context.Background(), chunks)
		if err != nil {
			t.Fatalf("Reassemble pass %d failed: %v", i, err)
		}
		if !bytes.Equal(out, original) {
			t.Errorf("pass %d: reassembled content doesn't match", i)
		}
	}

	stats := s.Stats()
	if stats.Hits == 0 {
		t.Error("expected at least one cache hit on the second reassembly pass")
	}
}
