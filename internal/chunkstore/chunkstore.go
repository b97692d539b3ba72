// Package chunkstore splits large memory content into fixed-size slices and
// reassembles them, per spec §4.2. Each slice is compressed independently
// through codec.Pipeline and verified with a SHA-256 hash; chunk index 0
// additionally carries the whole object's SHA-256 so reassembly can be
// checked end-to-end.
//
// The split/reassemble shape is grounded on FairForge's
// internal/storage/chunking.go (ContentChunker.Split); that chunker is
// content-defined (rolling-hash boundaries), but spec §4.2 requires plain
// fixed-size slicing, so the boundary logic here is just index arithmetic.
// The content cache is grounded on internal/cache/lru.go, repurposed to key
// on (memoryID, chunkIndex) instead of (container, artifact) -- a
// supplemented feature carried over from original_source's ChunkedStorage,
// which keeps a chunk_cache to avoid re-decompressing hot chunks.
package chunkstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/cache"
	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/model"
)

// Config controls chunking behavior per spec §6's chunking block.
type Config struct {
	ChunkSize int // default 10000 bytes
	MaxChunks int // default 100; exceeding this is an Integrity error
	CacheSize int // number of decompressed chunks to keep warm; default 256
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10000
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 100
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	return c
}

// Store splits, compresses, and reassembles chunked memory content.
type Store struct {
	cfg    Config
	codec  *codec.Pipeline
	cache  *cache.LRU
	logger *zap.Logger

	mu sync.Mutex
}

// New builds a Store. codecPipeline and logger must not be nil; cache use
// is internal and always enabled (callers don't need their own instance).
func New(cfg Config, codecPipeline *codec.Pipeline, logger *zap.Logger) *Store {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:    cfg,
		codec:  codecPipeline,
		cache:  cache.NewLRU(cfg.CacheSize),
		logger: logger,
	}
}

// Split divides content into memoryID's chunks per spec §4.2: chunk_size
// byte slices, each independently compressed, with a SHA-256 over both the
// slice and (on chunk 0) the whole object.
func (s *Store) Split(memoryID int64, content []byte) ([]model.MemoryChunk, error) {
	n := (len(content) + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize
	if n == 0 {
		n = 1
	}
	if n > s.cfg.MaxChunks {
		return nil, model.ErrTooManyChunks(memoryID, n, s.cfg.MaxChunks)
	}

	var wholeHash string
	{
		sum := sha256.Sum256(content)
		wholeHash = hex.EncodeToString(sum[:])
	}

	chunks := make([]model.MemoryChunk, 0, n)
	for i := 0; i < n; i++ {
		start := i * s.cfg.ChunkSize
		end := start + s.cfg.ChunkSize
		if end > len(content) {
			end = len(content)
		}
		raw := content[start:end]

		sum := sha256.Sum256(raw)
		hash := hex.EncodeToString(sum[:])

		compressed, tag := s.codec.Compress(raw)

		meta := model.ChunkMetadata{
			OriginalSize:     uint64(len(raw)),
			CompressedSize:   uint64(len(compressed)),
			CompressionRatio: codec.Ratio(len(raw), len(compressed)),
			SHA256Hash:       hash,
		}
		if i == 0 {
			meta.WholeObjectSHA256 = wholeHash
		}

		chunks = append(chunks, model.MemoryChunk{
			MemoryID:        memoryID,
			ChunkIndex:      i,
			ChunkData:       compressed,
			CompressionType: tag,
			Metadata:        meta,
		})
	}

	return chunks, nil
}

// Reassemble decompresses and concatenates chunks in index order, verifying
// each chunk's SHA-256 and, when present, the whole-object hash on chunk 0.
// A mismatch is reported as a Corruption error, never silently ignored.
func (s *Store) Reassemble(ctx context.Context, chunks []model.MemoryChunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	ordered := make([]model.MemoryChunk, len(chunks))
	copy(ordered, chunks)
	sortByIndex(ordered)

	var out []byte
	for _, chunk := range ordered {
		select {
		case <-ctx.Done():
			return nil, model.ErrCancelled
		default:
		}

		raw, err := s.decompressOne(ctx, chunk)
		if err != nil {
			return nil, err
		}

		sum := sha256.Sum256(raw)
		if hex.EncodeToString(sum[:]) != chunk.Metadata.SHA256Hash {
			return nil, model.ErrCorruption(
				fmt.Sprintf("chunk %d of memory %d failed hash verification", chunk.ChunkIndex, chunk.MemoryID), nil)
		}

		out = append(out, raw...)
	}

	if whole := ordered[0].Metadata.WholeObjectSHA256; whole != "" {
		sum := sha256.Sum256(out)
		if hex.EncodeToString(sum[:]) != whole {
			return nil, model.ErrCorruption(
				fmt.Sprintf("reassembled memory %d failed whole-object hash verification", ordered[0].MemoryID), nil)
		}
	}

	return out, nil
}

func (s *Store) decompressOne(ctx context.Context, chunk model.MemoryChunk) ([]byte, error) {
	key := fmt.Sprintf("%d", chunk.MemoryID)
	artifact := fmt.Sprintf("%d", chunk.ChunkIndex)

	if r, ok, err := s.cache.Get(ctx, key, artifact); err == nil && ok {
		if raw, err := io.ReadAll(r); err == nil {
			return raw, nil
		}
	}

	raw, err := s.codec.Decompress(chunk.ChunkData, chunk.CompressionType)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Put(ctx, key, artifact, bytes.NewReader(raw), int64(len(raw)))
	return raw, nil
}

func sortByIndex(chunks []model.MemoryChunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].ChunkIndex < chunks[j-1].ChunkIndex; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}

// Stats exposes the chunk content cache's hit/miss counters for telemetry.
func (s *Store) Stats() *cache.CacheStats {
	return s.cache.Stats()
}

// ClearCache evicts every cached decompressed chunk. Intended for a
// periodic background sweep so a long-lived process doesn't hold stale
// hot chunks indefinitely.
func (s *Store) ClearCache() {
	s.cache.Clear()
}

// ChunkInfo summarizes a memory's chunk set per spec §4.2's chunk_info(memory_id)
// contract: counts, aggregate original/compressed sizes, and the distinct
// compression types in use across the set.
type ChunkInfo struct {
	MemoryID          int64
	ChunkCount        int
	TotalOriginalSize uint64
	TotalCompressed   uint64
	CompressionRatio  float64
	CompressionTypes  []string
}

// Info summarizes chunks, which the caller has already loaded (typically
// via repository.FindChunksByMemory). Info does no I/O of its own so the
// facade can call it from inside an existing unit-of-work.
func (s *Store) Info(memoryID int64, chunks []model.MemoryChunk) ChunkInfo {
	info := ChunkInfo{MemoryID: memoryID, ChunkCount: len(chunks)}
	seen := map[string]bool{}
	for _, c := range chunks {
		info.TotalOriginalSize += c.Metadata.OriginalSize
		info.TotalCompressed += c.Metadata.CompressedSize
		tag := string(c.CompressionType)
		if !seen[tag] {
			seen[tag] = true
			info.CompressionTypes = append(info.CompressionTypes, tag)
		}
	}
	if info.TotalOriginalSize > 0 {
		info.CompressionRatio = codec.Ratio(int(info.TotalOriginalSize), int(info.TotalCompressed))
	}
	return info
}

// Compact re-splits a memory's existing chunks into fresh chunk_size-sized
// slices, per SPEC_FULL §3's storage self-optimization note: chunk_size
// configuration (or the spill-over boundary arithmetic) can leave a memory
// with more, smaller chunks than its current chunk_size would now produce
// -- e.g. after a config change, or after successive partial updates -- and
// Compact collapses it back down to the minimal chunk count. It reassembles
// the existing chunks, verifying hashes exactly as Reassemble does, then
// re-splits and returns the new chunk set for the caller to persist via
// repository.ReplaceChunks inside its own unit-of-work (Compact has no
// database handle of its own, matching the rest of this package).
func (s *Store) Compact(ctx context.Context, memoryID int64, chunks []model.MemoryChunk) ([]model.MemoryChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	content, err := s.Reassemble(ctx, chunks)
	if err != nil {
		return nil, err
	}
	n := (len(content) + s.cfg.ChunkSize - 1) / s.cfg.ChunkSize
	if n == 0 {
		n = 1
	}
	if n >= len(chunks) {
		// Already minimal (or would grow); nothing to compact.
		return chunks, nil
	}
	return s.Split(memoryID, content)
}
