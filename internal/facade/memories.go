package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/memcontext/vault/internal/backend"
	"github.com/memcontext/vault/internal/chunkstore"
	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/repository"
)

// CreateMemoryInput is the caller-facing request for CreateMemory.
type CreateMemoryInput struct {
	Title       string
	Content     []byte
	OwnerID     string
	ContextID   *int64
	AccessLevel model.AccessLevel
	Metadata    map[string]string
	Embedding   []byte
	Options     *StorageOptions // nil falls back to the facade's default options
}

// CreateMemory compresses content, optionally chunks or routes it per
// StorageOptions, and inserts the row inside a single unit-of-work so a
// chunk-store failure rolls the Memory row back with it.
func (f *Facade) CreateMemory(ctx context.Context, in CreateMemoryInput) (id int64, err error) {
	defer func() { f.observe("create_memory", err) }()

	if in.OwnerID == "" {
		return 0, model.ErrIntegrity("owner_id is required")
	}
	if in.AccessLevel == "" {
		in.AccessLevel = model.AccessUser
	}
	opts := f.opts
	if in.Options != nil {
		opts = in.Options.withDefaults()
	}

	if opts.DeduplicateOnCreate {
		if dupID, ok, derr := f.findExactDuplicate(ctx, in.OwnerID, in.Content); derr != nil {
			return 0, derr
		} else if ok {
			return dupID, nil
		}
	}

	compressed, tag := f.codec.Compress(in.Content)
	m := &model.Memory{
		Title: in.Title, OwnerID: in.OwnerID, ContextID: in.ContextID,
		AccessLevel: in.AccessLevel, Metadata: in.Metadata, Embedding: in.Embedding,
		ContentSize: int64(len(in.Content)), CompressionType: tag, ContentCompressed: tag != model.CompressionNone,
		ContentPreview: preview(in.Content, opts.PreviewLength),
	}

	useChunking := opts.ChunkingEnabled && len(in.Content) > opts.ChunkSize

	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		if !useChunking {
			if opts.UseRouter && f.router != nil {
				locator := fmt.Sprintf("mem-%s-%d", in.OwnerID, time.Now().UnixNano())
				if err := f.router.Write(ctx, locator, in.Title, compressed, backend.Checksum(compressed), tag); err != nil {
					return err
				}
				m.ExternalLocator = locator
			} else {
				m.Content = compressed
			}
		}

		newID, err := uow.CreateMemory(ctx, m)
		if err != nil {
			return err
		}
		id = newID

		if useChunking {
			chunks, err := f.chunks.Split(id, in.Content)
			if err != nil {
				return err
			}
			if len(chunks) > opts.MaxChunks {
				return model.ErrTooManyChunks(id, len(chunks), opts.MaxChunks)
			}
			if err := uow.ReplaceChunks(ctx, id, chunks); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

func (f *Facade) findExactDuplicate(ctx context.Context, ownerID string, content []byte) (int64, bool, error) {
	existing, err := f.listOwnerMemories(ctx, ownerID)
	if err != nil {
		return 0, false, err
	}
	candidates := make([]dedupCandidate, 0, len(existing))
	for _, m := range existing {
		full, err := f.fullContent(ctx, m)
		if err != nil {
			continue
		}
		candidates = append(candidates, dedupCandidate{id: m.ID, content: full})
	}
	target := string(content)
	for _, c := range candidates {
		if string(c.content) == target {
			return c.id, true, nil
		}
	}
	return 0, false, nil
}

type dedupCandidate struct {
	id      int64
	content []byte
}

func (f *Facade) listOwnerMemories(ctx context.Context, ownerID string) ([]*model.Memory, error) {
	var out []*model.Memory
	err := f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		out, err = uow.FindMemoriesByOwner(ctx, ownerID, 0)
		return err
	})
	return out, err
}

// GetMemory returns the memory's metadata and, when eager is true or the
// facade's LazyLoading option is off, its full decompressed content. When
// LazyLoading is on and eager is false, Content is left nil and
// ContentLoaded reports false; callers promote with LoadFullContent.
func (f *Facade) GetMemory(ctx context.Context, id int64, eager bool) (lm *model.LazyMemory, err error) {
	defer func() { f.observe("get_memory", err) }()

	err = f.repo.WithUnitOfWork(ctx, id, func(ctx context.Context, uow *repository.UnitOfWork) error {
		m, err := uow.FindMemoryByID(ctx, id)
		if err != nil {
			return err
		}
		if err := uow.TouchMemory(ctx, id); err != nil {
			return err
		}
		lm = &model.LazyMemory{Memory: *m}
		if eager || !f.opts.LazyLoading {
			content, err := f.decompressed(ctx, uow, m)
			if err != nil {
				return err
			}
			lm.Content = content
			lm.ContentLoaded = true
		}
		return nil
	})
	return lm, err
}

// LoadFullContent promotes a lazily-fetched memory to carry its full,
// decompressed content.
func (f *Facade) LoadFullContent(ctx context.Context, lm *model.LazyMemory) (err error) {
	defer func() { f.observe("load_full_content", err) }()
	if lm.ContentLoaded {
		return nil
	}
	return f.repo.WithUnitOfWork(ctx, lm.ID, func(ctx context.Context, uow *repository.UnitOfWork) error {
		m, err := uow.FindMemoryByID(ctx, lm.ID)
		if err != nil {
			return err
		}
		content, err := f.decompressed(ctx, uow, m)
		if err != nil {
			return err
		}
		lm.Content = content
		lm.ContentLoaded = true
		return nil
	})
}

func (f *Facade) fullContent(ctx context.Context, m *model.Memory) (content []byte, err error) {
	err = f.repo.WithUnitOfWork(ctx, m.ID, func(ctx context.Context, uow *repository.UnitOfWork) error {
		content, err = f.decompressed(ctx, uow, m)
		return err
	})
	return content, err
}

// decompressed reassembles chunked content or decompresses inline content,
// fetching from the router when the memory's bytes live there instead of
// the memories table. Mirrors the archival engine's own decompressedContent,
// which serves the same need for export/restore.
//
// Chunked storage is detected by Content == nil && ExternalLocator == ""
// alone: ContentCompressed reflects whether the *whole* payload compressed
// at all, which is false for incompressible input, so ANDing it in here
// would wrongly fall through to the inline branch and return nil for a
// chunked-but-incompressible memory.
func (f *Facade) decompressed(ctx context.Context, uow *repository.UnitOfWork, m *model.Memory) ([]byte, error) {
	if m.Content == nil && m.ExternalLocator == "" {
		chunks, err := uow.FindChunksByMemory(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			return f.chunks.Reassemble(ctx, chunks)
		}
	}
	if m.ExternalLocator != "" && f.router != nil {
		data, err := f.router.Read(ctx, m.ExternalLocator, backend.Checksum)
		if err != nil {
			return nil, err
		}
		if !m.ContentCompressed {
			return data, nil
		}
		return f.codec.Decompress(data, m.CompressionType)
	}
	if !m.ContentCompressed {
		return m.Content, nil
	}
	return f.codec.Decompress(m.Content, m.CompressionType)
}

// UpdateMemoryInput carries the mutable fields of an update_memory call;
// zero-value fields other than Content are left unchanged (spec §4.3's
// update contract: only touched fields are written). Chunks change only
// when Content is set; see UpdateMemory.
type UpdateMemoryInput struct {
	ID          int64
	Title       *string
	Content     []byte // nil means "leave content unchanged"
	AccessLevel model.AccessLevel
	Metadata    map[string]string
}

// UpdateMemory recompresses new content when provided and bumps the
// version counter. Per spec §4.2, a content update on a memory whose
// content is chunk-stored deletes the existing chunks and re-splits the new
// content inside the same unit-of-work, rather than leaving stale chunk
// rows behind; the new content is stored inline, router-routed, or
// re-chunked exactly as CreateMemory would decide for it.
func (f *Facade) UpdateMemory(ctx context.Context, in UpdateMemoryInput) (err error) {
	defer func() { f.observe("update_memory", err) }()

	return f.repo.WithUnitOfWork(ctx, in.ID, func(ctx context.Context, uow *repository.UnitOfWork) error {
		m, err := uow.FindMemoryByID(ctx, in.ID)
		if err != nil {
			return err
		}
		if in.Title != nil {
			m.Title = *in.Title
		}
		if in.AccessLevel != "" {
			m.AccessLevel = in.AccessLevel
		}
		if in.Metadata != nil {
			m.Metadata = in.Metadata
		}
		if in.Content != nil {
			if err := uow.DeleteChunks(ctx, in.ID); err != nil {
				return err
			}

			opts := f.opts
			compressed, tag := f.codec.Compress(in.Content)
			m.CompressionType = tag
			m.ContentCompressed = tag != model.CompressionNone
			m.ContentSize = int64(len(in.Content))
			m.ContentPreview = preview(in.Content, opts.PreviewLength)
			m.ExternalLocator = ""
			m.Content = nil

			useChunking := opts.ChunkingEnabled && len(in.Content) > opts.ChunkSize
			switch {
			case useChunking:
				chunks, err := f.chunks.Split(in.ID, in.Content)
				if err != nil {
					return err
				}
				if len(chunks) > opts.MaxChunks {
					return model.ErrTooManyChunks(in.ID, len(chunks), opts.MaxChunks)
				}
				if err := uow.ReplaceChunks(ctx, in.ID, chunks); err != nil {
					return err
				}
			case opts.UseRouter && f.router != nil:
				locator := fmt.Sprintf("mem-%s-%d", m.OwnerID, time.Now().UnixNano())
				if err := f.router.Write(ctx, locator, m.Title, compressed, backend.Checksum(compressed), tag); err != nil {
					return err
				}
				m.ExternalLocator = locator
			default:
				m.Content = compressed
			}
		}
		return uow.UpdateMemory(ctx, m)
	})
}

// ChunkInfo returns memoryID's chunk_info per spec §4.2: chunk count,
// aggregate original/compressed sizes, and the distinct compression types
// in use. Returns a zero-count ChunkInfo for a memory whose content isn't
// chunk-stored.
func (f *Facade) ChunkInfo(ctx context.Context, memoryID int64) (info chunkstore.ChunkInfo, err error) {
	defer func() { f.observe("chunk_info", err) }()
	err = f.repo.WithUnitOfWork(ctx, memoryID, func(ctx context.Context, uow *repository.UnitOfWork) error {
		chunks, err := uow.FindChunksByMemory(ctx, memoryID)
		if err != nil {
			return err
		}
		info = f.chunks.Info(memoryID, chunks)
		return nil
	})
	return info, err
}

// CompactStorage re-splits memoryID's chunk set down to the minimal chunk
// count its current chunk_size would produce, per SPEC_FULL §3's storage
// self-optimization note. A memory that isn't chunk-stored, or whose chunk
// set is already minimal, is a no-op.
func (f *Facade) CompactStorage(ctx context.Context, memoryID int64) (err error) {
	defer func() { f.observe("compact_storage", err) }()
	return f.repo.WithUnitOfWork(ctx, memoryID, func(ctx context.Context, uow *repository.UnitOfWork) error {
		chunks, err := uow.FindChunksByMemory(ctx, memoryID)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		compacted, err := f.chunks.Compact(ctx, memoryID, chunks)
		if err != nil {
			return err
		}
		if len(compacted) == len(chunks) {
			return nil
		}
		return uow.ReplaceChunks(ctx, memoryID, compacted)
	})
}

// DeleteMemory removes a memory and its chunks.
func (f *Facade) DeleteMemory(ctx context.Context, id int64) (err error) {
	defer func() { f.observe("delete_memory", err) }()
	return f.repo.WithUnitOfWork(ctx, id, func(ctx context.Context, uow *repository.UnitOfWork) error {
		return uow.DeleteMemory(ctx, id)
	})
}

// SearchInput carries search_memories' filter set.
type SearchInput struct {
	Query       string
	OwnerID     string
	ContextID   *int64
	AccessLevel model.AccessLevel
	Limit       int
}

// SearchMemories runs a case-insensitive title/preview search, AND-combining
// any supplied filters.
func (f *Facade) SearchMemories(ctx context.Context, in SearchInput) (results []*model.Memory, err error) {
	defer func() { f.observe("search_memories", err) }()
	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		filters := repository.SearchFilters{OwnerID: in.OwnerID, ContextID: in.ContextID, AccessLevel: in.AccessLevel}
		results, err = uow.Search(ctx, in.Query, filters, in.Limit)
		return err
	})
	return results, err
}
