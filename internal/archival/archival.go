package archival

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/chunkstore"
	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/repository"
)

// ArchiveFormat enumerates the pack formats spec §4.6 names. tar.bz2 is
// accepted in Policy for round-tripping config but rejected at archive time
// (ErrConfig): the Go standard library only ships a bzip2 reader, and no
// dependency in this module's stack provides a bzip2 writer (see DESIGN.md).
type ArchiveFormat string

const (
	FormatZip       ArchiveFormat = "zip"
	FormatTarGz     ArchiveFormat = "tar.gz"
	FormatTarBz2    ArchiveFormat = "tar.bz2"
	FormatDirectory ArchiveFormat = "directory"
)

// Policy is a named, config-driven archival policy (spec §4.6).
type Policy struct {
	Name                 string
	RetentionDays        int
	CompressionEnabled   bool
	CompressionLevel     int
	ArchiveFormat        ArchiveFormat
	IncludeMetadata      bool
	IncludeRelations     bool
	IncludeContexts      bool
	MaxArchiveSizeMB     int
	SplitLargeArchives   bool
	ChecksumVerification bool
}

// permanentPolicy names the policy whose archives are never cleaned up:
// CreateArchive leaves their RetentionUntil at the zero value.
const permanentPolicy = "permanent"

// Selector picks which memories a CreateArchive call targets.
type Selector struct {
	IDs           []int64
	OlderThanDays int
	Since, Until  time.Time
}

// Engine is the archival engine: it exports memories to a structured
// directory, packs the directory per policy, and tracks the result in a
// crash-atomic Registry.
type Engine struct {
	repo     *repository.Repository
	chunks   *chunkstore.Store
	codec    *codec.Pipeline
	dataDir  string
	registry *Registry
	policies map[string]Policy
	logger   *zap.Logger
}

// NewEngine builds an archival engine rooted at dataDir (spec §6:
// "./data/archives" by default), loading or creating its registry.
func NewEngine(repo *repository.Repository, chunks *chunkstore.Store, pipeline *codec.Pipeline, dataDir string, policies map[string]Policy, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg, err := OpenRegistry(filepath.Join(dataDir, "registry.json"))
	if err != nil {
		return nil, err
	}
	return &Engine{
		repo: repo, chunks: chunks, codec: pipeline,
		dataDir: dataDir, registry: reg, policies: policies, logger: logger,
	}, nil
}

type memoryExport struct {
	ID                int64             `json:"id"`
	Title             string            `json:"title"`
	Content           string            `json:"content"`
	OwnerID           string            `json:"owner_id"`
	ContextID         *int64            `json:"context_id"`
	AccessLevel       string            `json:"access_level"`
	MemoryMetadata    map[string]string `json:"memory_metadata"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
	ContentCompressed bool              `json:"content_compressed"`
}

type archiveMetadata struct {
	Version     string          `json:"version"`
	PolicyName  string          `json:"policy_name"`
	CreatedAt   time.Time       `json:"created_at"`
	MemoryCount int             `json:"memory_count"`
	Summary     []summaryEntry  `json:"summary"`
}

type summaryEntry struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Size  int64  `json:"size"`
}

// CreateArchive selects memories via sel, exports them to a staging
// directory, packs it per policy, and records the result in the registry.
func (e *Engine) CreateArchive(ctx context.Context, policyName string, sel Selector) (*model.ArchiveRecord, error) {
	policy, ok := e.policies[policyName]
	if !ok {
		return nil, model.ErrConfig(fmt.Sprintf("unknown archival policy %q", policyName))
	}
	if policy.ArchiveFormat == FormatTarBz2 {
		return nil, model.ErrConfig("tar.bz2 archive creation is not supported (no bzip2 writer in the dependency set)")
	}

	ids, err := e.selectMemoryIDs(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, model.ErrNotFound("memory", "no candidates matched selector")
	}

	stagingDir, err := os.MkdirTemp("", "memvault-archive-*")
	if err != nil {
		return nil, model.ErrTransient("archive_staging_mkdir", err)
	}
	defer os.RemoveAll(stagingDir)

	meta, err := e.export(ctx, stagingDir, policy, ids)
	if err != nil {
		return nil, err
	}

	archiveID := uuid.NewString()
	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return nil, model.ErrTransient("archive_dir_mkdir", err)
	}

	packPaths, sizeBytes, err := e.pack(stagingDir, policy, archiveID)
	if err != nil {
		return nil, err
	}

	checksum, err := fileSHA256(packPaths[0])
	if err != nil {
		return nil, err
	}

	rec := &model.ArchiveRecord{
		ArchiveID:        archiveID,
		PolicyName:       policyName,
		CreatedAt:        time.Now().UTC(),
		SizeBytes:        sizeBytes,
		MemoryCount:      meta.MemoryCount,
		Checksum:         checksum,
		PackPath:         packPaths[0],
		PartPaths:        packPaths[1:],
		Status:           model.ArchiveCompleted,
		CompressionRatio: compressionRatio(meta, sizeBytes),
	}
	if policyName != permanentPolicy && policy.RetentionDays > 0 {
		rec.RetentionUntil = rec.CreatedAt.AddDate(0, 0, policy.RetentionDays)
	}

	if err := e.registry.Put(rec); err != nil {
		return nil, err
	}
	e.logger.Info("archive created",
		zap.String("archive_id", archiveID), zap.String("policy", policyName),
		zap.Int("memory_count", rec.MemoryCount), zap.Int64("size_bytes", rec.SizeBytes))
	return rec, nil
}

func (e *Engine) selectMemoryIDs(ctx context.Context, sel Selector) ([]int64, error) {
	if len(sel.IDs) > 0 {
		return sel.IDs, nil
	}

	var ids []int64
	err := e.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		// No dedicated date-range query exists at the repository layer yet;
		// the archival engine filters in-process over a scan of every memory
		// (an empty search with no filters and no limit), which is acceptable
		// at archival's batch cadence (not a hot path).
		all, err := uow.Search(ctx, "", repository.SearchFilters{}, 0)
		if err != nil {
			return err
		}
		cutoff := time.Now().AddDate(0, 0, -sel.OlderThanDays)
		for _, m := range all {
			if sel.OlderThanDays > 0 && m.UpdatedAt.After(cutoff) {
				continue
			}
			if !sel.Since.IsZero() && m.UpdatedAt.Before(sel.Since) {
				continue
			}
			if !sel.Until.IsZero() && m.UpdatedAt.After(sel.Until) {
				continue
			}
			ids = append(ids, m.ID)
		}
		return nil
	})
	return ids, err
}

func (e *Engine) export(ctx context.Context, stagingDir string, policy Policy, ids []int64) (*archiveMetadata, error) {
	memDir := filepath.Join(stagingDir, "memories")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		return nil, model.ErrTransient("archive_export_mkdir", err)
	}

	meta := &archiveMetadata{Version: "1.0", PolicyName: policy.Name, CreatedAt: time.Now().UTC()}
	contextIDs := make(map[int64]bool)

	err := e.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		for _, id := range ids {
			m, err := uow.FindMemoryByID(ctx, id)
			if err != nil {
				return err
			}

			content, err := e.decompressedContent(ctx, uow, m)
			if err != nil {
				return err
			}

			exp := memoryExport{
				ID: m.ID, Title: m.Title, Content: string(content),
				OwnerID: m.OwnerID, ContextID: m.ContextID, AccessLevel: string(m.AccessLevel),
				MemoryMetadata: m.Metadata, CreatedAt: m.CreatedAt.Format(time.RFC3339),
				UpdatedAt: m.UpdatedAt.Format(time.RFC3339), ContentCompressed: m.ContentCompressed,
			}
			if err := writeJSON(filepath.Join(memDir, fmt.Sprintf("memory_%d.json", id)), exp); err != nil {
				return err
			}
			meta.Summary = append(meta.Summary, summaryEntry{ID: m.ID, Title: m.Title, Size: m.ContentSize})
			meta.MemoryCount++
			if m.ContextID != nil {
				contextIDs[*m.ContextID] = true
			}

			if policy.IncludeRelations {
				rels, err := uow.FindRelationsBySource(ctx, id)
				if err != nil {
					return err
				}
				if len(rels) > 0 {
					relDir := filepath.Join(stagingDir, "relations")
					if err := os.MkdirAll(relDir, 0o755); err != nil {
						return model.ErrTransient("archive_export_mkdir", err)
					}
					if err := writeJSON(filepath.Join(relDir, fmt.Sprintf("relations_%d.json", id)), rels); err != nil {
						return err
					}
				}
			}
		}

		if policy.IncludeContexts {
			ctxDir := filepath.Join(stagingDir, "contexts")
			if err := os.MkdirAll(ctxDir, 0o755); err != nil {
				return model.ErrTransient("archive_export_mkdir", err)
			}
			for ctxID := range contextIDs {
				c, err := uow.FindContextByID(ctx, ctxID)
				if err != nil {
					if model.IsNotFound(err) {
						continue
					}
					return err
				}
				if err := writeJSON(filepath.Join(ctxDir, fmt.Sprintf("context_%d.json", ctxID)), c); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if policy.IncludeMetadata {
		if err := writeJSON(filepath.Join(stagingDir, "metadata.json"), meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (e *Engine) decompressedContent(ctx context.Context, uow *repository.UnitOfWork, m *model.Memory) ([]byte, error) {
	// Content == nil && ExternalLocator == "" is the sole chunked-storage
	// signal; ContentCompressed only reflects whether the whole payload
	// happened to compress, which is false for incompressible content that
	// still chunked (facade.decompressed applies the same rule).
	if m.Content == nil && m.ExternalLocator == "" {
		chunks, err := uow.FindChunksByMemory(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			return e.chunks.Reassemble(ctx, chunks)
		}
	}
	if !m.ContentCompressed {
		return m.Content, nil
	}
	return e.codec.Decompress(m.Content, m.CompressionType)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return model.ErrIntegrity("marshal export: " + err.Error())
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return model.ErrTransient("archive_export_write", err)
	}
	return nil
}

func compressionRatio(meta *archiveMetadata, packedSize int64) float64 {
	var originalSize int64
	for _, s := range meta.Summary {
		originalSize += s.Size
	}
	if originalSize == 0 {
		return 0
	}
	return 1 - float64(packedSize)/float64(originalSize)
}

// fileSHA256 hashes a pack file. For a directory-format pack it hashes each
// file's relative path followed by its contents, in filepath.Walk order.
func fileSHA256(path string) (string, error) {
	h := sha256.New()
	err := filepath.Walk(path, func(p string, fi os.FileInfo, werr error) error {
		if werr != nil || fi.IsDir() {
			return werr
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if p != path {
			rel, _ := filepath.Rel(path, p)
			h.Write([]byte(rel))
		}
		_, err = io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", model.ErrTransient("archive_checksum_read", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// pack packs stagingDir per policy.ArchiveFormat, splitting into numbered
// parts when policy.SplitLargeArchives and the result exceeds
// MaxArchiveSizeMB. It returns the pack path(s), primary file first.
func (e *Engine) pack(stagingDir string, policy Policy, archiveID string) ([]string, int64, error) {
	switch policy.ArchiveFormat {
	case FormatDirectory:
		dst := filepath.Join(e.dataDir, archiveID)
		if err := copyDir(stagingDir, dst); err != nil {
			return nil, 0, err
		}
		size, err := dirSize(dst)
		return []string{dst}, size, err

	case FormatZip:
		path := filepath.Join(e.dataDir, archiveID+".zip")
		if err := packZip(stagingDir, path, policy.CompressionEnabled); err != nil {
			return nil, 0, err
		}
		return e.maybeSplit(path, policy, archiveID, ".zip")

	case FormatTarGz:
		path := filepath.Join(e.dataDir, archiveID+".tar.gz")
		if err := packTarGz(stagingDir, path, policy.CompressionLevel); err != nil {
			return nil, 0, err
		}
		return e.maybeSplit(path, policy, archiveID, ".tar.gz")

	default:
		return nil, 0, model.ErrConfig(fmt.Sprintf("unknown archive_format %q", policy.ArchiveFormat))
	}
}

func (e *Engine) maybeSplit(path string, policy Policy, archiveID, ext string) ([]string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, model.ErrTransient("archive_stat", err)
	}
	size := info.Size()
	limit := int64(policy.MaxArchiveSizeMB) * 1024 * 1024
	if !policy.SplitLargeArchives || limit <= 0 || size <= limit {
		return []string{path}, size, nil
	}

	parts, err := splitFile(path, limit, archiveID, ext, e.dataDir)
	if err != nil {
		return nil, 0, err
	}
	return parts, size, nil
}

func splitFile(path string, limit int64, archiveID, ext, dataDir string) ([]string, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, model.ErrTransient("archive_split_open", err)
	}
	defer src.Close()
	defer os.Remove(path)

	var parts []string
	buf := make([]byte, 1<<20)
	partNum := 1
	for {
		partPath := filepath.Join(dataDir, fmt.Sprintf("%s_part%d%s", archiveID, partNum, ext))
		out, err := os.Create(partPath)
		if err != nil {
			return nil, model.ErrTransient("archive_split_create", err)
		}
		var written int64
		for written < limit {
			toRead := int64(len(buf))
			if remain := limit - written; remain < toRead {
				toRead = remain
			}
			n, readErr := src.Read(buf[:toRead])
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					out.Close()
					return nil, model.ErrTransient("archive_split_write", werr)
				}
				written += int64(n)
			}
			if readErr == io.EOF {
				out.Close()
				parts = append(parts, partPath)
				return parts, nil
			}
			if readErr != nil {
				out.Close()
				return nil, model.ErrTransient("archive_split_read", readErr)
			}
		}
		out.Close()
		parts = append(parts, partPath)
		partNum++
	}
}

func packZip(srcDir, dstPath string, compress bool) error {
	out, err := os.Create(dstPath)
	if err != nil {
		return model.ErrTransient("archive_zip_create", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	method := zip.Store
	if compress {
		method = zip.Deflate
	}

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.ToSlash(rel), Method: method})
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return model.ErrTransient("archive_zip_pack", err)
	}
	return nil
}

func packTarGz(srcDir, dstPath string, level int) error {
	out, err := os.Create(dstPath)
	if err != nil {
		return model.ErrTransient("archive_targz_create", err)
	}
	defer out.Close()

	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	gw, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return model.ErrTransient("archive_targz_gzip", err)
	}
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return model.ErrTransient("archive_targz_pack", err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// sortedPolicyNames returns policy names in a stable order for iteration
// (used by Cleanup / StorageReport so log output is deterministic).
func (e *Engine) sortedPolicyNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
