package archival

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/repository"
)

// Restore extracts archiveID's pack to a temp directory and re-inserts its
// rows via the repository. Restoring is idempotent at the id level:
// existing ids are skipped with a warning, per spec §4.6.
func (e *Engine) Restore(ctx context.Context, archiveID string) error {
	rec, err := e.registry.Get(archiveID)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "memvault-restore-*")
	if err != nil {
		return model.ErrTransient("restore_tempdir", err)
	}
	defer os.RemoveAll(dir)

	if err := e.unpack(rec, dir); err != nil {
		return err
	}

	memDir := filepath.Join(dir, "memories")
	entries, err := os.ReadDir(memDir)
	if err != nil {
		return model.ErrCorruption("restore: missing memories directory", err)
	}

	return e.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(memDir, entry.Name()))
			if err != nil {
				return model.ErrTransient("restore_read", err)
			}
			var exp memoryExport
			if err := json.Unmarshal(data, &exp); err != nil {
				return model.ErrCorruption("restore: decode memory export", err)
			}

			if _, err := uow.FindMemoryByID(ctx, exp.ID); err == nil {
				e.logger.Warn("restore skipped existing memory", zap.Int64("memory_id", exp.ID))
				continue
			} else if !model.IsNotFound(err) {
				return err
			}

			m := &model.Memory{
				Title: exp.Title, Content: []byte(exp.Content), ContentSize: int64(len(exp.Content)),
				OwnerID: exp.OwnerID, ContextID: exp.ContextID, AccessLevel: model.AccessLevel(exp.AccessLevel),
				Metadata: exp.MemoryMetadata, ContentCompressed: false,
			}
			if _, err := uow.CreateMemory(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) unpack(rec *model.ArchiveRecord, dst string) error {
	if len(rec.PartPaths) > 0 {
		return model.ErrConfig("restore of split multi-part archives requires manual part concatenation")
	}

	switch {
	case strings.HasSuffix(rec.PackPath, ".zip"):
		return unpackZip(rec.PackPath, dst)
	case strings.HasSuffix(rec.PackPath, ".tar.gz"):
		return unpackTarGz(rec.PackPath, dst)
	default:
		// directory format: the pack path IS the directory.
		return copyDir(rec.PackPath, dst)
	}
}

func unpackZip(path, dst string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return model.ErrCorruption("open zip archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dst, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return model.ErrTransient("unpack_zip_mkdir", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return model.ErrTransient("unpack_zip_mkdir", err)
		}
		rc, err := f.Open()
		if err != nil {
			return model.ErrCorruption("read zip entry", err)
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return model.ErrTransient("unpack_zip_create", err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return model.ErrCorruption("extract zip entry", err)
		}
	}
	return nil
}

func unpackTarGz(path, dst string) error {
	f, err := os.Open(path)
	if err != nil {
		return model.ErrTransient("unpack_targz_open", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return model.ErrCorruption("open gzip stream", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return model.ErrCorruption("read tar entry", err)
		}
		target := filepath.Join(dst, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return model.ErrTransient("unpack_targz_mkdir", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return model.ErrTransient("unpack_targz_mkdir", err)
			}
			out, err := os.Create(target)
			if err != nil {
				return model.ErrTransient("unpack_targz_create", err)
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return model.ErrCorruption("extract tar entry", err)
			}
		default:
			return model.ErrCorruption(fmt.Sprintf("unsupported tar entry type %v", hdr.Typeflag), nil)
		}
	}
}
