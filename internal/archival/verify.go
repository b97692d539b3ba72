package archival

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/model"
)

// Verify recomputes the pack file's checksum and performs a format-level
// integrity test (zip central-directory read / tar walk), then transitions
// the ArchiveRecord's status. Corrupted archives are never auto-deleted
// (spec §4.6).
func (e *Engine) Verify(ctx context.Context, archiveID string) error {
	rec, err := e.registry.Get(archiveID)
	if err != nil {
		return err
	}

	checksum, err := fileSHA256(rec.PackPath)
	if err != nil {
		return err
	}
	if checksum != rec.Checksum {
		rec.Status = model.ArchiveCorrupted
		_ = e.registry.Put(rec)
		return model.ErrCorruption("archive checksum mismatch", nil)
	}

	if err := formatIntegrityTest(rec.PackPath); err != nil {
		rec.Status = model.ArchiveCorrupted
		_ = e.registry.Put(rec)
		e.logger.Warn("archive failed integrity test", zap.String("archive_id", archiveID), zap.Error(err))
		return model.ErrCorruption("archive format integrity test failed", err)
	}

	rec.Status = model.ArchiveVerified
	if err := e.registry.Put(rec); err != nil {
		return err
	}
	return nil
}

func formatIntegrityTest(path string) error {
	switch {
	case strings.HasSuffix(path, ".zip"):
		return testZip(path)
	case strings.HasSuffix(path, ".tar.gz"):
		return testTarGz(path)
	case strings.HasSuffix(path, ".tar.bz2"):
		return testTarBz2(path)
	default:
		// directory format: existence is its own integrity test.
		_, err := os.Stat(path)
		return err
	}
}

func testZip(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func testTarGz(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	return walkTar(gr)
}

// testTarBz2 verifies a tar.bz2 archive produced outside this module (this
// engine never writes one itself; see Policy.ArchiveFormat's FormatTarBz2
// comment) using the stdlib bzip2 reader.
func testTarBz2(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return walkTar(bzip2.NewReader(f))
}

func walkTar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return err
			}
		}
	}
}

// Cleanup deletes archives whose retention has expired and whose policy
// isn't "permanent", returning how many were removed.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now().UTC()
	for _, rec := range e.registry.List("") {
		if rec.PolicyName == permanentPolicy {
			continue
		}
		if rec.RetentionUntil.IsZero() || rec.RetentionUntil.After(now) {
			continue
		}
		if err := removePack(rec); err != nil {
			e.logger.Warn("cleanup failed to remove pack", zap.String("archive_id", rec.ArchiveID), zap.Error(err))
			continue
		}
		if err := e.registry.Delete(rec.ArchiveID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func removePack(rec *model.ArchiveRecord) error {
	if info, err := os.Stat(rec.PackPath); err == nil && info.IsDir() {
		if err := os.RemoveAll(rec.PackPath); err != nil {
			return err
		}
	} else if err := os.Remove(rec.PackPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, part := range rec.PartPaths {
		_ = os.Remove(part)
	}
	return nil
}

// StorageReport aggregates archival statistics, grounded on
// original_source's get_archival_report: total archived bytes, a
// per-policy breakdown, and a high-usage warning.
type StorageReport struct {
	TotalBytes      int64
	TotalArchives   int
	ByPolicy        map[string]int64
	HighUsageWarning bool
}

// highUsageThresholdBytes flags StorageReport when total archived storage
// crosses this size, mirroring the original's warning threshold.
const highUsageThresholdBytes = 10 * 1024 * 1024 * 1024 // 10 GiB

func (e *Engine) StorageReport() StorageReport {
	report := StorageReport{ByPolicy: make(map[string]int64)}
	for _, name := range e.sortedPolicyNames() {
		for _, rec := range e.registry.List(name) {
			report.TotalBytes += rec.SizeBytes
			report.TotalArchives++
			report.ByPolicy[name] += rec.SizeBytes
		}
	}
	report.HighUsageWarning = report.TotalBytes >= highUsageThresholdBytes
	return report
}
