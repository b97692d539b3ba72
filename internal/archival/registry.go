// Package archival implements the pack-file archival engine of spec §4.6:
// move old or low-access memories into compressed archives on a retention
// schedule, tracked by a crash-atomic JSON registry. Grounded on
// original_source/src/archiving/archival_manager.py for procedure shape and
// on FairForge's internal/drivers/local.go AtomicWrite (temp-file+rename)
// for the registry's crash-atomicity requirement (spec §5).
package archival

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/memcontext/vault/internal/model"
)

// registryFile is the on-disk shape of registry.json (spec §6).
type registryFile struct {
	Version   string                          `json:"version"`
	Archives  map[string]*model.ArchiveRecord `json:"archives"`
	UpdatedAt time.Time                       `json:"updated_at"`
}

// Registry is the durable, append-mostly index of every ArchiveRecord this
// engine has produced, persisted as a single JSON file replaced atomically.
type Registry struct {
	path string

	mu   sync.Mutex
	data registryFile
}

// OpenRegistry loads (or initializes) the registry at path.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	r.data = registryFile{Version: "1.0", Archives: make(map[string]*model.ArchiveRecord)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, model.ErrTransient("registry_open", err)
	}
	if err := json.Unmarshal(raw, &r.data); err != nil {
		return nil, model.ErrCorruption("registry decode", err)
	}
	if r.data.Archives == nil {
		r.data.Archives = make(map[string]*model.ArchiveRecord)
	}
	return r, nil
}

// Put inserts or replaces an ArchiveRecord and persists the registry.
func (r *Registry) Put(rec *model.ArchiveRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data.Archives[rec.ArchiveID] = rec
	r.data.UpdatedAt = time.Now().UTC()
	return r.save()
}

// Get returns the ArchiveRecord for id, or NotFound.
func (r *Registry) Get(id string) (*model.ArchiveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data.Archives[id]
	if !ok {
		return nil, model.ErrNotFound("archive", id)
	}
	return rec, nil
}

// Delete removes an ArchiveRecord from the registry (not its pack file).
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data.Archives[id]; !ok {
		return model.ErrNotFound("archive", id)
	}
	delete(r.data.Archives, id)
	r.data.UpdatedAt = time.Now().UTC()
	return r.save()
}

// List returns every ArchiveRecord, optionally filtered by policy name.
func (r *Registry) List(policyName string) []*model.ArchiveRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.ArchiveRecord, 0, len(r.data.Archives))
	for _, rec := range r.data.Archives {
		if policyName == "" || rec.PolicyName == policyName {
			out = append(out, rec)
		}
	}
	return out
}

// save writes the registry to a temp file and renames it over path,
// guaranteeing a reader never observes a partially-written registry.
func (r *Registry) save() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.ErrTransient("registry_mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return model.ErrTransient("registry_tempfile", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.data); err != nil {
		_ = tmp.Close()
		return model.ErrTransient("registry_encode", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return model.ErrTransient("registry_sync", err)
	}
	if err := tmp.Close(); err != nil {
		return model.ErrTransient("registry_close", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return model.ErrTransient("registry_rename", fmt.Errorf("rename %s -> %s: %w", tmpPath, r.path, err))
	}
	return nil
}
