package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/memcontext/vault/internal/model"
)

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fakeBackend is an in-memory Backend used to exercise the router without
// any real network or filesystem dependency.
type fakeBackend struct {
	name string

	mu         sync.Mutex
	objects    map[string][]byte
	failStore  bool
	failHealth bool
	corrupt    bool // Retrieve returns tampered bytes
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, objects: make(map[string][]byte)}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Store(_ context.Context, id, _ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStore {
		return errors.New("simulated store failure")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objects[id] = cp
	return nil
}

func (f *fakeBackend) Retrieve(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[id]
	if !ok {
		return nil, model.ErrNotFound("object", id)
	}
	if f.corrupt {
		tampered := make([]byte, len(data))
		copy(tampered, data)
		if len(tampered) > 0 {
			tampered[0] ^= 0xFF
		}
		return tampered, nil
	}
	return data, nil
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
	return nil
}

func (f *fakeBackend) Stats(_ context.Context) (BackendStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return BackendStats{FileCount: int64(len(f.objects))}, nil
}

func (f *fakeBackend) HealthCheck(_ context.Context) error {
	if f.failHealth {
		return errors.New("simulated health check failure")
	}
	return nil
}

func (f *fakeBackend) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[id]
	return ok
}

// newTestRouter builds a Router whose metadata cache persists under a
// scratch temp dir, so tests never write into the working directory.
func newTestRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	cfg.MetadataCachePath = t.TempDir() + "/metadata_cache.json"
	return New(cfg, nil, nil)
}

func TestRouter_WriteRead_RoundTrip(t *testing.T) {
	r := newTestRouter(t, Config{RedundancyFactor: 1})
	b := newFakeBackend("local")
	r.Register(b, 1, true)

	data := []byte("hello memory")
	if err := r.Write(context.Background(), "f1", "f1.bin", data, checksumOf(data), model.CompressionNone); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := r.Read(context.Background(), "f1", checksumOf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != string(data) {
		t.Error("read data doesn't match written data")
	}
}

func TestRouter_Write_RedundancyFactor(t *testing.T) {
	r := newTestRouter(t, Config{RedundancyFactor: 2})
	b1 := newFakeBackend("b1")
	b2 := newFakeBackend("b2")
	b3 := newFakeBackend("b3")
	r.Register(b1, 1, true)
	r.Register(b2, 2, true)
	r.Register(b3, 3, true)

	data := []byte("replicated")
	if err := r.Write(context.Background(), "f2", "f2.bin", data, checksumOf(data), model.CompressionNone); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	holders := 0
	for _, b := range []*fakeBackend{b1, b2, b3} {
		if b.has("f2") {
			holders++
		}
	}
	if holders != 2 {
		t.Errorf("expected 2 backends to hold the object, got %d", holders)
	}
}

func TestRouter_Write_FailsOverToLowerPriority(t *testing.T) {
	r := newTestRouter(t, Config{RedundancyFactor: 1})
	failing := newFakeBackend("failing")
	failing.failStore = true
	working := newFakeBackend("working")
	r.Register(failing, 1, true)
	r.Register(working, 2, true)

	data := []byte("failover test")
	if err := r.Write(context.Background(), "f3", "f3.bin", data, checksumOf(data), model.CompressionNone); err != nil {
		t.Fatalf("Write should succeed via the lower-priority backend: %v", err)
	}
	if !working.has("f3") {
		t.Error("expected the working backend to hold the object")
	}
}

func TestRouter_Write_AllBackendsFail(t *testing.T) {
	r := newTestRouter(t, Config{RedundancyFactor: 1})
	b := newFakeBackend("b")
	b.failStore = true
	r.Register(b, 1, true)

	err := r.Write(context.Background(), "f4", "f4.bin", []byte("x"), "hash", model.CompressionNone)
	if err == nil {
		t.Fatal("expected an error when no backend accepts the write")
	}
	if !model.IsTransient(err) {
		t.Errorf("expected a TransientError, got %T: %v", err, err)
	}
}

func TestRouter_Read_CorruptPrimary_FallsBackAndMarksCorrupt(t *testing.T) {
	r := newTestRouter(t, Config{RedundancyFactor: 2})
	primary := newFakeBackend("primary")
	secondary := newFakeBackend("secondary")
	r.Register(primary, 1, true)
	r.Register(secondary, 2, true)

	data := []byte("checked data")
	if err := r.Write(context.Background(), "f5", "f5.bin", data, checksumOf(data), model.CompressionNone); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	primary.corrupt = true

	got, err := r.Read(context.Background(), "f5", checksumOf)
	if err != nil {
		t.Fatalf("Read should succeed from the secondary: %v", err)
	}
	if string(got) != string(data) {
		t.Error("expected the secondary's intact copy")
	}
}

func TestRouter_Read_NotFound(t *testing.T) {
	r := newTestRouter(t, Config{})
	_, err := r.Read(context.Background(), "missing", checksumOf)
	if !model.IsNotFound(err) {
		t.Errorf("expected a NotFoundError, got %T: %v", err, err)
	}
}

func TestRouter_BackendMarkedDown_AfterConsecutiveErrors(t *testing.T) {
	r := newTestRouter(t, Config{RedundancyFactor: 1, DownAfterErrors: 3})
	b := newFakeBackend("flaky")
	b.failHealth = true
	r.Register(b, 1, true)

	for i := 0; i < 3; i++ {
		r.Probe(context.Background())
	}

	if r.isUp("flaky") {
		t.Error("expected backend to be marked down after 3 consecutive probe failures")
	}
}

func TestRouter_Delete_RemovesFromHoldingBackends(t *testing.T) {
	r := newTestRouter(t, Config{RedundancyFactor: 1})
	b := newFakeBackend("b")
	r.Register(b, 1, true)

	data := []byte("to be deleted")
	if err := r.Write(context.Background(), "f6", "f6.bin", data, checksumOf(data), model.CompressionNone); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := r.Delete(context.Background(), "f6"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if b.has("f6") {
		t.Error("expected object to be removed from the backend")
	}
	if _, ok := r.Meta("f6"); ok {
		t.Error("expected metadata cache entry to be removed")
	}
}

func TestRouter_Write_Cancelled(t *testing.T) {
	r := newTestRouter(t, Config{})
	b := newFakeBackend("b")
	r.Register(b, 1, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Write(ctx, "f7", "f7.bin", []byte("x"), "hash", model.CompressionNone)
	if !errors.Is(err, model.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestRouter_MetadataCache_SurvivesRestart(t *testing.T) {
	path := t.TempDir() + "/metadata_cache.json"

	r := New(Config{RedundancyFactor: 1, MetadataCachePath: path}, nil, nil)
	b := newFakeBackend("b")
	r.Register(b, 1, true)

	data := []byte("persisted across restart")
	if err := r.Write(context.Background(), "f8", "f8.bin", data, checksumOf(data), model.CompressionNone); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected metadata cache file to exist: %v", err)
	}
	var onDisk struct {
		Version string `json:"version"`
		Files   map[string]*FileMeta
	}
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("decode metadata cache: %v", err)
	}
	if onDisk.Version != "1.0" {
		t.Errorf("expected version 1.0, got %q", onDisk.Version)
	}
	if _, ok := onDisk.Files["f8"]; !ok {
		t.Error("expected f8 in the persisted files map")
	}

	// Simulate a process restart: a fresh Router pointed at the same path
	// should recover the entry without a new Write.
	restarted := New(Config{RedundancyFactor: 1, MetadataCachePath: path}, nil, nil)
	meta, ok := restarted.Meta("f8")
	if !ok {
		t.Fatal("expected metadata cache entry to survive restart")
	}
	if meta.Checksum != checksumOf(data) {
		t.Error("recovered metadata entry has the wrong checksum")
	}
}

func TestRouter_StartProbing_StopsCleanly(t *testing.T) {
	r := newTestRouter(t, Config{ProbeInterval: 10 * time.Millisecond})
	b := newFakeBackend("b")
	r.Register(b, 1, true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.StartProbing(ctx)

	<-ctx.Done()
	r.Stop()
}
