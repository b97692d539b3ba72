package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/memcontext/vault/internal/chunkstore"
	"github.com/memcontext/vault/internal/codec"
	"github.com/memcontext/vault/internal/dedup"
	"github.com/memcontext/vault/internal/facade"
	"github.com/memcontext/vault/internal/repository"
	"github.com/memcontext/vault/internal/workerpool"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := repository.Open(context.Background(), repository.EngineSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	pipeline := codec.New(codec.Config{}, nil)
	store := chunkstore.New(chunkstore.Config{}, pipeline, nil)
	dedupEngine := dedup.New(dedup.Config{}, nil)
	pool := workerpool.New(2)
	f := facade.New(repo, store, pipeline, nil, dedupEngine, nil, pool, nil, nil, facade.StorageOptions{})

	return NewServer(":0", f, nil)
}

func TestCreateAndGetMemoryHTTP(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"title": "note", "content": "hello", "owner_id": "alice",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id := created["id"]

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/memories/"+strconv.FormatInt(id, 10)+"?eager=true", nil)
	getRec := httptest.NewRecorder()
	s.router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestGetMissingMemoryReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories/999", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
