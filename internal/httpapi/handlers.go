package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/memcontext/vault/internal/facade"
	"github.com/memcontext/vault/internal/model"
)

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func statusFor(err error) int {
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case model.IsConflict(err), model.IsIntegrity(err), model.IsConfig(err):
		return http.StatusBadRequest
	case model.IsCorruption(err):
		return http.StatusUnprocessableEntity
	case model.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type createMemoryRequest struct {
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	OwnerID     string            `json:"owner_id"`
	ContextID   *int64            `json:"context_id,omitempty"`
	AccessLevel model.AccessLevel `json:"access_level,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	id, err := s.facade.CreateMemory(r.Context(), facade.CreateMemoryInput{
		Title: req.Title, Content: []byte(req.Content), OwnerID: req.OwnerID,
		ContextID: req.ContextID, AccessLevel: req.AccessLevel, Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	eager := r.URL.Query().Get("eager") == "true"
	lm, err := s.facade.GetMemory(r.Context(), id, eager)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, lm)
}

type updateMemoryRequest struct {
	Title       *string           `json:"title,omitempty"`
	Content     *string           `json:"content,omitempty"`
	AccessLevel model.AccessLevel `json:"access_level,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	var req updateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	in := facade.UpdateMemoryInput{ID: id, Title: req.Title, AccessLevel: req.AccessLevel, Metadata: req.Metadata}
	if req.Content != nil {
		in.Content = []byte(*req.Content)
	}
	if err := s.facade.UpdateMemory(r.Context(), in); err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.DeleteMemory(r.Context(), id); err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		limit = l
	}
	var contextID *int64
	if c := q.Get("context_id"); c != "" {
		if cid, err := strconv.ParseInt(c, 10, 64); err == nil {
			contextID = &cid
		}
	}
	results, err := s.facade.SearchMemories(r.Context(), facade.SearchInput{
		Query: q.Get("q"), OwnerID: q.Get("owner_id"), ContextID: contextID,
		AccessLevel: model.AccessLevel(q.Get("access_level")), Limit: limit,
	})
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	var items []facade.BulkItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	results, err := s.facade.BulkCreate(r.Context(), items)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleChunkInfo(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	info, err := s.facade.ChunkInfo(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCompactStorage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.CompactStorage(r.Context(), id); err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "compacted"})
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var c model.Context
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	id, err := s.facade.CreateContext(r.Context(), &c)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	c, err := s.facade.GetContext(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.DeleteContext(r.Context(), id); err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	out, err := s.facade.ListContexts(r.Context(), owner)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRelation(w http.ResponseWriter, r *http.Request) {
	var rel model.Relation
	if err := json.NewDecoder(r.Body).Decode(&rel); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	id, err := s.facade.CreateRelation(r.Context(), &rel)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleDeleteRelation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.DeleteRelation(r.Context(), id); err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ingestBookRequest struct {
	Title       string            `json:"title"`
	OwnerID     string            `json:"owner_id"`
	ContextName string            `json:"context_name"`
	Text        string            `json:"text"`
	AccessLevel model.AccessLevel `json:"access_level,omitempty"`
}

func (s *Server) handleIngestBook(w http.ResponseWriter, r *http.Request) {
	var req ingestBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err)
		return
	}
	ids, err := s.facade.IngestBook(r.Context(), facade.IngestBookInput{
		Title: req.Title, OwnerID: req.OwnerID, ContextName: req.ContextName,
		Text: req.Text, AccessLevel: req.AccessLevel,
	})
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]int64{"chapter_ids": ids})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	stats, err := s.facade.Statistics(r.Context(), owner)
	if err != nil {
		writeError(w, s.logger, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
