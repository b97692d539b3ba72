package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memcontext/vault/internal/model"
)

// CreateMemory inserts a new Memory row and returns its assigned id.
// Must be called inside a UnitOfWork so a subsequent chunk-store failure
// can roll the row back.
func (u *UnitOfWork) CreateMemory(ctx context.Context, m *model.Memory) (int64, error) {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return 0, model.ErrIntegrity(fmt.Sprintf("marshal metadata: %v", err))
	}
	now := m.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	row := u.queryRow(ctx, `INSERT INTO memories
		(fingerprint, title, content, content_size, content_compressed, compression_type,
		 content_preview, owner_id, context_id, access_level, created_at, updated_at,
		 version, metadata, embedding, external_locator)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		nullStr(m.Fingerprint), m.Title, m.Content, m.ContentSize, m.ContentCompressed, string(m.CompressionType),
		m.ContentPreview, m.OwnerID, m.ContextID, string(m.AccessLevel), now, now,
		1, string(meta), m.Embedding, nullStr(m.ExternalLocator))

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, model.ErrTransient("create_memory", err)
	}
	return id, nil
}

// FindMemoryByID loads one Memory. Returns model.ErrNotFound if absent.
func (u *UnitOfWork) FindMemoryByID(ctx context.Context, id int64) (*model.Memory, error) {
	row := u.queryRow(ctx, memorySelect+` WHERE id = ?`, id)
	return scanMemory(row)
}

// UpdateMemory rewrites the mutable fields of an existing Memory and bumps
// its version. Per spec §4.3 it does not touch memory_chunks; chunk
// rewrites are the caller's responsibility inside the same unit-of-work.
func (u *UnitOfWork) UpdateMemory(ctx context.Context, m *model.Memory) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return model.ErrIntegrity(fmt.Sprintf("marshal metadata: %v", err))
	}
	res, err := u.exec(ctx, `UPDATE memories SET
		title=?, content=?, content_size=?, content_compressed=?, compression_type=?,
		content_preview=?, context_id=?, access_level=?, updated_at=?, version=version+1,
		metadata=?, embedding=?, external_locator=?
		WHERE id=?`,
		m.Title, m.Content, m.ContentSize, m.ContentCompressed, string(m.CompressionType),
		m.ContentPreview, m.ContextID, string(m.AccessLevel), time.Now().UTC(),
		string(meta), m.Embedding, nullStr(m.ExternalLocator), m.ID)
	if err != nil {
		return model.ErrTransient("update_memory", err)
	}
	return requireRowsAffected(res, "memory", m.ID)
}

// TouchMemory increments access_count and last_accessed without bumping
// version (a read-path side effect, not a content mutation).
func (u *UnitOfWork) TouchMemory(ctx context.Context, id int64) error {
	_, err := u.exec(ctx, `UPDATE memories SET access_count=access_count+1, last_accessed=? WHERE id=?`,
		time.Now().UTC(), id)
	if err != nil {
		return model.ErrTransient("touch_memory", err)
	}
	return nil
}

// DeleteMemory removes a Memory row and its memory_chunks rows. The chunks
// are deleted explicitly: SQLite applies the schema's ON DELETE CASCADE only
// when foreign-key enforcement is switched on for the connection.
func (u *UnitOfWork) DeleteMemory(ctx context.Context, id int64) error {
	if _, err := u.exec(ctx, `DELETE FROM memory_chunks WHERE memory_id=?`, id); err != nil {
		return model.ErrTransient("delete_memory_chunks", err)
	}
	res, err := u.exec(ctx, `DELETE FROM memories WHERE id=?`, id)
	if err != nil {
		return model.ErrTransient("delete_memory", err)
	}
	return requireRowsAffected(res, "memory", id)
}

// SetFingerprint stamps a Memory with its deduplication content fingerprint.
func (u *UnitOfWork) SetFingerprint(ctx context.Context, id int64, fingerprint string) error {
	_, err := u.exec(ctx, `UPDATE memories SET fingerprint=? WHERE id=?`, fingerprint, id)
	if err != nil {
		return model.ErrTransient("set_fingerprint", err)
	}
	return nil
}

// RepointRelations rewrites every relation edge pointing at `from` to point
// at `to` instead, used by the deduplication merge operation.
func (u *UnitOfWork) RepointRelations(ctx context.Context, from, to int64) error {
	if _, err := u.exec(ctx, `UPDATE relations SET source_memory_id=? WHERE source_memory_id=?`, to, from); err != nil {
		return model.ErrTransient("repoint_relations_source", err)
	}
	if _, err := u.exec(ctx, `UPDATE relations SET target_memory_id=? WHERE target_memory_id=?`, to, from); err != nil {
		return model.ErrTransient("repoint_relations_target", err)
	}
	return nil
}

// ConcatenateContent replaces the survivor's content with combined, the
// already-joined, uncompressed content of the merged memories, for the
// merge_all dedup strategy. The result is stored inline and marked
// uncompressed.
func (u *UnitOfWork) ConcatenateContent(ctx context.Context, survivorID int64, combined []byte) error {
	_, err := u.exec(ctx, `UPDATE memories SET content=?, content_size=?, content_compressed=?,
		compression_type=?, external_locator=NULL, updated_at=? WHERE id=?`,
		combined, len(combined), false, string(model.CompressionNone), time.Now().UTC(), survivorID)
	if err != nil {
		return model.ErrTransient("concatenate_content", err)
	}
	return nil
}

// FindMemoriesByOwner returns memories owned by ownerID in id-ascending order.
func (u *UnitOfWork) FindMemoriesByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Memory, error) {
	return u.queryMemories(ctx, memorySelect+` WHERE owner_id=? ORDER BY id ASC LIMIT ?`, ownerID, limitOrAll(limit))
}

// FindMemoriesByContext returns memories belonging to contextID in id-ascending order.
func (u *UnitOfWork) FindMemoriesByContext(ctx context.Context, contextID int64, limit int) ([]*model.Memory, error) {
	return u.queryMemories(ctx, memorySelect+` WHERE context_id=? ORDER BY id ASC LIMIT ?`, contextID, limitOrAll(limit))
}

// SearchFilters is the AND-combined filter set spec §4.3 allows for search.
type SearchFilters struct {
	OwnerID     string
	ContextID   *int64
	AccessLevel model.AccessLevel
}

// Search does a case-insensitive substring match on title and content
// preview (never the full decompressed content), AND-combining filters.
func (u *UnitOfWork) Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]*model.Memory, error) {
	clauses := []string{`(LOWER(title) LIKE ? OR LOWER(content_preview) LIKE ?)`}
	needle := "%" + strings.ToLower(query) + "%"
	args := []any{needle, needle}

	if filters.OwnerID != "" {
		clauses = append(clauses, `owner_id = ?`)
		args = append(args, filters.OwnerID)
	}
	if filters.ContextID != nil {
		clauses = append(clauses, `context_id = ?`)
		args = append(args, *filters.ContextID)
	}
	if filters.AccessLevel != "" {
		clauses = append(clauses, `access_level = ?`)
		args = append(args, string(filters.AccessLevel))
	}

	sqlQuery := memorySelect + ` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limitOrAll(limit))
	return u.queryMemories(ctx, sqlQuery, args...)
}

// CountMemories returns the total memory row count, optionally scoped to an owner.
func (u *UnitOfWork) CountMemories(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	var row *sql.Row
	if ownerID != "" {
		row = u.queryRow(ctx, `SELECT COUNT(*) FROM memories WHERE owner_id=?`, ownerID)
	} else {
		row = u.queryRow(ctx, `SELECT COUNT(*) FROM memories`)
	}
	if err := row.Scan(&n); err != nil {
		return 0, model.ErrTransient("count_memories", err)
	}
	return n, nil
}

const memorySelect = `SELECT id, fingerprint, title, content, content_size, content_compressed,
	compression_type, content_preview, owner_id, context_id, access_level,
	created_at, updated_at, access_count, last_accessed, version, metadata, embedding, external_locator
	FROM memories`

func (u *UnitOfWork) queryMemories(ctx context.Context, query string, args ...any) ([]*model.Memory, error) {
	rows, err := u.query(ctx, query, args...)
	if err != nil {
		return nil, model.ErrTransient("query_memories", err)
	}
	defer rows.Close()

	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row *sql.Row) (*model.Memory, error) {
	m, err := scanMemoryGeneric(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound("memory", nil)
	}
	return m, err
}

func scanMemoryRows(rows *sql.Rows) (*model.Memory, error) {
	return scanMemoryGeneric(rows)
}

func scanMemoryGeneric(s rowScanner) (*model.Memory, error) {
	var m model.Memory
	var fingerprint, preview, externalLocator sql.NullString
	var contextID sql.NullInt64
	var lastAccessed sql.NullTime
	var compressionType, accessLevel string
	var meta string

	err := s.Scan(&m.ID, &fingerprint, &m.Title, &m.Content, &m.ContentSize, &m.ContentCompressed,
		&compressionType, &preview, &m.OwnerID, &contextID, &accessLevel,
		&m.CreatedAt, &m.UpdatedAt, &m.AccessCount, &lastAccessed, &m.Version, &meta, &m.Embedding, &externalLocator)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, model.ErrTransient("scan_memory", err)
	}

	m.Fingerprint = fingerprint.String
	m.ContentPreview = preview.String
	m.ExternalLocator = externalLocator.String
	m.CompressionType = model.CompressionType(compressionType)
	m.AccessLevel = model.AccessLevel(accessLevel)
	if contextID.Valid {
		id := contextID.Int64
		m.ContextID = &id
	}
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Time
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, model.ErrCorruption("memory metadata decode", err)
		}
	}
	return &m, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return 1 << 31
	}
	return int64(limit)
}

func requireRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return model.ErrTransient("rows_affected", err)
	}
	if n == 0 {
		return model.ErrNotFound(entity, id)
	}
	return nil
}
