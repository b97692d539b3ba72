package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/memcontext/vault/internal/model"
)

func (u *UnitOfWork) CreateContext(ctx context.Context, c *model.Context) (int64, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return 0, model.ErrIntegrity("marshal context metadata: " + err.Error())
	}
	now := time.Now().UTC()

	row := u.queryRow(ctx, `INSERT INTO contexts (name, description, owner_id, access_level, metadata, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?) RETURNING id`,
		c.Name, c.Description, c.OwnerID, string(c.AccessLevel), string(meta), now, now)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, model.ErrTransient("create_context", err)
	}
	return id, nil
}

func (u *UnitOfWork) FindContextByID(ctx context.Context, id int64) (*model.Context, error) {
	row := u.queryRow(ctx, contextSelect+` WHERE id=?`, id)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound("context", id)
	}
	return c, err
}

func (u *UnitOfWork) FindContextByName(ctx context.Context, ownerID, name string) (*model.Context, error) {
	row := u.queryRow(ctx, contextSelect+` WHERE owner_id=? AND name=?`, ownerID, name)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound("context", name)
	}
	return c, err
}

func (u *UnitOfWork) UpdateContext(ctx context.Context, c *model.Context) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return model.ErrIntegrity("marshal context metadata: " + err.Error())
	}
	res, err := u.exec(ctx, `UPDATE contexts SET name=?, description=?, access_level=?, metadata=?, updated_at=? WHERE id=?`,
		c.Name, c.Description, string(c.AccessLevel), string(meta), time.Now().UTC(), c.ID)
	if err != nil {
		return model.ErrTransient("update_context", err)
	}
	return requireRowsAffected(res, "context", c.ID)
}

func (u *UnitOfWork) DeleteContext(ctx context.Context, id int64) error {
	res, err := u.exec(ctx, `DELETE FROM contexts WHERE id=?`, id)
	if err != nil {
		return model.ErrTransient("delete_context", err)
	}
	return requireRowsAffected(res, "context", id)
}

func (u *UnitOfWork) FindContextsByOwner(ctx context.Context, ownerID string) ([]*model.Context, error) {
	rows, err := u.query(ctx, contextSelect+` WHERE owner_id=? ORDER BY id ASC`, ownerID)
	if err != nil {
		return nil, model.ErrTransient("query_contexts", err)
	}
	defer rows.Close()

	var out []*model.Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (u *UnitOfWork) CountContexts(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	err := u.queryRow(ctx, `SELECT COUNT(*) FROM contexts WHERE owner_id=?`, ownerID).Scan(&n)
	if err != nil {
		return 0, model.ErrTransient("count_contexts", err)
	}
	return n, nil
}

const contextSelect = `SELECT id, name, description, owner_id, access_level, metadata, created_at, updated_at FROM contexts`

func scanContext(s rowScanner) (*model.Context, error) {
	var c model.Context
	var description sql.NullString
	var accessLevel, meta string

	err := s.Scan(&c.ID, &c.Name, &description, &c.OwnerID, &accessLevel, &meta, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, model.ErrTransient("scan_context", err)
	}
	c.Description = description.String
	c.AccessLevel = model.AccessLevel(accessLevel)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, model.ErrCorruption("context metadata decode", err)
		}
	}
	return &c, nil
}
