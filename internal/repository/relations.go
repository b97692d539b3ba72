package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/memcontext/vault/internal/model"
)

func (u *UnitOfWork) CreateRelation(ctx context.Context, r *model.Relation) (int64, error) {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return 0, model.ErrIntegrity("marshal relation metadata: " + err.Error())
	}
	row := u.queryRow(ctx, `INSERT INTO relations (name, source_memory_id, target_memory_id, strength, owner_id, metadata)
		VALUES (?,?,?,?,?,?) RETURNING id`,
		r.Name, r.SourceMemoryID, r.TargetMemoryID, r.Strength, r.OwnerID, string(meta))

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, model.ErrTransient("create_relation", err)
	}
	return id, nil
}

func (u *UnitOfWork) FindRelationByID(ctx context.Context, id int64) (*model.Relation, error) {
	row := u.queryRow(ctx, relationSelect+` WHERE id=?`, id)
	r, err := scanRelation(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound("relation", id)
	}
	return r, err
}

func (u *UnitOfWork) DeleteRelation(ctx context.Context, id int64) error {
	res, err := u.exec(ctx, `DELETE FROM relations WHERE id=?`, id)
	if err != nil {
		return model.ErrTransient("delete_relation", err)
	}
	return requireRowsAffected(res, "relation", id)
}

// FindRelationsBySource returns every relation originating at memoryID.
func (u *UnitOfWork) FindRelationsBySource(ctx context.Context, memoryID int64) ([]*model.Relation, error) {
	return u.queryRelations(ctx, relationSelect+` WHERE source_memory_id=? ORDER BY id ASC`, memoryID)
}

// FindRelationsByStrengthRange returns relations whose strength falls in [min, max].
func (u *UnitOfWork) FindRelationsByStrengthRange(ctx context.Context, min, max float64) ([]*model.Relation, error) {
	return u.queryRelations(ctx, relationSelect+` WHERE strength BETWEEN ? AND ? ORDER BY id ASC`, min, max)
}

func (u *UnitOfWork) queryRelations(ctx context.Context, query string, args ...any) ([]*model.Relation, error) {
	rows, err := u.query(ctx, query, args...)
	if err != nil {
		return nil, model.ErrTransient("query_relations", err)
	}
	defer rows.Close()

	var out []*model.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const relationSelect = `SELECT id, name, source_memory_id, target_memory_id, strength, owner_id, metadata FROM relations`

func scanRelation(s rowScanner) (*model.Relation, error) {
	var r model.Relation
	var meta string
	err := s.Scan(&r.ID, &r.Name, &r.SourceMemoryID, &r.TargetMemoryID, &r.Strength, &r.OwnerID, &meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, model.ErrTransient("scan_relation", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, model.ErrCorruption("relation metadata decode", err)
		}
	}
	return &r, nil
}
