package facade

import (
	"context"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/repository"
)

// CreateContext inserts a new context grouping.
func (f *Facade) CreateContext(ctx context.Context, c *model.Context) (id int64, err error) {
	defer func() { f.observe("create_context", err) }()
	if c.OwnerID == "" {
		return 0, model.ErrIntegrity("owner_id is required")
	}
	if c.AccessLevel == "" {
		c.AccessLevel = model.AccessUser
	}
	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		id, err = uow.CreateContext(ctx, c)
		return err
	})
	return id, err
}

// GetContext fetches a context by id.
func (f *Facade) GetContext(ctx context.Context, id int64) (c *model.Context, err error) {
	defer func() { f.observe("get_context", err) }()
	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		c, err = uow.FindContextByID(ctx, id)
		return err
	})
	return c, err
}

// UpdateContext persists changes to an existing context.
func (f *Facade) UpdateContext(ctx context.Context, c *model.Context) (err error) {
	defer func() { f.observe("update_context", err) }()
	return f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		return uow.UpdateContext(ctx, c)
	})
}

// DeleteContext removes a context. Memories that reference it keep their
// ContextID pointing at a now-absent row; callers that need cascading
// reassignment should move memories to another context first.
func (f *Facade) DeleteContext(ctx context.Context, id int64) (err error) {
	defer func() { f.observe("delete_context", err) }()
	return f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		return uow.DeleteContext(ctx, id)
	})
}

// ListContexts returns every context owned by ownerID.
func (f *Facade) ListContexts(ctx context.Context, ownerID string) (out []*model.Context, err error) {
	defer func() { f.observe("list_contexts", err) }()
	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		out, err = uow.FindContextsByOwner(ctx, ownerID)
		return err
	})
	return out, err
}

// CreateRelation links two memories with a named, directed, weighted edge.
func (f *Facade) CreateRelation(ctx context.Context, r *model.Relation) (id int64, err error) {
	defer func() { f.observe("create_relation", err) }()
	if r.Strength == 0 {
		r.Strength = 1.0
	}
	if r.Strength < 0 || r.Strength > 1 {
		return 0, model.ErrIntegrity("relation strength must be within [0.0, 1.0]")
	}
	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		id, err = uow.CreateRelation(ctx, r)
		return err
	})
	return id, err
}

// DeleteRelation removes one relation edge.
func (f *Facade) DeleteRelation(ctx context.Context, id int64) (err error) {
	defer func() { f.observe("delete_relation", err) }()
	return f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		return uow.DeleteRelation(ctx, id)
	})
}

// RelationsFrom returns every relation whose source is memoryID.
func (f *Facade) RelationsFrom(ctx context.Context, memoryID int64) (out []*model.Relation, err error) {
	defer func() { f.observe("relations_from", err) }()
	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		out, err = uow.FindRelationsBySource(ctx, memoryID)
		return err
	})
	return out, err
}
