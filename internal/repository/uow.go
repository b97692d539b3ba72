package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memcontext/vault/internal/model"
)

// UnitOfWork wraps a single *sql.Tx so every mutating operation spec §4.3
// requires runs inside an atomic scope: either every change commits or all
// of them roll back, including a chunk-store failure rolling back the
// Memory row that referenced it.
type UnitOfWork struct {
	tx  *sql.Tx
	eng Engine
}

// WithUnitOfWork opens a transaction, runs fn, and commits iff fn returns
// nil. Any error from fn (including a panic recovered and re-raised)
// rolls the transaction back. memoryID, when non-zero, is locked for the
// duration so concurrent unit-of-work scopes against the same memory are
// linearized (spec §5).
func (r *Repository) WithUnitOfWork(ctx context.Context, memoryID int64, fn func(ctx context.Context, uow *UnitOfWork) error) (err error) {
	if memoryID != 0 {
		lock := r.memoryLock(memoryID)
		lock.Lock()
		defer lock.Unlock()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ErrTransient("begin_tx", err)
	}

	uow := &UnitOfWork{tx: tx, eng: r.engine}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, uow); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if ctx.Err() != nil {
		_ = tx.Rollback()
		return model.ErrCancelled
	}

	if err = tx.Commit(); err != nil {
		return model.ErrTransient("commit_tx", err)
	}
	return nil
}

// placeholder renders a positional SQL parameter for the active dialect:
// postgres uses $1, $2, ...; sqlite accepts plain ? marks.
func (u *UnitOfWork) placeholder(n int) string {
	if u.eng == EnginePostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (u *UnitOfWork) rebind(query string) string {
	if u.eng != EnginePostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (u *UnitOfWork) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return u.tx.ExecContext(ctx, u.rebind(query), args...)
}

func (u *UnitOfWork) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return u.tx.QueryRowContext(ctx, u.rebind(query), args...)
}

func (u *UnitOfWork) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return u.tx.QueryContext(ctx, u.rebind(query), args...)
}
