// Package repository is the only path through which Memory, Context, and
// Relation entities reach the durable store (spec §4.3). It wraps a
// database/sql handle the way FairForge's internal/database/postgres.go
// wraps lib/pq, but generalizes the driver choice: modernc.org/sqlite for
// the default embedded engine, lib/pq when repository.engine=="postgres".
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/memcontext/vault/internal/model"
)

// Engine selects the SQL driver/dialect.
type Engine string

const (
	EngineSQLite   Engine = "sqlite"
	EnginePostgres Engine = "postgres"
)

// Repository owns the database handle and the per-memory lock table that
// gives writes to the same memory_id the linearizability spec §5 requires.
type Repository struct {
	db     *sql.DB
	engine Engine

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// Open connects to dsn using engine's driver and ensures the schema exists.
func Open(ctx context.Context, engine Engine, dsn string) (*Repository, error) {
	driver := "sqlite"
	if engine == EnginePostgres {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, model.ErrTransient("repository_open", err)
	}

	r := &Repository{db: db, engine: engine, locks: make(map[int64]*sync.Mutex)}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// memoryLock returns the per-memory mutex used to serialize a unit-of-work
// touching memory_id, creating it on first use. The map itself is guarded
// separately and briefly so the per-memory lock can be held across I/O
// without blocking unrelated memory_ids (spec §5 ordering guarantees).
func (r *Repository) memoryLock(memoryID int64) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[memoryID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[memoryID] = l
	}
	return l
}

func (r *Repository) migrate(ctx context.Context) error {
	serialPK := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.engine == EnginePostgres {
		serialPK = "SERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS contexts (
			id %s,
			name TEXT NOT NULL,
			description TEXT,
			owner_id TEXT NOT NULL,
			access_level TEXT NOT NULL DEFAULT 'user',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id %s,
			fingerprint TEXT,
			title TEXT NOT NULL,
			content BLOB,
			content_size BIGINT NOT NULL DEFAULT 0,
			content_compressed BOOLEAN NOT NULL DEFAULT FALSE,
			compression_type TEXT NOT NULL DEFAULT 'none',
			content_preview TEXT,
			owner_id TEXT NOT NULL,
			context_id BIGINT REFERENCES contexts(id),
			access_level TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_accessed TIMESTAMP,
			version BIGINT NOT NULL DEFAULT 1,
			metadata TEXT,
			embedding BLOB,
			external_locator TEXT
		)`, serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_chunks (
			id %s,
			memory_id BIGINT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			chunk_data BLOB,
			compression_type TEXT NOT NULL DEFAULT 'none',
			original_size BIGINT NOT NULL DEFAULT 0,
			compressed_size BIGINT NOT NULL DEFAULT 0,
			compression_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			sha256_hash TEXT,
			whole_object_sha256 TEXT
		)`, serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS relations (
			id %s,
			name TEXT NOT NULL,
			source_memory_id BIGINT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			target_memory_id BIGINT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			owner_id TEXT NOT NULL,
			metadata TEXT
		)`, serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_versions (
			id %s,
			memory_id BIGINT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			version BIGINT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS search_history (
			id %s,
			owner_id TEXT NOT NULL,
			query TEXT NOT NULL,
			result_count INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, serialPK),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_logs (
			id %s,
			entity TEXT NOT NULL,
			entity_id BIGINT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT,
			created_at TIMESTAMP NOT NULL
		)`, serialPK),
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return model.ErrTransient("repository_migrate", fmt.Errorf("exec %q: %w", firstLine(stmt), err))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
