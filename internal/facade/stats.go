package facade

import (
	"context"

	"github.com/memcontext/vault/internal/archival"
	"github.com/memcontext/vault/internal/repository"
)

// Statistics is the response shape for the statistics operation: memory
// and context counts scoped to an owner, plus the archival subsystem's
// storage report when an archival engine is configured.
type Statistics struct {
	MemoryCount  int64
	ContextCount int64
	Archival     *archival.StorageReport
}

// Statistics reports counts for ownerID and, when the facade has an
// archival engine wired in, its storage report.
func (f *Facade) Statistics(ctx context.Context, ownerID string) (stats Statistics, err error) {
	defer func() { f.observe("statistics", err) }()

	err = f.repo.WithUnitOfWork(ctx, 0, func(ctx context.Context, uow *repository.UnitOfWork) error {
		var err error
		stats.MemoryCount, err = uow.CountMemories(ctx, ownerID)
		if err != nil {
			return err
		}
		stats.ContextCount, err = uow.CountContexts(ctx, ownerID)
		return err
	})
	if err != nil {
		return stats, err
	}

	if f.archival != nil {
		report := f.archival.StorageReport()
		stats.Archival = &report
	}
	return stats, nil
}
