package facade

import (
	"context"
	"math"
	"strings"

	"github.com/memcontext/vault/internal/dedup"
	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/repository"
)

// uowRelocator adapts a single UnitOfWork to dedup.Relocator, letting the
// merge operation rewrite relations, delete losers, and concatenate content
// for merge_all inside one atomic transaction.
type uowRelocator struct {
	uow *repository.UnitOfWork
	f   *Facade
}

func (r *uowRelocator) RepointRelations(ctx context.Context, from, to int64) error {
	return r.uow.RepointRelations(ctx, from, to)
}

func (r *uowRelocator) DeleteMemory(ctx context.Context, id int64) error {
	return r.uow.DeleteMemory(ctx, id)
}

func (r *uowRelocator) ConcatenateContent(ctx context.Context, survivorID int64, delimiter string, otherIDs []int64) error {
	survivor, err := r.uow.FindMemoryByID(ctx, survivorID)
	if err != nil {
		return err
	}
	parts := []string{}
	if content, err := r.f.decompressed(ctx, r.uow, survivor); err == nil {
		parts = append(parts, string(content))
	}
	for _, id := range otherIDs {
		m, err := r.uow.FindMemoryByID(ctx, id)
		if err != nil {
			continue
		}
		content, err := r.f.decompressed(ctx, r.uow, m)
		if err != nil {
			continue
		}
		parts = append(parts, string(content))
	}
	combined := []byte(strings.Join(parts, delimiter))
	return r.uow.ConcatenateContent(ctx, survivorID, combined)
}

// FindDuplicates loads every memory owned by ownerID into dedup candidates
// and runs the configured (or overridden) detection strategy over them.
func (f *Facade) FindDuplicates(ctx context.Context, ownerID string, strategy dedup.Strategy, threshold float64) (groups []dedup.Group, stats dedup.Stats, err error) {
	defer func() { f.observe("find_duplicates", err) }()

	memories, err := f.listOwnerMemories(ctx, ownerID)
	if err != nil {
		return nil, dedup.Stats{}, err
	}
	candidates := make([]dedup.Candidate, 0, len(memories))
	for _, m := range memories {
		content, cerr := f.fullContent(ctx, m)
		if cerr != nil {
			continue
		}
		candidates = append(candidates, dedup.Candidate{
			MemoryID: m.ID, Content: string(content), Embedding: bytesToFloat32(m.Embedding),
			Size: m.ContentSize, CreatedAt: m.CreatedAt.Unix(),
		})
	}
	groups, stats, err = f.dedup.FindDuplicates(ctx, strategy, threshold, candidates)
	return groups, stats, err
}

// MergeDuplicates collapses one duplicate group to a single survivor inside
// a unit-of-work scoped to the survivor's id, so relation rewrites, content
// concatenation, and loser deletion commit atomically.
func (f *Facade) MergeDuplicates(ctx context.Context, group dedup.Group, strategy dedup.MergeStrategy, candidates map[int64]dedup.Candidate) (survivorID int64, bytesReclaimed int64, err error) {
	defer func() { f.observe("merge_duplicates", err) }()

	if len(group.MemoryIDs) == 0 {
		return 0, 0, model.ErrIntegrity("empty duplicate group")
	}
	err = f.repo.WithUnitOfWork(ctx, group.MemoryIDs[0], func(ctx context.Context, uow *repository.UnitOfWork) error {
		rel := &uowRelocator{uow: uow, f: f}
		sid, reclaimed, merr := f.dedup.Merge(ctx, group, strategy, candidates, rel)
		survivorID, bytesReclaimed = sid, reclaimed
		return merr
	})
	return survivorID, bytesReclaimed, err
}

func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
