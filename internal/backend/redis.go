package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/router"
)

// Redis is the optional KV adapter spec §4.4 names, borrowed from
// flyingrobots-go-redis-work-queue's go-redis/v9 client usage (this teacher
// has no Redis dependency of its own; redis/go-redis/v9 is adopted from the
// rest of the retrieval pack per the cross-repo enrichment rule).
type Redis struct {
	name   string
	prefix string
	client *redis.Client
}

// NewRedis builds a Redis backend against addr, namespacing keys under prefix.
func NewRedis(addr, prefix string) *Redis {
	return &Redis{
		name:   "redis",
		prefix: prefix,
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (r *Redis) Name() string { return r.name }

func (r *Redis) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

func (r *Redis) Store(ctx context.Context, id, _ string, data []byte) error {
	if err := r.client.Set(ctx, r.key(id), data, 0).Err(); err != nil {
		return model.ErrTransient("redis_store", err)
	}
	return nil
}

func (r *Redis) Retrieve(ctx context.Context, id string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrNotFound("object", id)
		}
		return nil, model.ErrTransient("redis_retrieve", err)
	}
	return data, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return model.ErrTransient("redis_delete", err)
	}
	return nil
}

func (r *Redis) Stats(ctx context.Context) (router.BackendStats, error) {
	keys, err := r.client.Keys(ctx, r.prefix+":*").Result()
	if err != nil {
		return router.BackendStats{}, model.ErrTransient("redis_stats", err)
	}
	return router.BackendStats{FileCount: int64(len(keys))}, nil
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis backend health check: %w", err)
	}
	return nil
}
