package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tempmon/internal/models"
)

// DefaultPrefix namespaces state keys.
const DefaultPrefix = "tempmon:state:"

// RedisOptions configure the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis keeps entity state in Redis so a restarted engine retains its latches.
// Keys carry no TTL.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newRedisWithClient(client, opts.Prefix), nil
}

func newRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Key returns the Redis key holding entity's state.
func (r *Redis) Key(entity string) string {
	return r.prefix + entity
}

// Get loads the state for entity.
func (r *Redis) Get(ctx context.Context, entity string) (models.EntityState, bool, error) {
	data, err := r.client.Get(ctx, r.Key(entity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.EntityState{}, false, nil
	}
	if err != nil {
		return models.EntityState{}, false, fmt.Errorf("get state %s: %w", entity, err)
	}

	var st models.EntityState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.EntityState{}, false, fmt.Errorf("decode state %s: %w", entity, err)
	}
	return st, true, nil
}

// Put stores st under its entity key.
func (r *Redis) Put(ctx context.Context, st models.EntityState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", st.EntityID, err)
	}
	if err := r.client.Set(ctx, r.Key(st.EntityID), data, 0).Err(); err != nil {
		return fmt.Errorf("set state %s: %w", st.EntityID, err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
