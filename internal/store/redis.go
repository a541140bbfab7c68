package store

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"

    redis "github.com/redis/go-redis/v9"
)

const (
    redisMatrixPrefix = "fleetsim:matrix:"
    redisPairPrefix   = "fleetsim:pair:"
)

// Redis stores cache entries as JSON with a server-side expiry. The size
// bound is left to the Redis maxmemory policy.
type Redis struct {
    rdb  *redis.Client
    opts Options
}

func NewRedis(url string, opts Options) (*Redis, error) {
    o, err := redis.ParseURL(url)
    if err != nil { return nil, fmt.Errorf("parse redis url: %w", err) }
    return NewRedisClient(redis.NewClient(o), opts), nil
}

func NewRedisClient(rdb *redis.Client, opts Options) *Redis {
    return &Redis{rdb: rdb, opts: opts.withDefaults()}
}

func (r *Redis) GetMatrix(ctx context.Context, key string) (MatrixEntry, error) {
    var e MatrixEntry
    err := r.get(ctx, redisMatrixPrefix+key, &e)
    return e, err
}

func (r *Redis) PutMatrix(ctx context.Context, key string, e MatrixEntry) error {
    return r.set(ctx, redisMatrixPrefix+key, e)
}

func (r *Redis) GetPair(ctx context.Context, key string) (PairEntry, error) {
    var e PairEntry
    err := r.get(ctx, redisPairPrefix+key, &e)
    return e, err
}

func (r *Redis) PutPair(ctx context.Context, key string, e PairEntry) error {
    return r.set(ctx, redisPairPrefix+key, e)
}

func (r *Redis) Len(ctx context.Context) (int, int, error) {
    m, err := r.count(ctx, redisMatrixPrefix+"*")
    if err != nil { return 0, 0, err }
    p, err := r.count(ctx, redisPairPrefix+"*")
    if err != nil { return 0, 0, err }
    return m, p, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) get(ctx context.Context, key string, v any) error {
    b, err := r.rdb.Get(ctx, key).Bytes()
    if errors.Is(err, redis.Nil) { return ErrNotFound }
    if err != nil { return fmt.Errorf("redis get %s: %w", key, err) }
    if err := json.Unmarshal(b, v); err != nil {
        return fmt.Errorf("decode %s: %w", key, err)
    }
    return nil
}

func (r *Redis) set(ctx context.Context, key string, v any) error {
    b, err := json.Marshal(v)
    if err != nil { return fmt.Errorf("encode %s: %w", key, err) }
    if err := r.rdb.Set(ctx, key, b, r.opts.TTL).Err(); err != nil {
        return fmt.Errorf("redis set %s: %w", key, err)
    }
    return nil
}

func (r *Redis) count(ctx context.Context, pattern string) (int, error) {
    n := 0
    iter := r.rdb.Scan(ctx, 0, pattern, 200).Iterator()
    for iter.Next(ctx) { n++ }
    if err := iter.Err(); err != nil { return 0, fmt.Errorf("redis scan %s: %w", pattern, err) }
    return n, nil
}
