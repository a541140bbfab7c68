package store

import (
    "context"
    "sort"
    "sync"
    "time"
)

// Memory is an in-process cache used when no DATABASE_URL or REDIS_URL is set.
type Memory struct {
    mu       sync.Mutex
    opts     Options
    matrices map[string]MatrixEntry // canonical key -> matrix
    pairs    map[string]PairEntry   // ordered pair key -> leg
    now      func() time.Time
}

func NewMemory(opts Options) *Memory {
    return &Memory{
        opts:     opts.withDefaults(),
        matrices: map[string]MatrixEntry{},
        pairs:    map[string]PairEntry{},
        now:      time.Now,
    }
}

func (m *Memory) GetMatrix(ctx context.Context, key string) (MatrixEntry, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    e, ok := m.matrices[key]
    if !ok { return MatrixEntry{}, ErrNotFound }
    if m.now().Sub(e.CreatedAt) > m.opts.TTL {
        delete(m.matrices, key)
        return MatrixEntry{}, ErrNotFound
    }
    return e, nil
}

func (m *Memory) PutMatrix(ctx context.Context, key string, e MatrixEntry) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if e.CreatedAt.IsZero() { e.CreatedAt = m.now() }
    m.matrices[key] = e
    if len(m.matrices) > m.opts.MaxEntries {
        evictOldest(m.matrices, func(e MatrixEntry) time.Time { return e.CreatedAt })
    }
    return nil
}

func (m *Memory) GetPair(ctx context.Context, key string) (PairEntry, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    e, ok := m.pairs[key]
    if !ok { return PairEntry{}, ErrNotFound }
    if m.now().Sub(e.CreatedAt) > m.opts.TTL {
        delete(m.pairs, key)
        return PairEntry{}, ErrNotFound
    }
    return e, nil
}

func (m *Memory) PutPair(ctx context.Context, key string, e PairEntry) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if e.CreatedAt.IsZero() { e.CreatedAt = m.now() }
    m.pairs[key] = e
    if len(m.pairs) > m.opts.MaxEntries {
        evictOldest(m.pairs, func(e PairEntry) time.Time { return e.CreatedAt })
    }
    return nil
}

func (m *Memory) Len(ctx context.Context) (int, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return len(m.matrices), len(m.pairs), nil
}

func (m *Memory) Close() error { return nil }

// evictOldest removes ~20% of entries, oldest first. Caller holds the lock.
func evictOldest[V any](entries map[string]V, created func(V) time.Time) {
    type aged struct {
        key string
        at  time.Time
    }
    all := make([]aged, 0, len(entries))
    for k, v := range entries {
        all = append(all, aged{key: k, at: created(v)})
    }
    sort.Slice(all, func(i, j int) bool {
        if all[i].at.Equal(all[j].at) { return all[i].key < all[j].key }
        return all[i].at.Before(all[j].at)
    })
    for _, a := range all[:evictCount(len(all))] {
        delete(entries, a.key)
    }
}
