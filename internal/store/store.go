package store

import (
    "context"
    "errors"
    "time"
)

// MatrixEntry is a cached distance matrix. Points holds the canonical
// coordinate keys in the row/column order of Distance and Duration.
type MatrixEntry struct {
    Points    []string    `json:"points"`
    Distance  [][]float64 `json:"distance"`
    Duration  [][]float64 `json:"duration"`
    Method    string      `json:"method"`
    CreatedAt time.Time   `json:"createdAt"`
}

// PairEntry is a cached point-to-point road result.
type PairEntry struct {
    DistanceKm  float64   `json:"distanceKm"`
    DurationMin float64   `json:"durationMin"`
    CreatedAt   time.Time `json:"createdAt"`
}

// Store is the distance cache used by the matrix service.
// Implementations must be safe for concurrent use.
type Store interface {
    GetMatrix(ctx context.Context, key string) (MatrixEntry, error)
    PutMatrix(ctx context.Context, key string, e MatrixEntry) error
    GetPair(ctx context.Context, key string) (PairEntry, error)
    PutPair(ctx context.Context, key string, e PairEntry) error
    // Len reports the number of live matrix and pair entries.
    Len(ctx context.Context) (matrices, pairs int, err error)
    Close() error
}

var ErrNotFound = errors.New("not found")

const (
    DefaultTTL        = time.Hour
    DefaultMaxEntries = 500
)

type Options struct {
    TTL        time.Duration
    MaxEntries int
}

func (o Options) withDefaults() Options {
    if o.TTL <= 0 { o.TTL = DefaultTTL }
    if o.MaxEntries <= 0 { o.MaxEntries = DefaultMaxEntries }
    return o
}

// evictCount is the number of oldest entries dropped once a bound is exceeded.
func evictCount(n int) int {
    k := n / 5
    if k < 1 { k = 1 }
    return k
}
