package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://"+mr.Addr(), Options{TTL: time.Minute})
	if err != nil { t.Fatalf("NewRedis: %v", err) }
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedisMatrixRoundTrip(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	e := MatrixEntry{Points: []string{"1,1", "2,2"}, Distance: [][]float64{{0, 5}, {5, 0}}, Duration: [][]float64{{0, 10}, {10, 0}}, Method: "road-batch"}
	if err := r.PutMatrix(ctx, "k", e); err != nil { t.Fatalf("put: %v", err) }
	got, err := r.GetMatrix(ctx, "k")
	if err != nil { t.Fatalf("get: %v", err) }
	if got.Method != "road-batch" || got.Distance[1][0] != 5 || len(got.Points) != 2 {
		t.Fatalf("round trip: %+v", got)
	}
	if m, p, err := r.Len(ctx); err != nil || m != 1 || p != 0 {
		t.Fatalf("len: m=%d p=%d err=%v", m, p, err)
	}
}

func TestRedisExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	if err := r.PutPair(ctx, "a>b", PairEntry{DistanceKm: 2, DurationMin: 4}); err != nil { t.Fatalf("put: %v", err) }
	if _, err := r.GetPair(ctx, "a>b"); err != nil { t.Fatalf("get: %v", err) }
	mr.FastForward(2 * time.Minute)
	if _, err := r.GetPair(ctx, "a>b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss after ttl, got %v", err)
	}
}
