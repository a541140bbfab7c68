package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(Options{TTL: time.Minute, MaxEntries: 10})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.PutPair(ctx, "a>b", PairEntry{DistanceKm: 1}); err != nil { t.Fatalf("put: %v", err) }
	if _, err := m.GetPair(ctx, "a>b"); err != nil { t.Fatalf("fresh entry missed: %v", err) }

	now = now.Add(2 * time.Minute)
	if _, err := m.GetPair(ctx, "a>b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired entry served: %v", err)
	}
	if _, p, _ := m.Len(ctx); p != 0 { t.Fatalf("expired entry not removed, len=%d", p) }
}

func TestMemoryEvictsOldestFifth(t *testing.T) {
	m := NewMemory(Options{TTL: time.Hour, MaxEntries: 10})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < 11; i++ {
		e := MatrixEntry{Method: "haversine", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := m.PutMatrix(ctx, fmt.Sprintf("k%02d", i), e); err != nil { t.Fatalf("put: %v", err) }
	}
	m.now = func() time.Time { return base.Add(time.Minute) }
	// 11 entries > 10 triggers eviction of 11/5 = 2 oldest
	n, _, _ := m.Len(ctx)
	if n != 9 { t.Fatalf("len after eviction: %d", n) }
	for _, k := range []string{"k00", "k01"} {
		if _, err := m.GetMatrix(ctx, k); !errors.Is(err, ErrNotFound) { t.Fatalf("%s should be evicted", k) }
	}
	if _, err := m.GetMatrix(ctx, "k10"); err != nil { t.Fatalf("newest evicted: %v", err) }
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory(Options{TTL: time.Hour, MaxEntries: 50})
	ctx := context.Background()
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				k := fmt.Sprintf("%d-%d", g, i)
				_ = m.PutPair(ctx, k, PairEntry{DistanceKm: float64(i)})
				_, _ = m.GetPair(ctx, k)
			}
		}(g)
	}
	for g := 0; g < 8; g++ { <-done }
	if _, p, _ := m.Len(ctx); p > 50 { t.Fatalf("bound exceeded: %d", p) }
}
