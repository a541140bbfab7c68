//go:build postgres_integration

package store

import (
    "os"
    "testing"
    "time"
)

func TestPostgresCacheRoundTrip(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn, Options{TTL: time.Hour, MaxEntries: 5})
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    defer p.Close()
    if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.Migrate(t.Context()); err != nil { t.Fatalf("Migrate: %v", err) }

    e := MatrixEntry{Points: []string{"a", "b"}, Distance: [][]float64{{0, 1}, {1, 0}}, Duration: [][]float64{{0, 2}, {2, 0}}, Method: "haversine"}
    if err := p.PutMatrix(t.Context(), "it:a|b", e); err != nil { t.Fatalf("PutMatrix: %v", err) }
    got, err := p.GetMatrix(t.Context(), "it:a|b")
    if err != nil { t.Fatalf("GetMatrix: %v", err) }
    if got.Distance[0][1] != 1 || got.Method != "haversine" { t.Fatalf("round trip: %+v", got) }

    if err := p.PutPair(t.Context(), "it:a>b", PairEntry{DistanceKm: 3, DurationMin: 6}); err != nil { t.Fatalf("PutPair: %v", err) }
    pe, err := p.GetPair(t.Context(), "it:a>b")
    if err != nil || pe.DistanceKm != 3 { t.Fatalf("GetPair: %+v %v", pe, err) }
}
