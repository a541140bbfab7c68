// Package matrix builds all-pairs distance and travel-time matrices, trying
// the road network first and degrading to straight-line estimates.
package matrix

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetsim/internal/geo"
	"fleetsim/internal/metrics"
	"fleetsim/internal/roadnet"
	"fleetsim/internal/store"
)

type Method string

const (
	MethodBatch     Method = "road-batch"
	MethodPairwise  Method = "road-pairwise"
	MethodHaversine Method = "haversine"
)

// Result holds distances in km and durations in minutes, indexed by the
// caller's point order. The diagonal is always zero.
type Result struct {
	Distance [][]float64 `json:"distance"`
	Duration [][]float64 `json:"duration"`
	Method   Method      `json:"method"`
}

// Road is the subset of the road API the service needs. *roadnet.Client satisfies it.
type Road interface {
	Table(ctx context.Context, coords []geo.Coordinate) (roadnet.Table, error)
	Route(ctx context.Context, coords []geo.Coordinate) (roadnet.Route, error)
}

type Config struct {
	// Timeout bounds the batched request.
	Timeout time.Duration
	// PairTimeout bounds each point-to-point request.
	PairTimeout time.Duration
	// Concurrency caps in-flight point-to-point requests.
	Concurrency int
	// Precision is the number of decimals used in cache keys.
	Precision int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PairTimeout <= 0 {
		c.PairTimeout = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Precision <= 0 {
		c.Precision = 5
	}
	return c
}

type Service struct {
	road  Road
	cache store.Store
	cfg   Config
}

// NewService wires a road client and a cache. A nil road limits the service
// to haversine estimates; a nil cache disables caching.
func NewService(road Road, cache store.Store, cfg Config) *Service {
	return &Service{road: road, cache: cache, cfg: cfg.withDefaults()}
}

var errTooFewPairs = errors.New("fewer than half of the point-to-point queries succeeded")

// Build returns the matrix for points. It never fails: network problems
// degrade the result to haversine estimates and are only logged.
func (s *Service) Build(ctx context.Context, points []geo.Coordinate, useRoad bool) Result {
	if len(points) < 2 {
		res := Haversine(points)
		metrics.MatrixBuilds.WithLabelValues(string(res.Method)).Inc()
		return res
	}

	keys := s.pointKeys(points)
	cacheKey := matrixKey(keys, useRoad)
	if res, ok := s.lookupMatrix(ctx, cacheKey, keys); ok {
		return res
	}

	res, ok := Result{}, false
	if useRoad && s.road != nil {
		res, ok = s.tryBatch(ctx, points)
		if !ok {
			res, ok = s.tryPairwise(ctx, points)
		}
	}
	if !ok {
		res = Haversine(points)
	}
	metrics.MatrixBuilds.WithLabelValues(string(res.Method)).Inc()
	s.storeMatrix(ctx, cacheKey, keys, res)
	return res
}

func (s *Service) tryBatch(ctx context.Context, points []geo.Coordinate) (Result, bool) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	tbl, err := s.road.Table(cctx, points)
	if err != nil {
		if !errors.Is(err, roadnet.ErrBatchUnsupported) {
			log.Printf("matrix: batch failed n=%d err=%v", len(points), err)
		}
		return Result{}, false
	}

	n := len(points)
	res := newResult(n, MethodBatch)
	filled := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			dm, ds := tbl.Distances[i][j], tbl.Durations[i][j]
			if dm == nil || ds == nil {
				km := geo.Haversine(points[i], points[j])
				res.Distance[i][j] = km
				res.Duration[i][j] = geo.TravelMinutes(km)
				filled++
				continue
			}
			res.Distance[i][j] = *dm / 1000
			res.Duration[i][j] = *ds / 60
		}
	}
	if filled > 0 {
		log.Printf("matrix: batch filled unreachable cells with haversine n=%d cells=%d", n, filled)
	}
	return res, true
}

func (s *Service) tryPairwise(ctx context.Context, points []geo.Coordinate) (Result, bool) {
	n := len(points)
	res := newResult(n, MethodPairwise)
	total := n * (n - 1)
	var succeeded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			i, j := i, j
			// each goroutine writes only its own cell
			g.Go(func() error {
				km, mins, ok := s.pair(gctx, points[i], points[j])
				if !ok {
					km = geo.Haversine(points[i], points[j])
					mins = geo.TravelMinutes(km)
				} else {
					succeeded.Add(1)
				}
				res.Distance[i][j] = km
				res.Duration[i][j] = mins
				return nil
			})
		}
	}
	_ = g.Wait()

	ok := int(succeeded.Load())
	if ok*2 < total {
		log.Printf("matrix: pairwise failed n=%d succeeded=%d/%d err=%v", n, ok, total, errTooFewPairs)
		return Result{}, false
	}
	return res, true
}

// pair resolves one ordered leg through the pair cache, then the road API.
func (s *Service) pair(ctx context.Context, from, to geo.Coordinate) (float64, float64, bool) {
	key := from.Key(s.cfg.Precision) + ">" + to.Key(s.cfg.Precision)
	if s.cache != nil {
		e, err := s.cache.GetPair(ctx, key)
		switch {
		case err == nil:
			metrics.CacheLookups.WithLabelValues("pair", "hit").Inc()
			return e.DistanceKm, e.DurationMin, true
		case errors.Is(err, store.ErrNotFound):
			metrics.CacheLookups.WithLabelValues("pair", "miss").Inc()
		default:
			metrics.CacheLookups.WithLabelValues("pair", "error").Inc()
			log.Printf("matrix: pair cache get key=%s err=%v", key, err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.PairTimeout)
	defer cancel()
	rt, err := s.road.Route(cctx, []geo.Coordinate{from, to})
	if err != nil {
		return 0, 0, false
	}
	km, mins := rt.DistanceM/1000, rt.DurationS/60
	if s.cache != nil {
		if err := s.cache.PutPair(ctx, key, store.PairEntry{DistanceKm: km, DurationMin: mins}); err != nil {
			log.Printf("matrix: pair cache put key=%s err=%v", key, err)
		}
	}
	return km, mins, true
}

// Path returns road geometry through points, or the straight polyline when
// the road API is unavailable.
func (s *Service) Path(ctx context.Context, points []geo.Coordinate, useRoad bool) []geo.Coordinate {
	straight := append([]geo.Coordinate(nil), points...)
	if !useRoad || s.road == nil || len(points) < 2 {
		return straight
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	rt, err := s.road.Route(cctx, points)
	if err != nil || len(rt.Geometry) == 0 {
		if err != nil {
			log.Printf("matrix: path geometry failed n=%d err=%v", len(points), err)
		}
		return straight
	}
	return rt.Geometry
}

// Haversine builds a symmetric straight-line matrix at geo.AverageSpeedKmh.
func Haversine(points []geo.Coordinate) Result {
	n := len(points)
	res := newResult(n, MethodHaversine)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			km := geo.Haversine(points[i], points[j])
			res.Distance[i][j], res.Distance[j][i] = km, km
			mins := geo.TravelMinutes(km)
			res.Duration[i][j], res.Duration[j][i] = mins, mins
		}
	}
	return res
}

func newResult(n int, m Method) Result {
	res := Result{Distance: make([][]float64, n), Duration: make([][]float64, n), Method: m}
	for i := 0; i < n; i++ {
		res.Distance[i] = make([]float64, n)
		res.Duration[i] = make([]float64, n)
	}
	return res
}

func (s *Service) pointKeys(points []geo.Coordinate) []string {
	keys := make([]string, len(points))
	for i, p := range points {
		keys[i] = p.Key(s.cfg.Precision)
	}
	return keys
}

// matrixKey is independent of point order; entries carry their own order.
func matrixKey(keys []string, useRoad bool) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	mode := "straight"
	if useRoad {
		mode = "road"
	}
	return mode + ":" + strings.Join(sorted, "|")
}

func (s *Service) lookupMatrix(ctx context.Context, key string, keys []string) (Result, bool) {
	if s.cache == nil {
		return Result{}, false
	}
	e, err := s.cache.GetMatrix(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.CacheLookups.WithLabelValues("matrix", "miss").Inc()
		} else {
			metrics.CacheLookups.WithLabelValues("matrix", "error").Inc()
			log.Printf("matrix: cache get err=%v", err)
		}
		return Result{}, false
	}
	res, ok := permute(e, keys)
	if !ok {
		metrics.CacheLookups.WithLabelValues("matrix", "miss").Inc()
		return Result{}, false
	}
	metrics.CacheLookups.WithLabelValues("matrix", "hit").Inc()
	return res, true
}

func (s *Service) storeMatrix(ctx context.Context, key string, keys []string, res Result) {
	if s.cache == nil {
		return
	}
	e := store.MatrixEntry{Points: keys, Distance: res.Distance, Duration: res.Duration, Method: string(res.Method)}
	if err := s.cache.PutMatrix(ctx, key, e); err != nil {
		log.Printf("matrix: cache put err=%v", err)
	}
}

// permute reorders a cached entry into the requested point order.
func permute(e store.MatrixEntry, keys []string) (Result, bool) {
	n := len(keys)
	if len(e.Points) != n || len(e.Distance) != n || len(e.Duration) != n {
		return Result{}, false
	}
	pos := make(map[string]int, n)
	for i, k := range e.Points {
		if _, seen := pos[k]; !seen {
			pos[k] = i
		}
	}
	idx := make([]int, n)
	for i, k := range keys {
		p, ok := pos[k]
		if !ok {
			return Result{}, false
		}
		idx[i] = p
	}
	res := newResult(n, Method(e.Method))
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			res.Distance[i][j] = e.Distance[idx[i]][idx[j]]
			res.Duration[i][j] = e.Duration[idx[i]][idx[j]]
		}
	}
	return res, true
}
