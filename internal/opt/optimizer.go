// Package opt orders stops for a single vehicle (nearest neighbor) and
// partitions stops across a fleet (Clarke-Wright savings).
package opt

import (
	"context"
	"time"

	"fleetsim/internal/geo"
	"fleetsim/internal/matrix"
	"fleetsim/internal/metrics"
	"fleetsim/internal/model"
)

// Mode selects between road distances and straight-line estimates.
type Mode string

const (
	ModeRoad     Mode = "road"
	ModeStraight Mode = "straight"
)

const (
	AlgorithmNearestNeighbor = "nearest-neighbor"
	AlgorithmTwoOpt          = "nearest-neighbor+2opt"
	AlgorithmSavings         = "clarke-wright"

	twoOptIterations = 50
)

// MatrixBuilder is satisfied by *matrix.Service.
type MatrixBuilder interface {
	Build(ctx context.Context, points []geo.Coordinate, useRoad bool) matrix.Result
	Path(ctx context.Context, points []geo.Coordinate, useRoad bool) []geo.Coordinate
}

type Optimizer struct {
	matrix MatrixBuilder
}

func New(m MatrixBuilder) *Optimizer {
	return &Optimizer{matrix: m}
}

// Config controls a single-vehicle optimization.
type Config struct {
	// Start is visited first when set; otherwise the first stop is the start.
	Start *model.Stop `json:"start,omitempty"`
	// End is visited last when set and takes precedence over RoundTrip.
	End       *model.Stop `json:"end,omitempty"`
	RoundTrip bool        `json:"roundTrip"`
	Mode      Mode        `json:"mode,omitempty"`
	TwoOpt    bool        `json:"twoOpt"`
	Geometry  bool        `json:"geometry"`
}

func (c Config) useRoad() bool { return c.Mode != ModeStraight }

// Optimize orders stops with the nearest-neighbor heuristic and reports the
// improvement over the input order, both measured on one shared matrix.
func (o *Optimizer) Optimize(ctx context.Context, stops []model.Stop, cfg Config) (*model.OptimizedRoute, error) {
	if len(stops) == 0 {
		return nil, &model.InputError{Field: "stops", Reason: "at least one stop required"}
	}
	if err := model.ValidateStops(stops); err != nil {
		return nil, err
	}
	for name, p := range map[string]*model.Stop{"start": cfg.Start, "end": cfg.End} {
		if p == nil {
			continue
		}
		if err := p.Location.Validate(); err != nil {
			return nil, &model.InputError{Field: name + ".location", Reason: err.Error()}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer metrics.ObserveOptimize(AlgorithmNearestNeighbor, start)

	// a lone stop without fixed endpoints needs no matrix; a round trip from
	// it returns to itself
	if len(stops) == 1 && cfg.Start == nil && cfg.End == nil {
		only := stops[0]
		only.Sequence = 1
		m := model.RouteMetrics{DurationMin: only.ServiceTime()}
		return &model.OptimizedRoute{
			Stops:        []model.Stop{only},
			Original:  m,
			Optimized: m,
			Method:    AlgorithmNearestNeighbor,
		}, nil
	}

	// point layout: [start?] stops... [end?]
	offset := 0
	points := make([]geo.Coordinate, 0, len(stops)+2)
	if cfg.Start != nil {
		points = append(points, cfg.Start.Location)
		offset = 1
	}
	for _, s := range stops {
		points = append(points, s.Location)
	}
	endIdx := -1
	if cfg.End != nil {
		endIdx = len(points)
		points = append(points, cfg.End.Location)
	}

	res := o.matrix.Build(ctx, points, cfg.useRoad())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tour := nearestNeighbor(res.Distance, offset, len(stops), cfg.Start != nil)
	original := make([]int, 0, len(stops)+2)
	if cfg.Start != nil {
		original = append(original, 0)
	}
	for k := range stops {
		original = append(original, offset+k)
	}

	method := AlgorithmNearestNeighbor
	tail := -1
	switch {
	case endIdx >= 0:
		tail = endIdx
	case cfg.RoundTrip:
		tail = tour[0]
	}
	if cfg.TwoOpt {
		method = AlgorithmTwoOpt
		if tail >= 0 {
			tour = improve2Opt(res.Distance, append(tour, tail), true, twoOptIterations)
			tour = tour[:len(tour)-1]
		} else {
			tour = improve2Opt(res.Distance, tour, false, twoOptIterations)
		}
	}
	if tail >= 0 {
		tour = append(tour, tail)
		original = append(original, original[0])
		if endIdx >= 0 {
			original[len(original)-1] = endIdx
		}
	}

	service := 0.0
	for _, s := range stops {
		service += s.ServiceTime()
	}
	optimized := tourMetrics(res, tour, service)
	before := tourMetrics(res, original, service)

	out := &model.OptimizedRoute{
		Original:        before,
		Optimized:       optimized,
		DistanceSavedKm: before.DistanceKm - optimized.DistanceKm,
		TimeSavedMin:    before.DurationMin - optimized.DurationMin,
		Method:          method,
		MatrixMethod:    string(res.Method),
	}
	if before.DistanceKm > 0 {
		out.ImprovementPct = out.DistanceSavedKm / before.DistanceKm * 100
	}
	seen := make(map[int]bool, len(stops))
	for _, p := range tour {
		k := p - offset
		if k < 0 || k >= len(stops) || seen[k] {
			continue
		}
		seen[k] = true
		s := stops[k]
		s.Sequence = len(out.Stops) + 1
		out.Stops = append(out.Stops, s)
	}
	if cfg.Geometry {
		path := make([]geo.Coordinate, len(tour))
		for i, p := range tour {
			path[i] = points[p]
		}
		out.Geometry = o.matrix.Path(ctx, path, cfg.useRoad())
	}
	return out, nil
}

// nearestNeighbor returns point indices in visiting order. With a start
// point the tour begins at index 0; otherwise at the first stop.
func nearestNeighbor(dist [][]float64, offset, nStops int, hasStart bool) []int {
	visited := make([]bool, nStops)
	tour := make([]int, 0, nStops+1)
	current := offset
	if hasStart {
		current = 0
		tour = append(tour, 0)
	} else {
		visited[0] = true
		tour = append(tour, offset)
	}
	for len(tour) < nStops+offset {
		next := -1
		best := 0.0
		for k := 0; k < nStops; k++ {
			if visited[k] {
				continue
			}
			d := dist[current][offset+k]
			// strict comparison keeps the first-encountered minimum
			if next == -1 || d < best {
				next, best = k, d
			}
		}
		visited[next] = true
		current = offset + next
		tour = append(tour, current)
	}
	return tour
}

func tourMetrics(res matrix.Result, tour []int, serviceMin float64) model.RouteMetrics {
	m := model.RouteMetrics{DurationMin: serviceMin}
	for i := 0; i < len(tour)-1; i++ {
		m.DistanceKm += res.Distance[tour[i]][tour[i+1]]
		m.DurationMin += res.Duration[tour[i]][tour[i+1]]
	}
	return m
}
