package opt

import (
	"context"
	"sort"
	"time"

	"fleetsim/internal/geo"
	"fleetsim/internal/metrics"
	"fleetsim/internal/model"
)

// MaxStopsPerRoute caps how many stops a merged route may hold.
const MaxStopsPerRoute = 15

// FleetOptions controls a multi-vehicle optimization.
type FleetOptions struct {
	Mode Mode `json:"mode,omitempty"`
	// StrictCapacity moves stops that alone exceed their vehicle's capacity
	// into UnassignedStops instead of routing them over capacity.
	StrictCapacity bool `json:"strictCapacity"`
	Geometry       bool `json:"geometry"`
}

type saving struct {
	i, j  int
	value float64
}

type cwRoute struct {
	stops   []int // point indices, depot excluded
	load    int
	vehicle int
	active  bool
}

func (r *cwRoute) first() int { return r.stops[0] }
func (r *cwRoute) last() int  { return r.stops[len(r.stops)-1] }

// OptimizeFleet partitions stops across the fleet with the Clarke-Wright
// savings heuristic. Point 0 of the matrix is the depot.
func (o *Optimizer) OptimizeFleet(ctx context.Context, stops []model.Stop, fleet model.Fleet, opts FleetOptions) (*model.FleetSolution, error) {
	if len(stops) == 0 {
		return nil, &model.InputError{Field: "stops", Reason: "at least one stop required"}
	}
	if err := model.ValidateFleet(fleet); err != nil {
		return nil, err
	}
	if err := model.ValidateStops(stops); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer metrics.ObserveOptimize(AlgorithmSavings, start)

	useRoad := opts.Mode != ModeStraight
	points := make([]geo.Coordinate, 0, len(stops)+1)
	points = append(points, fleet.Depot.Location)
	for _, s := range stops {
		points = append(points, s.Location)
	}
	res := o.matrix.Build(ctx, points, useRoad)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dist := res.Distance

	sol := &model.FleetSolution{Method: AlgorithmSavings, MatrixMethod: string(res.Method), UnassignedStops: []model.Stop{}}

	// one route per stop, vehicles assigned round-robin
	routes := make([]*cwRoute, len(stops))
	routeOf := make([]int, len(points))
	routeOf[0] = -1
	for k, s := range stops {
		v := k % len(fleet.Vehicles)
		routes[k] = &cwRoute{stops: []int{k + 1}, load: s.Packages(), vehicle: v, active: true}
		routeOf[k+1] = k
		if opts.StrictCapacity && s.Packages() > fleet.Vehicles[v].Capacity {
			routes[k].active = false
			routeOf[k+1] = -1
			sol.UnassignedStops = append(sol.UnassignedStops, s)
		}
	}

	for _, sv := range computeSavings(dist) {
		ri, rj := routeOf[sv.i], routeOf[sv.j]
		if ri < 0 || rj < 0 || ri == rj {
			continue
		}
		a, b := routes[ri], routes[rj]
		if !a.active || !b.active {
			continue
		}
		if a.load+b.load > fleet.Vehicles[a.vehicle].Capacity {
			continue
		}
		if len(a.stops)+len(b.stops) > MaxStopsPerRoute {
			continue
		}
		merged, ok := mergeAtEndpoints(a, b, sv.i, sv.j)
		if !ok {
			continue
		}
		a.stops = merged
		a.load += b.load
		b.active = false
		for _, p := range b.stops {
			routeOf[p] = ri
		}
	}

	used := make([]bool, len(fleet.Vehicles))
	active := make([]*cwRoute, 0, len(routes))
	for _, r := range routes {
		if r.active {
			active = append(active, r)
			used[r.vehicle] = true
		}
	}
	sort.SliceStable(active, func(x, y int) bool { return active[x].vehicle < active[y].vehicle })

	utilSum := 0.0
	for _, r := range active {
		v := fleet.Vehicles[r.vehicle]
		vr := model.VehicleRoute{
			VehicleID:    v.ID,
			VehicleLabel: v.Label,
			Color:        v.Color,
			Capacity:     v.Capacity,
			PackageCount: r.load,
		}
		path := make([]int, 0, len(r.stops)+2)
		path = append(path, 0)
		for n, p := range r.stops {
			s := stops[p-1]
			s.Sequence = n + 1
			vr.Stops = append(vr.Stops, s)
			vr.TotalTimeMin += s.ServiceTime()
			path = append(path, p)
		}
		if fleet.ReturnToDepot {
			path = append(path, 0)
		}
		m := tourMetrics(res, path, 0)
		vr.TotalDistanceKm = m.DistanceKm
		vr.TotalTimeMin += m.DurationMin
		vr.UtilizationPct = float64(r.load) * 100 / float64(v.Capacity)
		if opts.Geometry {
			coords := make([]geo.Coordinate, len(path))
			for i, p := range path {
				coords[i] = points[p]
			}
			vr.Geometry = o.matrix.Path(ctx, coords, useRoad)
		}
		sol.TotalDistanceKm += vr.TotalDistanceKm
		sol.TotalTimeMin += vr.TotalTimeMin
		utilSum += vr.UtilizationPct
		sol.Routes = append(sol.Routes, vr)
	}
	for i, v := range fleet.Vehicles {
		if used[i] {
			sol.VehiclesUsed++
			continue
		}
		sol.Routes = append(sol.Routes, model.VehicleRoute{
			VehicleID: v.ID, VehicleLabel: v.Label, Color: v.Color,
			Capacity: v.Capacity, Stops: []model.Stop{}, IsEmpty: true,
		})
	}
	if len(active) > 0 {
		sol.AverageUtilizationPct = utilSum / float64(len(active))
	}
	return sol, nil
}

// computeSavings returns positive savings for every unordered stop pair,
// largest first. Ties keep (i,j) order so results are deterministic.
func computeSavings(dist [][]float64) []saving {
	n := len(dist)
	out := make([]saving, 0, n*(n-1)/2)
	for i := 1; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := dist[0][i] + dist[0][j] - dist[i][j]
			if v > 1e-9 {
				out = append(out, saving{i: i, j: j, value: v})
			}
		}
	}
	sort.SliceStable(out, func(x, y int) bool { return out[x].value > out[y].value })
	return out
}

// mergeAtEndpoints joins b into a so that i and j become adjacent. Both must
// sit at an endpoint of their route; interior stops are never merged.
func mergeAtEndpoints(a, b *cwRoute, i, j int) ([]int, bool) {
	out := make([]int, 0, len(a.stops)+len(b.stops))
	switch {
	case a.last() == i && b.first() == j:
		out = append(append(out, a.stops...), b.stops...)
	case a.first() == i && b.last() == j:
		out = append(append(out, b.stops...), a.stops...)
	case a.first() == i && b.first() == j:
		out = append(append(out, reversed(a.stops)...), b.stops...)
	case a.last() == i && b.last() == j:
		out = append(append(out, a.stops...), reversed(b.stops)...)
	default:
		return nil, false
	}
	return out, true
}

func reversed(s []int) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
