package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"fleetsim/internal/geo"
	"fleetsim/internal/matrix"
	"fleetsim/internal/model"
)

func testFleet(caps ...int) model.Fleet {
	f := model.Fleet{Depot: stopAt("depot", 40.0, -74.0)}
	for i, c := range caps {
		f.Vehicles = append(f.Vehicles, model.Vehicle{ID: fmt.Sprintf("v%d", i+1), Capacity: c})
	}
	return f
}

func ringStops(n int, pkgs int) []model.Stop {
	out := make([]model.Stop, n)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		out[i] = model.Stop{
			ID:           fmt.Sprintf("s%02d", i),
			Location:     geo.Coordinate{Lat: 40.0 + 0.02*math.Sin(a), Lng: -74.0 + 0.02*math.Cos(a)},
			PackageCount: pkgs,
		}
	}
	return out
}

func assertEachStopOnce(t *testing.T, sol *model.FleetSolution, stops []model.Stop) {
	t.Helper()
	seen := map[string]int{}
	for _, r := range sol.Routes {
		for _, s := range r.Stops {
			seen[s.ID]++
		}
	}
	for _, s := range sol.UnassignedStops {
		seen[s.ID]++
	}
	for _, s := range stops {
		if seen[s.ID] != 1 {
			t.Fatalf("stop %s appears %d times", s.ID, seen[s.ID])
		}
	}
}

func TestSavingsRespectsCapacity(t *testing.T) {
	o := newTestOptimizer()
	stops := ringStops(5, 3)
	sol, err := o.OptimizeFleet(context.Background(), stops, testFleet(10), FleetOptions{Mode: ModeStraight})
	if err != nil { t.Fatalf("fleet: %v", err) }
	assertEachStopOnce(t, sol, stops)
	if len(sol.Routes) < 2 { t.Fatalf("15 packages cannot fit one route of capacity 10: %d routes", len(sol.Routes)) }
	for _, r := range sol.Routes {
		if r.PackageCount > 10 { t.Fatalf("route over capacity: %d", r.PackageCount) }
		if r.UtilizationPct > 100 { t.Fatalf("utilization %.1f", r.UtilizationPct) }
	}
	if sol.VehiclesUsed != 1 { t.Fatalf("vehicles used %d", sol.VehiclesUsed) }
}

func TestSavingsMaxStopsPerRoute(t *testing.T) {
	o := newTestOptimizer()
	stops := ringStops(20, 1)
	sol, err := o.OptimizeFleet(context.Background(), stops, testFleet(100), FleetOptions{Mode: ModeStraight})
	if err != nil { t.Fatalf("fleet: %v", err) }
	assertEachStopOnce(t, sol, stops)
	for _, r := range sol.Routes {
		if len(r.Stops) > MaxStopsPerRoute { t.Fatalf("route has %d stops", len(r.Stops)) }
	}
}

func TestSavingsTotalMatchesSharedMatrix(t *testing.T) {
	o := newTestOptimizer()
	stops := ringStops(8, 2)
	fleet := testFleet(6, 6, 6)
	fleet.ReturnToDepot = true
	sol, err := o.OptimizeFleet(context.Background(), stops, fleet, FleetOptions{Mode: ModeStraight})
	if err != nil { t.Fatalf("fleet: %v", err) }
	assertEachStopOnce(t, sol, stops)

	points := []geo.Coordinate{fleet.Depot.Location}
	index := map[string]int{}
	for i, s := range stops {
		points = append(points, s.Location)
		index[s.ID] = i + 1
	}
	m := matrix.Haversine(points)
	total := 0.0
	for _, r := range sol.Routes {
		if r.IsEmpty { continue }
		prev := 0
		for _, s := range r.Stops {
			total += m.Distance[prev][index[s.ID]]
			prev = index[s.ID]
		}
		total += m.Distance[prev][0]
	}
	if math.Abs(total-sol.TotalDistanceKm) > 1e-9 {
		t.Fatalf("recomputed %.6f, reported %.6f", total, sol.TotalDistanceKm)
	}
}

func TestSavingsMergesLineIntoOneRoute(t *testing.T) {
	o := newTestOptimizer()
	fleet := model.Fleet{Depot: stopAt("depot", 0, 0), Vehicles: []model.Vehicle{{ID: "v1", Capacity: 10}}}
	stops := []model.Stop{stopAt("a", 0, 0.01), stopAt("b", 0, 0.02), stopAt("c", 0, 0.03)}
	sol, err := o.OptimizeFleet(context.Background(), stops, fleet, FleetOptions{Mode: ModeStraight})
	if err != nil { t.Fatalf("fleet: %v", err) }
	if len(sol.Routes) != 1 || len(sol.Routes[0].Stops) != 3 {
		t.Fatalf("expected one merged route, got %+v", sol.Routes)
	}
	if sol.Routes[0].PackageCount != 3 || sol.Routes[0].UtilizationPct != 30 {
		t.Fatalf("load: %+v", sol.Routes[0])
	}
}

func TestUnusedVehiclesGetEmptyRoutes(t *testing.T) {
	o := newTestOptimizer()
	stops := []model.Stop{stopAt("a", 40.01, -74.0)}
	sol, err := o.OptimizeFleet(context.Background(), stops, testFleet(5, 5), FleetOptions{Mode: ModeStraight})
	if err != nil { t.Fatalf("fleet: %v", err) }
	if len(sol.Routes) != 2 || sol.Routes[0].IsEmpty || !sol.Routes[1].IsEmpty {
		t.Fatalf("routes: %+v", sol.Routes)
	}
	if sol.VehiclesUsed != 1 || sol.AverageUtilizationPct != 20 {
		t.Fatalf("used=%d util=%.1f", sol.VehiclesUsed, sol.AverageUtilizationPct)
	}
}

func TestStrictCapacityFlagsOversizedStops(t *testing.T) {
	o := newTestOptimizer()
	stops := []model.Stop{
		{ID: "big", Location: geo.Coordinate{Lat: 40.01, Lng: -74}, PackageCount: 12},
		{ID: "small", Location: geo.Coordinate{Lat: 40.02, Lng: -74}, PackageCount: 2},
	}
	sol, err := o.OptimizeFleet(context.Background(), stops, testFleet(10), FleetOptions{Mode: ModeStraight, StrictCapacity: true})
	if err != nil { t.Fatalf("fleet: %v", err) }
	if len(sol.UnassignedStops) != 1 || sol.UnassignedStops[0].ID != "big" {
		t.Fatalf("unassigned: %+v", sol.UnassignedStops)
	}
	assertEachStopOnce(t, sol, stops)

	loose, err := o.OptimizeFleet(context.Background(), stops, testFleet(10), FleetOptions{Mode: ModeStraight})
	if err != nil { t.Fatalf("fleet: %v", err) }
	if len(loose.UnassignedStops) != 0 { t.Fatalf("default mode should route every stop") }
}

func TestFleetRejectsEmptyInputs(t *testing.T) {
	o := newTestOptimizer()
	var ie *model.InputError
	if _, err := o.OptimizeFleet(context.Background(), nil, testFleet(5), FleetOptions{}); !errors.As(err, &ie) {
		t.Fatalf("zero stops: %v", err)
	}
	if _, err := o.OptimizeFleet(context.Background(), ringStops(2, 1), testFleet(), FleetOptions{}); !errors.As(err, &ie) {
		t.Fatalf("zero vehicles: %v", err)
	}
}

func TestMergeAtEndpointsRejectsInterior(t *testing.T) {
	a := &cwRoute{stops: []int{1, 2, 3}}
	b := &cwRoute{stops: []int{4}}
	if _, ok := mergeAtEndpoints(a, b, 2, 4); ok {
		t.Fatalf("interior stop merged")
	}
	got, ok := mergeAtEndpoints(a, b, 1, 4)
	if !ok || got[0] != 4 || got[1] != 1 || got[3] != 3 {
		t.Fatalf("prepend merge: %v %v", got, ok)
	}
	c := &cwRoute{stops: []int{5, 6}}
	got, ok = mergeAtEndpoints(a, c, 1, 5)
	if !ok || got[0] != 3 || got[2] != 1 || got[3] != 5 {
		t.Fatalf("start-start merge should reverse a: %v %v", got, ok)
	}
}

func TestSavingsNeverMergesOverCapacityPair(t *testing.T) {
	o := newTestOptimizer()
	stops := []model.Stop{
		{ID: "a", Location: geo.Coordinate{Lat: 40.05, Lng: -74.0}, PackageCount: 6},
		{ID: "b", Location: geo.Coordinate{Lat: 40.051, Lng: -74.0}, PackageCount: 6},
		{ID: "c", Location: geo.Coordinate{Lat: 39.99, Lng: -74.01}, PackageCount: 1},
	}
	sol, err := o.OptimizeFleet(context.Background(), stops, testFleet(10), FleetOptions{Mode: ModeStraight})
	if err != nil { t.Fatalf("fleet: %v", err) }
	assertEachStopOnce(t, sol, stops)
	for _, r := range sol.Routes {
		var hasA, hasB bool
		for _, s := range r.Stops {
			hasA = hasA || s.ID == "a"
			hasB = hasB || s.ID == "b"
		}
		if hasA && hasB { t.Fatalf("a and b merged into one route: %+v", r.Stops) }
		if r.PackageCount > 10 { t.Fatalf("route over capacity: %d", r.PackageCount) }
	}
}
