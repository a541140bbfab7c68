package opt

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"fleetsim/internal/geo"
	"fleetsim/internal/matrix"
	"fleetsim/internal/model"
)

func newTestOptimizer() *Optimizer {
	return New(matrix.NewService(nil, nil, matrix.Config{}))
}

func stopAt(id string, lat, lng float64) model.Stop {
	return model.Stop{ID: id, Location: geo.Coordinate{Lat: lat, Lng: lng}}
}

func ids(stops []model.Stop) []string {
	out := make([]string, len(stops))
	for i, s := range stops {
		out[i] = s.ID
	}
	return out
}

func TestNearestNeighborOrdersCollinearStops(t *testing.T) {
	o := newTestOptimizer()
	stops := []model.Stop{
		stopAt("A", 0, 0),
		stopAt("D", 0, 0.03),
		stopAt("B", 0, 0.01),
		stopAt("C", 0, 0.02),
	}
	got, err := o.Optimize(context.Background(), stops, Config{Mode: ModeStraight})
	if err != nil { t.Fatalf("optimize: %v", err) }
	want := []string{"A", "B", "C", "D"}
	for i, id := range ids(got.Stops) {
		if id != want[i] { t.Fatalf("order %v, want %v", ids(got.Stops), want) }
		if got.Stops[i].Sequence != i+1 { t.Fatalf("sequence %d at %d", got.Stops[i].Sequence, i) }
	}
	// input order walks 0.06 degrees, optimized walks 0.03
	if math.Abs(got.ImprovementPct-50) > 0.01 {
		t.Fatalf("improvement %.3f%%", got.ImprovementPct)
	}
	if got.DistanceSavedKm <= 0 || got.TimeSavedMin <= 0 {
		t.Fatalf("savings not positive: %+v", got)
	}
	if got.MatrixMethod != string(matrix.MethodHaversine) { t.Fatalf("matrix method %s", got.MatrixMethod) }
}

func TestSingleStopIsTrivial(t *testing.T) {
	o := newTestOptimizer()
	got, err := o.Optimize(context.Background(), []model.Stop{stopAt("A", 10, 10)}, Config{RoundTrip: true})
	if err != nil { t.Fatalf("optimize: %v", err) }
	if len(got.Stops) != 1 || got.Optimized.DistanceKm != 0 || got.Stops[0].Sequence != 1 {
		t.Fatalf("trivial route: %+v", got)
	}
	if got.MatrixMethod != "" { t.Fatalf("no matrix was built, got method %q", got.MatrixMethod) }
}

func TestSingleStopHonoursStartAndEnd(t *testing.T) {
	o := newTestOptimizer()
	start := stopAt("S", 40.0, -74.0)
	end := stopAt("E", 40.02, -74.0)
	got, err := o.Optimize(context.Background(), []model.Stop{stopAt("A", 40.01, -74.0)}, Config{Start: &start, End: &end, Mode: ModeStraight})
	if err != nil { t.Fatalf("optimize: %v", err) }
	if len(got.Stops) != 1 || got.Stops[0].ID != "A" || got.Stops[0].Sequence != 1 {
		t.Fatalf("stops: %+v", got.Stops)
	}
	want := geo.Haversine(start.Location, end.Location)
	if math.Abs(got.Optimized.DistanceKm-want) > 1e-6 {
		t.Fatalf("distance %.4f, want %.4f via start and end", got.Optimized.DistanceKm, want)
	}
	if got.MatrixMethod != string(matrix.MethodHaversine) { t.Fatalf("matrix method %q", got.MatrixMethod) }
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	o := newTestOptimizer()
	var ie *model.InputError
	if _, err := o.Optimize(context.Background(), nil, Config{}); !errors.As(err, &ie) {
		t.Fatalf("empty stops: %v", err)
	}
	bad := []model.Stop{stopAt("A", 0, 0), stopAt("B", 95, 0)}
	if _, err := o.Optimize(context.Background(), bad, Config{}); !errors.As(err, &ie) {
		t.Fatalf("bad coordinate: %v", err)
	}
	badStart := stopAt("S", 0, 200)
	if _, err := o.Optimize(context.Background(), []model.Stop{stopAt("A", 0, 0), stopAt("B", 0, 1)}, Config{Start: &badStart}); !errors.As(err, &ie) {
		t.Fatalf("bad start: %v", err)
	}
}

func TestStartPointAndRoundTrip(t *testing.T) {
	o := newTestOptimizer()
	start := stopAt("depot", 0, -0.01)
	stops := []model.Stop{stopAt("B", 0, 0.02), stopAt("A", 0, 0.01)}
	got, err := o.Optimize(context.Background(), stops, Config{Start: &start, RoundTrip: true, Mode: ModeStraight})
	if err != nil { t.Fatalf("optimize: %v", err) }
	if ids(got.Stops)[0] != "A" || ids(got.Stops)[1] != "B" {
		t.Fatalf("order: %v", ids(got.Stops))
	}
	// depot -> A -> B -> depot spans 0.06 degrees of longitude on the equator
	want := geo.Haversine(geo.Coordinate{}, geo.Coordinate{Lng: 0.06})
	if math.Abs(got.Optimized.DistanceKm-want) > 1e-6 {
		t.Fatalf("distance %.6f want %.6f", got.Optimized.DistanceKm, want)
	}
	// travel minutes plus two default service stops
	if math.Abs(got.Optimized.DurationMin-(geo.TravelMinutes(want)+10)) > 1e-6 {
		t.Fatalf("duration %.4f", got.Optimized.DurationMin)
	}
}

func TestEndPointIsLast(t *testing.T) {
	o := newTestOptimizer()
	end := stopAt("end", 0, 0.05)
	stops := []model.Stop{stopAt("A", 0, 0), stopAt("C", 0, 0.04), stopAt("B", 0, 0.02)}
	got, err := o.Optimize(context.Background(), stops, Config{End: &end, RoundTrip: true, Geometry: true})
	if err != nil { t.Fatalf("optimize: %v", err) }
	if len(got.Stops) != 3 { t.Fatalf("end point leaked into stops: %v", ids(got.Stops)) }
	// geometry is the straight polyline A,B,C,end without a road client
	if len(got.Geometry) != 4 || got.Geometry[3] != end.Location {
		t.Fatalf("geometry: %+v", got.Geometry)
	}
}

func TestTwoOptNeverWorse(t *testing.T) {
	o := newTestOptimizer()
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 5; trial++ {
		stops := make([]model.Stop, 12)
		for i := range stops {
			stops[i] = stopAt(string(rune('a'+i)), 40+rng.Float64()*0.1, -74+rng.Float64()*0.1)
		}
		nn, err := o.Optimize(context.Background(), stops, Config{Mode: ModeStraight, RoundTrip: true})
		if err != nil { t.Fatalf("nn: %v", err) }
		improved, err := o.Optimize(context.Background(), stops, Config{Mode: ModeStraight, RoundTrip: true, TwoOpt: true})
		if err != nil { t.Fatalf("2opt: %v", err) }
		if improved.Optimized.DistanceKm > nn.Optimized.DistanceKm+1e-9 {
			t.Fatalf("2-opt worsened tour: %.4f > %.4f", improved.Optimized.DistanceKm, nn.Optimized.DistanceKm)
		}
		if len(improved.Stops) != 12 || improved.Stops[0].ID != "a" {
			t.Fatalf("2-opt moved the start or lost stops: %v", ids(improved.Stops))
		}
		if improved.Method != AlgorithmTwoOpt { t.Fatalf("method %s", improved.Method) }
	}
}

func TestOptimizeHonoursCancelledContext(t *testing.T) {
	o := newTestOptimizer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Optimize(ctx, []model.Stop{stopAt("A", 0, 0), stopAt("B", 0, 1)}, Config{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestTwoOptSwapReversesSegment(t *testing.T) {
	got := twoOptSwap([]int{0, 1, 2, 3, 4}, 1, 3)
	want := []int{0, 3, 2, 1, 4}
	for i := range want {
		if got[i] != want[i] { t.Fatalf("got %v want %v", got, want) }
	}
}
