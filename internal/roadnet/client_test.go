package roadnet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"fleetsim/internal/geo"
)

var twoPoints = []geo.Coordinate{{Lat: 40.0, Lng: -74.0}, {Lat: 40.1, Lng: -74.1}}

func TestTableParsesNullCells(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"Ok","durations":[[0,600],[null,0]],"distances":[[0,5000],[null,0]]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, BatchEnabled: true})
	tbl, err := c.Table(context.Background(), twoPoints)
	if err != nil { t.Fatalf("table: %v", err) }
	if !strings.HasPrefix(gotPath, "/table/v1/driving/-74.000000,40.000000;") {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if tbl.Durations[1][0] != nil { t.Fatalf("expected nil cell") }
	if *tbl.Distances[0][1] != 5000 { t.Fatalf("distance: %v", *tbl.Distances[0][1]) }
}

func TestTableDisabled(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"})
	if _, err := c.Table(context.Background(), twoPoints); !errors.Is(err, ErrBatchUnsupported) {
		t.Fatalf("want ErrBatchUnsupported, got %v", err)
	}
}

func TestTableRejectsWrongShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","durations":[[0,1]],"distances":[[0,1],[1,0]]}`))
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, BatchEnabled: true})
	if _, err := c.Table(context.Background(), twoPoints); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}

func TestRetryOn503ThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":1200,"duration":180,"geometry":{"coordinates":[[-74.0,40.0],[-74.1,40.1]]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxAttempts: 3})
	rt, err := c.Route(context.Background(), twoPoints)
	if err != nil { t.Fatalf("route: %v", err) }
	if atomic.LoadInt32(&calls) != 2 { t.Fatalf("calls: %d", calls) }
	if rt.DistanceM != 1200 || rt.DurationS != 180 { t.Fatalf("route: %+v", rt) }
	if len(rt.Geometry) != 2 || rt.Geometry[1].Lat != 40.1 { t.Fatalf("geometry: %+v", rt.Geometry) }
}

func TestNoRetryOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxAttempts: 3})
	_, err := c.Route(context.Background(), twoPoints)
	var he *httpStatusError
	if !errors.As(err, &he) || he.Code != 400 { t.Fatalf("want 400 status error, got %v", err) }
	if atomic.LoadInt32(&calls) != 1 { t.Fatalf("400 retried: %d calls", calls) }
}

func TestCancelledContext(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", BatchEnabled: true, RequestsPerSecond: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Table(ctx, twoPoints); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
