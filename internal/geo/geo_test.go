package geo

import (
	"math"
	"testing"
)

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.19 km on a 6371 km sphere
	d := Haversine(Coordinate{Lat: 0, Lng: 0}, Coordinate{Lat: 1, Lng: 0})
	if math.Abs(d-111.195) > 0.01 {
		t.Fatalf("got %.4f km", d)
	}
}

func TestHaversineSymmetricAndZero(t *testing.T) {
	a := Coordinate{Lat: 40.7128, Lng: -74.0060}
	b := Coordinate{Lat: 40.7580, Lng: -73.9855}
	if Haversine(a, a) != 0 {
		t.Fatalf("self distance not zero")
	}
	if math.Abs(Haversine(a, b)-Haversine(b, a)) > 1e-12 {
		t.Fatalf("not symmetric")
	}
}

func TestTravelMinutes(t *testing.T) {
	if got := TravelMinutes(15); got != 30 {
		t.Fatalf("15km at 30km/h: got %v min", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		c  Coordinate
		ok bool
	}{
		{Coordinate{Lat: 45, Lng: 90}, true},
		{Coordinate{Lat: -90, Lng: 180}, true},
		{Coordinate{Lat: 91, Lng: 0}, false},
		{Coordinate{Lat: 0, Lng: -181}, false},
		{Coordinate{Lat: math.NaN(), Lng: 0}, false},
		{Coordinate{Lat: 0, Lng: math.Inf(1)}, false},
	}
	for _, tc := range cases {
		err := tc.c.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%+v: ok=%v err=%v", tc.c, tc.ok, err)
		}
	}
}

func TestInterpolateClamps(t *testing.T) {
	a := Coordinate{Lat: 0, Lng: 0}
	b := Coordinate{Lat: 10, Lng: 20}
	if got := Interpolate(a, b, 0.5); got.Lat != 5 || got.Lng != 10 {
		t.Fatalf("midpoint: %+v", got)
	}
	if got := Interpolate(a, b, 2); got != b {
		t.Fatalf("t>1 should clamp to b: %+v", got)
	}
	if got := Interpolate(a, b, -1); got != a {
		t.Fatalf("t<0 should clamp to a: %+v", got)
	}
}

func TestKeyRounds(t *testing.T) {
	c := Coordinate{Lat: 40.123456789, Lng: -73.987654321}
	if got := c.Key(5); got != "40.12346,-73.98765" {
		t.Fatalf("got %s", got)
	}
}
