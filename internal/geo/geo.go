package geo

import (
	"fmt"
	"math"
)

// AverageSpeedKmh is the assumed urban driving speed for straight-line estimates.
const AverageSpeedKmh = 30.0

const earthRadiusKm = 6371.0

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Validate checks that the coordinate is finite and inside the WGS84 range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("coordinate (%v,%v) is not finite", c.Lat, c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", c.Lng)
	}
	return nil
}

// Key renders the coordinate rounded to the given number of decimals.
func (c Coordinate) Key(decimals int) string {
	return fmt.Sprintf("%.*f,%.*f", decimals, c.Lat, decimals, c.Lng)
}

func (c Coordinate) String() string { return c.Key(6) }

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// TravelMinutes converts a distance to minutes at AverageSpeedKmh.
func TravelMinutes(km float64) float64 {
	return km / AverageSpeedKmh * 60
}

// Interpolate returns the point a fraction t of the way from a to b.
// t is clamped to [0,1].
func Interpolate(a, b Coordinate, t float64) Coordinate {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	return Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}
