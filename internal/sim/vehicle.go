package sim

import (
	"time"

	"fleetsim/internal/geo"
	"fleetsim/internal/model"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusEnRoute   Status = "en_route"
	StatusServicing Status = "servicing"
	StatusReturning Status = "returning"
	StatusCompleted Status = "completed"
)

// Eligible reports whether a vehicle in this state may take new work.
func (s Status) Eligible() bool {
	switch s {
	case StatusIdle, StatusCompleted:
		return true
	case StatusEnRoute, StatusServicing, StatusReturning:
		return false
	}
	return false
}

// Vehicle is the live state of one fleet vehicle.
type Vehicle struct {
	model.Vehicle
	Status           Status              `json:"status"`
	Route            *model.VehicleRoute `json:"route,omitempty"`
	StopIndex        int                 `json:"stopIndex"`
	Position         geo.Coordinate      `json:"position"`
	Progress         float64             `json:"progress"`
	ServiceStartedAt time.Duration       `json:"serviceStartedAt"`
	ServiceElapsed   time.Duration       `json:"serviceElapsed"`
	ETA              time.Duration       `json:"eta"`
	CompletedStops   int                 `json:"completedStops"`
	RemainingStops   int                 `json:"remainingStops"`

	// origin of the current segment
	from geo.Coordinate
}

// assign starts v on route from the depot.
func (v *Vehicle) assign(route *model.VehicleRoute, depot geo.Coordinate) {
	v.Route = route
	v.StopIndex = 0
	v.Progress = 0
	v.ServiceElapsed = 0
	v.Position = depot
	v.from = depot
	v.RemainingStops = len(route.Stops)
	v.Status = StatusEnRoute
}

// step advances v by dt of simulated time. It touches only v and returns
// the events produced by any transition.
func (v *Vehicle) step(dt time.Duration, now time.Duration, cfg Config, depot geo.Coordinate) []Event {
	var out []Event
	segment := float64(cfg.SegmentDuration)

	switch v.Status {
	case StatusEnRoute:
		target := v.Route.Stops[v.StopIndex]
		v.Progress += float64(dt) / segment
		if v.Progress >= cfg.ArrivalThreshold {
			v.Progress = 1
			v.Position = target.Location
			v.Status = StatusServicing
			v.ServiceStartedAt = now
			v.ServiceElapsed = 0
			out = append(out, v.event(EventVehicleStatus, map[string]any{"stopId": target.ID}))
		} else {
			v.Position = geo.Interpolate(v.from, target.Location, v.Progress)
		}
	case StatusServicing:
		v.ServiceElapsed += dt
		if v.ServiceElapsed >= cfg.ServiceDuration {
			done := v.Route.Stops[v.StopIndex]
			v.CompletedStops++
			v.RemainingStops--
			v.StopIndex++
			v.from = v.Position
			v.Progress = 0
			out = append(out, v.event(EventStopCompleted, map[string]any{"stopId": done.ID}))
			if v.StopIndex < len(v.Route.Stops) {
				v.Status = StatusEnRoute
			} else {
				v.Status = StatusReturning
			}
			out = append(out, v.event(EventVehicleStatus, nil))
		}
	case StatusReturning:
		v.Progress += float64(dt) / segment
		if v.Progress >= 1 {
			v.Progress = 1
			v.Position = depot
			v.Status = StatusCompleted
			out = append(out, v.event(EventVehicleStatus, nil))
		} else {
			v.Position = geo.Interpolate(v.from, depot, v.Progress)
		}
	case StatusIdle, StatusCompleted:
	}
	v.ETA = now + v.remaining(cfg)
	return out
}

// remaining estimates the simulated time until v is back at the depot.
func (v *Vehicle) remaining(cfg Config) time.Duration {
	seg, svc := cfg.SegmentDuration, cfg.ServiceDuration
	frac := func(p float64) time.Duration { return time.Duration((1 - p) * float64(seg)) }
	switch v.Status {
	case StatusEnRoute:
		after := time.Duration(len(v.Route.Stops)-v.StopIndex-1) * (seg + svc)
		return frac(v.Progress) + svc + after + seg
	case StatusServicing:
		after := time.Duration(len(v.Route.Stops)-v.StopIndex-1) * (seg + svc)
		left := svc - v.ServiceElapsed
		if left < 0 {
			left = 0
		}
		return left + after + seg
	case StatusReturning:
		return frac(v.Progress)
	case StatusIdle, StatusCompleted:
	}
	return 0
}

func (v *Vehicle) event(typ string, extra map[string]any) Event {
	data := map[string]any{
		"vehicleId": v.ID,
		"status":    string(v.Status),
		"position":  v.Position,
		"stopIndex": v.StopIndex,
	}
	for k, val := range extra {
		data[k] = val
	}
	return Event{Type: typ, Data: data}
}
