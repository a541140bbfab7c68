package model

import (
    "fmt"

    "fleetsim/internal/geo"
)

// Core domain types shared by the optimizer, constraint engine and simulator.

type StopType string

const (
    StopPickup   StopType = "pickup"
    StopDropoff  StopType = "dropoff"
    StopDelivery StopType = "delivery"
)

// Valid reports whether t is one of the known stop kinds (empty counts as delivery).
func (t StopType) Valid() bool {
    switch t {
    case "", StopPickup, StopDropoff, StopDelivery:
        return true
    }
    return false
}

const (
    DefaultPackageCount   = 1
    DefaultServiceMinutes = 5.0
)

type Stop struct {
    ID             string         `json:"id"`
    Address        string         `json:"address,omitempty"`
    Location       geo.Coordinate `json:"location"`
    Zone           string         `json:"zone,omitempty"`
    PackageCount   int            `json:"packageCount,omitempty"`
    ServiceMinutes float64        `json:"serviceMinutes,omitempty"`
    Type           StopType       `json:"type,omitempty"`
    PairedStopID   string         `json:"pairedStopId,omitempty"`
    Sequence       int            `json:"sequence,omitempty"`
}

// Packages returns the package count, defaulting to 1.
func (s Stop) Packages() int {
    if s.PackageCount <= 0 { return DefaultPackageCount }
    return s.PackageCount
}

// ServiceTime returns the service duration in minutes, defaulting to 5.
func (s Stop) ServiceTime() float64 {
    if s.ServiceMinutes <= 0 { return DefaultServiceMinutes }
    return s.ServiceMinutes
}

// Kind returns the stop type, defaulting to delivery.
func (s Stop) Kind() StopType {
    if s.Type == "" { return StopDelivery }
    return s.Type
}

type Vehicle struct {
    ID       string `json:"id"`
    Label    string `json:"label,omitempty"`
    Capacity int    `json:"capacity"`
    Color    string `json:"color,omitempty"`
}

type Fleet struct {
    Depot         Stop      `json:"depot"`
    Vehicles      []Vehicle `json:"vehicles"`
    ReturnToDepot bool      `json:"returnToDepot"`
}

type RouteMetrics struct {
    DistanceKm  float64 `json:"distanceKm"`
    DurationMin float64 `json:"durationMin"`
}

type OptimizedRoute struct {
    Stops           []Stop           `json:"stops"`
    Original        RouteMetrics     `json:"original"`
    Optimized       RouteMetrics     `json:"optimized"`
    DistanceSavedKm float64          `json:"distanceSavedKm"`
    TimeSavedMin    float64          `json:"timeSavedMin"`
    ImprovementPct  float64          `json:"improvementPct"`
    Method          string           `json:"method"`
    MatrixMethod    string           `json:"matrixMethod,omitempty"`
    Geometry        []geo.Coordinate `json:"geometry,omitempty"`
}

type VehicleRoute struct {
    VehicleID       string           `json:"vehicleId"`
    VehicleLabel    string           `json:"vehicleLabel,omitempty"`
    Color           string           `json:"color,omitempty"`
    Stops           []Stop           `json:"stops"`
    TotalDistanceKm float64          `json:"totalDistanceKm"`
    TotalTimeMin    float64          `json:"totalTimeMin"`
    PackageCount    int              `json:"packageCount"`
    Capacity        int              `json:"capacity"`
    UtilizationPct  float64          `json:"utilizationPct"`
    IsEmpty         bool             `json:"isEmpty"`
    Geometry        []geo.Coordinate `json:"geometry,omitempty"`
}

type FleetSolution struct {
    Routes                []VehicleRoute `json:"routes"`
    UnassignedStops       []Stop         `json:"unassignedStops"`
    TotalDistanceKm       float64        `json:"totalDistanceKm"`
    TotalTimeMin          float64        `json:"totalTimeMin"`
    VehiclesUsed          int            `json:"vehiclesUsed"`
    AverageUtilizationPct float64        `json:"averageUtilizationPct"`
    Method                string         `json:"method"`
    MatrixMethod          string         `json:"matrixMethod"`
}

// InputError reports malformed caller input. It is never retried.
type InputError struct {
    Field  string
    Reason string
}

func (e *InputError) Error() string {
    if e.Field == "" { return "invalid input: " + e.Reason }
    return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// ValidateStops checks the stop list for coordinates and kinds before any computation.
func ValidateStops(stops []Stop) error {
    for i, s := range stops {
        if err := s.Location.Validate(); err != nil {
            return &InputError{Field: fmt.Sprintf("stops[%d].location", i), Reason: err.Error()}
        }
        if !s.Type.Valid() {
            return &InputError{Field: fmt.Sprintf("stops[%d].type", i), Reason: fmt.Sprintf("unknown stop type %q", s.Type)}
        }
        if s.PackageCount < 0 {
            return &InputError{Field: fmt.Sprintf("stops[%d].packageCount", i), Reason: "must be >= 0"}
        }
    }
    return nil
}

// ValidateFleet checks the depot and vehicles.
func ValidateFleet(f Fleet) error {
    if len(f.Vehicles) == 0 {
        return &InputError{Field: "vehicles", Reason: "at least one vehicle required"}
    }
    if err := f.Depot.Location.Validate(); err != nil {
        return &InputError{Field: "depot.location", Reason: err.Error()}
    }
    seen := map[string]struct{}{}
    for i, v := range f.Vehicles {
        if v.Capacity <= 0 {
            return &InputError{Field: fmt.Sprintf("vehicles[%d].capacity", i), Reason: "must be > 0"}
        }
        if v.ID == "" {
            return &InputError{Field: fmt.Sprintf("vehicles[%d].id", i), Reason: "required"}
        }
        if _, dup := seen[v.ID]; dup {
            return &InputError{Field: fmt.Sprintf("vehicles[%d].id", i), Reason: "duplicate id " + v.ID}
        }
        seen[v.ID] = struct{}{}
    }
    return nil
}
