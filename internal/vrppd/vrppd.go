// Package vrppd validates and repairs pickup-and-delivery pairing within
// and across routes.
package vrppd

import (
	"fmt"

	"fleetsim/internal/model"
)

// MaxRepairIterations bounds Repair when callers pass a non-positive limit.
const MaxRepairIterations = 10

type ViolationType string

const (
	ViolationPrecedence  ViolationType = "precedence"
	ViolationMissingPair ViolationType = "missing-pair"
	ViolationPairing     ViolationType = "pairing"
	ViolationMissingStop ViolationType = "missing-stop"
)

type Violation struct {
	Type         ViolationType `json:"type"`
	StopID       string        `json:"stopId"`
	PairedStopID string        `json:"pairedStopId,omitempty"`
	TicketID     string        `json:"ticketId,omitempty"`
	// Routes holds the pickup and dropoff route indices for cross-route violations.
	Routes  []int  `json:"routes,omitempty"`
	Message string `json:"message"`
}

type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// HasConstraints reports whether any stop takes part in a pickup/dropoff pair.
func HasConstraints(stops []model.Stop) bool {
	for _, s := range stops {
		switch s.Kind() {
		case model.StopPickup, model.StopDropoff:
			if s.PairedStopID != "" {
				return true
			}
		case model.StopDelivery:
		}
	}
	return false
}

// CheckPrecedence verifies that every paired dropoff comes strictly after its pickup.
func CheckPrecedence(stops []model.Stop) []Violation {
	pos := positions(stops)
	var out []Violation
	for i, s := range stops {
		if s.Kind() != model.StopDropoff || s.PairedStopID == "" {
			continue
		}
		p, ok := pos[s.PairedStopID]
		if !ok {
			out = append(out, Violation{
				Type: ViolationMissingPair, StopID: s.ID, PairedStopID: s.PairedStopID,
				Message: fmt.Sprintf("dropoff %s has no pickup %s in the route", s.ID, s.PairedStopID),
			})
			continue
		}
		if p >= i {
			out = append(out, Violation{
				Type: ViolationPrecedence, StopID: s.ID, PairedStopID: s.PairedStopID,
				Message: fmt.Sprintf("dropoff %s at position %d precedes pickup %s at position %d", s.ID, i+1, s.PairedStopID, p+1),
			})
		}
	}
	return out
}

// CheckPairingCompleteness reports paired stops whose partner is absent.
// Stops already reported in existing are not reported again.
func CheckPairingCompleteness(stops []model.Stop, existing []Violation) []Violation {
	pos := positions(stops)
	reported := map[string]bool{}
	for _, v := range existing {
		if v.Type == ViolationMissingPair {
			reported[v.StopID] = true
		}
	}
	var out []Violation
	for _, s := range stops {
		kind := s.Kind()
		if (kind != model.StopPickup && kind != model.StopDropoff) || s.PairedStopID == "" {
			continue
		}
		if _, ok := pos[s.PairedStopID]; ok || reported[s.ID] {
			continue
		}
		reported[s.ID] = true
		out = append(out, Violation{
			Type: ViolationMissingPair, StopID: s.ID, PairedStopID: s.PairedStopID,
			Message: fmt.Sprintf("%s %s references missing stop %s", kind, s.ID, s.PairedStopID),
		})
	}
	return out
}

// Validate runs the precedence and completeness checks on one route.
func Validate(stops []model.Stop) Result {
	v := CheckPrecedence(stops)
	v = append(v, CheckPairingCompleteness(stops, v)...)
	if v == nil {
		v = []Violation{}
	}
	return Result{Valid: len(v) == 0, Violations: v}
}

func positions(stops []model.Stop) map[string]int {
	pos := make(map[string]int, len(stops))
	for i, s := range stops {
		if _, dup := pos[s.ID]; !dup {
			pos[s.ID] = i
		}
	}
	return pos
}
