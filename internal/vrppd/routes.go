package vrppd

import (
	"fmt"

	"fleetsim/internal/model"
)

// PairingMode says whether a ticket's pickup and dropoff must share a route.
type PairingMode string

const (
	PairingStrict   PairingMode = "strict"
	PairingFlexible PairingMode = "flexible"
	PairingNone     PairingMode = "none"
)

// PairedTicket links a pickup stop to its dropoff stop.
type PairedTicket struct {
	ID            string      `json:"id"`
	PickupStopID  string      `json:"pickupStopId"`
	DropoffStopID string      `json:"dropoffStopId"`
	Mode          PairingMode `json:"mode"`
}

// ValidateAcrossRoutes checks strict tickets against a multi-route plan:
// both stops must be present and on the same route. Flexible and unpaired
// tickets are not checked.
func ValidateAcrossRoutes(routes [][]model.Stop, tickets []PairedTicket) Result {
	where := map[string]int{}
	for r, stops := range routes {
		for _, s := range stops {
			if _, seen := where[s.ID]; !seen {
				where[s.ID] = r
			}
		}
	}
	out := []Violation{}
	for _, t := range tickets {
		if t.Mode != PairingStrict {
			continue
		}
		pr, okP := where[t.PickupStopID]
		dr, okD := where[t.DropoffStopID]
		if !okP {
			out = append(out, Violation{
				Type: ViolationMissingStop, TicketID: t.ID, StopID: t.PickupStopID, PairedStopID: t.DropoffStopID,
				Message: fmt.Sprintf("ticket %s: pickup %s is not on any route", t.ID, t.PickupStopID),
			})
		}
		if !okD {
			out = append(out, Violation{
				Type: ViolationMissingStop, TicketID: t.ID, StopID: t.DropoffStopID, PairedStopID: t.PickupStopID,
				Message: fmt.Sprintf("ticket %s: dropoff %s is not on any route", t.ID, t.DropoffStopID),
			})
		}
		if !okP || !okD {
			continue
		}
		if pr != dr {
			out = append(out, Violation{
				Type: ViolationPairing, TicketID: t.ID, StopID: t.DropoffStopID, PairedStopID: t.PickupStopID,
				Routes:  []int{pr, dr},
				Message: fmt.Sprintf("ticket %s: pickup on route %d but dropoff on route %d", t.ID, pr, dr),
			})
		}
	}
	return Result{Valid: len(out) == 0, Violations: out}
}
