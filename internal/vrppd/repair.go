package vrppd

import (
	"fleetsim/internal/model"
)

type RepairOutcome string

const (
	OutcomeValid          RepairOutcome = "valid"
	OutcomeRepaired       RepairOutcome = "repaired"
	OutcomeIterationLimit RepairOutcome = "iteration-limit"
	OutcomeNoFix          RepairOutcome = "no-fix"
)

type RepairResult struct {
	Success    bool          `json:"success"`
	Outcome    RepairOutcome `json:"outcome"`
	Iterations int           `json:"iterations"`
	Remaining  []Violation   `json:"remaining"`
}

// Repair fixes precedence violations in place by swapping each offending
// dropoff with its pickup, re-validating after every swap. It never adds or
// removes stops. maxIterations <= 0 means MaxRepairIterations.
func Repair(stops []model.Stop, maxIterations int) RepairResult {
	if maxIterations <= 0 {
		maxIterations = MaxRepairIterations
	}
	res := Validate(stops)
	if res.Valid {
		return RepairResult{Success: true, Outcome: OutcomeValid, Remaining: []Violation{}}
	}

	iterations := 0
	for {
		v, ok := firstPrecedence(res.Violations)
		if !ok {
			// only missing partners remain; swapping cannot help
			return RepairResult{Outcome: OutcomeNoFix, Iterations: iterations, Remaining: res.Violations}
		}
		if iterations == maxIterations {
			return RepairResult{Outcome: OutcomeIterationLimit, Iterations: iterations, Remaining: res.Violations}
		}
		pos := positions(stops)
		d, okD := pos[v.StopID]
		p, okP := pos[v.PairedStopID]
		if !okD || !okP {
			return RepairResult{Outcome: OutcomeNoFix, Iterations: iterations, Remaining: res.Violations}
		}
		stops[d], stops[p] = stops[p], stops[d]
		iterations++

		res = Validate(stops)
		if res.Valid {
			return RepairResult{Success: true, Outcome: OutcomeRepaired, Iterations: iterations, Remaining: []Violation{}}
		}
	}
}

func firstPrecedence(vs []Violation) (Violation, bool) {
	for _, v := range vs {
		if v.Type == ViolationPrecedence {
			return v, true
		}
	}
	return Violation{}, false
}
