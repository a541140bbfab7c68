package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"fleetsim/internal/model"
	"fleetsim/internal/sim"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Field    string `json:"field,omitempty"`
}

const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	var in *model.InputError
	switch {
	case errors.As(err, &in):
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(Problem{
			Type: "about:blank", Title: title, Status: http.StatusBadRequest,
			Detail: in.Error(), Instance: r.URL.Path, Field: in.Field,
		})
	case errors.Is(err, sim.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Simulation not found", err.Error(), r.URL.Path)
	case errors.Is(err, sim.ErrStaleReoptimization):
		writeProblem(w, http.StatusConflict, title, err.Error(), r.URL.Path)
	case errors.Is(err, sim.ErrEmptyQueue), errors.Is(err, sim.ErrNoEligibleVehicles):
		writeProblem(w, http.StatusUnprocessableEntity, title, err.Error(), r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusGatewayTimeout, title, err.Error(), r.URL.Path)
	case errors.Is(err, context.Canceled):
		writeProblem(w, 499, title, err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
	}
}

// decodeJSON reads a bounded JSON body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}
