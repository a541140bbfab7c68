package api

import (
    "context"
    "fmt"
    "net/http"
    "time"

    "fleetsim/internal/geo"
    "fleetsim/internal/metrics"
    "fleetsim/internal/model"
    "fleetsim/internal/opt"
    "fleetsim/internal/vrppd"
)

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Stops []model.Stop `json:"stops"`
        opt.Config
    }
    if !decodeJSON(w, r, &req) {
        return
    }
    var err error
    defer metrics.Time(r.Context(), "api.optimize")(&err)
    res, err := s.Optimizer.Optimize(r.Context(), req.Stops, req.Config)
    if err != nil {
        writeError(w, r, "Optimize failed", err)
        return
    }
    writeJSON(w, http.StatusOK, res)
}

// FleetOptimizeHandler handles POST /v1/optimize/fleet
func (s *Server) FleetOptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Stops []model.Stop `json:"stops"`
        Fleet model.Fleet  `json:"fleet"`
        opt.FleetOptions
    }
    if !decodeJSON(w, r, &req) {
        return
    }
    var err error
    defer metrics.Time(r.Context(), "api.optimize_fleet")(&err)
    sol, err := s.Optimizer.OptimizeFleet(r.Context(), req.Stops, req.Fleet, req.FleetOptions)
    if err != nil {
        writeError(w, r, "Fleet optimization failed", err)
        return
    }
    writeJSON(w, http.StatusOK, sol)
}

// MatrixHandler handles POST /v1/matrix
func (s *Server) MatrixHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Points []geo.Coordinate `json:"points"`
        Mode   opt.Mode         `json:"mode"`
    }
    if !decodeJSON(w, r, &req) {
        return
    }
    if len(req.Points) == 0 {
        writeError(w, r, "Invalid matrix request", &model.InputError{Field: "points", Reason: "at least one point required"})
        return
    }
    for i, p := range req.Points {
        if err := p.Validate(); err != nil {
            writeError(w, r, "Invalid matrix request", &model.InputError{Field: fmt.Sprintf("points[%d]", i), Reason: err.Error()})
            return
        }
    }
    writeJSON(w, http.StatusOK, s.Matrix.Build(r.Context(), req.Points, req.Mode != opt.ModeStraight))
}

// ValidateHandler handles POST /v1/vrppd/validate. With routes it checks
// pairing across routes; with stops it checks a single route.
func (s *Server) ValidateHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Stops   []model.Stop         `json:"stops"`
        Routes  [][]model.Stop       `json:"routes"`
        Tickets []vrppd.PairedTicket `json:"tickets"`
    }
    if !decodeJSON(w, r, &req) {
        return
    }
    if len(req.Routes) > 0 {
        writeJSON(w, http.StatusOK, vrppd.ValidateAcrossRoutes(req.Routes, req.Tickets))
        return
    }
    writeJSON(w, http.StatusOK, vrppd.Validate(req.Stops))
}

// RepairHandler handles POST /v1/vrppd/repair
func (s *Server) RepairHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Stops         []model.Stop `json:"stops"`
        MaxIterations int          `json:"maxIterations"`
    }
    if !decodeJSON(w, r, &req) {
        return
    }
    res := vrppd.Repair(req.Stops, req.MaxIterations)
    writeJSON(w, http.StatusOK, map[string]any{"stops": req.Stops, "result": res})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check connectivity of networked caches and brokers
    type pinger interface{ Ping(ctx context.Context) error }
    for name, dep := range map[string]any{"cache": s.Cache, "broker": s.Broker} {
        p, ok := dep.(pinger)
        if !ok {
            continue
        }
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        err := p.Ping(ctx)
        cancel()
        if err != nil { writeProblem(w, 503, "Not Ready", name+": "+err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
