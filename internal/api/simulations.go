package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "fleetsim/internal/model"
)

const sseHeartbeat = 15 * time.Second

// SimulationsHandler handles POST /v1/simulations
func (s *Server) SimulationsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/simulations" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Fleet model.Fleet  `json:"fleet"`
        Stops []model.Stop `json:"stops"`
    }
    if !decodeJSON(w, r, &req) {
        return
    }
    e, err := s.Sessions.Create(r.Context(), req.Fleet, req.Stops)
    if err != nil {
        writeError(w, r, "Create simulation failed", err)
        return
    }
    w.Header().Set("Location", "/v1/simulations/"+e.ID())
    writeJSON(w, http.StatusCreated, e.Snapshot())
}

// SimulationByIDHandler handles /v1/simulations/{id} and its sub-resources:
// /tick, /tickets, /reoptimize, /events/stream and /ws.
func (s *Server) SimulationByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/simulations/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    parts := strings.Split(strings.Trim(rest, "/"), "/")
    id := parts[0]
    sub := strings.Join(parts[1:], "/")

    switch sub {
    case "":
        s.simulation(w, r, id)
    case "tick":
        s.tick(w, r, id)
    case "tickets":
        s.enqueue(w, r, id)
    case "reoptimize":
        s.reoptimize(w, r, id)
    case "events/stream":
        s.stream(w, r, id)
    case "ws":
        s.SimulationWSHandler(w, r, id)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
    }
}

func (s *Server) simulation(w http.ResponseWriter, r *http.Request, id string) {
    switch r.Method {
    case http.MethodGet:
        e, err := s.Sessions.Get(id)
        if err != nil { writeError(w, r, "Get simulation failed", err); return }
        writeJSON(w, http.StatusOK, e.Snapshot())
    case http.MethodDelete:
        if err := s.Sessions.Delete(id); err != nil { writeError(w, r, "Delete simulation failed", err); return }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Seconds float64 `json:"seconds"`
    }
    // an empty body means one second
    if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.Seconds < 0 {
        writeError(w, r, "Invalid tick", &model.InputError{Field: "seconds", Reason: "must be >= 0"})
        return
    }
    if req.Seconds == 0 {
        req.Seconds = 1
    }
    e, err := s.Sessions.Get(id)
    if err != nil { writeError(w, r, "Tick failed", err); return }
    writeJSON(w, http.StatusOK, e.Tick(time.Duration(req.Seconds*float64(time.Second))))
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Stop     model.Stop `json:"stop"`
        Priority int        `json:"priority"`
    }
    if !decodeJSON(w, r, &req) {
        return
    }
    t, err := s.Sessions.Enqueue(id, req.Stop, req.Priority)
    if err != nil { writeError(w, r, "Enqueue failed", err); return }
    writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) reoptimize(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    e, err := s.Sessions.Get(id)
    if err != nil { writeError(w, r, "Reoptimize failed", err); return }
    res, err := e.Reoptimize(r.Context())
    if err != nil { writeError(w, r, "Reoptimize failed", err); return }
    writeJSON(w, http.StatusOK, res)
}

// stream serves session events as server-sent events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if _, err := s.Sessions.Get(id); err != nil { writeError(w, r, "Stream failed", err); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"sessionId\":%q,\"ts\":%q}\n\n", id, time.Now().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    ticker := time.NewTicker(sseHeartbeat)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-ticker.C:
            heartbeat()
        }
    }
}
