// Package api exposes route optimization and fleet simulation over HTTP.
package api

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "fleetsim/internal/config"
    "fleetsim/internal/matrix"
    "fleetsim/internal/metrics"
    "fleetsim/internal/opt"
    "fleetsim/internal/sim"
    "fleetsim/internal/store"
)

type Server struct {
    Optimizer *opt.Optimizer
    Matrix    *matrix.Service
    Sessions  *sim.Registry
    Broker    EventBroker
    Cache     store.Store
    Config    config.Config
}

// NewServer wires a Server over the given cache. The broker also serves as
// the sessions' event sink, together with any extra sinks.
func NewServer(cfg config.Config, road matrix.Road, cache store.Store, broker EventBroker, extra ...sim.EventSink) *Server {
    if broker == nil {
        broker = NewBroker()
    }
    ms := matrix.NewService(road, cache, matrix.Config{
        Timeout:     cfg.Matrix.Timeout,
        PairTimeout: cfg.Matrix.PairTimeout,
        Concurrency: cfg.Matrix.Concurrency,
    })
    o := opt.New(ms)
    sinks := append(sim.Sinks{broker}, extra...)
    reg := sim.NewRegistry(o, sim.Config{
        SegmentDuration: cfg.Sim.SegmentDuration,
        ServiceDuration: cfg.Sim.ServiceDuration,
        SpeedMultiplier: cfg.Sim.Speed,
        ReoptThreshold:  cfg.Sim.ReoptThreshold,
        StrictCapacity:  cfg.Sim.StrictCapacity,
        Mode:            opt.Mode(cfg.Sim.Mode),
    }, sinks)
    reg.Interval = cfg.Sim.Tick
    return &Server{Optimizer: o, Matrix: ms, Sessions: reg, Broker: broker, Cache: cache, Config: cfg}
}

// Routes returns the service mux wrapped in request logging.
func (s *Server) Routes() http.Handler {
    mux := http.NewServeMux()

    // Optimization
    mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
    mux.HandleFunc("/v1/optimize/fleet", s.FleetOptimizeHandler)
    mux.HandleFunc("/v1/matrix", s.MatrixHandler)

    // Constraints
    mux.HandleFunc("/v1/vrppd/validate", s.ValidateHandler)
    mux.HandleFunc("/v1/vrppd/repair", s.RepairHandler)

    // Simulations
    mux.HandleFunc("/v1/simulations", s.SimulationsHandler)
    mux.HandleFunc("/v1/simulations/", s.SimulationByIDHandler) // includes /tick, /tickets, /reoptimize, /events/stream, /ws

    // Health, metrics, debug
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    mux.HandleFunc("/debug/info", s.DebugJSON)

    return logMiddleware(mux)
}

// Close stops background simulation loops.
func (s *Server) Close() {
    s.Sessions.Close()
}
