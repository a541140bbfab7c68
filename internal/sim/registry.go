package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetsim/internal/metrics"
	"fleetsim/internal/model"
	"fleetsim/internal/opt"
)

var ErrNotFound = errors.New("sim: session not found")

// Registry owns the live simulation sessions.
type Registry struct {
	optimizer FleetOptimizer
	cfg       Config
	sink      EventSink
	// Interval > 0 starts a background Run loop for each new session.
	Interval time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistry(optimizer FleetOptimizer, cfg Config, sink EventSink) *Registry {
	if sink == nil {
		sink = discard{}
	}
	return &Registry{optimizer: optimizer, cfg: cfg.withDefaults(), sink: sink, sessions: map[string]*session{}}
}

// Create plans the initial stops over the fleet and starts a session.
// With no stops every vehicle starts idle at the depot.
func (r *Registry) Create(ctx context.Context, fleet model.Fleet, stops []model.Stop) (*Engine, error) {
	if err := model.ValidateFleet(fleet); err != nil {
		return nil, err
	}
	var plan *model.FleetSolution
	if len(stops) > 0 {
		var err error
		plan, err = r.optimizer.OptimizeFleet(ctx, stops, fleet, opt.FleetOptions{Mode: r.cfg.Mode, StrictCapacity: r.cfg.StrictCapacity})
		if err != nil {
			return nil, err
		}
	}
	id := uuid.New().String()
	e := NewEngine(id, fleet, plan, r.optimizer, r.cfg, r.sink)
	s := &session{engine: e}
	if r.Interval > 0 {
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go func() {
			defer close(s.done)
			e.Run(runCtx, r.Interval)
		}()
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return e, nil
}

func (r *Registry) Get(id string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.engine, nil
}

// Enqueue adds a ticket to the named session.
func (r *Registry) Enqueue(id string, stop model.Stop, priority int) (Ticket, error) {
	e, err := r.Get(id)
	if err != nil {
		return Ticket{}, err
	}
	return e.Enqueue(stop, priority)
}

// Delete stops and forgets a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.stop()
	metrics.SimQueueLength.DeleteLabelValues(id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops every background loop.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*session{}
	r.mu.Unlock()
	for _, s := range sessions {
		s.stop()
	}
}

func (s *session) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
