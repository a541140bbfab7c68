// Package sim runs a time-stepped simulation of a delivery fleet working
// through its routes, with a ticket queue and re-optimization over idle
// vehicles.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetsim/internal/geo"
	"fleetsim/internal/metrics"
	"fleetsim/internal/model"
	"fleetsim/internal/opt"
	"fleetsim/internal/vrppd"
)

var (
	ErrStaleReoptimization = errors.New("sim: eligible vehicles changed during re-optimization")
	ErrNoEligibleVehicles  = errors.New("sim: no idle or completed vehicles")
	ErrEmptyQueue          = errors.New("sim: ticket queue is empty")
)

// FleetOptimizer is satisfied by *opt.Optimizer.
type FleetOptimizer interface {
	OptimizeFleet(ctx context.Context, stops []model.Stop, fleet model.Fleet, opts opt.FleetOptions) (*model.FleetSolution, error)
}

type Config struct {
	// SegmentDuration is the simulated travel time between consecutive stops.
	SegmentDuration time.Duration `yaml:"segment_duration"`
	// ServiceDuration is the simulated time spent at each stop.
	ServiceDuration time.Duration `yaml:"service_duration"`
	SpeedMultiplier float64       `yaml:"speed_multiplier"`
	// ReoptThreshold is the queue length that triggers re-optimization.
	ReoptThreshold   int      `yaml:"reopt_threshold"`
	ArrivalThreshold float64  `yaml:"arrival_threshold"`
	StrictCapacity   bool     `yaml:"strict_capacity"`
	Mode             opt.Mode `yaml:"mode"`
}

func (c Config) withDefaults() Config {
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = 30 * time.Second
	}
	if c.ServiceDuration <= 0 {
		c.ServiceDuration = 10 * time.Second
	}
	if c.SpeedMultiplier <= 0 {
		c.SpeedMultiplier = 1
	}
	if c.ReoptThreshold <= 0 {
		c.ReoptThreshold = 3
	}
	if c.ArrivalThreshold <= 0 || c.ArrivalThreshold > 1 {
		c.ArrivalThreshold = 0.95
	}
	if c.Mode == "" {
		c.Mode = opt.ModeRoad
	}
	return c
}

// Ticket is a stop waiting in the queue for assignment.
type Ticket struct {
	ID        string        `json:"id"`
	Stop      model.Stop    `json:"stop"`
	ArrivedAt time.Duration `json:"arrivedAt"`
	Priority  int           `json:"priority"`
	Reason    string        `json:"reason,omitempty"`
}

// ReoptResult summarizes an applied re-optimization.
type ReoptResult struct {
	Version     uint64              `json:"version"`
	Assigned    map[string][]string `json:"assigned"` // vehicle id -> ticket ids
	StillQueued int                 `json:"stillQueued"`
	Rejected    []Ticket            `json:"rejected"`
	// Solution is the optimizer's plan as proposed; Assigned and Rejected
	// report what was applied from it.
	Solution *model.FleetSolution `json:"solution"`
}

// State is a consistent copy of the engine for readers.
type State struct {
	SessionID string        `json:"sessionId"`
	Clock     time.Duration `json:"clock"`
	Version   uint64        `json:"version"`
	Vehicles  []Vehicle     `json:"vehicles"`
	Queue     []Ticket      `json:"queue"`
	Rejected  []Ticket      `json:"rejected"`
	Done      bool          `json:"done"`
}

type Engine struct {
	id        string
	cfg       Config
	fleet     model.Fleet
	optimizer FleetOptimizer
	sink      EventSink

	mu       sync.Mutex
	clock    time.Duration
	version  uint64
	vehicles []*Vehicle
	queue    []Ticket
	rejected []Ticket
	done     bool
}

// NewEngine seeds a simulation from an initial plan. Each vehicle starts on
// its first planned route; further routes for the same vehicle go to the
// queue as tickets.
func NewEngine(id string, fleet model.Fleet, plan *model.FleetSolution, optimizer FleetOptimizer, cfg Config, sink EventSink) *Engine {
	if sink == nil {
		sink = discard{}
	}
	e := &Engine{id: id, cfg: cfg.withDefaults(), fleet: fleet, optimizer: optimizer, sink: sink}
	byID := map[string]*Vehicle{}
	for _, mv := range fleet.Vehicles {
		v := &Vehicle{Vehicle: mv, Status: StatusIdle, Position: fleet.Depot.Location, from: fleet.Depot.Location}
		e.vehicles = append(e.vehicles, v)
		byID[mv.ID] = v
	}
	if plan != nil {
		for i := range plan.Routes {
			r := plan.Routes[i]
			if r.IsEmpty || len(r.Stops) == 0 {
				continue
			}
			v, ok := byID[r.VehicleID]
			if ok && v.Route == nil {
				v.assign(&r, fleet.Depot.Location)
				continue
			}
			for _, s := range r.Stops {
				e.queue = append(e.queue, newTicket(s, 0, 0))
			}
		}
		for _, s := range plan.UnassignedStops {
			e.queue = append(e.queue, newTicket(s, 0, 0))
		}
	}
	metrics.SimQueueLength.WithLabelValues(id).Set(float64(len(e.queue)))
	return e
}

func (e *Engine) ID() string { return e.id }

func newTicket(s model.Stop, at time.Duration, priority int) Ticket {
	id := uuid.New().String()
	if s.ID == "" {
		s.ID = id
	}
	s.Sequence = 0
	return Ticket{ID: id, Stop: s, ArrivedAt: at, Priority: priority}
}

// Tick advances the simulation by dt of wall time, scaled by the speed
// multiplier. Vehicles are stepped in parallel.
func (e *Engine) Tick(dt time.Duration) State {
	e.mu.Lock()
	scaled := time.Duration(float64(dt) * e.cfg.SpeedMultiplier)
	e.clock += scaled
	now := e.clock
	depot := e.fleet.Depot.Location

	before := make([]bool, len(e.vehicles))
	produced := make([][]Event, len(e.vehicles))
	var wg sync.WaitGroup
	for i, v := range e.vehicles {
		i, v := i, v
		before[i] = v.Status.Eligible()
		wg.Add(1)
		go func() {
			defer wg.Done()
			produced[i] = v.step(scaled, now, e.cfg, depot)
		}()
	}
	wg.Wait()

	for i, v := range e.vehicles {
		if v.Status.Eligible() != before[i] {
			e.version++
			break
		}
	}
	var events []Event
	for _, evs := range produced {
		events = append(events, evs...)
	}
	if !e.done && e.allDoneLocked() {
		e.done = true
		events = append(events, Event{Type: EventCompleted, Data: map[string]any{"clock": now.Seconds()}})
	}
	events = append(events, Event{Type: EventTick, Data: map[string]any{"clock": now.Seconds(), "queue": len(e.queue)}})
	st := e.snapshotLocked()
	e.mu.Unlock()

	metrics.SimTicks.Inc()
	e.publish(events)
	return st
}

// allDoneLocked reports whether no vehicle has work and nothing is queued.
func (e *Engine) allDoneLocked() bool {
	if len(e.queue) > 0 {
		return false
	}
	for _, v := range e.vehicles {
		if !v.Status.Eligible() {
			return false
		}
	}
	return true
}

// Enqueue adds a stop to the ticket queue.
func (e *Engine) Enqueue(stop model.Stop, priority int) (Ticket, error) {
	if err := model.ValidateStops([]model.Stop{stop}); err != nil {
		return Ticket{}, err
	}
	e.mu.Lock()
	if stop.ID != "" {
		for _, t := range e.queue {
			if t.Stop.ID == stop.ID {
				e.mu.Unlock()
				return Ticket{}, &model.InputError{Field: "stop.id", Reason: fmt.Sprintf("stop %s already queued", stop.ID)}
			}
		}
	}
	t := newTicket(stop, e.clock, priority)
	e.queue = append(e.queue, t)
	e.done = false
	n := len(e.queue)
	e.mu.Unlock()

	metrics.SimQueueLength.WithLabelValues(e.id).Set(float64(n))
	e.publish([]Event{{Type: EventTicketQueued, Data: map[string]any{"ticketId": t.ID, "stopId": t.Stop.ID, "queue": n}}})
	return t, nil
}

// ShouldReoptimize reports whether the queue has reached the threshold and
// at least one vehicle can take work.
func (e *Engine) ShouldReoptimize() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) < e.cfg.ReoptThreshold {
		return false
	}
	for _, v := range e.vehicles {
		if v.Status.Eligible() {
			return true
		}
	}
	return false
}

// Reoptimize plans the queued tickets over the idle and completed vehicles
// only. The optimizer runs without the engine lock; the result is applied
// only if the set of eligible vehicles did not change meanwhile.
func (e *Engine) Reoptimize(ctx context.Context) (ReoptResult, error) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		metrics.SimReoptimizations.WithLabelValues("empty").Inc()
		return ReoptResult{}, ErrEmptyQueue
	}
	sub := model.Fleet{Depot: e.fleet.Depot, ReturnToDepot: e.fleet.ReturnToDepot}
	for _, v := range e.vehicles {
		if v.Status.Eligible() {
			sub.Vehicles = append(sub.Vehicles, v.Vehicle)
		}
	}
	if len(sub.Vehicles) == 0 {
		e.mu.Unlock()
		metrics.SimReoptimizations.WithLabelValues("no_vehicles").Inc()
		return ReoptResult{}, ErrNoEligibleVehicles
	}
	version := e.version
	tickets := append([]Ticket(nil), e.queue...)
	e.mu.Unlock()

	stops := make([]model.Stop, len(tickets))
	for i, t := range tickets {
		stops[i] = t.Stop
	}
	sol, err := e.optimizer.OptimizeFleet(ctx, stops, sub, opt.FleetOptions{Mode: e.cfg.Mode, StrictCapacity: e.cfg.StrictCapacity})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		metrics.SimReoptimizations.WithLabelValues("error").Inc()
		return ReoptResult{}, fmt.Errorf("reoptimize session %s: %w", e.id, err)
	}

	e.mu.Lock()
	if e.version != version {
		e.mu.Unlock()
		metrics.SimReoptimizations.WithLabelValues("stale").Inc()
		e.publish([]Event{{Type: EventReoptStale, Data: map[string]any{"version": version}}})
		return ReoptResult{}, ErrStaleReoptimization
	}
	res, events := e.applyLocked(sol, tickets)
	st := len(e.queue)
	e.mu.Unlock()

	metrics.SimReoptimizations.WithLabelValues("applied").Inc()
	metrics.SimQueueLength.WithLabelValues(e.id).Set(float64(st))
	e.publish(events)
	return res, nil
}

// applyLocked assigns planned routes to their vehicles and removes routed
// tickets from the queue. Only the first route planned for each vehicle is
// dispatched; stops on later routes stay queued. Caller holds e.mu.
func (e *Engine) applyLocked(sol *model.FleetSolution, tickets []Ticket) (ReoptResult, []Event) {
	ticketOf := make(map[string]Ticket, len(tickets))
	for _, t := range tickets {
		ticketOf[t.Stop.ID] = t
	}
	byID := map[string]*Vehicle{}
	for _, v := range e.vehicles {
		byID[v.ID] = v
	}

	res := ReoptResult{Assigned: map[string][]string{}, Rejected: []Ticket{}, Solution: cloneSolution(sol)}
	var plans []*model.VehicleRoute
	planned := map[string]bool{}
	for i := range sol.Routes {
		r := sol.Routes[i]
		if r.IsEmpty || len(r.Stops) == 0 {
			continue
		}
		v, ok := byID[r.VehicleID]
		if !ok || !v.Status.Eligible() || planned[v.ID] {
			continue
		}
		planned[v.ID] = true
		r.Stops = append([]model.Stop(nil), r.Stops...)
		r.Capacity = v.Capacity
		plans = append(plans, &r)
	}
	reunitePairs(plans, ticketOf)

	removed := map[string]bool{}
	var events []Event
	for _, r := range plans {
		if len(r.Stops) == 0 {
			continue
		}
		v := byID[r.VehicleID]
		if vrppd.HasConstraints(r.Stops) {
			rep := vrppd.Repair(r.Stops, vrppd.MaxRepairIterations)
			if !rep.Success {
				bad, held := map[string]bool{}, map[string]bool{}
				for _, viol := range rep.Remaining {
					if _, queued := ticketOf[viol.PairedStopID]; viol.Type == vrppd.ViolationMissingPair && queued {
						held[viol.StopID] = true
						continue
					}
					bad[viol.StopID] = true
					if viol.PairedStopID != "" {
						bad[viol.PairedStopID] = true
					}
				}
				kept := make([]model.Stop, 0, len(r.Stops))
				for _, s := range r.Stops {
					switch {
					case bad[s.ID]:
						t := ticketOf[s.ID]
						t.Reason = string(rep.Outcome)
						res.Rejected = append(res.Rejected, t)
						e.rejected = append(e.rejected, t)
						removed[t.ID] = true
						events = append(events, Event{Type: EventTicketRejected, Data: map[string]any{"ticketId": t.ID, "stopId": s.ID, "reason": t.Reason}})
					case held[s.ID]:
						// waits in the queue with its partner
					default:
						kept = append(kept, s)
					}
				}
				r.Stops = kept
				if len(r.Stops) == 0 {
					continue
				}
			}
		}
		for n := range r.Stops {
			r.Stops[n].Sequence = n + 1
			t := ticketOf[r.Stops[n].ID]
			removed[t.ID] = true
			res.Assigned[v.ID] = append(res.Assigned[v.ID], t.ID)
		}
		v.assign(r, e.fleet.Depot.Location)
		events = append(events, v.event(EventVehicleStatus, map[string]any{"stops": len(r.Stops)}))
	}

	if len(removed) > 0 {
		kept := e.queue[:0]
		for _, t := range e.queue {
			if !removed[t.ID] {
				kept = append(kept, t)
			}
		}
		e.queue = kept
		e.version++
		e.done = false
	}
	res.Version = e.version
	res.StillQueued = len(e.queue)
	events = append(events, Event{Type: EventReoptApplied, Data: map[string]any{
		"version": res.Version, "assigned": len(res.Assigned), "queue": res.StillQueued, "rejected": len(res.Rejected),
	}})
	return res, events
}

// reunitePairs moves the queued partner of every paired stop on a plan into
// that plan, pickup before dropoff. A partner is left where it is when the
// move would overload the receiving vehicle.
func reunitePairs(plans []*model.VehicleRoute, queued map[string]Ticket) {
	partner := map[string]string{}
	for id, t := range queued {
		if t.Stop.PairedStopID == "" {
			continue
		}
		switch t.Stop.Kind() {
		case model.StopPickup, model.StopDropoff:
			partner[id] = t.Stop.PairedStopID
			if _, ok := partner[t.Stop.PairedStopID]; !ok {
				partner[t.Stop.PairedStopID] = id
			}
		case model.StopDelivery:
		}
	}
	if len(partner) == 0 {
		return
	}
	where := map[string]*model.VehicleRoute{}
	for _, p := range plans {
		for _, s := range p.Stops {
			where[s.ID] = p
		}
	}
	for _, p := range plans {
		for i := 0; i < len(p.Stops); i++ {
			s := p.Stops[i]
			pid, ok := partner[s.ID]
			if !ok || where[pid] == p {
				continue
			}
			t, ok := queued[pid]
			if !ok {
				continue
			}
			if p.Capacity > 0 && packages(p.Stops)+t.Stop.Packages() > p.Capacity {
				continue
			}
			if from := where[pid]; from != nil {
				from.Stops = withoutStop(from.Stops, pid)
			}
			at := i + 1
			if s.Kind() == model.StopDropoff {
				at = i
				i++
			}
			p.Stops = append(p.Stops[:at], append([]model.Stop{t.Stop}, p.Stops[at:]...)...)
			where[pid] = p
		}
	}
}

func packages(stops []model.Stop) int {
	n := 0
	for _, s := range stops {
		n += s.Packages()
	}
	return n
}

func withoutStop(stops []model.Stop, id string) []model.Stop {
	out := make([]model.Stop, 0, len(stops))
	for _, s := range stops {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func cloneSolution(sol *model.FleetSolution) *model.FleetSolution {
	if sol == nil {
		return nil
	}
	c := *sol
	c.Routes = make([]model.VehicleRoute, len(sol.Routes))
	for i, r := range sol.Routes {
		r.Stops = append([]model.Stop(nil), r.Stops...)
		r.Geometry = append([]geo.Coordinate(nil), r.Geometry...)
		c.Routes[i] = r
	}
	c.UnassignedStops = append([]model.Stop(nil), sol.UnassignedStops...)
	return &c
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() State {
	st := State{
		SessionID: e.id,
		Clock:     e.clock,
		Version:   e.version,
		Vehicles:  make([]Vehicle, len(e.vehicles)),
		Queue:     append([]Ticket{}, e.queue...),
		Rejected:  append([]Ticket{}, e.rejected...),
		Done:      e.done,
	}
	for i, v := range e.vehicles {
		st.Vehicles[i] = *v
	}
	return st
}

// Run ticks the engine every interval until ctx is cancelled, running
// re-optimization between ticks when the queue threshold is met.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(interval)
			if !e.ShouldReoptimize() {
				continue
			}
			if _, err := e.Reoptimize(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("sim: session=%s reoptimize err=%v", e.id, err)
			}
		}
	}
}

func (e *Engine) publish(events []Event) {
	for _, evt := range events {
		e.sink.Publish(e.id, evt)
	}
}
