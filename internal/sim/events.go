package sim

const (
	EventVehicleStatus  = "vehicle.status"
	EventStopCompleted  = "stop.completed"
	EventTicketQueued   = "ticket.queued"
	EventTicketRejected = "ticket.rejected"
	EventReoptApplied   = "reopt.applied"
	EventReoptStale     = "reopt.stale"
	EventTick           = "simulation.tick"
	EventCompleted      = "simulation.completed"
)

// Event is a simulation update delivered to subscribers of a session.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventSink receives session events. Publish must not block for long.
type EventSink interface {
	Publish(sessionID string, evt Event)
}

// Sinks fans events out to several sinks.
type Sinks []EventSink

func (s Sinks) Publish(sessionID string, evt Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(sessionID, evt)
		}
	}
}

type discard struct{}

func (discard) Publish(string, Event) {}
