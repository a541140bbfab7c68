package api

import (
    "sync"

    "fleetsim/internal/sim"
)

// SSEEvent is the event shape streamed to SSE and websocket clients.
type SSEEvent = sim.Event

// EventBroker fans session events out to subscribers. Implementations
// satisfy sim.EventSink.
type EventBroker interface {
    Subscribe(sessionID string) chan SSEEvent
    Unsubscribe(sessionID string, ch chan SSEEvent)
    Publish(sessionID string, evt SSEEvent)
}

type Broker struct {
    mu      sync.Mutex
    subs    map[string]map[chan SSEEvent]struct{} // sessionId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(sessionID string) chan SSEEvent {
    ch := make(chan SSEEvent, 32)
    b.mu.Lock()
    if b.subs[sessionID] == nil { b.subs[sessionID] = map[chan SSEEvent]struct{}{} }
    b.subs[sessionID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(sessionID string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[sessionID]
    if _, ok := m[ch]; !ok {
        return
    }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, sessionID) }
    close(ch)
}

// Publish drops the event for subscribers whose buffer is full.
func (b *Broker) Publish(sessionID string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[sessionID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
