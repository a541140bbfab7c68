package webhooks

import (
	"sync"
	"time"
)

// Delivery is one pending POST of an event payload to a subscriber.
type Delivery struct {
	ID            string
	URL           string
	Secret        string
	EventType     string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	LastCode      int
}

// Outbox holds deliveries until the worker sends them. It is bounded; new
// deliveries are dropped when it is full.
type Outbox struct {
	mu      sync.Mutex
	items   map[string]*Delivery
	max     int
	dropped int
}

func NewOutbox(max int) *Outbox {
	if max <= 0 {
		max = 1000
	}
	return &Outbox{items: map[string]*Delivery{}, max: max}
}

// Enqueue adds d, reporting false when the outbox is full.
func (o *Outbox) Enqueue(d Delivery) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) >= o.max {
		o.dropped++
		return false
	}
	o.items[d.ID] = &d
	return true
}

// Due returns up to limit deliveries whose next attempt is not after now.
func (o *Outbox) Due(now time.Time, limit int) []Delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Delivery
	for _, d := range o.items {
		if len(out) == limit {
			break
		}
		if !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	return out
}

// Mark records an attempt. Successful deliveries leave the outbox; failed
// ones are rescheduled at next.
func (o *Outbox) Mark(id string, success bool, next time.Time, lastErr string, code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.items[id]
	if !ok {
		return
	}
	if success {
		delete(o.items, id)
		return
	}
	d.Attempts++
	d.NextAttemptAt = next
	d.LastError = lastErr
	d.LastCode = code
}

// Fail drops a delivery that ran out of attempts.
func (o *Outbox) Fail(id string) {
	o.mu.Lock()
	delete(o.items, id)
	o.mu.Unlock()
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
