package webhooks

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetsim/internal/sim"
)

// Subscription sends events whose type starts with one of Events (all
// events when empty) to URL.
type Subscription struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

func (s Subscription) wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, prefix := range s.Events {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

// Publisher turns simulation events into webhook deliveries. It implements
// sim.EventSink.
type Publisher struct {
	Outbox *Outbox
	Subs   []Subscription
}

func NewPublisher(outbox *Outbox, subs []Subscription) *Publisher {
	return &Publisher{Outbox: outbox, Subs: subs}
}

func (p *Publisher) Publish(sessionID string, evt sim.Event) {
	if evt.Type == sim.EventTick {
		return
	}
	var body []byte
	for _, s := range p.Subs {
		if !s.wants(evt.Type) {
			continue
		}
		if body == nil {
			payload := map[string]any{
				"id":        fmt.Sprintf("evt_%d", time.Now().UnixNano()),
				"type":      evt.Type,
				"sessionId": sessionID,
				"ts":        time.Now().UTC().Format(time.RFC3339),
				"data":      evt.Data,
			}
			var err error
			if body, err = json.Marshal(payload); err != nil {
				log.Printf("webhooks: marshal type=%s err=%v", evt.Type, err)
				return
			}
		}
		d := Delivery{ID: uuid.New().String(), URL: s.URL, Secret: s.Secret, EventType: evt.Type, Payload: body}
		if !p.Outbox.Enqueue(d) {
			log.Printf("webhooks: outbox full, dropped type=%s url=%s", evt.Type, s.URL)
		}
	}
}
