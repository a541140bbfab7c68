package queue

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"fleetsim/internal/sim"
)

// Publisher forwards simulation events to the events exchange. It
// implements sim.EventSink.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp091.Channel
	exchange string
	timeout  time.Duration
}

func NewPublisher(conn *amqp091.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch, exchange: EventsExchange, timeout: 2 * time.Second}, nil
}

// RoutingKey is sim.<session>.<event type>.
func RoutingKey(sessionID, eventType string) string {
	return "sim." + sessionID + "." + eventType
}

type envelope struct {
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func (p *Publisher) Publish(sessionID string, evt sim.Event) {
	body, err := json.Marshal(envelope{SessionID: sessionID, Type: evt.Type, Data: evt.Data, Timestamp: time.Now().UTC()})
	if err != nil {
		log.Printf("queue: marshal event session=%s type=%s err=%v", sessionID, evt.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(sessionID, evt.Type), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		log.Printf("queue: publish session=%s type=%s err=%v", sessionID, evt.Type, err)
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
