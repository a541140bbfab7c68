package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/rabbitmq/amqp091-go"

	"fleetsim/internal/model"
	"fleetsim/internal/sim"
)

// Enqueuer is satisfied by *sim.Registry.
type Enqueuer interface {
	Enqueue(sessionID string, stop model.Stop, priority int) (sim.Ticket, error)
}

// TicketMessage is the body of a ticket request on the tickets queue.
type TicketMessage struct {
	SimulationID string     `json:"simulationId"`
	Stop         model.Stop `json:"stop"`
	Priority     int        `json:"priority"`
}

var errMalformed = errors.New("malformed ticket message")

// TicketConsumer feeds ticket requests from the tickets queue into live
// simulations.
type TicketConsumer struct {
	ch     *amqp091.Channel
	queue  string
	target Enqueuer
}

func NewTicketConsumer(conn *amqp091.Connection, target Enqueuer) (*TicketConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &TicketConsumer{ch: ch, queue: TicketsQueue, target: target}, nil
}

// Run consumes until ctx is cancelled or the channel closes. Messages that
// cannot be decoded or enqueued are rejected without requeue.
func (c *TicketConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.queue, "fleetsim-tickets", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("tickets channel closed")
			}
			if err := c.handle(d.Body); err != nil {
				log.Printf("queue: reject ticket msg_id=%s err=%v", d.MessageId, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *TicketConsumer) handle(body []byte) error {
	msg, err := decodeTicket(body)
	if err != nil {
		return err
	}
	t, err := c.target.Enqueue(msg.SimulationID, msg.Stop, msg.Priority)
	if err != nil {
		return fmt.Errorf("enqueue into %s: %w", msg.SimulationID, err)
	}
	log.Printf("queue: ticket queued session=%s ticket=%s stop=%s", msg.SimulationID, t.ID, t.Stop.ID)
	return nil
}

func decodeTicket(body []byte) (TicketMessage, error) {
	var msg TicketMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if msg.SimulationID == "" {
		return msg, fmt.Errorf("%w: simulationId required", errMalformed)
	}
	return msg, nil
}

func (c *TicketConsumer) Close() error { return c.ch.Close() }
