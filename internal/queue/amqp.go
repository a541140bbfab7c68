// Package queue connects simulations to RabbitMQ: events go out on a topic
// exchange and ticket requests come in on a durable queue.
package queue

import (
	"fmt"
	"log"

	"github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange = "fleet_events"
	IntakeExchange = "fleet_intake"
	TicketsQueue   = "fleet_tickets"
	ticketsBinding = "ticket.*"
)

// Dial connects to the broker and declares the exchanges and queues used by
// the service.
func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	if err := setup(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Printf("queue: connected exchanges=%s,%s queue=%s", EventsExchange, IntakeExchange, TicketsQueue)
	return conn, nil
}

func setup(conn *amqp091.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	for _, name := range []string{EventsExchange, IntakeExchange} {
		err := ch.ExchangeDeclare(
			name,    // name
			"topic", // type
			true,    // durable
			false,   // auto-deleted
			false,   // internal
			false,   // no-wait
			nil,     // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	if _, err := ch.QueueDeclare(TicketsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", TicketsQueue, err)
	}
	if err := ch.QueueBind(TicketsQueue, ticketsBinding, IntakeExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", TicketsQueue, err)
	}
	return nil
}
