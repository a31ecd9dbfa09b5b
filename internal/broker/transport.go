// Package broker carries events between services: a Transport abstracts the
// topic-exchange broker, Publisher emits envelopes and Consumer dispatches
// deliveries to registered handlers.
package broker

import (
	"context"
	"time"
)

const (
	// HeaderRoutingKey preserves the original routing key when a message is
	// sent straight to a queue.
	HeaderRoutingKey = "x-routing-key"
	// HeaderTargetQueue restricts a message on a shared topic to one queue.
	HeaderTargetQueue = "x-target-queue"
)

// Message is a broker-level message. Headers carry trace context and
// transport routing hints.
type Message struct {
	Body        []byte
	ContentType string
	MessageID   string
	Headers     map[string]string
	Persistent  bool
	Timestamp   time.Time
}

// Acknowledger settles a delivery. Exactly one of Ack or Nack takes effect.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

type Delivery struct {
	Message
	RoutingKey  string
	Queue       string
	Redelivered bool

	ack Acknowledger
}

func NewDelivery(msg Message, queue, routingKey string, redelivered bool, ack Acknowledger) Delivery {
	return Delivery{Message: msg, RoutingKey: routingKey, Queue: queue, Redelivered: redelivered, ack: ack}
}

func (d Delivery) Ack() error {
	return d.ack.Ack()
}

func (d Delivery) Nack(requeue bool) error {
	return d.ack.Nack(requeue)
}

// Transport is the AMQP-shaped contract every broker implementation meets.
//
// Exchanges are durable topic exchanges. Queues are durable and bound once
// per pattern. Consume delivers at most prefetch unsettled deliveries at a
// time and closes the channel when ctx ends or the transport closes.
type Transport interface {
	Connect(ctx context.Context) error
	DeclareExchange(ctx context.Context, exchange string) error
	DeclareQueue(ctx context.Context, exchange, queue string, patterns []string) error
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
	// PublishToQueue delivers straight to one queue, bypassing bindings. Used
	// for retries and dead letters.
	PublishToQueue(ctx context.Context, queue, routingKey string, msg Message) error
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	Close() error
}
