package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"logistics/internal/logger"
	apperrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
	"logistics/pkg/retry"
)

const exchangeKindTopic = "topic"

type queueDecl struct {
	exchange string
	patterns []string
}

// RabbitMQTransport speaks AMQP 0-9-1. It remembers the declared topology
// and replays it after the connection is re-established.
type RabbitMQTransport struct {
	url       string
	logger    logger.Logger
	reconnect retry.Policy

	mu        sync.RWMutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	ready     chan struct{}
	exchanges []string
	queues    map[string]queueDecl

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewRabbitMQTransport(url string, reconnect retry.Policy, log logger.Logger) *RabbitMQTransport {
	return &RabbitMQTransport{
		url:       url,
		logger:    log,
		reconnect: reconnect,
		ready:     make(chan struct{}),
		queues:    make(map[string]queueDecl),
		closed:    make(chan struct{}),
	}
}

func (t *RabbitMQTransport) Connect(ctx context.Context) error {
	t.mu.RLock()
	connected := t.conn != nil && !t.conn.IsClosed()
	t.mu.RUnlock()
	if connected {
		return nil
	}
	return t.dial()
}

func (t *RabbitMQTransport) dial() error {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return apperrors.ErrConnection.WithCause(err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return apperrors.ErrConnection.WithCause(fmt.Errorf("failed to open channel: %w", err))
	}
	if err := pubCh.Confirm(false); err != nil {
		conn.Close()
		return apperrors.ErrConnection.WithCause(fmt.Errorf("failed to enable publisher confirms: %w", err))
	}

	if err := t.redeclare(pubCh); err != nil {
		conn.Close()
		return apperrors.ErrConnection.WithCause(err)
	}

	t.mu.Lock()
	t.conn = conn
	t.pubCh = pubCh
	select {
	case <-t.ready:
	default:
		close(t.ready)
	}
	t.mu.Unlock()

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	t.wg.Add(1)
	go t.watch(notify)

	return nil
}

// redeclare replays remembered topology on a fresh connection.
func (t *RabbitMQTransport) redeclare(ch *amqp.Channel) error {
	t.mu.RLock()
	exchanges := append([]string(nil), t.exchanges...)
	queues := make(map[string]queueDecl, len(t.queues))
	for k, v := range t.queues {
		queues[k] = v
	}
	t.mu.RUnlock()

	for _, ex := range exchanges {
		if err := declareExchange(ch, ex); err != nil {
			return err
		}
	}
	for q, decl := range queues {
		if err := declareQueue(ch, decl.exchange, q, decl.patterns); err != nil {
			return err
		}
	}
	return nil
}

func (t *RabbitMQTransport) watch(notify <-chan *amqp.Error) {
	defer t.wg.Done()

	select {
	case <-t.closed:
		return
	case amqpErr, ok := <-notify:
		if !ok || amqpErr == nil {
			return
		}
		t.logger.Warnw("RabbitMQ connection lost, reconnecting",
			"error", amqpErr.Error(),
		)
	}

	t.mu.Lock()
	t.conn = nil
	t.pubCh = nil
	t.ready = make(chan struct{})
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := t.reconnect
	policy.MaxAttempts = int(^uint32(0) >> 1)
	err := retry.RetryWithCallback(ctx, policy, t.dial, func(attempt int, err error, next time.Duration) {
		t.logger.Warnw("RabbitMQ reconnect attempt failed",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		return
	}

	metrics.BrokerReconnectsTotal.WithLabelValues("rabbitmq").Inc()
	t.logger.Infow("RabbitMQ connection restored")
}

func (t *RabbitMQTransport) channel() (*amqp.Channel, error) {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, apperrors.ErrNotConnected
	}
	return conn.Channel()
}

// withChannel runs fn on a short-lived channel; a failed declaration closes
// the channel server side and must not poison the publishing channel.
func (t *RabbitMQTransport) withChannel(fn func(ch *amqp.Channel) error) error {
	ch, err := t.channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return fn(ch)
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

func declareQueue(ch *amqp.Channel, exchange, queue string, patterns []string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if exchange == "" {
		return nil
	}
	for _, p := range patterns {
		if err := ch.QueueBind(queue, p, exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s with %s: %w", queue, exchange, p, err)
		}
	}
	return nil
}

func (t *RabbitMQTransport) DeclareExchange(ctx context.Context, exchange string) error {
	if err := t.withChannel(func(ch *amqp.Channel) error {
		return declareExchange(ch, exchange)
	}); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ex := range t.exchanges {
		if ex == exchange {
			return nil
		}
	}
	t.exchanges = append(t.exchanges, exchange)
	return nil
}

func (t *RabbitMQTransport) DeclareQueue(ctx context.Context, exchange, queue string, patterns []string) error {
	if err := t.withChannel(func(ch *amqp.Channel) error {
		return declareQueue(ch, exchange, queue, patterns)
	}); err != nil {
		return err
	}

	t.mu.Lock()
	t.queues[queue] = queueDecl{exchange: exchange, patterns: append([]string(nil), patterns...)}
	t.mu.Unlock()
	return nil
}

func (t *RabbitMQTransport) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	return t.publish(ctx, exchange, routingKey, msg)
}

// PublishToQueue goes through the default exchange, which routes by queue name.
func (t *RabbitMQTransport) PublishToQueue(ctx context.Context, queue, routingKey string, msg Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string, 1)
	}
	msg.Headers[HeaderRoutingKey] = routingKey
	return t.publish(ctx, "", queue, msg)
}

func (t *RabbitMQTransport) publish(ctx context.Context, exchange, key string, msg Message) error {
	t.mu.RLock()
	ch := t.pubCh
	t.mu.RUnlock()
	if ch == nil {
		return apperrors.ErrNotConnected
	}

	pub := amqp.Publishing{
		ContentType:  msg.ContentType,
		MessageId:    msg.MessageID,
		Timestamp:    msg.Timestamp,
		Body:         msg.Body,
		DeliveryMode: amqp.Transient,
	}
	if msg.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	if len(msg.Headers) > 0 {
		pub.Headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			pub.Headers[k] = v
		}
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, pub)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	if conf == nil {
		return nil
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected %s", key)
	}
	return nil
}

func (t *RabbitMQTransport) readyChan() chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

func (t *RabbitMQTransport) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, deliveries, err := t.subscribe(queue, prefetch)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)

		for {
			t.forward(ctx, queue, deliveries, out)
			ch.Close()

			// Resubscribe once the connection is back.
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.closed:
					return
				case <-t.readyChan():
				}
				ch, deliveries, err = t.subscribe(queue, prefetch)
				if err == nil {
					break
				}
				t.logger.Warnw("Failed to resubscribe", "queue", queue, "error", err)
				select {
				case <-time.After(t.reconnect.Delay(1)):
				case <-ctx.Done():
					return
				case <-t.closed:
					return
				}
			}
		}
	}()

	return out, nil
}

func (t *RabbitMQTransport) subscribe(queue string, prefetch int) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := t.channel()
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	return ch, deliveries, nil
}

func (t *RabbitMQTransport) forward(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, out chan<- Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			msg := Message{
				Body:        d.Body,
				ContentType: d.ContentType,
				MessageID:   d.MessageId,
				Persistent:  d.DeliveryMode == amqp.Persistent,
				Timestamp:   d.Timestamp,
				Headers:     make(map[string]string, len(d.Headers)),
			}
			for k, v := range d.Headers {
				if s, ok := v.(string); ok {
					msg.Headers[k] = s
				}
			}

			key := d.RoutingKey
			if original, ok := msg.Headers[HeaderRoutingKey]; ok && original != "" {
				key = original
			}

			delivery := NewDelivery(msg, queue, key, d.Redelivered, &amqpAck{d: d})
			select {
			case out <- delivery:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			case <-t.closed:
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

func (t *RabbitMQTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.pubCh = nil
		t.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	t.wg.Wait()
	return err
}

type amqpAck struct {
	d amqp.Delivery
}

func (a *amqpAck) Ack() error {
	return a.d.Ack(false)
}

func (a *amqpAck) Nack(requeue bool) error {
	return a.d.Nack(false, requeue)
}
