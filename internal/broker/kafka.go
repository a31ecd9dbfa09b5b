package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/logger"
	"logistics/internal/routing"
	apperrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
)

const (
	headerRedelivered = "x-redelivered"
	headerContentType = "content-type"
	headerMessageID   = "message-id"
)

// KafkaTransport maps the topic-exchange model onto Kafka: an exchange is a
// topic, a queue is a consumer group on that topic and bindings are applied
// on the consuming side. Queues declared without an exchange (dead letters)
// get a topic of their own.
type KafkaTransport struct {
	cfg    config.KafkaConfig
	logger logger.Logger

	mu        sync.RWMutex
	writer    *kafka.Writer
	exchanges map[string]*routing.Router
	queues    map[string]queueDecl
	readers   []*kafka.Reader

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewKafkaTransport(cfg config.KafkaConfig, log logger.Logger) *KafkaTransport {
	return &KafkaTransport{
		cfg:       cfg,
		logger:    log,
		exchanges: make(map[string]*routing.Router),
		queues:    make(map[string]queueDecl),
		closed:    make(chan struct{}),
	}
}

func (t *KafkaTransport) Connect(ctx context.Context) error {
	t.mu.RLock()
	connected := t.writer != nil
	t.mu.RUnlock()
	if connected {
		return nil
	}

	if len(t.cfg.Brokers) == 0 {
		return apperrors.ErrConnection.WithMessage("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", t.cfg.Brokers[0])
	if err != nil {
		return apperrors.ErrConnection.WithCause(err)
	}
	conn.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		t.writer = &kafka.Writer{
			Addr:                   kafka.TCP(t.cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           constants.KafkaBatchTimeout,
			WriteTimeout:           constants.KafkaWriteTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: t.cfg.AutoCreateTopics,
		}
	}
	return nil
}

func (t *KafkaTransport) ensureConnected() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.writer == nil {
		return apperrors.ErrNotConnected
	}
	return nil
}

func (t *KafkaTransport) createTopic(ctx context.Context, topic string) error {
	if !t.cfg.AutoCreateTopics {
		return nil
	}

	conn, err := kafka.DialContext(ctx, "tcp", t.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     t.cfg.Partitions,
		ReplicationFactor: t.cfg.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (t *KafkaTransport) DeclareExchange(ctx context.Context, exchange string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if err := t.createTopic(ctx, exchange); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.exchanges[exchange]; !ok {
		t.exchanges[exchange] = routing.NewRouter()
	}
	return nil
}

func (t *KafkaTransport) DeclareQueue(ctx context.Context, exchange, queue string, patterns []string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}

	if exchange == "" {
		if err := t.createTopic(ctx, queue); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if exchange != "" {
		router, ok := t.exchanges[exchange]
		if !ok {
			return fmt.Errorf("exchange %s is not declared", exchange)
		}
		for _, p := range patterns {
			if err := router.Bind(queue, p); err != nil {
				return err
			}
		}
	}
	t.queues[queue] = queueDecl{exchange: exchange, patterns: append([]string(nil), patterns...)}
	return nil
}

func (t *KafkaTransport) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	return t.write(ctx, exchange, routingKey, msg)
}

func (t *KafkaTransport) PublishToQueue(ctx context.Context, queue, routingKey string, msg Message) error {
	t.mu.RLock()
	decl, ok := t.queues[queue]
	t.mu.RUnlock()

	topic := queue
	if ok && decl.exchange != "" {
		topic = decl.exchange
		msg.Headers = withHeader(msg.Headers, HeaderTargetQueue, queue)
	}
	return t.write(ctx, topic, routingKey, msg)
}

func withHeader(headers map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out[key] = value
	return out
}

func (t *KafkaTransport) write(ctx context.Context, topic, routingKey string, msg Message) error {
	t.mu.RLock()
	w := t.writer
	t.mu.RUnlock()
	if w == nil {
		return apperrors.ErrNotConnected
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		switch k {
		case HeaderRoutingKey, headerContentType, headerMessageID:
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers,
		kafka.Header{Key: HeaderRoutingKey, Value: []byte(routingKey)},
		kafka.Header{Key: headerContentType, Value: []byte(msg.ContentType)},
		kafka.Header{Key: headerMessageID, Value: []byte(msg.MessageID)},
	)

	err := w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(routingKey),
		Value:   msg.Body,
		Headers: headers,
		Time:    msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", topic, err)
	}
	return nil
}

func (t *KafkaTransport) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	if prefetch < 1 {
		prefetch = 1
	}

	t.mu.Lock()
	decl, ok := t.queues[queue]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("queue %s is not declared", queue)
	}
	topic := queue
	var router *routing.Router
	if decl.exchange != "" {
		topic = decl.exchange
		router = t.exchanges[decl.exchange]
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     t.cfg.Brokers,
		GroupID:     queue,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	t.readers = append(t.readers, reader)
	t.mu.Unlock()

	t.logger.Infow("Created Kafka reader",
		"topic", topic,
		"group_id", queue,
		"brokers", t.cfg.Brokers,
	)

	out := make(chan Delivery)
	slots := make(chan struct{}, prefetch)
	tracker := newOffsetTracker()

	t.wg.Add(2)
	go t.reportLag(ctx, reader, topic, queue)
	go func() {
		defer t.wg.Done()
		defer close(out)

		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			}
			release := func() { <-slots }

			m, err := reader.FetchMessage(ctx)
			if err != nil {
				release()
				if ctx.Err() != nil || t.isClosed() {
					return
				}
				t.logger.Errorw("Error fetching kafka message", "topic", topic, "group_id", queue, "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			tracker.track(m)

			headers := make(map[string]string, len(m.Headers))
			for _, h := range m.Headers {
				headers[h.Key] = string(h.Value)
			}
			key := headers[HeaderRoutingKey]
			if key == "" {
				key = string(m.Key)
			}

			if !t.accepts(queue, key, headers, router) {
				t.commit(reader, tracker, m)
				release()
				continue
			}

			msg := Message{
				Body:        m.Value,
				ContentType: headers[headerContentType],
				MessageID:   headers[headerMessageID],
				Headers:     headers,
				Persistent:  true,
				Timestamp:   m.Time,
			}
			ack := &kafkaAck{transport: t, reader: reader, tracker: tracker, m: m, queue: queue, key: key, msg: msg, release: release}
			d := NewDelivery(msg, queue, key, headers[headerRedelivered] == "true", ack)

			select {
			case out <- d:
			case <-ctx.Done():
				release()
				return
			case <-t.closed:
				release()
				return
			}
		}
	}()

	return out, nil
}

// accepts applies the queue's bindings and any single-queue target header.
func (t *KafkaTransport) accepts(queue, key string, headers map[string]string, router *routing.Router) bool {
	if target, ok := headers[HeaderTargetQueue]; ok {
		return target == queue
	}
	if router == nil {
		return true
	}
	return router.Bound(queue, key)
}

func (t *KafkaTransport) commit(reader *kafka.Reader, tracker *offsetTracker, m kafka.Message) {
	upTo, ok := tracker.done(m)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.KafkaCommitTimeout)
	defer cancel()
	if err := reader.CommitMessages(ctx, upTo); err != nil {
		t.logger.Errorw("Failed to commit kafka offset",
			"topic", upTo.Topic,
			"partition", upTo.Partition,
			"offset", upTo.Offset,
			"error", err,
		)
	}
}

func (t *KafkaTransport) reportLag(ctx context.Context, reader *kafka.Reader, topic, group string) {
	defer t.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		case <-ticker.C:
			metrics.KafkaConsumerLag.WithLabelValues(topic, group).Set(float64(reader.Stats().Lag))
		}
	}
}

func (t *KafkaTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *KafkaTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		readers := t.readers
		t.readers = nil
		w := t.writer
		t.mu.Unlock()

		for _, r := range readers {
			if err := r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		t.wg.Wait()
		if w != nil {
			if err := w.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// kafkaAck settles one fetched message. Kafka has no per-message requeue, so
// Nack(true) writes the message back for the same queue and then commits;
// if that write fails the offset stays uncommitted and the group redelivers
// after a restart or rebalance.
type kafkaAck struct {
	once      sync.Once
	transport *KafkaTransport
	reader    *kafka.Reader
	tracker   *offsetTracker
	m         kafka.Message
	queue     string
	key       string
	msg       Message
	release   func()
}

func (a *kafkaAck) Ack() error {
	a.once.Do(func() {
		a.transport.commit(a.reader, a.tracker, a.m)
		a.release()
	})
	return nil
}

func (a *kafkaAck) Nack(requeue bool) error {
	var err error
	a.once.Do(func() {
		defer a.release()
		if requeue {
			ctx, cancel := context.WithTimeout(context.Background(), constants.KafkaWriteTimeout)
			defer cancel()
			msg := a.msg
			msg.Headers = withHeader(msg.Headers, headerRedelivered, "true")
			delete(msg.Headers, HeaderRoutingKey)
			if err = a.transport.PublishToQueue(ctx, a.queue, a.key, msg); err != nil {
				return
			}
		}
		a.transport.commit(a.reader, a.tracker, a.m)
	})
	return err
}
