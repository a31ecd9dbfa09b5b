package broker

import (
	"context"
	"fmt"
	"sync"

	"logistics/internal/routing"
	apperrors "logistics/pkg/errors"
)

type memoryMessage struct {
	msg         Message
	routingKey  string
	redelivered bool
}

type memoryQueue struct {
	name    string
	pending []memoryMessage
	notify  chan struct{}
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// MemoryBroker is an in-process topic broker shared by every MemoryTransport
// created from it. It backs tests and single-process deployments.
type MemoryBroker struct {
	mu        sync.Mutex
	exchanges map[string]*routing.Router
	queues    map[string]*memoryQueue
	reachable bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		exchanges: make(map[string]*routing.Router),
		queues:    make(map[string]*memoryQueue),
		reachable: true,
	}
}

// SetReachable simulates the broker going away; Connect fails while false.
func (b *MemoryBroker) SetReachable(reachable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reachable = reachable
}

// QueueDepth returns the number of ready (not in-flight) messages.
func (b *MemoryBroker) QueueDepth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.pending)
	}
	return 0
}

// Peek returns copies of the ready messages of a queue.
func (b *MemoryBroker) Peek(queue string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([]Message, len(q.pending))
	for i, m := range q.pending {
		out[i] = m.msg
	}
	return out
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{name: name, notify: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) enqueue(queue string, m memoryMessage, front bool) {
	b.mu.Lock()
	q := b.queue(queue)
	if front {
		q.pending = append([]memoryMessage{m}, q.pending...)
	} else {
		q.pending = append(q.pending, m)
	}
	b.mu.Unlock()
	q.signal()
}

func (b *MemoryBroker) dequeue(queue string) (memoryMessage, *memoryQueue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	if len(q.pending) == 0 {
		return memoryMessage{}, q, false
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.signal()
	}
	return m, q, true
}

// MemoryTransport is one client connection to a MemoryBroker.
type MemoryTransport struct {
	broker *MemoryBroker

	mu        sync.Mutex
	connected bool
	closed    chan struct{}
	wg        sync.WaitGroup
}

func NewMemoryTransport(b *MemoryBroker) *MemoryTransport {
	return &MemoryTransport{broker: b, closed: make(chan struct{})}
}

func (t *MemoryTransport) Connect(ctx context.Context) error {
	t.broker.mu.Lock()
	reachable := t.broker.reachable
	t.broker.mu.Unlock()
	if !reachable {
		return apperrors.ErrConnection.WithMessage("memory broker is unreachable")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		t.closed = make(chan struct{})
	default:
	}
	t.connected = true
	return nil
}

func (t *MemoryTransport) ensureConnected() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return apperrors.ErrNotConnected
	}
	return nil
}

func (t *MemoryTransport) DeclareExchange(ctx context.Context, exchange string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.broker.mu.Lock()
	defer t.broker.mu.Unlock()
	if _, ok := t.broker.exchanges[exchange]; !ok {
		t.broker.exchanges[exchange] = routing.NewRouter()
	}
	return nil
}

func (t *MemoryTransport) DeclareQueue(ctx context.Context, exchange, queue string, patterns []string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.broker.mu.Lock()
	defer t.broker.mu.Unlock()

	t.broker.queue(queue)
	if exchange == "" {
		return nil
	}
	router, ok := t.broker.exchanges[exchange]
	if !ok {
		return fmt.Errorf("exchange %s is not declared", exchange)
	}
	for _, p := range patterns {
		if err := router.Bind(queue, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.broker.mu.Lock()
	router, ok := t.broker.exchanges[exchange]
	t.broker.mu.Unlock()
	if !ok {
		return fmt.Errorf("exchange %s is not declared", exchange)
	}

	queues, err := router.Route(routingKey)
	if err != nil {
		return err
	}
	for _, q := range queues {
		t.broker.enqueue(q, memoryMessage{msg: msg, routingKey: routingKey}, false)
	}
	return nil
}

func (t *MemoryTransport) PublishToQueue(ctx context.Context, queue, routingKey string, msg Message) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	t.broker.enqueue(queue, memoryMessage{msg: msg, routingKey: routingKey}, false)
	return nil
}

func (t *MemoryTransport) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	if prefetch < 1 {
		prefetch = 1
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	out := make(chan Delivery)
	slots := make(chan struct{}, prefetch)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)

		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			case <-closed:
				return
			}

			m, q, ok := t.broker.dequeue(queue)
			for !ok {
				select {
				case <-q.notify:
				case <-ctx.Done():
					<-slots
					return
				case <-closed:
					<-slots
					return
				}
				m, q, ok = t.broker.dequeue(queue)
			}

			ack := &memoryAck{broker: t.broker, queue: queue, m: m, release: func() { <-slots }}
			d := NewDelivery(m.msg, queue, m.routingKey, m.redelivered, ack)

			select {
			case out <- d:
			case <-ctx.Done():
				_ = ack.Nack(true)
				return
			case <-closed:
				_ = ack.Nack(true)
				return
			}
		}
	}()

	return out, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.connected {
		t.connected = false
		close(t.closed)
	}
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

type memoryAck struct {
	once    sync.Once
	broker  *MemoryBroker
	queue   string
	m       memoryMessage
	release func()
}

func (a *memoryAck) Ack() error {
	a.once.Do(a.release)
	return nil
}

func (a *memoryAck) Nack(requeue bool) error {
	a.once.Do(func() {
		if requeue {
			m := a.m
			m.redelivered = true
			a.broker.enqueue(a.queue, m, true)
		}
		a.release()
	})
	return nil
}
