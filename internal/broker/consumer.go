package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"logistics/internal/constants"
	"logistics/internal/envelope"
	"logistics/internal/logger"
	"logistics/internal/routing"
	apperrors "logistics/pkg/errors"
	"logistics/pkg/logging"
	"logistics/pkg/metrics"
	"logistics/pkg/retry"
	"logistics/pkg/tracing"
)

// Handler reacts to one event. Returning an error schedules a retry, or a
// dead letter once attempts are exhausted or the error is fatal. Soft
// failures should be logged and return nil.
type Handler func(ctx context.Context, env envelope.Envelope) error

// Inbox remembers processed message ids per queue.
type Inbox interface {
	Seen(ctx context.Context, queue, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, queue, messageID string) error
}

type ConsumerConfig struct {
	ServiceName string
	Prefetch    int
	// HandlerTimeout bounds one invocation. A handler that ignores ctx keeps
	// running after the timeout while the message is already retried, so
	// handlers must stop on ctx.Done() and be idempotent. Close waits for
	// such stragglers.
	HandlerTimeout time.Duration
	// Retry.MaxAttempts bounds handler invocations per message; the interval
	// fields schedule the delay before each redelivery.
	Retry        retry.Policy
	ConnectRetry retry.Policy
	Inbox        Inbox
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Prefetch <= 0 {
		c.Prefetch = constants.DefaultPrefetch
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = constants.DefaultHandlerTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = 2
	}
	if c.ConnectRetry.MaxAttempts <= 0 {
		c.ConnectRetry = retry.DefaultPolicy()
	}
	return c
}

// Consumer owns one durable queue and dispatches its deliveries to the
// handler of the most specific matching pattern.
type Consumer struct {
	transport Transport
	queue     string
	cfg       ConsumerConfig
	logger    logger.Logger
	handlers  *routing.Table[Handler]
	sem       *semaphore.Weighted

	mu       sync.Mutex
	state    State
	exchange string
	patterns []string
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup
}

func NewConsumer(transport Transport, queue string, cfg ConsumerConfig, log logger.Logger) *Consumer {
	cfg = cfg.withDefaults()
	c := &Consumer{
		transport: transport,
		queue:     queue,
		cfg:       cfg,
		logger:    log,
		handlers:  routing.NewTable[Handler](),
		sem:       semaphore.NewWeighted(int64(cfg.Prefetch)),
	}
	c.setState(StateDisconnected)
	return c
}

func (c *Consumer) setState(s State) {
	c.state = s
	metrics.SetConnectionState(c.cfg.ServiceName, "consumer", int(s))
}

func (c *Consumer) Queue() string {
	return c.queue
}

func (c *Consumer) DeadLetterQueue() string {
	return c.queue + constants.DeadLetterSuffix
}

// Connect declares the exchange, the queue with one binding per pattern and
// the queue's dead letter queue.
func (c *Consumer) Connect(ctx context.Context, exchange string, patterns []string) error {
	for _, p := range patterns {
		if err := routing.ValidatePattern(p); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.setState(StateConnecting)
	c.mu.Unlock()

	err := retry.RetryWithCallback(ctx, c.cfg.ConnectRetry, func() error {
		if err := c.transport.Connect(ctx); err != nil {
			return err
		}
		if err := c.transport.DeclareExchange(ctx, exchange); err != nil {
			return err
		}
		if err := c.transport.DeclareQueue(ctx, exchange, c.queue, patterns); err != nil {
			return err
		}
		return c.transport.DeclareQueue(ctx, "", c.DeadLetterQueue(), nil)
	}, func(attempt int, err error, next time.Duration) {
		c.logger.Warnw("Consumer connect attempt failed",
			"queue", c.queue,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.setState(StateDisconnected)
		return apperrors.ErrConnection.WithMessage("consumer could not bind queue %s", c.queue).WithCause(err)
	}
	c.exchange = exchange
	c.patterns = append([]string(nil), patterns...)
	c.setState(StateConnected)

	c.logger.Infow("Consumer connected",
		"exchange", exchange,
		"queue", c.queue,
		"patterns", patterns,
		"prefetch", c.cfg.Prefetch,
	)
	return nil
}

// RegisterHandler adds a handler for pattern. Duplicate or ambiguous
// registrations are rejected with AMBIGUOUS_HANDLER.
func (c *Consumer) RegisterHandler(pattern string, h Handler) error {
	if err := c.handlers.Add(pattern, h); err != nil {
		c.logger.Errorw("Rejected handler registration",
			"queue", c.queue,
			"pattern", pattern,
			"error", err,
		)
		return err
	}

	c.mu.Lock()
	patterns := c.patterns
	c.mu.Unlock()

	bound := len(patterns) == 0
	for _, p := range patterns {
		if routing.Overlap(p, pattern) {
			bound = true
			break
		}
	}
	if !bound {
		c.logger.Warnw("Handler pattern is not covered by any queue binding",
			"queue", c.queue,
			"pattern", pattern,
			"bindings", patterns,
		)
	}

	c.logger.Infow("Registered handler", "queue", c.queue, "pattern", pattern)
	return nil
}

// StartConsuming begins delivery processing in the background and returns.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return apperrors.ErrNotConnected.WithMessage("start consuming %s before connect", c.queue)
	}
	if c.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	deliveries, err := c.transport.Consume(runCtx, c.queue, c.cfg.Prefetch)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}

	c.cancel = cancel
	c.loopDone = make(chan struct{})
	go c.loop(runCtx, deliveries, c.loopDone)

	c.logger.Infow("Started consuming", "queue", c.queue)
	return nil
}

func (c *Consumer) loop(ctx context.Context, deliveries <-chan Delivery, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.sem.Acquire(ctx, 1); err != nil {
				_ = d.Nack(true)
				return
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer c.sem.Release(1)
				c.process(ctx, d)
			}()
		}
	}
}

func (c *Consumer) process(runCtx context.Context, d Delivery) {
	service := c.cfg.ServiceName
	inFlight := metrics.InFlightMessages.WithLabelValues(service, c.queue)
	inFlight.Inc()
	defer inFlight.Dec()

	env, err := envelope.Decode(d.Body, d.RoutingKey)
	if err != nil {
		c.logger.ErrorwCtx(logging.WithDelivery(runCtx, c.queue, d.RoutingKey, d.MessageID), "Dropping undecodable message",
			"error", err,
			"redelivered", d.Redelivered,
		)
		c.settle(d, true)
		metrics.IncConsumed(service, c.queue, "decode_error")
		return
	}

	messageID := env.MessageID
	if messageID == "" {
		messageID = d.MessageID
	}

	ctx, span := tracing.StartConsumeSpan(runCtx, c.queue, env.RoutingKey, d.Headers)
	defer span.End()
	ctx = logging.WithDelivery(ctx, c.queue, env.RoutingKey, messageID)
	if traceID := tracing.TraceID(ctx); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}

	if c.cfg.Inbox != nil && messageID != "" {
		seen, err := c.cfg.Inbox.Seen(ctx, c.queue, messageID)
		switch {
		case err != nil:
			metrics.InboxChecksTotal.WithLabelValues("error").Inc()
			c.logger.WarnwCtx(ctx, "Inbox check failed, processing anyway", "error", err)
		case seen:
			metrics.InboxChecksTotal.WithLabelValues("duplicate").Inc()
			c.logger.InfowCtx(ctx, "Skipping already processed message")
			c.settle(d, true)
			metrics.IncConsumed(service, c.queue, "duplicate")
			return
		default:
			metrics.InboxChecksTotal.WithLabelValues("new").Inc()
		}
	}

	handler, pattern, ok := c.handlers.Lookup(env.RoutingKey)
	if !ok {
		c.logger.WarnwCtx(ctx, "No handler registered for routing key")
		c.settle(d, true)
		metrics.IncConsumed(service, c.queue, "unhandled")
		return
	}

	start := time.Now()
	err = c.invoke(ctx, handler, env)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveHandlerDuration(service, c.queue, pattern, status, time.Since(start))

	if err == nil {
		c.settle(d, true)
		if c.cfg.Inbox != nil && messageID != "" {
			if err := c.cfg.Inbox.MarkProcessed(ctx, c.queue, messageID); err != nil {
				c.logger.WarnwCtx(ctx, "Failed to record processed message", "error", err)
			}
		}
		metrics.IncConsumed(service, c.queue, "acked")
		return
	}

	if runCtx.Err() != nil {
		c.logger.InfowCtx(ctx, "Returning in-flight message to the queue on shutdown", "error", err)
		c.settle(d, false)
		metrics.IncConsumed(service, c.queue, "requeued")
		return
	}

	c.fail(runCtx, ctx, d, env, err)
}

// invoke runs h under the handler timeout and converts panics to errors.
func (c *Consumer) invoke(ctx context.Context, h Handler, env envelope.Envelope) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- apperrors.RecoverPanic(r)
			}
		}()
		done <- h(hctx, env)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		c.awaitStraggler(ctx, env, done)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.ErrTimeout.WithMessage("handler for %s exceeded %s", env.RoutingKey, c.cfg.HandlerTimeout)
	}
}

// awaitStraggler tracks a handler that outlived its context so Close does
// not return while it can still change state.
func (c *Consumer) awaitStraggler(ctx context.Context, env envelope.Envelope, done <-chan error) {
	started := time.Now()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := <-done
		c.logger.WarnwCtx(ctx, "Handler returned after its timeout",
			"routing_key", env.RoutingKey,
			"overrun", time.Since(started),
			"error", err,
		)
	}()
}

// fail schedules a redelivery or dead-letters the message.
func (c *Consumer) fail(runCtx, ctx context.Context, d Delivery, env envelope.Envelope, cause error) {
	service := c.cfg.ServiceName
	next := env.Attempt + 1
	fatal := apperrors.IsFatal(cause)

	if !fatal && next < c.cfg.Retry.MaxAttempts {
		delay := c.cfg.Retry.Delay(next)
		c.logger.WarnwCtx(ctx, "Handler failed, scheduling retry",
			"error", cause,
			logging.AttemptKey, next,
			"max_attempts", c.cfg.Retry.MaxAttempts,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-runCtx.Done():
			c.settle(d, false)
			metrics.IncConsumed(service, c.queue, "requeued")
			return
		}

		env.Attempt = next
		if err := c.republish(ctx, c.queue, env, d); err != nil {
			c.logger.ErrorwCtx(ctx, "Failed to schedule retry, requeueing", "error", err)
			c.settle(d, false)
			metrics.IncConsumed(service, c.queue, "requeued")
			return
		}
		c.settle(d, true)
		metrics.IncRetry(service, c.queue)
		metrics.IncConsumed(service, c.queue, "retried")
		return
	}

	reason := "max_attempts"
	if fatal {
		reason = "fatal"
	}
	env.Attempt = next
	env.DeadLetterReason = cause.Error()

	if err := c.republish(ctx, c.DeadLetterQueue(), env, d); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to dead-letter message, requeueing", "error", err)
		c.settle(d, false)
		metrics.IncConsumed(service, c.queue, "requeued")
		return
	}

	c.settle(d, true)
	metrics.IncDeadLettered(service, c.queue, reason)
	metrics.IncConsumed(service, c.queue, "dead_lettered")
	c.logger.ErrorwCtx(ctx, "Message dead-lettered",
		"error", cause,
		"reason", reason,
		logging.AttemptKey, next,
		"dead_letter_queue", c.DeadLetterQueue(),
	)
}

func (c *Consumer) republish(ctx context.Context, queue string, env envelope.Envelope, d Delivery) error {
	body, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	msg := Message{
		Body:        body,
		ContentType: envelope.ContentType,
		MessageID:   d.MessageID,
		Headers:     d.Headers,
		Persistent:  true,
		Timestamp:   time.Now().UTC(),
	}
	return c.transport.PublishToQueue(context.WithoutCancel(ctx), queue, env.RoutingKey, msg)
}

func (c *Consumer) settle(d Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack()
	} else {
		err = d.Nack(true)
	}
	if err != nil {
		c.logger.Errorw("Failed to settle delivery",
			"queue", c.queue,
			"routing_key", d.RoutingKey,
			"ack", ack,
			"error", err,
		)
	}
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) Connected() bool {
	return c.State() == StateConnected
}

// Close stops consumption, waits for in-flight handlers and releases the
// transport. Deliveries not yet acknowledged go back to the queue.
func (c *Consumer) Close() error {
	c.mu.Lock()
	cancel, loopDone := c.cancel, c.loopDone
	c.cancel = nil
	c.setState(StateDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-loopDone
	}
	c.wg.Wait()

	if err := c.transport.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
