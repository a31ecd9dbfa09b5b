package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"logistics/internal/envelope"
	"logistics/internal/logger"
	"logistics/internal/routing"
	apperrors "logistics/pkg/errors"
	"logistics/pkg/metrics"
	"logistics/pkg/retry"
	"logistics/pkg/tracing"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Publisher emits envelopes to one topic exchange.
type Publisher struct {
	transport Transport
	logger    logger.Logger
	service   string
	policy    retry.Policy

	mu       sync.RWMutex
	state    State
	exchange string
}

func NewPublisher(transport Transport, service string, connectRetry retry.Policy, log logger.Logger) *Publisher {
	p := &Publisher{
		transport: transport,
		logger:    log,
		service:   service,
		policy:    connectRetry,
	}
	p.setState(StateDisconnected)
	return p
}

func (p *Publisher) setState(s State) {
	p.state = s
	metrics.SetConnectionState(p.service, "publisher", int(s))
}

// Connect declares the durable topic exchange. Calling it again on a
// connected publisher is a no-op.
func (p *Publisher) Connect(ctx context.Context, exchange string) error {
	p.mu.Lock()
	if p.state == StateConnected && p.exchange == exchange {
		p.mu.Unlock()
		return nil
	}
	p.setState(StateConnecting)
	p.mu.Unlock()

	err := retry.RetryWithCallback(ctx, p.policy, func() error {
		if err := p.transport.Connect(ctx); err != nil {
			return err
		}
		return p.transport.DeclareExchange(ctx, exchange)
	}, func(attempt int, err error, next time.Duration) {
		p.logger.Warnw("Publisher connect attempt failed",
			"exchange", exchange,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.setState(StateDisconnected)
		return apperrors.ErrConnection.WithMessage("publisher could not reach exchange %s", exchange).WithCause(err)
	}
	p.exchange = exchange
	p.setState(StateConnected)

	p.logger.Infow("Publisher connected", "exchange", exchange)
	return nil
}

// Publish sends payload under routingKey as a persistent message.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload map[string]interface{}) error {
	p.mu.RLock()
	state, exchange := p.state, p.exchange
	p.mu.RUnlock()

	if state != StateConnected {
		return apperrors.ErrNotConnected.WithMessage("publish %s before connect", routingKey)
	}
	if err := routing.ValidateKey(routingKey); err != nil {
		return err
	}

	ctx, span := tracing.StartPublishSpan(ctx, exchange, routingKey)
	defer span.End()

	now := time.Now().UTC()
	env := envelope.NewBuilder(routingKey).
		WithPayload(payload).
		WithMessageID(uuid.NewString()).
		WithTimestamp(now).
		Build()

	body, err := envelope.Encode(env)
	if err != nil {
		metrics.IncPublished(p.service, routingKey, "error")
		return err
	}

	msg := Message{
		Body:        body,
		ContentType: envelope.ContentType,
		MessageID:   env.MessageID,
		Headers:     tracing.InjectHeaders(ctx, nil),
		Persistent:  true,
		Timestamp:   now,
	}

	if err := p.transport.Publish(ctx, exchange, routingKey, msg); err != nil {
		metrics.IncPublished(p.service, routingKey, "error")
		p.logger.ErrorwCtx(ctx, "Failed to publish event",
			"routing_key", routingKey,
			"message_id", env.MessageID,
			"error", err,
		)
		return err
	}

	metrics.IncPublished(p.service, routingKey, "ok")
	p.logger.DebugwCtx(ctx, "Published event",
		"routing_key", routingKey,
		"message_id", env.MessageID,
	)
	return nil
}

func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Publisher) Connected() bool {
	return p.State() == StateConnected
}

// Close releases the transport. Later Publish calls fail with NotConnected.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.setState(StateDisconnected)
	p.mu.Unlock()
	return p.transport.Close()
}
