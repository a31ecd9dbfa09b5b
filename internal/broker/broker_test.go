package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logistics/internal/logger"
	"logistics/pkg/retry"
)

const testExchange = "test.events"

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func newTestPublisher(t *testing.T, b *MemoryBroker) *Publisher {
	t.Helper()
	p := NewPublisher(NewMemoryTransport(b), "test", fastRetry(2), logger.NopLogger())
	require.NoError(t, p.Connect(context.Background(), testExchange))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTestConsumer(t *testing.T, b *MemoryBroker, queue string, patterns []string, cfg ConsumerConfig) *Consumer {
	t.Helper()
	cfg.ServiceName = "test"
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry(3)
	}
	cfg.ConnectRetry = fastRetry(2)
	c := NewConsumer(NewMemoryTransport(b), queue, cfg, logger.NopLogger())
	require.NoError(t, c.Connect(context.Background(), testExchange, patterns))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recorder collects handler invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) len() int {
	return len(r.snapshot())
}
