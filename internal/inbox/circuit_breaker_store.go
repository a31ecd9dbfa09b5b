package inbox

import (
	"context"
	"fmt"

	"logistics/internal/config"
	"logistics/pkg/circuitbreaker"
)

// CircuitBreakerStore stops hitting a failing store until the breaker closes
// again. While open every call fails fast and the consumer falls back to
// processing the message.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) Store {
	if !cfg.Enabled {
		return store
	}
	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(circuitbreaker.FromConfig("inbox-store", cfg)),
	}
}

func (s *CircuitBreakerStore) Seen(ctx context.Context, queue, messageID string) (bool, error) {
	seen, err := circuitbreaker.Do(ctx, s.cb, func() (bool, error) {
		return s.store.Seen(ctx, queue, messageID)
	})
	if err != nil {
		return false, s.wrap(err)
	}
	return seen, nil
}

func (s *CircuitBreakerStore) MarkProcessed(ctx context.Context, queue, messageID string) error {
	_, err := circuitbreaker.Do(ctx, s.cb, func() (struct{}, error) {
		return struct{}{}, s.store.MarkProcessed(ctx, queue, messageID)
	})
	if err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *CircuitBreakerStore) State() string {
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) wrap(err error) error {
	if s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
	}
	return err
}
