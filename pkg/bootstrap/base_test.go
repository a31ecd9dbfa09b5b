package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
	"logistics/internal/envelope"
	"logistics/internal/logger"
	"logistics/pkg/health"
)

func testConfig() *config.Config {
	fast := config.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
	return &config.Config{
		Server: config.ServerConfig{Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second},
		Broker: config.BrokerConfig{
			Type:           "memory",
			Exchange:       "logistics.events",
			Prefetch:       4,
			HandlerTimeout: time.Second,
			Retry:          fast,
			ConnectRetry:   fast,
		},
		Storage: config.StorageConfig{Type: "memory"},
	}
}

func getHealth(t *testing.T, h http.Handler) (int, health.Health) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body health.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	return w.Code, body
}

func TestBase_ConsumerLifecycleAndHealth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := NewBase(testConfig(), logger.NopLogger(), "test-service")
	require.NoError(t, base.InitPublisher(ctx))
	require.NoError(t, base.InitConsumer("test.queue", nil))
	router := base.NewRouter(ctx)

	code, body := getHealth(t, router)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StatusHealthy, body.Checks["broker_publisher"].Status)
	assert.Equal(t, health.StatusUnhealthy, body.Checks["broker_consumer"].Status)

	received := make(chan string, 1)
	require.NoError(t, base.Consumer.Connect(ctx, "logistics.events", []string{"order.*"}))
	require.NoError(t, base.Consumer.RegisterHandler("order.*", func(ctx context.Context, env envelope.Envelope) error {
		received <- env.RoutingKey
		return nil
	}))
	require.NoError(t, base.Consumer.StartConsuming(ctx))

	code, _ = getHealth(t, router)
	assert.Equal(t, http.StatusOK, code)

	require.NoError(t, base.Publisher.Publish(ctx, "order.created", map[string]interface{}{"order_number": "ORD-1"}))
	select {
	case key := <-received:
		assert.Equal(t, "order.created", key)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, base.Shutdown(context.Background(), nil))
	assert.False(t, base.Publisher.Connected())
	assert.False(t, base.Consumer.Connected())
}

func TestBase_RequestIDIsPropagated(t *testing.T) {
	base := NewBase(testConfig(), logger.NopLogger(), "test-service")
	router := base.NewRouter(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestBase_ServeHTTPStopsOnCancel(t *testing.T) {
	base := NewBase(testConfig(), logger.NopLogger(), "test-service")
	server := &http.Server{Addr: "127.0.0.1:0", Handler: base.NewRouter(context.Background())}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- base.ServeHTTP(ctx, server) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
