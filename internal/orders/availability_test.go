package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
	"logistics/internal/logger"
)

func TestHTTPAvailabilityChecker(t *testing.T) {
	var got struct {
		Items []StockLine `json:"items"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/inventory/check", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"available": false})
	}))
	defer srv.Close()

	c := NewHTTPAvailabilityChecker(srv.URL+"/", time.Second, config.CircuitBreakerConfig{}, logger.NopLogger())

	assert.False(t, c.Check(context.Background(), []StockLine{{SKU: "B", Quantity: 100}}))
	assert.Equal(t, []StockLine{{SKU: "B", Quantity: 100}}, got.Items)
}

func TestHTTPAvailabilityChecker_FailsOpen(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPAvailabilityChecker(srv.URL, time.Second, config.CircuitBreakerConfig{
		Enabled:      true,
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
	}, logger.NopLogger())

	for i := 0; i < 4; i++ {
		assert.True(t, c.Check(context.Background(), []StockLine{{SKU: "A", Quantity: 1}}))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "breaker opens after two failures")
}
