package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"logistics/internal/config"
	"logistics/internal/logger"
	"logistics/pkg/circuitbreaker"
)

type StockLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// AvailabilityChecker asks the inventory service whether the lines can be
// served. Implementations fail open: an unreachable inventory reports true.
type AvailabilityChecker interface {
	Check(ctx context.Context, lines []StockLine) bool
}

type HTTPAvailabilityChecker struct {
	baseURL string
	client  *http.Client
	cb      *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewHTTPAvailabilityChecker(baseURL string, timeout time.Duration, cbCfg config.CircuitBreakerConfig, log logger.Logger) *HTTPAvailabilityChecker {
	c := &HTTPAvailabilityChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
	if cbCfg.Enabled {
		c.cb = circuitbreaker.NewWrapper(circuitbreaker.FromConfig("inventory-availability", cbCfg))
	}
	return c
}

func (c *HTTPAvailabilityChecker) Check(ctx context.Context, lines []StockLine) bool {
	call := func() (bool, error) { return c.fetch(ctx, lines) }

	var (
		available bool
		err       error
	)
	if c.cb != nil {
		available, err = circuitbreaker.Do(ctx, c.cb, call)
	} else {
		available, err = call()
	}

	if err != nil {
		c.logger.WarnwCtx(ctx, "Inventory availability check failed, allowing order", "error", err)
		return true
	}
	return available
}

func (c *HTTPAvailabilityChecker) fetch(ctx context.Context, lines []StockLine) (bool, error) {
	body, err := json.Marshal(map[string]interface{}{"items": lines})
	if err != nil {
		return false, fmt.Errorf("failed to encode availability request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/inventory/check", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("inventory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("inventory returned status: %d", resp.StatusCode)
	}

	var result struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Available, nil
}
