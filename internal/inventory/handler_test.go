package inventory

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/config"
	"logistics/internal/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, config.InventoryConfig{}, map[string]int{"A": 10})
	router := gin.New()
	NewHandler(f.svc, logger.NopLogger()).RegisterRoutes(router)
	return router, f
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_CheckReserveRelease(t *testing.T) {
	router, f := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/inventory/check", gin.H{
		"items": []gin.H{{"sku": "A", "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var check CheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.True(t, check.Available)

	w = doJSON(router, http.MethodPost, "/api/v1/inventory/reserve", gin.H{
		"order_number": "ORD-1",
		"items":        []gin.H{{"sku": "A", "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, f.item(t, "A").Reserved)

	w = doJSON(router, http.MethodPost, "/api/v1/inventory/release?order_number=ORD-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.item(t, "A").Reserved)

	w = doJSON(router, http.MethodGet, "/api/v1/inventory/transactions?order_number=ORD-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txs []Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	assert.Len(t, txs, 2)
}

func TestHandler_Warehouses(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/warehouses", gin.H{
		"warehouse_code": "WH-2", "name": "North", "location": "Hull", "capacity": 50,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/warehouses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []Warehouse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	w = doJSON(router, http.MethodGet, "/api/v1/warehouses/1/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0].SKU)
}

func TestHandler_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"duplicate warehouse", http.MethodPost, "/api/v1/warehouses",
			gin.H{"warehouse_code": "WH-1", "name": "x", "location": "y", "capacity": 1}, http.StatusConflict},
		{"invalid warehouse body", http.MethodPost, "/api/v1/warehouses", gin.H{"name": "x"}, http.StatusBadRequest},
		{"bad warehouse id", http.MethodGet, "/api/v1/warehouses/abc/inventory", nil, http.StatusBadRequest},
		{"release without order", http.MethodPost, "/api/v1/inventory/release", nil, http.StatusBadRequest},
		{"reserve without items", http.MethodPost, "/api/v1/inventory/reserve", gin.H{"order_number": "ORD-1"}, http.StatusBadRequest},
		{"adjust unknown sku", http.MethodPost, "/api/v1/inventory/adjust",
			gin.H{"sku": "Q", "warehouse_code": "WH-1", "quantity": 3}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
