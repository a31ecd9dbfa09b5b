package orders

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logistics/internal/logger"
)

func newTestRouter() (*gin.Engine, *fakePublisher) {
	gin.SetMode(gin.TestMode)
	svc, pub := newTestService()
	router := gin.New()
	NewHandler(svc, logger.NopLogger()).RegisterRoutes(router)
	return router, pub
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

func TestHandler_OrderLifecycle(t *testing.T) {
	router, pub := newTestRouter()

	w := doJSON(router, http.MethodPost, "/api/v1/orders", validRequest())
	require.Equal(t, http.StatusCreated, w.Code)

	var created Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, StatusPending, created.Status)

	w = doJSON(router, http.MethodGet, "/api/v1/orders/"+created.OrderNumber, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPut, "/api/v1/orders/"+created.OrderNumber+"/status", gin.H{"status": "processing"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodDelete, "/api/v1/orders/"+created.OrderNumber, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Len(t, pub.events, 3)

	w = doJSON(router, http.MethodGet, "/api/v1/orders/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats["total"])
	assert.Equal(t, 1, stats["cancelled"])
}

func TestHandler_Errors(t *testing.T) {
	router, _ := newTestRouter()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing fields", http.MethodPost, "/api/v1/orders", gin.H{"customer_name": "x"}, http.StatusBadRequest},
		{"bad email", http.MethodPost, "/api/v1/orders", func() CreateOrderRequest {
			r := validRequest()
			r.CustomerEmail = "nope"
			return r
		}(), http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/api/v1/orders/ORD-404", nil, http.StatusNotFound},
		{"bad status", http.MethodPut, "/api/v1/orders/ORD-404/status", gin.H{"status": "lost"}, http.StatusBadRequest},
		{"cancel unknown", http.MethodDelete, "/api/v1/orders/ORD-404", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
