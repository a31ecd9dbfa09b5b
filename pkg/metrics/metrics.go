package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published to the exchange (count)",
		},
		[]string{"service", "routing_key", "status"},
	)

	EventsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Total number of deliveries processed by a consumer, by outcome (count)",
		},
		[]string{"service", "queue", "outcome"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_handler_duration_ms",
			Help:    "Duration of event handler invocations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"service", "queue", "pattern", "status"},
	)

	InFlightMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_in_flight_messages",
			Help: "Deliveries currently being handled (count)",
		},
		[]string{"service", "queue"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "queue"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "queue", "reason"},
	)

	BrokerConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_connection_state",
			Help: "Broker connection state (0=disconnected, 1=connecting, 2=connected) (state code)",
		},
		[]string{"service", "role"},
	)

	BrokerReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Total number of transport reconnections (count)",
		},
		[]string{"transport"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag as reported by the reader (count)",
		},
		[]string{"topic", "group"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served (count)",
		},
		[]string{"service", "method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "method", "route"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	InboxChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_checks_total",
			Help: "Total number of inbox duplicate checks (count)",
		},
		[]string{"result"},
	)

	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Total number of order state transitions (count)",
		},
		[]string{"status"},
	)

	InventoryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_operations_total",
			Help: "Total number of inventory reservation and release outcomes (count)",
		},
		[]string{"operation", "result"},
	)

	ShipmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipments_total",
			Help: "Total number of shipment creation outcomes (count)",
		},
		[]string{"result"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of notifications by template and final status (count)",
		},
		[]string{"template", "status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var (
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
	httpOnce           sync.Once
	domainOnce         sync.Once
)

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(EventsPublishedTotal)
		prometheus.MustRegister(EventsConsumedTotal)
		prometheus.MustRegister(HandlerDuration)
		prometheus.MustRegister(InFlightMessages)
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(BrokerConnectionState)
		prometheus.MustRegister(BrokerReconnectsTotal)
		prometheus.MustRegister(KafkaConsumerLag)
		prometheus.MustRegister(InboxChecksTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterHTTPMetrics() {
	httpOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func RegisterDomainMetrics() {
	domainOnce.Do(func() {
		prometheus.MustRegister(OrdersTotal)
		prometheus.MustRegister(InventoryOperationsTotal)
		prometheus.MustRegister(ShipmentsTotal)
		prometheus.MustRegister(NotificationsTotal)
	})
}

func IncPublished(service, routingKey, status string) {
	EventsPublishedTotal.WithLabelValues(service, routingKey, status).Inc()
}

func IncConsumed(service, queue, outcome string) {
	EventsConsumedTotal.WithLabelValues(service, queue, outcome).Inc()
}

func ObserveHandlerDuration(service, queue, pattern, status string, duration time.Duration) {
	HandlerDuration.WithLabelValues(service, queue, pattern, status).Observe(float64(duration.Milliseconds()))
}

func IncRetry(service, queue string) {
	RetryAttemptsTotal.WithLabelValues(service, queue).Inc()
}

func IncDeadLettered(service, queue, reason string) {
	DLQMessagesTotal.WithLabelValues(service, queue, reason).Inc()
}

func SetConnectionState(service, role string, state int) {
	BrokerConnectionState.WithLabelValues(service, role).Set(float64(state))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func ObserveHTTPRequest(service, method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(service, method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(service, method, route).Observe(float64(duration.Milliseconds()))
}
