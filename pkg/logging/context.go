package logging

import (
	"context"
)

const (
	TraceIDKey     = "trace_id"
	MessageIDKey   = "message_id"
	ServiceNameKey = "service_name"
	RoutingKeyKey  = "routing_key"
	QueueKey       = "queue"
	AttemptKey     = "attempt"
	RequestIDKey   = "request_id"
)

type ctxKey string

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, ctxKey(MessageIDKey), messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func WithRoutingKey(ctx context.Context, routingKey string) context.Context {
	return context.WithValue(ctx, ctxKey(RoutingKeyKey), routingKey)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey(RequestIDKey), requestID)
}

func WithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, ctxKey(QueueKey), queue)
}

// WithDelivery stamps everything the consumer knows about an inbound message.
func WithDelivery(ctx context.Context, queue, routingKey, messageID string) context.Context {
	ctx = WithQueue(ctx, queue)
	ctx = WithRoutingKey(ctx, routingKey)
	if messageID != "" {
		ctx = WithMessageID(ctx, messageID)
	}
	return ctx
}

func getString(ctx context.Context, key string) string {
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return getString(ctx, MessageIDKey)
}

func GetServiceName(ctx context.Context) string {
	return getString(ctx, ServiceNameKey)
}

func GetRoutingKey(ctx context.Context) string {
	return getString(ctx, RoutingKeyKey)
}

func GetQueue(ctx context.Context) string {
	return getString(ctx, QueueKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []string{TraceIDKey, RequestIDKey, MessageIDKey, RoutingKeyKey, QueueKey, ServiceNameKey} {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
