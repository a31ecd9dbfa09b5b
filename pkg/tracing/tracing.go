// Package tracing wires OpenTelemetry into a logistics service and carries
// trace context across the broker.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"logistics/internal/config"
)

const serviceNamespace = "logistics"

// Provider owns the process-wide tracer provider. The zero value exports
// nothing and shuts down cleanly.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

// Exporting reports whether spans leave the process.
func (p *Provider) Exporting() bool {
	return p != nil && p.sdk != nil
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Exporting() {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Init always installs the W3C propagator, so a service with tracing off
// still forwards the trace of the event it handles. With tracing on, spans go
// to the OTLP collector tagged with the service, the environment and the
// broker in use.
func Init(ctx context.Context, cfg *config.Config, service string) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Tracing.Enabled {
		return &Provider{}, nil
	}

	res, err := serviceResource(ctx, cfg, service)
	if err != nil {
		return nil, fmt.Errorf("failed to describe service %s: %w", service, err)
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOptions(cfg.Tracing.OTLP)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.Tracing.OTLP.Endpoint, err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.Tracing.Sampler)),
	)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk}, nil
}

// serviceResource names the service. tracing.service_name overrides the
// built-in name, e.g. to tell two deployments of one service apart.
func serviceResource(ctx context.Context, cfg *config.Config, service string) (*resource.Resource, error) {
	name := cfg.Tracing.ServiceName
	if name == "" {
		name = service
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		semconv.ServiceNamespaceKey.String(serviceNamespace),
		semconv.MessagingSystemKey.String(cfg.Broker.Type),
	}
	if cfg.Tracing.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Tracing.Environment))
	}

	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
}

func exporterOptions(cfg config.OTLPConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	return opts
}

// Sampler follows the caller's decision when the event carries one; ratio
// only applies to traces that start in this service.
func Sampler(cfg config.SamplerConfig) sdktrace.Sampler {
	switch cfg.Type {
	case "always_off":
		return sdktrace.NeverSample()
	case "ratio", "traceidratio", "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Param))
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}
