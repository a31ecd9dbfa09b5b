package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"logistics/internal/broker"
	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/inbox"
	"logistics/internal/logger"
	"logistics/pkg/health"
	"logistics/pkg/metrics"
	"logistics/pkg/middleware"
	"logistics/pkg/ratelimit"
	"logistics/pkg/tracing"
)

// Base carries the pieces every service process shares: config, logging,
// tracing, the broker publisher and consumer, and the health registry.
type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Service   string
	Publisher *broker.Publisher
	Consumer  *broker.Consumer
	Health    *health.CheckerRegistry
	Tracer    *tracing.Provider

	membroker *broker.MemoryBroker
}

func NewBase(cfg *config.Config, log logger.Logger, service string) *Base {
	if sugared, ok := log.(*logger.SugaredLogger); ok {
		sugared.SetServiceName(service)
	}
	return &Base{
		Config:  cfg,
		Logger:  log,
		Service: service,
		Health:  health.NewCheckerRegistry(),
	}
}

func (b *Base) InitTracing(ctx context.Context) error {
	tp, err := tracing.Init(ctx, b.Config, b.Service)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.Tracer = tp
	return nil
}

func (b *Base) transport() (broker.Transport, error) {
	if b.membroker == nil {
		b.membroker = broker.NewMemoryBroker()
	}
	return broker.NewTransport(b.Config.Broker, b.membroker, b.Logger)
}

func (b *Base) exchange() string {
	return b.Config.Broker.Exchange
}

// InitPublisher connects a publisher to the configured exchange.
func (b *Base) InitPublisher(ctx context.Context) error {
	metrics.RegisterBrokerMetrics()

	t, err := b.transport()
	if err != nil {
		return fmt.Errorf("failed to create publisher transport: %w", err)
	}
	pub := broker.NewPublisher(t, b.Service, broker.PolicyFromConfig(b.Config.Broker.ConnectRetry), b.Logger.Named("publisher"))
	if err := pub.Connect(ctx, b.exchange()); err != nil {
		_ = pub.Close()
		return fmt.Errorf("failed to connect publisher: %w", err)
	}
	b.Publisher = pub
	b.Health.Register(health.NewBrokerChecker("broker_publisher", pub))
	return nil
}

// InitConsumer creates the consumer for queue. The inbox store is optional
// and backed by redis when configured so.
func (b *Base) InitConsumer(queue string, dbs *Databases) error {
	metrics.RegisterBrokerMetrics()

	store, err := inbox.New(b.Config.Inbox, dbs.redis(), b.Config.CircuitBreaker)
	if err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	t, err := b.transport()
	if err != nil {
		return fmt.Errorf("failed to create consumer transport: %w", err)
	}

	var box broker.Inbox
	if store != nil {
		box = store
	}
	cfg := broker.ConsumerConfigFrom(b.Service, b.Config.Broker, box)
	b.Consumer = broker.NewConsumer(t, queue, cfg, b.Logger.Named("consumer"))
	b.Health.Register(health.NewBrokerChecker("broker_consumer", b.Consumer))
	return nil
}

// NewRouter builds the gin engine with the shared middleware chain plus the
// /health and /metrics endpoints.
func (b *Base) NewRouter(ctx context.Context) *gin.Engine {
	metrics.RegisterHTTPMetrics()
	if b.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(b.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(tracing.GinMiddleware(b.Service))
	router.Use(middleware.LoggerMiddleware(b.Logger))
	router.Use(middleware.MetricsMiddleware(b.Service))

	if rl := b.Config.API.RateLimit; rl.Enabled {
		router.Use(ratelimit.Middleware(ctx, ratelimit.FromConfig(rl)))
	}

	router.GET("/health", b.healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func (b *Base) healthHandler(c *gin.Context) {
	h := b.Health.Check(c.Request.Context())
	status := http.StatusOK
	if h.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (b *Base) NewServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", b.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  b.Config.Server.ReadTimeout,
		WriteTimeout: b.Config.Server.WriteTimeout,
	}
}

// ServeHTTP runs server until ctx is done, then drains it within
// constants.ShutdownTimeout.
func (b *Base) ServeHTTP(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		b.Logger.InfowCtx(ctx, "HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return <-errCh
}

// RunWithConsumer serves HTTP and keeps the consumer subscribed until ctx is
// done. subscribe must start consumption and return.
func (b *Base) RunWithConsumer(ctx context.Context, server *http.Server, subscribe func(ctx context.Context) error) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.ServeHTTP(gCtx, server)
	})

	g.Go(func() error {
		if err := subscribe(gCtx); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", b.Consumer.Queue(), err)
		}
		b.Logger.InfowCtx(gCtx, "Consumer subscribed", "queue", b.Consumer.Queue())
		<-gCtx.Done()
		return nil
	})

	return g.Wait()
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close error: %w", err))
		}
	}

	return errs
}

// Shutdown closes the broker first so no handler runs against a closed store,
// then calls additionalShutdown and finally flushes the tracer.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application")

	errs := b.ShutdownBroker()

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if b.Tracer != nil {
		if err := b.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
