package main

import (
	"context"
	"fmt"
	"net/http"

	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/logger"
	"logistics/internal/orders"
	"logistics/pkg/bootstrap"
	"logistics/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	dbs         *bootstrap.Databases
	service     *orders.Service
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) bootstrap.Application {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceOrder),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(ctx); err != nil {
		return err
	}

	dbs, err := a.dbConnector.Connect(ctx, a.Health)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.dbs = dbs

	if err := a.InitPublisher(ctx); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initService()
	metrics.RegisterDomainMetrics()

	router := a.NewRouter(ctx)
	orders.NewHandler(a.service, a.Logger).RegisterRoutes(router)
	a.server = a.NewServer(router)
	return nil
}

func (a *App) initService() {
	var repo orders.Repository
	if a.dbs.Postgres != nil {
		repo = orders.NewPostgresRepository(a.dbs.Postgres)
	} else {
		repo = orders.NewMemoryRepository()
	}

	var opts []orders.ServiceOption
	if url := a.Config.Orders.InventoryURL; url != "" {
		checker := orders.NewHTTPAvailabilityChecker(url, constants.DefaultHTTPTimeout, a.Config.CircuitBreaker, a.Logger)
		opts = append(opts, orders.WithAvailabilityChecker(checker))
	}

	a.service = orders.NewService(repo, a.Publisher, a.Logger, opts...)
}

// Run serves HTTP until ctx is cancelled. The order service only produces
// events, so there is no consumer.
func (a *App) Run(ctx context.Context) error {
	return a.ServeHTTP(ctx, a.server)
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.dbs)
	})
}
