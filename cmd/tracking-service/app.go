package main

import (
	"context"
	"fmt"
	"net/http"

	"logistics/internal/broker"
	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/logger"
	"logistics/internal/saga"
	"logistics/internal/tracking"
	"logistics/pkg/bootstrap"
	"logistics/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	dbs         *bootstrap.Databases
	service     *tracking.Service
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) bootstrap.Application {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceTracking),
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
	if err := a.InitConsumer(saga.TrackingBinding.Queue, dbs); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	var repo tracking.Repository
	if dbs.Postgres != nil {
		repo = tracking.NewPostgresRepository(dbs.Postgres)
	} else {
		repo = tracking.NewMemoryRepository()
	}
	a.service = tracking.NewService(repo, a.Publisher, a.Logger)
	metrics.RegisterDomainMetrics()

	router := a.NewRouter(ctx)
	tracking.NewHandler(a.service, a.Logger).RegisterRoutes(router)
	a.server = a.NewServer(router)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	return a.RunWithConsumer(ctx, a.server, func(ctx context.Context) error {
		return saga.Subscribe(ctx, a.Consumer, a.Config.Broker.Exchange, saga.TrackingBinding, map[string]broker.Handler{
			saga.OrderCreated: a.service.HandleOrderCreated,
		})
	})
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.dbs)
	})
}
