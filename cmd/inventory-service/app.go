package main

import (
	"context"
	"fmt"
	"net/http"

	"logistics/internal/broker"
	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/inventory"
	"logistics/internal/logger"
	"logistics/internal/saga"
	"logistics/pkg/bootstrap"
	"logistics/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	dbs         *bootstrap.Databases
	service     *inventory.Service
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) bootstrap.Application {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceInventory),
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
	if err := a.InitConsumer(saga.InventoryBinding.Queue, dbs); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	var repo inventory.Repository
	if dbs.Postgres != nil {
		repo = inventory.NewPostgresRepository(dbs.Postgres)
	} else {
		repo = inventory.NewMemoryRepository()
	}
	a.service = inventory.NewService(repo, a.Publisher, a.Config.Inventory, a.Logger)
	metrics.RegisterDomainMetrics()

	router := a.NewRouter(ctx)
	inventory.NewHandler(a.service, a.Logger).RegisterRoutes(router)
	a.server = a.NewServer(router)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	return a.RunWithConsumer(ctx, a.server, func(ctx context.Context) error {
		return saga.Subscribe(ctx, a.Consumer, a.Config.Broker.Exchange, saga.InventoryBinding, map[string]broker.Handler{
			saga.OrderCreated:       a.service.HandleOrderCreated,
			saga.OrderStatusChanged: a.service.HandleOrderStatusChanged,
			saga.OrderCancelled:     a.service.HandleOrderCancelled,
		})
	})
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.dbs)
	})
}
