package main

import (
	"context"
	"fmt"
	"net/http"

	"logistics/internal/broker"
	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/logger"
	"logistics/internal/notifications"
	"logistics/internal/saga"
	"logistics/pkg/bootstrap"
	"logistics/pkg/cel"
	"logistics/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	dbs         *bootstrap.Databases
	service     *notifications.Service
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) bootstrap.Application {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceNotification),
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

	if err := a.InitConsumer(saga.NotificationBinding.Queue, dbs); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	var store notifications.Store
	if dbs.MongoDB != nil {
		store = notifications.NewMongoStore(dbs.MongoDB)
	} else {
		store = notifications.NewMemoryStore()
	}
	conditions, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to initialize template conditions: %w", err)
	}
	a.service = notifications.NewService(store, notifications.NewLogSender(a.Logger.Named("sender")), a.Logger,
		notifications.WithConditions(conditions))
	metrics.RegisterDomainMetrics()

	if a.Config.Notifications.SeedTemplates {
		if err := a.service.SeedTemplates(ctx); err != nil {
			return fmt.Errorf("failed to seed templates: %w", err)
		}
	}

	router := a.NewRouter(ctx)
	notifications.NewHandler(a.service, a.Logger).RegisterRoutes(router)
	a.server = a.NewServer(router)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	handlers := make(map[string]broker.Handler, len(saga.NotificationBinding.Patterns))
	for _, key := range saga.NotificationBinding.Patterns {
		handlers[key] = a.service.HandleEvent
	}

	return a.RunWithConsumer(ctx, a.server, func(ctx context.Context) error {
		return saga.Subscribe(ctx, a.Consumer, a.Config.Broker.Exchange, saga.NotificationBinding, handlers)
	})
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.dbs)
	})
}
