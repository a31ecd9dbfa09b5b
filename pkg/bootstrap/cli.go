package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/logger"
	"logistics/pkg/logging"
)

// Application is one service process.
type Application interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Factory builds the application once config and logger are ready.
type Factory func(cfg *config.Config, log logger.Logger) Application

// NewRootCommand returns the cobra root for a service binary. Running it with
// no subcommand behaves like `serve`.
func NewRootCommand(service, short string, factory Factory) *cobra.Command {
	var configFile string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the " + service,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveApp(service, configFile, factory)
		},
	}

	root := &cobra.Command{
		Use:           service,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")
	root.AddCommand(serve)
	return root
}

func serveApp(service, configFile string, factory Factory) error {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithServiceName(ctx, service)

	log.InfowCtx(ctx, "Starting service", "broker", cfg.Broker.Type, "storage", cfg.Storage.Type)

	app := factory(cfg, log)
	if err := app.Initialize(ctx); err != nil {
		log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
		shutdown(ctx, app, log)
		return err
	}

	log.InfowCtx(ctx, "Service running", "port", cfg.Server.Port)
	runErr := app.Run(ctx)
	shutdown(ctx, app, log)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
		return runErr
	}
	log.InfowCtx(ctx, "Service shutdown complete")
	return nil
}

func shutdown(ctx context.Context, app Application, log logger.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.ErrorwCtx(shutdownCtx, "Shutdown failed", "error", err)
	}
}
