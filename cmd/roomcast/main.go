package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"roomcast/internal/app"
	"roomcast/internal/chat"
	"roomcast/internal/config"
	"roomcast/internal/logging"
)

func main() {
	if err := run(context.Background(), os.Getenv(config.EnvPrefix+"CONFIG_FILE")); err != nil {
		os.Stderr.WriteString("roomcast: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// run starts the service and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives, then shuts down within the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	logger, err := logging.New(cfg.Log, "roomcast")
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	defer func() { _ = logger.Sync() }()

	application, chatService, err := newApplication(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "create application")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The run loop must outlive the signal so Stop can drain it.
	if err := application.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "start application")
	}

	<-ctx.Done()
	logger.Info("shutdown requested", zap.Error(context.Cause(ctx)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Do(shutdownCtx, chatService.Shutdown); err != nil {
		logger.Warn("shutdown notice failed", zap.Error(err))
	}
	if err := application.Stop(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// newApplication maps the HTTP section onto the port-mode endpoint and
// installs the chat handlers.
func newApplication(cfg *config.Config, logger *zap.Logger) (*app.Application, *chat.Service, error) {
	application, err := app.New(app.Options{
		Port: cfg.HTTP.Port,
		Host: cfg.HTTP.Host,
		Path: cfg.HTTP.Path,
	}, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	chatService := chat.New(logger)
	application.Server().OnConnect(chatService.Attach)
	return application, chatService, nil
}
