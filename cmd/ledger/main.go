package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finledger/internal/cli"
	apphttp "finledger/internal/http"
	"finledger/internal/log"
	"finledger/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	logger.Info("Starting finledger",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"base_currency", cfg.BaseCurrency)

	app, err := cli.BuildApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	app.StartBackground(time.Minute)

	var ready apphttp.ReadinessFunc
	if app.Backend.Pinger != nil {
		ready = app.Backend.Pinger.Ping
	}
	srv := apphttp.NewServer(":"+cfg.Port, app.Finance, apphttp.Options{
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Ready:              ready,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	processor := services.NewRecurringProcessor(app.Finance, services.ProcessorConfig{
		ProjectionInterval: cfg.ProjectionInterval,
		ReconcileInterval:  cfg.ReconcileInterval,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Recurring processor shutdown error", log.FieldError, err)
		}
		if err := app.Close(ctx); err != nil {
			logger.Error("Ledger shutdown error", log.FieldError, err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start recurring processor", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
