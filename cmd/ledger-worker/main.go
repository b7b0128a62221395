package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"finledger/internal/amqp"
	"finledger/internal/cli"
	"finledger/internal/config"
	"finledger/internal/log"
	"finledger/internal/sheets"
	gsheet "finledger/internal/sheets/google"
	mem "finledger/internal/sheets/memory"
	"finledger/internal/storage"
	"finledger/internal/storage/sqlite"
	"finledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker",
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	mirror, err := newMirror(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize mirror",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	// Startup sync needs the ledger itself, which only the sqlite backend
	// shares across processes.
	var source storage.TransactionStore
	if cfg.DataBackend == "sqlite" {
		repo, err := sqlite.NewRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to open SQLite repository",
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDatabase,
				"path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		source = repo
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		os.Exit(1)
	}
	defer client.Close()

	syncWorker := worker.NewSyncWorker(mirror, source, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if err := syncWorker.StartupSync(ctx); err != nil {
		// Events keep the mirror current from here on.
		log.NewStructuredLogger(logger).LogError(ctx, "Startup sync failed", err, log.ErrorTypeNetwork, log.OpStartup, nil)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.ConsumeTransactionEvents(gctx, syncWorker.HandleEvent)
	})
	if source != nil && cfg.ReconcileInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.ReconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					if err := syncWorker.StartupSync(gctx); err != nil {
						logger.Error("Periodic mirror rebuild failed", log.FieldError, err)
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}
	<-done
	logger.Info("Worker stopped")
}

// newMirror selects the Google Sheets mirror when a spreadsheet is
// configured and an in-memory one otherwise.
func newMirror(cfg *config.Config, logger *log.Logger) (sheets.TransactionMirror, error) {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Info("Google Sheets disabled, mirroring in memory")
		return mem.New(), nil
	}
	client, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}
