package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finledger/internal/backend"
	"finledger/internal/cache"
	"finledger/internal/config"
	"finledger/internal/currency"
	"finledger/internal/log"
	"finledger/internal/notify"
	"finledger/internal/recurring"
	"finledger/internal/services"
)

// App is a loaded finance service together with the resources that back it.
type App struct {
	Finance *services.Finance
	Backend *backend.Result
	Rates   *currency.RateTable
	Caches  *cache.Manager
	logger  *log.Logger
}

// ServicesConfig maps the environment onto the finance service tunables.
func ServicesConfig(cfg *config.Config) services.Config {
	return services.Config{
		ReferenceCurrency: cfg.BaseCurrency,
		PersistTimeout:    cfg.PersistTimeout,
		Recurring: recurring.Config{
			HorizonDays: cfg.ProjectionHorizonDays,
			MaxPerRun:   cfg.ProjectionMaxPerRun,
		},
		Notify: notify.Config{
			SpikeMultiplier:   cfg.SpikeMultiplier,
			SpikeLookbackDays: cfg.SpikeLookbackDays,
			SpikeMinSamples:   cfg.SpikeMinSamples,
			MilestoneStep:     cfg.Milestone(),
		},
	}
}

// NewRateTable builds the converter from BASE_CURRENCY and RATES.
func NewRateTable(cfg *config.Config) (*currency.RateTable, error) {
	rates, err := currency.ParseRates(cfg.Rates)
	if err != nil {
		return nil, err
	}
	return currency.NewRateTable(cfg.BaseCurrency, rates, cfg.RatesTTL), nil
}

// BuildApp creates the backend, wires the finance service over it and loads
// the persisted state.
func BuildApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	rates, err := NewRateTable(cfg)
	if err != nil {
		_ = result.Cleanup()
		return nil, fmt.Errorf("exchange rates: %w", err)
	}
	caches := cache.NewManager()
	caches.Register(rates.Cache())

	persistLogger := logger.WithComponent(log.ComponentStorage)
	finance, err := services.New(services.Deps{
		Storage:   result.Storage,
		Converter: rates,
		Logger:    logger,
		Config:    ServicesConfig(cfg),
		OnPersistError: func(op string, err error) {
			persistLogger.Error("Background write failed",
				log.FieldOperation, op,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDatabase)
		},
	})
	if err != nil {
		_ = result.Cleanup()
		return nil, err
	}

	if err := finance.Reload(ctx); err != nil {
		_ = result.Cleanup()
		return nil, fmt.Errorf("load ledger state: %w", err)
	}

	return &App{
		Finance: finance,
		Backend: result,
		Rates:   rates,
		Caches:  caches,
		logger:  logger,
	}, nil
}

// StartBackground starts cache expiry; pair with Close.
func (a *App) StartBackground(interval time.Duration) {
	a.Caches.StartCleanup(interval)
}

// Close drains pending writes, stops background work and releases the
// backend.
func (a *App) Close(ctx context.Context) error {
	a.Caches.Stop()
	var errs []error
	if err := a.Finance.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain writes: %w", err))
	}
	if failures := a.Finance.PersistFailures(); failures > 0 {
		a.logger.Warn("Background writes failed during this run", log.FieldCount, failures)
	}
	if a.Backend.Cleanup != nil {
		if err := a.Backend.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("backend cleanup: %w", err))
		}
	}
	return errors.Join(errs...)
}
