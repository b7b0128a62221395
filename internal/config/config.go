package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/currency"
	"finledger/internal/log"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection: memory or sqlite
	DataBackend    string
	SQLiteDBPath   string
	MemorySeedFile string

	// AMQP (optional; empty URL disables change events)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets mirror, used by the worker
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Currency
	BaseCurrency string
	// Rates is "CODE=rate,..." relative to BaseCurrency.
	Rates    string
	RatesTTL time.Duration

	// Recurring projection
	ProjectionHorizonDays int
	ProjectionMaxPerRun   int
	ProjectionInterval    time.Duration
	// ReconcileInterval of zero disables periodic reload from storage.
	ReconcileInterval time.Duration
	PersistTimeout    time.Duration

	// Notifications
	SpikeMultiplier   float64
	SpikeLookbackDays int
	SpikeMinSamples   int
	MilestoneStep     string

	// HTTP rate limiting, requests per minute per client
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:    getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/finledger.db"),
		MemorySeedFile: getEnv("MEMORY_SEED_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "finledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Transactions"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		BaseCurrency: strings.ToUpper(getEnv("BASE_CURRENCY", "EUR")),
		Rates:        getEnv("RATES", ""),
		RatesTTL:     getEnvDuration("RATES_CACHE_TTL", time.Hour),

		ProjectionHorizonDays: getEnvInt("PROJECTION_HORIZON_DAYS", 60),
		ProjectionMaxPerRun:   getEnvInt("PROJECTION_MAX_PER_RUN", 500),
		ProjectionInterval:    getEnvDuration("PROJECTION_INTERVAL", time.Hour),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", 0),
		PersistTimeout:        getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),

		SpikeMultiplier:   getEnvFloat("SPIKE_MULTIPLIER", 2.0),
		SpikeLookbackDays: getEnvInt("SPIKE_LOOKBACK_DAYS", 90),
		SpikeMinSamples:   getEnvInt("SPIKE_MIN_SAMPLES", 3),
		MilestoneStep:     getEnv("MILESTONE_STEP", "1000"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate currency
	if code := core.NormalizeCurrency(c.BaseCurrency); len(code) != 3 {
		errors = append(errors, fmt.Sprintf("invalid base currency '%s': must be a 3-letter code", c.BaseCurrency))
	}
	if _, err := currency.ParseRates(c.Rates); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rates '%s': %v", c.Rates, err))
	}

	// Validate projection
	if c.ProjectionHorizonDays < 1 || c.ProjectionHorizonDays > 3660 {
		errors = append(errors, fmt.Sprintf("invalid projection horizon %d: must be between 1 and 3660 days", c.ProjectionHorizonDays))
	}
	if c.ProjectionMaxPerRun < 1 {
		errors = append(errors, fmt.Sprintf("invalid projection max per run %d: must be at least 1", c.ProjectionMaxPerRun))
	}
	if c.ProjectionInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid projection interval %v: must be at least 1 second", c.ProjectionInterval))
	} else if c.ProjectionInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid projection interval %v: must be at most 24 hours", c.ProjectionInterval))
	}
	if c.ReconcileInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must not be negative", c.ReconcileInterval))
	}
	if c.PersistTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid persist timeout %v: must be positive", c.PersistTimeout))
	}

	// Validate notifications
	if c.SpikeMultiplier <= 1 {
		errors = append(errors, fmt.Sprintf("invalid spike multiplier %v: must be greater than 1", c.SpikeMultiplier))
	}
	if c.SpikeLookbackDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid spike lookback %d: must be at least 1 day", c.SpikeLookbackDays))
	}
	if c.SpikeMinSamples < 1 {
		errors = append(errors, fmt.Sprintf("invalid spike min samples %d: must be at least 1", c.SpikeMinSamples))
	}
	if step, err := core.ParseDecimal(c.MilestoneStep); err != nil || !step.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid milestone step '%s': must be a positive amount", c.MilestoneStep))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	// Validate logging
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Milestone returns MilestoneStep as a decimal; call after Validate.
func (c *Config) Milestone() decimal.Decimal {
	step, err := core.ParseDecimal(c.MilestoneStep)
	if err != nil {
		return decimal.NewFromInt(1000)
	}
	return step
}

// LoggerConfig maps the logging settings onto log.Config.
func (c *Config) LoggerConfig(component string) log.Config {
	cfg := log.DefaultConfig()
	if level, err := log.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.LogFormat
	cfg.Component = component
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
