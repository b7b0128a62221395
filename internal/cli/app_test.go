package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/config"
	"finledger/internal/log"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                  "8081",
		DataBackend:           "memory",
		BaseCurrency:          "EUR",
		Rates:                 "USD=2",
		RatesTTL:              time.Minute,
		ProjectionHorizonDays: 30,
		ProjectionMaxPerRun:   10,
		ProjectionInterval:    time.Hour,
		PersistTimeout:        time.Second,
		SpikeMultiplier:       3,
		SpikeLookbackDays:     60,
		SpikeMinSamples:       2,
		MilestoneStep:         "500",
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

func TestServicesConfig(t *testing.T) {
	got := ServicesConfig(testConfig())
	if got.ReferenceCurrency != "EUR" || got.PersistTimeout != time.Second {
		t.Errorf("service config = %+v", got)
	}
	if got.Recurring.HorizonDays != 30 || got.Recurring.MaxPerRun != 10 {
		t.Errorf("recurring config = %+v", got.Recurring)
	}
	if got.Notify.SpikeMultiplier != 3 || got.Notify.SpikeMinSamples != 2 || !got.Notify.MilestoneStep.Equal(decimal.NewFromInt(500)) {
		t.Errorf("notify config = %+v", got.Notify)
	}
}

func TestNewRateTable(t *testing.T) {
	table, err := NewRateTable(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Convert(decimal.NewFromInt(10), "USD", "EUR"); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("10 USD = %s EUR, want 5", got)
	}

	bad := testConfig()
	bad.Rates = "USD"
	if _, err := NewRateTable(bad); err == nil {
		t.Error("expected malformed rates to fail")
	}
}

func TestBuildApp(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.json")
	body := `{"transactions":[{"id":"t1","title":"Salary","amount":"200","category":"Salary","type":"income","date":"2025-01-10","originalCurrency":"USD"}],"settings":{"currency":"EUR","notificationsEnabled":true}}`
	if err := os.WriteFile(seed, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.MemorySeedFile = seed

	app, err := BuildApp(context.Background(), cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if got := app.Finance.Transactions(); len(got) != 1 {
		t.Fatalf("loaded %d transactions, want 1", len(got))
	}
	summary := app.Finance.Summary(1, 2025)
	if !summary.Income.Equal(decimal.NewFromInt(100)) {
		t.Errorf("income = %s, want 100 EUR", summary.Income)
	}

	app.StartBackground(time.Hour)
	if err := app.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestBuildApp_InvalidBackend(t *testing.T) {
	cfg := testConfig()
	cfg.DataBackend = "sheets"
	if _, err := BuildApp(context.Background(), cfg, log.Discard()); err == nil {
		t.Error("expected error")
	}
}
