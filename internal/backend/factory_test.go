package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"finledger/internal/adapters"
	"finledger/internal/amqp"
	"finledger/internal/config"
	"finledger/internal/log"
	"finledger/internal/storage/memory"
	"finledger/internal/storage/sqlite"
)

type stubPublisher struct{ closed bool }

func (s *stubPublisher) PublishTransactionEvent(context.Context, *amqp.TransactionEvent) error {
	return nil
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}

func testFactory(dialErr error) (*DefaultFactory, *stubPublisher) {
	pub := &stubPublisher{}
	f := &DefaultFactory{
		logger: log.Discard(),
		dial: func(string, string, string, *log.Logger) (amqp.Publisher, error) {
			if dialErr != nil {
				return nil, dialErr
			}
			return pub, nil
		},
	}
	return f, pub
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"sheets is gone", Config{Type: "sheets"}, true},
		{"amqp without exchange", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "postgres"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{
		DataBackend:    "memory",
		MemorySeedFile: "seed.json",
		AMQPURL:        "amqp://localhost",
		AMQPExchange:   "ex",
		AMQPQueue:      "q",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != MemoryBackend || cfg.MemorySeedFile != "seed.json" || cfg.AMQPExchange != "ex" {
		t.Errorf("FromAppConfig() = %+v", cfg)
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	got := GetBackendTypeStrings()
	if len(got) != 2 || got[0] != "sqlite" || got[1] != "memory" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}

func TestCreateBackend_Memory(t *testing.T) {
	f, _ := testFactory(nil)
	res, err := f.CreateBackend(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Storage.(*memory.Store); !ok {
		t.Errorf("storage = %T, want *memory.Store", res.Storage)
	}
	if res.Publisher != nil || res.Pinger != nil {
		t.Error("memory backend without AMQP should have no publisher or pinger")
	}
	if err := res.Cleanup(); err != nil {
		t.Error(err)
	}
}

func TestCreateBackend_MemorySeed(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.json")
	body := `{"transactions":[{"id":"t1","title":"Salary","amount":"100","category":"Salary","type":"income","date":"2025-01-01","originalCurrency":"EUR"}]}`
	if err := os.WriteFile(seed, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	f, _ := testFactory(nil)
	res, err := f.CreateBackend(context.Background(), Config{Type: MemoryBackend, MemorySeedFile: seed})
	if err != nil {
		t.Fatal(err)
	}
	txs, _ := res.Storage.GetAllTransactions(context.Background())
	if len(txs) != 1 || txs[0].ID != "t1" {
		t.Fatalf("seeded transactions = %+v", txs)
	}
}

func TestCreateBackend_SQLite(t *testing.T) {
	f, _ := testFactory(nil)
	path := filepath.Join(t.TempDir(), "data", "ledger.db")
	res, err := f.CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer res.Cleanup()
	if _, ok := res.Storage.(*sqlite.Repository); !ok {
		t.Errorf("storage = %T, want *sqlite.Repository", res.Storage)
	}
	if res.Pinger == nil {
		t.Fatal("sqlite backend should expose a pinger")
	}
	if err := res.Pinger.Ping(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestCreateBackend_WithAMQP(t *testing.T) {
	f, pub := testFactory(nil)
	res, err := f.CreateBackend(context.Background(), Config{
		Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "ex", AMQPQueue: "q",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Storage.(*adapters.PublishingStore); !ok {
		t.Errorf("storage = %T, want publishing decorator", res.Storage)
	}
	if res.Publisher == nil {
		t.Error("publisher not exposed")
	}
	if err := res.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if !pub.closed {
		t.Error("cleanup did not close the publisher")
	}
}

func TestCreateBackend_AMQPUnavailable(t *testing.T) {
	f, _ := testFactory(errors.New("connection refused"))
	res, err := f.CreateBackend(context.Background(), Config{
		Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "ex", AMQPQueue: "q",
	})
	if err != nil {
		t.Fatalf("broker failure should not fail the backend: %v", err)
	}
	if _, ok := res.Storage.(*memory.Store); !ok {
		t.Errorf("storage = %T, want plain memory store", res.Storage)
	}
	if res.Publisher != nil {
		t.Error("publisher set despite dial failure")
	}
}

func TestCreateBackend_InvalidType(t *testing.T) {
	f, _ := testFactory(nil)
	if _, err := f.CreateBackend(context.Background(), Config{Type: "sheets"}); err == nil {
		t.Error("expected error")
	}
}
