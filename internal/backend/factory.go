package backend

import (
	"context"
	"fmt"

	"finledger/internal/adapters"
	"finledger/internal/amqp"
	"finledger/internal/log"
	"finledger/internal/storage/memory"
	"finledger/internal/storage/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
	// dial is swapped in tests to avoid a broker.
	dial func(url, exchange, queue string, logger *log.Logger) (amqp.Publisher, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
		dial: func(url, exchange, queue string, logger *log.Logger) (amqp.Publisher, error) {
			return amqp.NewClient(url, exchange, queue, logger)
		},
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *Result
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		result, err = f.createMemoryBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	f.attachPublisher(ctx, config, result)
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*Result, error) {
	repo, err := sqlite.NewRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &Result{
		Storage: repo,
		Pinger:  repo,
		Cleanup: func() error {
			f.logger.Info("Closing SQLite repository")
			return repo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, config Config) (*Result, error) {
	store, err := memory.NewFromFile(config.MemorySeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized memory backend", "seed_file", config.MemorySeedFile)

	return &Result{
		Storage: store,
		Cleanup: func() error { return nil },
	}, nil
}

// attachPublisher wraps the storage port so transaction writes emit change
// events. A broker that cannot be reached is logged and skipped.
func (f *DefaultFactory) attachPublisher(ctx context.Context, config Config, result *Result) {
	if config.AMQPURL == "" {
		return
	}
	client, err := f.dial(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change events",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		return
	}

	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	result.Storage = adapters.NewPublishingStore(result.Storage, client, f.logger)
	result.Publisher = client

	inner := result.Cleanup
	result.Cleanup = func() error {
		if err := client.Close(); err != nil {
			f.logger.Warn("Failed to close AMQP client", log.FieldError, err)
		}
		if inner != nil {
			return inner()
		}
		return nil
	}
}
