package backend

import (
	"context"

	"finledger/internal/amqp"
	"finledger/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result holds the storage port handed to the ledger core, the publisher
// (nil when AMQP is not configured) and the cleanup for both.
type Result struct {
	Storage   storage.Port
	Publisher amqp.Publisher
	// Pinger is set when the backend can report readiness.
	Pinger  Pinger
	Cleanup CleanupFunc
}

// Pinger is implemented by backends with a live connection to check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Memory specific: optional JSON snapshot to start from
	MemorySeedFile string

	// Change events, optional for every backend
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
