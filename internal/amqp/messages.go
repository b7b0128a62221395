package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"finledger/internal/core"
)

// EventKind names a transaction change.
type EventKind string

const (
	TransactionCreated EventKind = "transaction.created"
	TransactionUpdated EventKind = "transaction.updated"
	TransactionDeleted EventKind = "transaction.deleted"
	// TransactionsReplaced carries the full set after an import.
	TransactionsReplaced EventKind = "transactions.replaced"
)

// TransactionEvent describes one change to the ledger. Created and updated
// events carry the transaction; deletes carry only its id.
type TransactionEvent struct {
	Kind          EventKind          `json:"kind"`
	TransactionID string             `json:"transactionId,omitempty"`
	Transaction   *core.Transaction  `json:"transaction,omitempty"`
	Transactions  []core.Transaction `json:"transactions,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// NewTransactionEvent builds a created/updated event for tx.
func NewTransactionEvent(kind EventKind, tx core.Transaction) *TransactionEvent {
	return &TransactionEvent{
		Kind:          kind,
		TransactionID: tx.ID,
		Transaction:   &tx,
		Timestamp:     time.Now(),
	}
}

func NewDeleteEvent(id string) *TransactionEvent {
	return &TransactionEvent{
		Kind:          TransactionDeleted,
		TransactionID: id,
		Timestamp:     time.Now(),
	}
}

func NewReplaceEvent(txs []core.Transaction) *TransactionEvent {
	return &TransactionEvent{
		Kind:         TransactionsReplaced,
		Transactions: txs,
		Timestamp:    time.Now(),
	}
}

// Validate rejects events a consumer cannot act on.
func (e *TransactionEvent) Validate() error {
	switch e.Kind {
	case TransactionCreated, TransactionUpdated:
		if e.Transaction == nil || e.Transaction.ID == "" {
			return fmt.Errorf("%s event without transaction", e.Kind)
		}
	case TransactionDeleted:
		if e.TransactionID == "" {
			return fmt.Errorf("%s event without id", e.Kind)
		}
	case TransactionsReplaced:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes and validates an event.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var e TransactionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
