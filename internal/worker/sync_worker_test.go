package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"finledger/internal/amqp"
	"finledger/internal/core"
	"finledger/internal/log"
	sheetsmem "finledger/internal/sheets/memory"
	"finledger/internal/storage/memory"
)

func sample(id string) core.Transaction {
	return core.Transaction{
		ID: id, Title: "Coffee", Amount: decimal.RequireFromString("2.40"), Category: "Food",
		Type: core.Expense, Date: core.NewDate(2025, 3, 1), OriginalCurrency: "EUR",
	}
}

type failingMirror struct{ *sheetsmem.Mirror }

func (failingMirror) Upsert(context.Context, core.Transaction) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestHandleEvent(t *testing.T) {
	mirror := sheetsmem.New()
	w := NewSyncWorker(mirror, nil, log.Discard())
	ctx := context.Background()

	steps := []struct {
		name     string
		event    *amqp.TransactionEvent
		wantRows int
	}{
		{"create", amqp.NewTransactionEvent(amqp.TransactionCreated, sample("a")), 1},
		{"create second", amqp.NewTransactionEvent(amqp.TransactionCreated, sample("b")), 2},
		{"update", amqp.NewTransactionEvent(amqp.TransactionUpdated, sample("a")), 2},
		{"delete", amqp.NewDeleteEvent("a"), 1},
		{"delete again", amqp.NewDeleteEvent("a"), 1},
		{"replace", amqp.NewReplaceEvent([]core.Transaction{sample("x"), sample("y"), sample("z")}), 3},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			if err := w.HandleEvent(ctx, st.event); err != nil {
				t.Fatal(err)
			}
			if got := len(mirror.Rows()); got != st.wantRows {
				t.Fatalf("rows = %d, want %d", got, st.wantRows)
			}
		})
	}

	if err := w.HandleEvent(ctx, &amqp.TransactionEvent{Kind: "bogus"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestHandleEventPropagatesMirrorErrors(t *testing.T) {
	w := NewSyncWorker(failingMirror{sheetsmem.New()}, nil, log.Discard())
	err := w.HandleEvent(context.Background(), amqp.NewTransactionEvent(amqp.TransactionCreated, sample("a")))
	if err == nil {
		t.Fatal("expected the mirror error so the message is requeued")
	}
}

func TestStartupSync(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	_ = source.SaveTransaction(ctx, sample("a"))
	_ = source.SaveTransaction(ctx, sample("b"))

	mirror := sheetsmem.New()
	_, _ = mirror.Upsert(ctx, sample("stale"))

	w := NewSyncWorker(mirror, source, log.Discard())
	if err := w.StartupSync(ctx); err != nil {
		t.Fatal(err)
	}
	rows := mirror.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows after startup sync = %d, want 2", len(rows))
	}

	source.SetFailure(errors.New("locked"))
	if err := w.StartupSync(ctx); err == nil {
		t.Fatal("expected source error")
	}

	if err := NewSyncWorker(mirror, nil, log.Discard()).StartupSync(ctx); err != nil {
		t.Fatalf("startup sync without source should be a no-op: %v", err)
	}
}
