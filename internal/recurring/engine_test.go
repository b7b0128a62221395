package recurring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
	"finledger/internal/ledger"
	"finledger/internal/log"
	"finledger/internal/storage"
	"finledger/internal/storage/memory"
)

type fixture struct {
	engine *Engine
	ledger *ledger.Store
	port   *memory.Store
	writer *storage.AsyncWriter
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	port := memory.New()
	writer := storage.NewAsyncWriter(storage.DefaultAsyncWriterConfig(), nil)
	t.Cleanup(func() { writer.Close(context.Background()) })
	clock := core.NewFixedClock(time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC))

	l := ledger.New(ledger.Options{
		Port: port, Writer: writer, Clock: clock, Logger: log.Discard(), ReferenceCurrency: "EUR",
	})
	e := New(Options{Config: cfg, Ledger: l, Port: port, Writer: writer, Logger: log.Discard()})
	return &fixture{engine: e, ledger: l, port: port, writer: writer}
}

func monthlyRent(start core.Date) TemplateDraft {
	return TemplateDraft{
		Title:            "Rent",
		Amount:           decimal.NewFromInt(900),
		Category:         "Housing",
		Type:             core.Expense,
		Frequency:        core.Monthly,
		StartDate:        start,
		OriginalCurrency: "EUR",
	}
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	d := monthlyRent(core.NewDate(2025, 1, 1))
	d.Type = core.Withdrawal
	if _, err := f.engine.Create(ctx, d); !errors.Is(err, core.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType for withdrawal template, got %v", err)
	}

	d = monthlyRent(core.NewDate(2025, 1, 1))
	d.Frequency = "hourly"
	if _, err := f.engine.Create(ctx, d); !errors.Is(err, core.ErrInvalidFrequency) {
		t.Fatalf("expected ErrInvalidFrequency, got %v", err)
	}

	rt, err := f.engine.Create(ctx, monthlyRent(core.NewDate(2025, 1, 1)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rt.NextOccurrence != rt.StartDate || !rt.IsActive {
		t.Fatalf("new template must start active at its start date: %+v", rt)
	}
}

func TestGenerateMonthlyScenario(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	rt, err := f.engine.Create(ctx, monthlyRent(core.NewDate(2025, 1, 1)))
	if err != nil {
		t.Fatal(err)
	}

	today := core.NewDate(2025, 1, 15)
	n, err := f.engine.Generate(ctx, today)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n != 3 {
		t.Fatalf("generated %d entries, want 3 (Jan, Feb, Mar)", n)
	}

	want := map[core.Date]bool{
		core.NewDate(2025, 1, 1): true,
		core.NewDate(2025, 2, 1): true,
		core.NewDate(2025, 3, 1): true,
	}
	for _, tx := range f.ledger.List() {
		if !want[tx.Date] {
			t.Errorf("unexpected generated date %s", tx.Date)
		}
		if tx.RecurringID != rt.ID || !tx.IsRecurring {
			t.Errorf("generated entry not linked to template: %+v", tx)
		}
	}

	got, _ := f.engine.Get(rt.ID)
	if got.NextOccurrence != core.NewDate(2025, 4, 1) {
		t.Fatalf("NextOccurrence = %s, want 2025-04-01", got.NextOccurrence)
	}
	if got.LastGenerated == nil || *got.LastGenerated != core.NewDate(2025, 3, 1) {
		t.Fatalf("LastGenerated = %v, want 2025-03-01", got.LastGenerated)
	}

	again, err := f.engine.Generate(ctx, today)
	if err != nil || again != 0 {
		t.Fatalf("second run generated %d (err %v), want 0", again, err)
	}
	if len(f.ledger.List()) != 3 {
		t.Fatalf("second run must not duplicate entries")
	}
}

func TestGenerateSkipsExistingDates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	rt, _ := f.engine.Create(ctx, monthlyRent(core.NewDate(2025, 1, 1)))

	// An entry for Feb 1 already exists, e.g. from another device.
	existing := entryFor(rt, core.NewDate(2025, 2, 1))
	if _, err := f.ledger.AddGenerated(ctx, existing); err != nil {
		t.Fatal(err)
	}

	n, err := f.engine.Generate(ctx, core.NewDate(2025, 1, 15))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("generated %d, want 2", n)
	}
	if len(f.ledger.List()) != 3 {
		t.Fatalf("expected exactly one entry per date, got %d", len(f.ledger.List()))
	}
}

func TestGenerateRespectsEndDate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	d := monthlyRent(core.NewDate(2025, 1, 1))
	end := core.NewDate(2025, 2, 15)
	d.EndDate = &end
	rt, _ := f.engine.Create(ctx, d)

	n, _ := f.engine.Generate(ctx, core.NewDate(2025, 1, 15))
	if n != 2 {
		t.Fatalf("generated %d, want 2 (Jan, Feb)", n)
	}
	got, _ := f.engine.Get(rt.ID)
	if !got.Finished() {
		t.Fatalf("template past its end date should be finished: %+v", got)
	}
	if n, _ := f.engine.Generate(ctx, core.NewDate(2025, 6, 1)); n != 0 {
		t.Fatalf("finished template generated %d entries", n)
	}
}

func TestGenerateMaxPerRunResumes(t *testing.T) {
	f := newFixture(t, Config{MaxPerRun: 10})
	ctx := context.Background()
	d := monthlyRent(core.NewDate(2025, 1, 1))
	d.Frequency = core.Daily
	rt, _ := f.engine.Create(ctx, d)

	today := core.NewDate(2025, 1, 15)
	if n, _ := f.engine.Generate(ctx, today); n != 10 {
		t.Fatalf("first run generated %d, want 10", n)
	}
	got, _ := f.engine.Get(rt.ID)
	if got.NextOccurrence != core.NewDate(2025, 1, 11) {
		t.Fatalf("cursor = %s, want 2025-01-11", got.NextOccurrence)
	}

	total := 10
	for i := 0; i < 20; i++ {
		n, _ := f.engine.Generate(ctx, today)
		if n == 0 {
			break
		}
		total += n
	}
	// Jan 1 through Mar 16 (today + 60 days).
	if total != 75 {
		t.Fatalf("total generated %d, want 75", total)
	}
}

func TestGenerateSkipsRejectedSavings(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	d := monthlyRent(core.NewDate(2025, 1, 1))
	d.Type = core.Savings
	rt, _ := f.engine.Create(ctx, d)

	n, err := f.engine.Generate(ctx, core.NewDate(2025, 1, 15))
	if err != nil {
		t.Fatalf("rejections must not fail the run: %v", err)
	}
	if n != 0 {
		t.Fatalf("savings without cash generated %d entries", n)
	}
	got, _ := f.engine.Get(rt.ID)
	if got.NextOccurrence != rt.NextOccurrence || got.LastGenerated != nil {
		t.Fatalf("cursor must not move when nothing was committed: %+v", got)
	}
}

func TestGenerateRetriesTrailingRejections(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	income := func(amount int64) {
		t.Helper()
		if _, err := f.ledger.Add(ctx, ledger.Draft{
			Title: "Salary", Amount: decimal.NewFromInt(amount), Category: "Work",
			Type: core.Income, Date: core.NewDate(2025, 1, 1), OriginalCurrency: "EUR",
		}); err != nil {
			t.Fatalf("Add income: %v", err)
		}
	}
	income(100)

	d := monthlyRent(core.NewDate(2025, 1, 1))
	d.Type = core.Savings
	d.Amount = decimal.NewFromInt(60)
	rt, _ := f.engine.Create(ctx, d)

	today := core.NewDate(2025, 1, 15)
	if n, _ := f.engine.Generate(ctx, today); n != 1 {
		t.Fatalf("first run committed %d, want 1 (January only)", n)
	}
	got, _ := f.engine.Get(rt.ID)
	if got.NextOccurrence != core.NewDate(2025, 2, 1) {
		t.Fatalf("cursor = %s, want the first rejected date 2025-02-01", got.NextOccurrence)
	}
	if got.LastGenerated == nil || *got.LastGenerated != core.NewDate(2025, 1, 1) {
		t.Fatalf("lastGenerated = %v, want 2025-01-01", got.LastGenerated)
	}

	income(1000)
	if n, _ := f.engine.Generate(ctx, today); n != 2 {
		t.Fatalf("retry committed %d, want 2 (February and March)", n)
	}
	got, _ = f.engine.Get(rt.ID)
	if got.NextOccurrence != core.NewDate(2025, 4, 1) {
		t.Fatalf("cursor after retry = %s, want 2025-04-01", got.NextOccurrence)
	}
}

func TestInactiveTemplateIsSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	rt, _ := f.engine.Create(ctx, monthlyRent(core.NewDate(2025, 1, 1)))
	if _, err := f.engine.SetActive(ctx, rt.ID, false); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.engine.Generate(ctx, core.NewDate(2025, 1, 15)); n != 0 {
		t.Fatalf("inactive template generated %d entries", n)
	}
}

func TestUpdatePropagatesAndDeleteCascades(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	rt, _ := f.engine.Create(ctx, monthlyRent(core.NewDate(2025, 1, 1)))
	if _, err := f.engine.Generate(ctx, core.NewDate(2025, 1, 15)); err != nil {
		t.Fatal(err)
	}

	title := "Rent (renegotiated)"
	amount := decimal.NewFromInt(850)
	if _, err := f.engine.Update(ctx, rt.ID, TemplatePatch{Title: &title, Amount: &amount}, false); err != nil {
		t.Fatal(err)
	}
	for _, tx := range f.ledger.List() {
		if tx.Title != "Rent" {
			t.Fatalf("update without propagate changed entry: %+v", tx)
		}
	}

	if _, err := f.engine.Update(ctx, rt.ID, TemplatePatch{}, true); err != nil {
		t.Fatal(err)
	}
	for _, tx := range f.ledger.List() {
		if tx.Title != title || !tx.Amount.Equal(amount) {
			t.Fatalf("propagate did not rewrite entry: %+v", tx)
		}
	}

	removed, err := f.engine.Delete(ctx, rt.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed != 3 || len(f.ledger.List()) != 0 || len(f.engine.List()) != 0 {
		t.Fatalf("cascade removed %d, ledger %d, templates %d", removed, len(f.ledger.List()), len(f.engine.List()))
	}
	if _, err := f.engine.Delete(ctx, rt.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUpdateRejectsUnaffordablePropagation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if _, err := f.ledger.Add(ctx, ledger.Draft{
		Title: "Salary", Amount: decimal.NewFromInt(1000), Category: "Work",
		Type: core.Income, Date: core.NewDate(2025, 1, 1), OriginalCurrency: "EUR",
	}); err != nil {
		t.Fatal(err)
	}
	d := monthlyRent(core.NewDate(2025, 1, 1))
	d.Type = core.Savings
	d.Amount = decimal.NewFromInt(100)
	rt, _ := f.engine.Create(ctx, d)
	if n, _ := f.engine.Generate(ctx, core.NewDate(2025, 1, 15)); n != 3 {
		t.Fatalf("generated %d, want 3", n)
	}

	amount := decimal.NewFromInt(500)
	if _, err := f.engine.Update(ctx, rt.ID, TemplatePatch{Amount: &amount}, true); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	got, _ := f.engine.Get(rt.ID)
	if !got.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("rejected update changed the template: %+v", got)
	}
	if bal := f.ledger.CashBalance(); !bal.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("cash balance = %s, want 700", bal)
	}

	if _, err := f.engine.Update(ctx, rt.ID, TemplatePatch{Amount: &amount}, false); err != nil {
		t.Fatalf("update without propagation: %v", err)
	}
}

func TestTemplatesArePersisted(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	rt, _ := f.engine.Create(ctx, monthlyRent(core.NewDate(2025, 1, 1)))
	if _, err := f.engine.Generate(ctx, core.NewDate(2025, 1, 15)); err != nil {
		t.Fatal(err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.writer.Flush(flushCtx); err != nil {
		t.Fatal(err)
	}
	stored, _ := f.port.GetAllRecurring(ctx)
	if len(stored) != 1 || stored[0].ID != rt.ID || stored[0].NextOccurrence != core.NewDate(2025, 4, 1) {
		t.Fatalf("durable template = %+v", stored)
	}
}
