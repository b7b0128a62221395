package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"finledger/internal/log"
)

type fakeProjector struct {
	generated atomic.Int32
	reloaded  atomic.Int32
	err       error
}

func (f *fakeProjector) GenerateRecurring(context.Context) (int, error) {
	f.generated.Add(1)
	return 1, f.err
}

func (f *fakeProjector) Reload(context.Context) error {
	f.reloaded.Add(1)
	return f.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultProcessorConfig(t *testing.T) {
	config := DefaultProcessorConfig()

	if config.ProjectionInterval != time.Hour {
		t.Errorf("expected ProjectionInterval 1h, got %v", config.ProjectionInterval)
	}
	if config.ReconcileInterval != 0 {
		t.Errorf("expected reconciliation off, got %v", config.ReconcileInterval)
	}
}

func TestRecurringProcessor_IsRunning(t *testing.T) {
	processor := NewRecurringProcessor(&fakeProjector{}, DefaultProcessorConfig(), log.Discard())

	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestRecurringProcessor_StartWithoutFinance(t *testing.T) {
	processor := NewRecurringProcessor(nil, DefaultProcessorConfig(), log.Discard())
	if err := processor.Start(context.Background()); err == nil {
		t.Fatal("expected error without a finance service")
	}
}

func TestRecurringProcessor_StartTwice(t *testing.T) {
	processor := NewRecurringProcessor(&fakeProjector{}, DefaultProcessorConfig(), log.Discard())
	ctx := context.Background()

	if err := processor.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer processor.Stop(ctx)

	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}
}

func TestRecurringProcessor_StopNotRunning(t *testing.T) {
	processor := NewRecurringProcessor(&fakeProjector{}, DefaultProcessorConfig(), log.Discard())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop on non-running processor should return nil, got %v", err)
	}
}

func TestRecurringProcessor_ProjectsAndReconciles(t *testing.T) {
	fake := &fakeProjector{}
	processor := NewRecurringProcessor(fake, ProcessorConfig{
		ProjectionInterval: 10 * time.Millisecond,
		ReconcileInterval:  10 * time.Millisecond,
	}, log.Discard())
	ctx := context.Background()

	if err := processor.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fake.generated.Load() >= 3 && fake.reloaded.Load() >= 1 })

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if processor.IsRunning() {
		t.Error("processor should be stopped")
	}
}

func TestRecurringProcessor_ProjectsImmediatelyAndSurvivesErrors(t *testing.T) {
	fake := &fakeProjector{err: errors.New("boom")}
	processor := NewRecurringProcessor(fake, DefaultProcessorConfig(), log.Discard())
	ctx := context.Background()

	if err := processor.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return fake.generated.Load() == 1 })
	if !processor.IsRunning() {
		t.Error("a failed projection must not stop the loop")
	}
	if fake.reloaded.Load() != 0 {
		t.Error("reconciliation is off by default")
	}
	_ = processor.Stop(ctx)
}
