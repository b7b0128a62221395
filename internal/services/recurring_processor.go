package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finledger/internal/log"
)

// ProcessorConfig holds configuration for the recurring processor
type ProcessorConfig struct {
	// ProjectionInterval is how often templates are projected (default: 1h)
	ProjectionInterval time.Duration

	// ReconcileInterval is how often state is reloaded from storage.
	// Zero disables reconciliation.
	ReconcileInterval time.Duration
}

// DefaultProcessorConfig returns sensible defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ProjectionInterval: time.Hour,
	}
}

// Projector is the part of Finance the processor drives.
type Projector interface {
	GenerateRecurring(ctx context.Context) (int, error)
	Reload(ctx context.Context) error
}

// RecurringProcessor projects recurring templates on a timer and
// optionally reconciles in-memory state with storage.
type RecurringProcessor struct {
	finance Projector
	config  ProcessorConfig
	logger  *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecurringProcessor creates a new recurring processor
func NewRecurringProcessor(finance Projector, config ProcessorConfig, logger *log.Logger) *RecurringProcessor {
	if config.ProjectionInterval <= 0 {
		config.ProjectionInterval = DefaultProcessorConfig().ProjectionInterval
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &RecurringProcessor{
		finance: finance,
		config:  config,
		logger:  logger.WithComponent(log.ComponentRecurring),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *RecurringProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("recurring processor is already running")
	}
	if p.finance == nil {
		p.mu.Unlock()
		return fmt.Errorf("recurring processor has no finance service")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Recurring processor started",
		"projection_interval", p.config.ProjectionInterval,
		"reconcile_interval", p.config.ReconcileInterval)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *RecurringProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Recurring processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Recurring processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *RecurringProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecurringProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	projectTicker := time.NewTicker(p.config.ProjectionInterval)
	defer projectTicker.Stop()

	// A nil channel never fires, which keeps reconciliation off.
	var reconcileC <-chan time.Time
	if p.config.ReconcileInterval > 0 {
		reconcileTicker := time.NewTicker(p.config.ReconcileInterval)
		defer reconcileTicker.Stop()
		reconcileC = reconcileTicker.C
	}

	// Project immediately on startup
	p.project(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-projectTicker.C:
			p.project(ctx)
		case <-reconcileC:
			p.reconcile(ctx)
		}
	}
}

// RunOnce projects all templates a single time.
func (p *RecurringProcessor) RunOnce(ctx context.Context) (int, error) {
	return p.finance.GenerateRecurring(ctx)
}

func (p *RecurringProcessor) project(ctx context.Context) {
	n, err := p.finance.GenerateRecurring(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Recurring projection failed",
			log.FieldOperation, log.OpGenerate,
			log.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Recurring projection complete",
			log.FieldOperation, log.OpGenerate,
			log.FieldCount, n)
	}
}

func (p *RecurringProcessor) reconcile(ctx context.Context) {
	if err := p.finance.Reload(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Reconcile with storage failed",
			log.FieldOperation, log.OpReload,
			log.FieldError, err)
	}
}
