package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"expenses/internal/core"
	"expenses/internal/log"
	"expenses/internal/sheets"
)

// SyncSource is the mirror table the processor drains.
type SyncSource interface {
	PendingSheetSync(ctx context.Context, limit int) ([]core.Expense, error)
	MarkSynced(ctx context.Context, id string) error
}

// SheetSyncConfig holds configuration for the sheet sync processor
type SheetSyncConfig struct {
	// PollInterval is how often to check for pending rows (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of rows pushed per poll cycle (default: 10)
	BatchSize int
}

// DefaultSheetSyncConfig returns sensible defaults
func DefaultSheetSyncConfig() SheetSyncConfig {
	return SheetSyncConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
	}
}

// SheetSyncProcessor pushes mirrored expenses that have not reached the
// spreadsheet yet. A row is marked synced only after the append succeeds,
// so a failed push is retried on the next cycle.
type SheetSyncProcessor struct {
	source SyncSource
	sheets sheets.ExpenseMirror
	config SheetSyncConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSheetSyncProcessor(source SyncSource, mirror sheets.ExpenseMirror, config SheetSyncConfig, logger *log.Logger) *SheetSyncProcessor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSheetSyncConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSheetSyncConfig().BatchSize
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &SheetSyncProcessor{
		source: source,
		sheets: mirror,
		config: config,
		logger: logger.WithComponent(log.ComponentSheets),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SheetSyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sheet sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Sheet sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SheetSyncProcessor) Stop(ctx context.Context) error {
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
		p.logger.InfoContext(ctx, "Sheet sync processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Sheet sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SheetSyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SheetSyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.SyncOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.SyncOnce(ctx)
		}
	}
}

// SyncOnce pushes one batch and returns how many rows reached the sheet.
// It stops at the first append failure to keep rows in order.
func (p *SheetSyncProcessor) SyncOnce(ctx context.Context) int {
	pending, err := p.source.PendingSheetSync(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load pending rows", log.FieldError, err)
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	p.logger.DebugContext(ctx, "Processing sheet sync batch", log.FieldCount, len(pending))

	synced := 0
	for _, e := range pending {
		if ctx.Err() != nil {
			return synced
		}

		ref, err := p.sheets.Append(ctx, e)
		if err != nil {
			p.logger.WarnContext(ctx, "Sheet append failed, will retry",
				log.FieldOperation, log.OpSync,
				log.FieldExpenseID, e.ID,
				log.FieldError, err)
			return synced
		}

		// The row is in the sheet; a failed mark means a duplicate row on retry.
		if err := p.source.MarkSynced(ctx, e.ID); err != nil {
			p.logger.ErrorContext(ctx, "Failed to mark expense as synced",
				log.FieldExpenseID, e.ID,
				log.FieldSheetsRef, ref,
				log.FieldError, err)
			return synced
		}
		synced++
	}

	p.logger.InfoContext(ctx, "Synced expenses to sheet", log.FieldCount, synced)
	return synced
}
