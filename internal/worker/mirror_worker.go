// Package worker holds the background loops that run beside the API:
// mirroring expense events and sweeping the idempotency ledger.
package worker

import (
	"context"
	"fmt"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/log"
)

// MirrorStore receives expenses announced on the event bus.
type MirrorStore interface {
	MirrorExpense(ctx context.Context, e core.Expense) (bool, error)
}

// MirrorWorker copies expense.created events into the reporting mirror.
type MirrorWorker struct {
	store  MirrorStore
	logger *log.Logger
}

func NewMirrorWorker(store MirrorStore, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &MirrorWorker{store: store, logger: logger.WithComponent(log.ComponentWorker)}
}

// HandleExpenseCreated is an amqp.Handler. Redelivered events are harmless:
// the mirror ignores ids it already holds.
func (w *MirrorWorker) HandleExpenseCreated(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	inserted, err := w.store.MirrorExpense(ctx, msg.Expense())
	if err != nil {
		return fmt.Errorf("mirror expense event: %w", err)
	}

	w.logger.DebugContext(ctx, "Handled expense created event",
		log.FieldOperation, log.OpMirror,
		log.FieldExpenseID, msg.ID,
		"inserted", inserted)
	return nil
}
