// Package storage is the SQLite reporting mirror fed by expense events.
// The JSON documents stay the source of truth; this database can be
// rebuilt from events at any time.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"expenses/internal/core"
	"expenses/internal/log"

	_ "modernc.org/sqlite"
)

// ErrNotMirrored is returned when an expense has not reached the mirror.
var ErrNotMirrored = errors.New("expense not mirrored")

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := RunMigrations(dbPath, logger.WithComponent(log.ComponentMirror)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  logger.WithComponent(log.ComponentMirror),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// MirrorExpense inserts e unless its id is already present. It reports
// whether a row was written.
func (r *SQLiteRepository) MirrorExpense(ctx context.Context, e core.Expense) (bool, error) {
	n, err := r.queries.InsertExpense(ctx, InsertExpenseParams{
		ID:          e.ID,
		AmountCents: e.Amount,
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	})
	if err != nil {
		return false, fmt.Errorf("mirror expense %s: %w", e.ID, err)
	}

	if n == 0 {
		r.logger.DebugContext(ctx, "Expense already mirrored",
			log.FieldOperation, log.OpMirror,
			log.FieldExpenseID, e.ID)
		return false, nil
	}

	r.logger.InfoContext(ctx, "Expense mirrored to SQLite",
		log.FieldOperation, log.OpMirror,
		log.FieldExpenseID, e.ID,
		log.FieldAmountCents, e.Amount,
		log.FieldCategory, e.Category,
		log.FieldDate, e.Date)
	return true, nil
}

// GetExpense returns a mirrored expense.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	row, err := r.queries.GetExpense(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotMirrored
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get mirrored expense %s: %w", id, err)
	}
	return row.toCore(), nil
}

// PendingSheetSync returns up to limit expenses not yet pushed to the sheet,
// oldest first.
func (r *SQLiteRepository) PendingSheetSync(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := r.queries.ListUnsynced(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list unsynced expenses: %w", err)
	}
	out := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCore())
	}
	return out, nil
}

// MarkSynced records that id has been pushed to the sheet.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	if err := r.queries.MarkSynced(ctx, id); err != nil {
		return fmt.Errorf("mark expense %s synced: %w", id, err)
	}
	return nil
}

// PendingCount returns how many expenses still wait for the sheet.
func (r *SQLiteRepository) PendingCount(ctx context.Context) (int64, error) {
	n, err := r.queries.CountUnsynced(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unsynced expenses: %w", err)
	}
	return n, nil
}

// CategoryTotals aggregates mirrored expenses per category, largest first.
func (r *SQLiteRepository) CategoryTotals(ctx context.Context) ([]core.CategoryTotal, error) {
	rows, err := r.queries.CategoryTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	out := make([]core.CategoryTotal, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.CategoryTotal{
			Category: row.Category,
			Total:    core.Total{}.Add(core.Money{Cents: row.TotalCents}),
			Count:    int(row.Count),
		})
	}
	return out, nil
}

func (e Expense) toCore() core.Expense {
	return core.Expense{
		ID:          e.ID,
		Amount:      e.AmountCents,
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
}
