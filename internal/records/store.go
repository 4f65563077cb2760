// Package records is the durable collection of expense records.
//
// The store does not validate input; callers do that before Create.
// Each Create rewrites the whole document, so writes are O(n) in the
// number of records.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"expenses/internal/core"
	"expenses/internal/docstore"
	"expenses/internal/log"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("expense not found")

// Store persists expense records in a single JSON document.
type Store struct {
	doc    *docstore.Document[core.Expense]
	logger *log.Logger
}

// Open returns a Store backed by the document at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentStorage)

	doc, err := docstore.Open[core.Expense](path, docstore.LogWarnings(logger))
	if err != nil {
		return nil, fmt.Errorf("open expense store: %w", err)
	}
	return &Store{doc: doc, logger: logger}, nil
}

// Path returns the backing document location.
func (s *Store) Path() string {
	return s.doc.Path()
}

// Create appends e and returns it once it is durable.
func (s *Store) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	err := s.doc.Update(ctx, func(items []core.Expense) ([]core.Expense, error) {
		return append(items, e), nil
	})
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	s.logger.Debug("Expense persisted",
		log.FieldOperation, log.OpPersist,
		log.FieldExpenseID, e.ID,
		log.FieldStorePath, s.doc.Path(),
	)
	return e, nil
}

// List returns records matching opts as read views.
func (s *Store) List(ctx context.Context, opts core.ListOptions) ([]core.ExpenseView, error) {
	items, err := s.doc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	filtered := items[:0:0]
	for _, e := range items {
		if opts.Category != "" && e.Category != opts.Category {
			continue
		}
		filtered = append(filtered, e)
	}

	switch opts.Sort {
	case core.SortDateDesc:
		sort.SliceStable(filtered, func(i, j int) bool {
			if filtered[i].Date != filtered[j].Date {
				return filtered[i].Date > filtered[j].Date
			}
			return filtered[i].CreatedAt > filtered[j].CreatedAt
		})
	default:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].CreatedAt > filtered[j].CreatedAt
		})
	}

	views := make([]core.ExpenseView, len(filtered))
	for i, e := range filtered {
		views[i] = e.View()
	}
	return views, nil
}

// GetByID returns the record with the given id or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (core.ExpenseView, error) {
	items, err := s.doc.Load(ctx)
	if err != nil {
		return core.ExpenseView{}, fmt.Errorf("get expense: %w", err)
	}
	for _, e := range items {
		if e.ID == id {
			return e.View(), nil
		}
	}
	return core.ExpenseView{}, ErrNotFound
}
