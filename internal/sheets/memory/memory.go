// Package memory is an in-process ExpenseMirror for tests and local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"expenses/internal/core"
	ports "expenses/internal/sheets"
)

var _ ports.ExpenseMirror = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	rows  [][]interface{}
	items []core.Expense
}

func New() *Store {
	return &Store{}
}

// Append stores the expense and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, e core.Expense) (string, error) {
	if e.ID == "" {
		return "", errors.New("expense has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, e)
	s.rows = append(s.rows, ports.Row(e))
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Expenses returns a copy of everything appended so far.
func (s *Store) Expenses() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Expense(nil), s.items...)
}

// Rows returns the rendered rows in append order.
func (s *Store) Rows() [][]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]interface{}(nil), s.rows...)
}
