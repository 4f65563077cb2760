// Package sheets defines the spreadsheet mirror port and its adapters.
package sheets

import (
	"context"

	"expenses/internal/core"
)

// Ports for outbound adapters.
type (
	// ExpenseMirror appends one expense as a spreadsheet row and returns a
	// reference to where it landed.
	ExpenseMirror interface {
		Append(ctx context.Context, e core.Expense) (rowRef string, err error)
	}
)

// Row renders e in mirror column order: date, description, amount, category, id.
func Row(e core.Expense) []interface{} {
	return []interface{}{
		e.Date,
		e.Description,
		core.Money{Cents: e.Amount}.String(),
		e.Category,
		e.ID,
	}
}
