package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type Expense struct {
	ID          string
	AmountCents int64
	Category    string
	Description string
	Date        string
	CreatedAt   string
	MirroredAt  string
	SyncedAt    sql.NullString
}

type InsertExpenseParams struct {
	ID          string
	AmountCents int64
	Category    string
	Description string
	Date        string
	CreatedAt   string
}

const insertExpense = `
INSERT INTO expenses (id, amount_cents, category, description, date, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`

// InsertExpense returns the number of inserted rows: 0 when the id already exists.
func (q *Queries) InsertExpense(ctx context.Context, arg InsertExpenseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertExpense,
		arg.ID,
		arg.AmountCents,
		arg.Category,
		arg.Description,
		arg.Date,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getExpense = `
SELECT id, amount_cents, category, description, date, created_at, mirrored_at, synced_at
FROM expenses
WHERE id = ?
`

func (q *Queries) GetExpense(ctx context.Context, id string) (Expense, error) {
	row := q.db.QueryRowContext(ctx, getExpense, id)
	var i Expense
	err := row.Scan(
		&i.ID,
		&i.AmountCents,
		&i.Category,
		&i.Description,
		&i.Date,
		&i.CreatedAt,
		&i.MirroredAt,
		&i.SyncedAt,
	)
	return i, err
}

const listUnsynced = `
SELECT id, amount_cents, category, description, date, created_at, mirrored_at, synced_at
FROM expenses
WHERE synced_at IS NULL
ORDER BY created_at ASC, id ASC
LIMIT ?
`

func (q *Queries) ListUnsynced(ctx context.Context, limit int64) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listUnsynced, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Expense
	for rows.Next() {
		var i Expense
		if err := rows.Scan(
			&i.ID,
			&i.AmountCents,
			&i.Category,
			&i.Description,
			&i.Date,
			&i.CreatedAt,
			&i.MirroredAt,
			&i.SyncedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markSynced = `
UPDATE expenses SET synced_at = CURRENT_TIMESTAMP WHERE id = ? AND synced_at IS NULL
`

func (q *Queries) MarkSynced(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, markSynced, id)
	return err
}

const countUnsynced = `
SELECT COUNT(*) FROM expenses WHERE synced_at IS NULL
`

func (q *Queries) CountUnsynced(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUnsynced)
	var count int64
	err := row.Scan(&count)
	return count, err
}

type CategoryTotalRow struct {
	Category   string
	TotalCents int64
	Count      int64
}

const categoryTotals = `
SELECT category, SUM(amount_cents) AS total_cents, COUNT(*) AS count
FROM expenses
GROUP BY category
ORDER BY total_cents DESC, category ASC
`

func (q *Queries) CategoryTotals(ctx context.Context) ([]CategoryTotalRow, error) {
	rows, err := q.db.QueryContext(ctx, categoryTotals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryTotalRow
	for rows.Next() {
		var i CategoryTotalRow
		if err := rows.Scan(&i.Category, &i.TotalCents, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
