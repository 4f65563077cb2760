// Package idempotency maps client-supplied keys to the expense they created.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"expenses/internal/core"
	"expenses/internal/docstore"
	"expenses/internal/log"
)

// Entry binds a key to an expense id.
type Entry struct {
	Key       string `json:"key"`
	ExpenseID string `json:"expense_id"`
	CreatedAt string `json:"created_at"`
}

// Ledger is the durable key to expense id mapping.
type Ledger struct {
	doc    *docstore.Document[Entry]
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open returns a Ledger backed by the document at path.
func Open(path string, logger *log.Logger, opts ...Option) (*Ledger, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentIdempotency)

	doc, err := docstore.Open[Entry](path, docstore.LogWarnings(logger))
	if err != nil {
		return nil, fmt.Errorf("open idempotency ledger: %w", err)
	}

	l := &Ledger{doc: doc, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Put records that key produced expenseID. It does not check for an
// existing entry; Get returns the first one.
func (l *Ledger) Put(ctx context.Context, key, expenseID string) error {
	entry := Entry{Key: key, ExpenseID: expenseID, CreatedAt: core.FormatTimestamp(l.now())}
	err := l.doc.Update(ctx, func(entries []Entry) ([]Entry, error) {
		return append(entries, entry), nil
	})
	if err != nil {
		return fmt.Errorf("register idempotency key: %w", err)
	}
	return nil
}

// Get returns the expense id bound to key.
func (l *Ledger) Get(ctx context.Context, key string) (string, bool, error) {
	entries, err := l.doc.Load(ctx)
	if err != nil {
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	for _, e := range entries {
		if e.Key == key {
			return e.ExpenseID, true, nil
		}
	}
	return "", false, nil
}

// Evict removes entries older than retention and returns how many were
// removed. An entry exactly retention old is kept. Age is measured from the
// stored millisecond timestamp against the full-precision clock. Entries
// whose timestamp cannot be parsed are kept.
func (l *Ledger) Evict(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().Add(-retention)

	removed := 0
	err := l.doc.Update(ctx, func(entries []Entry) ([]Entry, error) {
		kept := make([]Entry, 0, len(entries))
		for _, e := range entries {
			created, err := core.ParseTimestamp(e.CreatedAt)
			if err == nil && created.Before(cutoff) {
				continue
			}
			kept = append(kept, e)
		}
		removed = len(entries) - len(kept)
		if removed == 0 {
			return nil, docstore.ErrNoChange
		}
		return kept, nil
	})
	if err != nil {
		return 0, fmt.Errorf("evict idempotency keys: %w", err)
	}
	return removed, nil
}
