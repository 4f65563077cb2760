package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"expenses/internal/cache"
	"expenses/internal/core"
	"expenses/internal/docstore"
	"expenses/internal/idempotency"
	"expenses/internal/records"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []core.ExpenseView
	err    error
}

func (p *fakePublisher) PublishExpenseCreated(_ context.Context, e core.ExpenseView) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type testEnv struct {
	svc    *ExpenseService
	store  *records.Store
	ledger *idempotency.Ledger
	dir    string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := records.Open(filepath.Join(dir, "expenses.json"), nil)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	ledger, err := idempotency.Open(filepath.Join(dir, "idempotency.json"), nil)
	if err != nil {
		t.Fatalf("idempotency.Open: %v", err)
	}

	var seq int64
	base := []Option{
		WithIDGenerator(func() string { return fmt.Sprintf("exp-%d", atomic.AddInt64(&seq, 1)) }),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }),
	}
	svc := NewExpenseService(store, ledger, append(base, opts...)...)
	return &testEnv{svc: svc, store: store, ledger: ledger, dir: dir}
}

func lunch() core.NewExpense {
	return core.NewExpense{Amount: core.Money{Cents: 25050}, Category: " Food ", Description: " Lunch ", Date: "2024-03-01"}
}

func TestCreateIdempotent_ReplayReturnsSameRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.CreateIdempotent(ctx, "abc", lunch())
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.Replayed {
		t.Fatal("first create should not be a replay")
	}
	if first.Expense.Category != "Food" || first.Expense.Description != "Lunch" {
		t.Fatalf("fields not trimmed: %+v", first.Expense)
	}
	if first.Expense.CreatedAt != "2024-03-01T10:00:00.000Z" {
		t.Fatalf("created_at = %s", first.Expense.CreatedAt)
	}

	changed := lunch()
	changed.Amount = core.Money{Cents: 99900}
	changed.Description = "Dinner"
	second, err := env.svc.CreateIdempotent(ctx, "abc", changed)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.Expense != first.Expense {
		t.Fatalf("replay = %+v, want %+v", second, first)
	}
	if second.Expense.Amount.String() != "250.50" || second.Expense.Description != "Lunch" {
		t.Fatalf("replay returned the new payload: %+v", second.Expense)
	}

	list, err := env.svc.ListRecords(ctx, core.ListOptions{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if list.Count != 1 || list.Total.String() != "250.50" {
		t.Fatalf("list = count %d total %s, want 1 and 250.50", list.Count, list.Total)
	}
}

func TestCreateIdempotent_EmptyKeyAlwaysCreates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.CreateIdempotent(ctx, "", lunch()); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	list, _ := env.svc.ListRecords(ctx, core.ListOptions{})
	if list.Count != 3 {
		t.Fatalf("count = %d, want 3", list.Count)
	}
}

func TestCreateIdempotent_ConcurrentSameKeyCreatesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const callers = 20
	results := make([]CreateResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.svc.CreateIdempotent(ctx, "same", lunch())
			if err != nil {
				t.Errorf("create: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	list, _ := env.svc.ListRecords(ctx, core.ListOptions{})
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}
	for _, r := range results {
		if r.Expense.ID != list.Expenses[0].ID {
			t.Fatalf("caller got %s, want %s", r.Expense.ID, list.Expenses[0].ID)
		}
	}
}

func TestCreateIdempotent_CreateFailureRegistersNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A directory where the document should be makes every read fail.
	if err := os.Mkdir(env.store.Path(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := env.svc.CreateIdempotent(ctx, "abc", lunch())
	if !errors.Is(err, docstore.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, ok, _ := env.svc.LookupIdempotency(ctx, "abc"); ok {
		t.Fatal("key must not be registered when the create failed")
	}
}

func TestCreateIdempotent_DanglingKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.RegisterIdempotency(ctx, "abc", "gone"); err != nil {
		t.Fatalf("RegisterIdempotency: %v", err)
	}
	_, err := env.svc.CreateIdempotent(ctx, "abc", lunch())
	if !errors.Is(err, ErrDanglingKey) || !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected dangling key error, got %v", err)
	}
}

func TestCreateRecord_PublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, WithPublisher(pub))

	v, err := env.svc.CreateRecord(context.Background(), lunch())
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].ID != v.ID {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestCreateRecord_PublishFailureDoesNotFailCreate(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	env := newTestEnv(t, WithPublisher(pub))
	ctx := context.Background()

	v, err := env.svc.CreateRecord(ctx, lunch())
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if _, err := env.svc.GetRecord(ctx, v.ID); err != nil {
		t.Fatalf("record should be stored: %v", err)
	}
}

func TestGetRecord_UsesCache(t *testing.T) {
	c := cache.NewLRUCache[core.ExpenseView](10, time.Minute)
	env := newTestEnv(t, WithCache(c))
	ctx := context.Background()

	v, _ := env.svc.CreateRecord(ctx, lunch())
	if _, err := env.svc.GetRecord(ctx, v.ID); err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if c.Size() != 1 {
		t.Fatalf("cache size = %d, want 1", c.Size())
	}

	if _, err := env.svc.GetRecord(ctx, "missing"); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if c.Size() != 1 {
		t.Fatal("misses must not be cached")
	}
}

func TestListRecords_EmptyStore(t *testing.T) {
	env := newTestEnv(t)
	list, err := env.svc.ListRecords(context.Background(), core.ListOptions{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if list.Count != 0 || list.Total.String() != "0.00" || list.Expenses == nil {
		t.Fatalf("unexpected empty list: %+v", list)
	}
}

func TestRunEvictionSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.RegisterIdempotency(ctx, "k", "id"); err != nil {
		t.Fatalf("RegisterIdempotency: %v", err)
	}
	removed, err := env.svc.RunEvictionSweep(ctx, 0)
	if err != nil {
		t.Fatalf("RunEvictionSweep: %v", err)
	}
	// An entry written in the same millisecond as the sweep is not older than the cutoff.
	if removed > 1 {
		t.Fatalf("removed = %d", removed)
	}
	removed, err = env.svc.RunEvictionSweep(ctx, 24*time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("second sweep = %d, %v", removed, err)
	}
}
