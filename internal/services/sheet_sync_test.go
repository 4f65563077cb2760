package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"expenses/internal/core"
	"expenses/internal/sheets/memory"
)

type fakeSource struct {
	mu      sync.Mutex
	pending []core.Expense
	synced  map[string]bool
	listErr error
}

func newFakeSource(ids ...string) *fakeSource {
	s := &fakeSource{synced: map[string]bool{}}
	for _, id := range ids {
		s.pending = append(s.pending, core.Expense{ID: id, Amount: 100, Category: "c", Description: "d", Date: "2024-03-01"})
	}
	return s
}

func (s *fakeSource) PendingSheetSync(_ context.Context, limit int) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []core.Expense
	for _, e := range s.pending {
		if !s.synced[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSource) MarkSynced(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[id] = true
	return nil
}

type failingMirror struct {
	failOn string
	mem    *memory.Store
}

func (m *failingMirror) Append(ctx context.Context, e core.Expense) (string, error) {
	if e.ID == m.failOn {
		return "", errors.New("quota exceeded")
	}
	return m.mem.Append(ctx, e)
}

func TestDefaultSheetSyncConfig(t *testing.T) {
	config := DefaultSheetSyncConfig()
	if config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", config.PollInterval)
	}
	if config.BatchSize != 10 {
		t.Errorf("expected BatchSize 10, got %d", config.BatchSize)
	}
}

func TestSheetSyncProcessor_SyncOnceRespectsBatchSize(t *testing.T) {
	source := newFakeSource("a", "b", "c")
	mem := memory.New()
	p := NewSheetSyncProcessor(source, mem, SheetSyncConfig{BatchSize: 2, PollInterval: time.Hour}, nil)

	if n := p.SyncOnce(context.Background()); n != 2 {
		t.Fatalf("first batch synced %d, want 2", n)
	}
	if n := p.SyncOnce(context.Background()); n != 1 {
		t.Fatalf("second batch synced %d, want 1", n)
	}
	if n := p.SyncOnce(context.Background()); n != 0 {
		t.Fatalf("third batch synced %d, want 0", n)
	}
	if got := len(mem.Expenses()); got != 3 {
		t.Fatalf("sheet has %d rows, want 3", got)
	}
}

func TestSheetSyncProcessor_FailureLeavesRowPending(t *testing.T) {
	source := newFakeSource("a", "b", "c")
	mirror := &failingMirror{failOn: "b", mem: memory.New()}
	p := NewSheetSyncProcessor(source, mirror, SheetSyncConfig{BatchSize: 10, PollInterval: time.Hour}, nil)

	if n := p.SyncOnce(context.Background()); n != 1 {
		t.Fatalf("synced %d, want 1", n)
	}
	if !source.synced["a"] || source.synced["b"] || source.synced["c"] {
		t.Fatalf("unexpected synced set: %v", source.synced)
	}

	mirror.failOn = ""
	if n := p.SyncOnce(context.Background()); n != 2 {
		t.Fatalf("retry synced %d, want 2", n)
	}
}

func TestSheetSyncProcessor_SourceError(t *testing.T) {
	source := newFakeSource("a")
	source.listErr = errors.New("database is locked")
	p := NewSheetSyncProcessor(source, memory.New(), SheetSyncConfig{}, nil)
	if n := p.SyncOnce(context.Background()); n != 0 {
		t.Fatalf("synced %d, want 0", n)
	}
}

func TestSheetSyncProcessor_Lifecycle(t *testing.T) {
	source := newFakeSource("a")
	mem := memory.New()
	p := NewSheetSyncProcessor(source, mem, SheetSyncConfig{PollInterval: 10 * time.Millisecond}, nil)

	if p.IsRunning() {
		t.Fatal("processor should not be running initially")
	}
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(mem.Expenses()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(mem.Expenses()) != 1 {
		t.Fatal("processor did not push the pending row")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("processor should not be running after Stop")
	}
}
