package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"expenses/internal/cache"
	"expenses/internal/core"
	"expenses/internal/idempotency"
	"expenses/internal/log"
	"expenses/internal/records"
)

// ErrDanglingKey means an idempotency key points at a record that no longer exists.
var ErrDanglingKey = fmt.Errorf("idempotency key references missing expense: %w", records.ErrNotFound)

// EventPublisher announces created expenses to downstream consumers.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, e core.ExpenseView) error
}

// CreateResult is the outcome of an idempotent create.
type CreateResult struct {
	Expense  core.ExpenseView `json:"expense"`
	Replayed bool             `json:"replayed"`
}

// ExpenseService orchestrates the record store and the idempotency ledger.
// The local documents are the source of truth; event publication is best effort.
type ExpenseService struct {
	records   *records.Store
	ledger    *idempotency.Ledger
	publisher EventPublisher
	cache     cache.Cache[core.ExpenseView]
	logger    *log.Logger
	events    *log.StructuredLogger
	now       func() time.Time
	newID     func() string
	inflight  singleflight.Group
}

// Option configures an ExpenseService.
type Option func(*ExpenseService)

// WithPublisher sets the event publisher. Without one no events are sent.
func WithPublisher(p EventPublisher) Option {
	return func(s *ExpenseService) { s.publisher = p }
}

// WithCache sets the read cache for GetRecord.
func WithCache(c cache.Cache[core.ExpenseView]) Option {
	return func(s *ExpenseService) { s.cache = c }
}

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *ExpenseService) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *ExpenseService) { s.newID = gen }
}

// WithLogger sets the service logger.
func WithLogger(l *log.Logger) Option {
	return func(s *ExpenseService) { s.logger = l }
}

func NewExpenseService(store *records.Store, ledger *idempotency.Ledger, opts ...Option) *ExpenseService {
	s := &ExpenseService{
		records: store,
		ledger:  ledger,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentExpense)
	s.events = log.NewStructuredLogger(s.logger)
	return s
}

// CreateRecord assigns an id and creation time and persists the record.
func (s *ExpenseService) CreateRecord(ctx context.Context, n core.NewExpense) (core.ExpenseView, error) {
	e := core.Expense{
		ID:          s.newID(),
		Amount:      n.Amount.Cents,
		Category:    strings.TrimSpace(n.Category),
		Description: strings.TrimSpace(n.Description),
		Date:        n.Date,
		CreatedAt:   core.FormatTimestamp(s.now()),
	}

	saved, err := s.records.Create(ctx, e)
	if err != nil {
		return core.ExpenseView{}, fmt.Errorf("save expense: %w", err)
	}
	view := saved.View()

	s.events.LogExpenseCreated(ctx, view.ID, view.Description, saved.Amount, view.Category, view.Date)

	// Don't fail the request, the expense is saved locally.
	if err := s.publish(ctx, view); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish expense event",
			log.FieldOperation, log.OpPublish,
			log.FieldExpenseID, view.ID,
			log.FieldError, err,
		)
	}
	return view, nil
}

func (s *ExpenseService) publish(ctx context.Context, view core.ExpenseView) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.PublishExpenseCreated(ctx, view)
}

// ListRecords returns the matching records with their total and count.
func (s *ExpenseService) ListRecords(ctx context.Context, opts core.ListOptions) (core.ExpenseList, error) {
	views, err := s.records.List(ctx, opts)
	if err != nil {
		return core.ExpenseList{}, err
	}
	return core.ExpenseList{
		Expenses: views,
		Total:    core.Sum(views),
		Count:    len(views),
	}, nil
}

// GetRecord returns one record. Records are immutable so hits are cached.
func (s *ExpenseService) GetRecord(ctx context.Context, id string) (core.ExpenseView, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(id); ok {
			return v, nil
		}
	}
	v, err := s.records.GetByID(ctx, id)
	if err != nil {
		return core.ExpenseView{}, err
	}
	if s.cache != nil {
		s.cache.Set(id, v)
	}
	return v, nil
}

func (s *ExpenseService) LookupIdempotency(ctx context.Context, key string) (string, bool, error) {
	return s.ledger.Get(ctx, key)
}

func (s *ExpenseService) RegisterIdempotency(ctx context.Context, key, expenseID string) error {
	return s.ledger.Put(ctx, key, expenseID)
}

// RunEvictionSweep drops ledger entries older than retention.
func (s *ExpenseService) RunEvictionSweep(ctx context.Context, retention time.Duration) (int, error) {
	start := time.Now()
	removed, err := s.ledger.Evict(ctx, retention)
	if err != nil {
		return 0, err
	}
	s.events.LogEviction(ctx, removed, retention, time.Since(start))
	return removed, nil
}

// CreateIdempotent creates a record at most once per key. An empty key
// always creates. Concurrent calls with the same key share one create.
//
// If the record is saved but the key cannot be registered, the record is
// returned together with the error.
func (s *ExpenseService) CreateIdempotent(ctx context.Context, key string, n core.NewExpense) (CreateResult, error) {
	if key == "" {
		v, err := s.CreateRecord(ctx, n)
		return CreateResult{Expense: v}, err
	}

	res, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		return s.createOnce(ctx, key, n)
	})
	result, _ := res.(CreateResult)
	return result, err
}

func (s *ExpenseService) createOnce(ctx context.Context, key string, n core.NewExpense) (CreateResult, error) {
	id, found, err := s.LookupIdempotency(ctx, key)
	if err != nil {
		return CreateResult{}, err
	}
	if found {
		v, err := s.GetRecord(ctx, id)
		if errors.Is(err, records.ErrNotFound) {
			return CreateResult{}, ErrDanglingKey
		}
		if err != nil {
			return CreateResult{}, err
		}
		s.events.LogIdempotentReplay(ctx, key, id)
		return CreateResult{Expense: v, Replayed: true}, nil
	}

	v, err := s.CreateRecord(ctx, n)
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.RegisterIdempotency(ctx, key, v.ID); err != nil {
		return CreateResult{Expense: v}, err
	}
	return CreateResult{Expense: v}, nil
}
