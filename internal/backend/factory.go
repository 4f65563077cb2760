package backend

import (
	"context"
	"errors"
	"fmt"

	"expenses/internal/amqp"
	"expenses/internal/cache"
	"expenses/internal/core"
	"expenses/internal/idempotency"
	"expenses/internal/log"
	"expenses/internal/records"
	"expenses/internal/services"
	"expenses/internal/sheets"
	gsheet "expenses/internal/sheets/google"
	"expenses/internal/sheets/memory"
	"expenses/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateAPI opens both documents and wires the expense service. AMQP is
// optional: a broker that cannot be reached is logged and skipped, since
// the documents are the source of truth.
func (f *DefaultFactory) CreateAPI(ctx context.Context, config Config) (*APIResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := records.Open(config.ExpensesPath, f.logger)
	if err != nil {
		return nil, err
	}
	ledger, err := idempotency.Open(config.IdempotencyPath, f.logger)
	if err != nil {
		return nil, err
	}

	opts := []services.Option{services.WithLogger(f.logger)}
	cacheManager := cache.NewManager(f.logger)
	if config.CacheSize > 0 {
		views := cache.NewLRUCache[core.ExpenseView](config.CacheSize, config.CacheTTL)
		cacheManager.Register("records", views)
		cacheManager.StartCleanup(config.CacheTTL)
		opts = append(opts, services.WithCache(views))
	}

	var publisher *amqp.Client
	if config.AMQPURL != "" {
		publisher, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
			publisher = nil
		} else {
			opts = append(opts, services.WithPublisher(publisher))
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	f.logger.InfoContext(ctx, "Initialized expense store",
		"expenses_path", config.ExpensesPath,
		"idempotency_path", config.IdempotencyPath,
		"amqp_enabled", publisher != nil)

	return &APIResult{
		Service:   services.NewExpenseService(store, ledger, opts...),
		Publisher: publisher,
		Cleanup: func() error {
			cacheManager.Stop()
			if publisher != nil {
				return publisher.Close()
			}
			return nil
		},
	}, nil
}

// CreateWorker opens the SQLite mirror, the sheet target and the consumer.
func (f *DefaultFactory) CreateWorker(ctx context.Context, config Config) (*WorkerResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	target, err := f.createMirror(ctx, config)
	if err != nil {
		repo.Close()
		return nil, err
	}

	var consumer *amqp.Client
	if config.AMQPURL != "" {
		consumer, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
	}

	f.logger.InfoContext(ctx, "Initialized worker backend",
		"db_path", config.SQLiteDBPath,
		"mirror", config.Mirror,
		"amqp_enabled", consumer != nil)

	return &WorkerResult{
		Mirror:   repo,
		Sheets:   target,
		Consumer: consumer,
		SheetSync: services.SheetSyncConfig{
			PollInterval: config.SyncInterval,
			BatchSize:    config.SyncBatchSize,
		},
		Cleanup: func() error {
			var errs []error
			if consumer != nil {
				errs = append(errs, consumer.Close())
			}
			errs = append(errs, repo.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) createMirror(ctx context.Context, config Config) (sheets.ExpenseMirror, error) {
	switch config.Mirror {
	case SheetsMirror:
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			SheetName:       config.GoogleSheetName,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Google Sheets mirror", "sheet", config.GoogleSheetName)
		return client, nil
	case MemoryMirror:
		f.logger.InfoContext(ctx, "Using in-memory sheet mirror")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported mirror type: %s", config.Mirror)
	}
}
