// Package backend assembles the process object graph from configuration.
package backend

import (
	"context"
	"time"

	"expenses/internal/amqp"
	"expenses/internal/services"
	"expenses/internal/sheets"
	"expenses/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// APIResult is what the HTTP server and its sweeper need.
type APIResult struct {
	Service   *services.ExpenseService
	Publisher *amqp.Client // nil when AMQP is disabled or unreachable
	Cleanup   CleanupFunc
}

// WorkerResult is what the mirror worker needs.
type WorkerResult struct {
	Mirror    *storage.SQLiteRepository
	Sheets    sheets.ExpenseMirror
	Consumer  *amqp.Client // nil when AMQP is disabled
	SheetSync services.SheetSyncConfig
	Cleanup   CleanupFunc
}

// Factory creates the object graphs for each binary.
type Factory interface {
	CreateAPI(ctx context.Context, config Config) (*APIResult, error)
	CreateWorker(ctx context.Context, config Config) (*WorkerResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Durable documents
	ExpensesPath    string
	IdempotencyPath string

	// Read cache for single records
	CacheSize int
	CacheTTL  time.Duration

	// Events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Reporting mirror
	SQLiteDBPath string

	// Spreadsheet mirror
	Mirror                   MirrorType
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
	SyncBatchSize            int
	SyncInterval             time.Duration
}

// MirrorType selects where the worker pushes mirrored rows.
type MirrorType string

const (
	SheetsMirror MirrorType = "sheets"
	MemoryMirror MirrorType = "memory"
)

// String implements fmt.Stringer
func (mt MirrorType) String() string {
	return string(mt)
}

// IsValid returns true if the mirror type is valid
func (mt MirrorType) IsValid() bool {
	switch mt {
	case SheetsMirror, MemoryMirror:
		return true
	default:
		return false
	}
}
