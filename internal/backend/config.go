package backend

import (
	"fmt"
	"time"

	"expenses/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	mirror := MemoryMirror
	if appConfig.SheetsEnabled() {
		mirror = SheetsMirror
	}

	return Config{
		ExpensesPath:    appConfig.ExpensesPath(),
		IdempotencyPath: appConfig.IdempotencyPath(),

		CacheSize: 256,
		CacheTTL:  10 * time.Minute,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		SQLiteDBPath: appConfig.SQLiteDBPath,

		Mirror:                   mirror,
		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleSheetName:          appConfig.GoogleSheetName,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		SyncBatchSize:            appConfig.SyncBatchSize,
		SyncInterval:             appConfig.SyncInterval,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if c.ExpensesPath == "" || c.IdempotencyPath == "" {
		return fmt.Errorf("document paths are required")
	}
	if c.ExpensesPath == c.IdempotencyPath {
		return fmt.Errorf("expenses and idempotency documents must differ")
	}
	if !c.Mirror.IsValid() {
		return fmt.Errorf("invalid mirror type: %s", c.Mirror)
	}
	if c.Mirror == SheetsMirror && c.GoogleSpreadsheetID == "" {
		return fmt.Errorf("Google Spreadsheet ID is required for sheets mirror")
	}
	return nil
}
