package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"expenses/internal/backend"
	"expenses/internal/cli"
	"expenses/internal/log"
	"expenses/internal/services"
	"expenses/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting expenses-worker", log.FieldOperation, log.OpStartup)

	ctx, stop := cli.SignalContext(context.Background(), logger)
	defer stop()

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	w, err := backend.NewFactory(logger).CreateWorker(ctx, backendConfig)
	if err != nil {
		logger.Error("Failed to initialize worker backend", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := w.Cleanup(); err != nil {
			logger.Error("Cleanup failed", log.FieldError, err)
		}
	}()

	mirror := worker.NewMirrorWorker(w.Mirror, logger)
	sheetSync := services.NewSheetSyncProcessor(w.Mirror, w.Sheets, w.SheetSync, logger)

	g, gctx := errgroup.WithContext(ctx)

	if w.Consumer != nil {
		g.Go(func() error {
			err := w.Consumer.ConsumeExpenseCreated(gctx, mirror.HandleExpenseCreated)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Warn("AMQP disabled, no events will be mirrored. Set AMQP_URL to enable")
	}

	// Rows missed while the worker was down are pushed on the first tick.
	if err := sheetSync.Start(gctx); err != nil {
		logger.Error("Failed to start sheet sync", log.FieldError, err)
		os.Exit(1)
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := cli.ShutdownContext()
		defer cancel()
		return sheetSync.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown)
}
