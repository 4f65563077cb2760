package worker

import (
	"context"
	"time"

	"expenses/internal/log"
)

// EvictionRunner drops expired idempotency entries.
type EvictionRunner interface {
	RunEvictionSweep(ctx context.Context, retention time.Duration) (int, error)
}

// Sweeper evicts idempotency entries on a fixed interval, independent of
// request handling.
type Sweeper struct {
	runner    EvictionRunner
	interval  time.Duration
	retention time.Duration
	logger    *log.Logger
}

func NewSweeper(runner EvictionRunner, interval, retention time.Duration, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Discard()
	}
	return &Sweeper{
		runner:    runner,
		interval:  interval,
		retention: retention,
		logger:    logger.WithComponent(log.ComponentSweeper),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Eviction sweeper started",
		"interval", s.interval,
		log.FieldRetention, s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Eviction sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.runner.RunEvictionSweep(ctx, s.retention); err != nil {
		s.logger.ErrorContext(ctx, "Eviction sweep failed",
			log.FieldOperation, log.OpEvict,
			log.FieldError, err)
	}
}
