package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/config"
)

// Scheduler runs the evaluator on a fixed interval. Start and Stop are
// idempotent.
type Scheduler struct {
	config    *config.AlertingConfig
	evaluator *Evaluator
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(cfg *config.AlertingConfig, evaluator *Evaluator) *Scheduler {
	return &Scheduler{
		config:    cfg,
		evaluator: evaluator,
		logger:    slog.Default().With("component", "alert-scheduler"),
	}
}

// Start launches the background evaluation loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Alert scheduler started", "interval", s.config.EvalInterval)
}

// Stop signals the loop to exit and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("Alert scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.evaluator.EvaluateAll(ctx)

	ticker := time.NewTicker(s.config.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluator.EvaluateAll(ctx)
		}
	}
}
