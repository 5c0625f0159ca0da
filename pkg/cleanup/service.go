// Package cleanup provides data retention enforcement.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/config"
)

// RetentionStore deletes rows past their retention windows.
type RetentionStore interface {
	DeleteRawMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAuditRowsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ApprovalExpirer marks stale pending approvals as EXPIRED.
type ApprovalExpirer interface {
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies:
//   - Removes raw metric rows past retention.rawDays
//   - Removes quota events and job execution history past retention.auditYears
//   - Removes resolved alert instances past retention.rawDays
//   - Expires pending approvals nobody decided
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config          *config.RetentionConfig
	store           RetentionStore
	approvals       ApprovalExpirer
	approvalTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	store RetentionStore,
	approvals ApprovalExpirer,
	approvalTimeout time.Duration,
) *Service {
	return &Service{
		config:          cfg,
		store:           store,
		approvals:       approvals,
		approvalTimeout: approvalTimeout,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"raw_days", s.config.RawDays,
		"audit_years", s.config.AuditYears,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeRawMetrics(ctx)
	s.purgeAuditRows(ctx)
	s.purgeResolvedAlerts(ctx)
	s.expireApprovals(ctx)
}

func (s *Service) purgeRawMetrics(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.RawDays)
	count, err := s.store.DeleteRawMetricsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: raw metric purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged raw metric rows", "count", count)
	}
}

func (s *Service) purgeAuditRows(ctx context.Context) {
	cutoff := time.Now().AddDate(-s.config.AuditYears, 0, 0)
	count, err := s.store.DeleteAuditRowsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: audit purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged audit rows", "count", count)
	}
}

func (s *Service) purgeResolvedAlerts(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.RawDays)
	count, err := s.store.DeleteResolvedAlertsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: resolved alert purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged resolved alerts", "count", count)
	}
}

func (s *Service) expireApprovals(ctx context.Context) {
	if s.approvals == nil {
		return
	}
	cutoff := time.Now().Add(-s.approvalTimeout)
	count, err := s.approvals.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: approval expiry failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: expired stale approvals", "count", count)
	}
}
