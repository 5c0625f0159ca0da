// Package slo computes availability targets: error budgets, burn rates, and
// Apdex scores over the metric tables.
package slo

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// Apdex latency buckets in milliseconds.
const (
	ApdexSatisfiedMs  = 5000
	ApdexToleratingMs = 20000
)

// MetricReader is the query surface the SLO service reads.
type MetricReader interface {
	GetSuccessRate(ctx context.Context, tenantID string, window time.Duration) (float64, int64, error)
}

// Service answers SLO questions for one tenant at a time.
type Service struct {
	metrics MetricReader
}

func NewService(metrics MetricReader) *Service {
	return &Service{metrics: metrics}
}

// SuccessRate returns successful/total over the window; an empty window is
// treated as fully available.
func (s *Service) SuccessRate(ctx context.Context, tenantID string, window time.Duration) (float64, error) {
	rate, _, err := s.metrics.GetSuccessRate(ctx, tenantID, window)
	if err != nil {
		return 0, fmt.Errorf("success rate: %w", err)
	}
	return rate, nil
}

// CalculateErrorBudget derives the error budget for the tenant over the
// window against the given SLO target.
func (s *Service) CalculateErrorBudget(ctx context.Context, tenantID string, sloTarget float64, window time.Duration) (models.ErrorBudget, error) {
	rate, total, err := s.metrics.GetSuccessRate(ctx, tenantID, window)
	if err != nil {
		return models.ErrorBudget{}, fmt.Errorf("error budget: %w", err)
	}
	failed := total - int64(rate*float64(total)+0.5)
	return ErrorBudget(sloTarget, total, failed), nil
}

// ErrorBudget computes the budget arithmetic from raw counts. With zero
// requests the budget is fully intact: remaining 1.0, availability 1.0,
// burn rate 0.0.
func ErrorBudget(sloTarget float64, totalRequests, failedRequests int64) models.ErrorBudget {
	budget := models.ErrorBudget{
		SloTarget:      sloTarget,
		TotalRequests:  totalRequests,
		FailedRequests: failedRequests,
	}
	if totalRequests == 0 {
		budget.BudgetRemaining = 1.0
		budget.CurrentAvailability = 1.0
		budget.BurnRate = 0.0
		return budget
	}

	budget.BudgetTotal = int64((1 - sloTarget) * float64(totalRequests))
	budget.BudgetConsumed = failedRequests
	budget.CurrentAvailability = 1 - float64(failedRequests)/float64(totalRequests)

	if budget.BudgetTotal > 0 {
		remaining := 1 - float64(budget.BudgetConsumed)/float64(budget.BudgetTotal)
		if remaining < 0 {
			remaining = 0
		}
		budget.BudgetRemaining = remaining
	}

	if sloTarget < 1 {
		budget.BurnRate = (float64(failedRequests) / float64(totalRequests)) / (1 - sloTarget)
	}
	return budget
}

// Apdex returns the satisfaction score for the given latency bucket counts:
// (satisfied + tolerating/2) / total, 1.0 when there is no traffic.
func Apdex(satisfied, tolerating, frustrated int64) float64 {
	total := satisfied + tolerating + frustrated
	if total == 0 {
		return 1.0
	}
	return (float64(satisfied) + float64(tolerating)/2) / float64(total)
}

// ApdexBucket classifies one request latency into its Apdex bucket:
// 0 satisfied, 1 tolerating, 2 frustrated.
func ApdexBucket(latencyMs int64) int {
	switch {
	case latencyMs <= ApdexSatisfiedMs:
		return 0
	case latencyMs <= ApdexToleratingMs:
		return 1
	default:
		return 2
	}
}
