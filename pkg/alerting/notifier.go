package alerting

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// AlertSender is the delivery surface the slack and teams services expose.
type AlertSender interface {
	NotifyAlert(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance) error
}

// LogNotifier writes fired alerts to the structured log. It is always wired
// so alerts are visible even with no external channel configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: slog.Default().With("component", "alert-log")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, rule *models.AlertRule, instance *models.AlertInstance) error {
	n.logger.Warn("ALERT",
		"rule", rule.Name,
		"severity", instance.Severity,
		"tenant", instance.TenantID,
		"metric", rule.Metric,
		"value", instance.MetricValue,
		"threshold", instance.Threshold,
		"message", instance.Message)
	return nil
}

// SenderNotifier adapts an AlertSender (slack or teams service) to the
// Notifier interface.
type SenderNotifier struct {
	name   string
	sender AlertSender
}

func NewSenderNotifier(name string, sender AlertSender) *SenderNotifier {
	return &SenderNotifier{name: name, sender: sender}
}

func (n *SenderNotifier) Name() string { return n.name }

func (n *SenderNotifier) Notify(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance) error {
	return n.sender.NotifyAlert(ctx, rule, instance)
}
