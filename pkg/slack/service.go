package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NotifyAlert sends a fired alert to the configured channel.
func (s *Service) NotifyAlert(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance) error {
	if s == nil {
		return nil
	}
	blocks := BuildAlertMessage(rule, instance)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		return fmt.Errorf("alert notification: %w", err)
	}
	return nil
}

// NotifyJobResult sends a scheduled job outcome. An empty channelID falls
// back to the configured default channel.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyJobResult(ctx context.Context, channelID, jobName, status, result string) {
	if s == nil {
		return
	}
	blocks := BuildJobResultMessage(jobName, status, result)
	var err error
	if channelID == "" {
		err = s.client.PostMessage(ctx, blocks, 10*time.Second)
	} else {
		err = s.client.PostMessageTo(ctx, channelID, blocks, 10*time.Second)
	}
	if err != nil {
		s.logger.Error("Failed to send Slack job notification",
			"job", jobName, "status", status, "error", err)
	}
}
