// Package teams posts alert and job notifications to a Microsoft Teams
// incoming webhook. Nil-safe like the slack package.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

var severityColor = map[models.AlertSeverity]string{
	models.SeverityInfo:     "2EB886",
	models.SeverityWarning:  "FFA500",
	models.SeverityCritical: "D00000",
}

// messageCard is the legacy connector card format Teams webhooks accept.
type messageCard struct {
	Type       string        `json:"@type"`
	Context    string        `json:"@context"`
	ThemeColor string        `json:"themeColor,omitempty"`
	Title      string        `json:"title"`
	Text       string        `json:"text"`
	Sections   []cardSection `json:"sections,omitempty"`
}

type cardSection struct {
	Facts []cardFact `json:"facts"`
}

type cardFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Service posts cards to one webhook URL.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewService creates a Teams notification service.
// Returns nil if webhookURL is empty.
func NewService(webhookURL string) *Service {
	if webhookURL == "" {
		return nil
	}
	return &Service{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "teams-service"),
	}
}

// NotifyAlert posts a fired alert card to the webhook.
func (s *Service) NotifyAlert(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance) error {
	if s == nil {
		return nil
	}

	scope := instance.TenantID
	if scope == "" {
		scope = "platform"
	}
	card := messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: severityColor[instance.Severity],
		Title:      fmt.Sprintf("Alert: %s (%s)", rule.Name, instance.Severity),
		Text:       instance.Message,
		Sections: []cardSection{{
			Facts: []cardFact{
				{Name: "Scope", Value: scope},
				{Name: "Metric", Value: string(rule.Metric)},
				{Name: "Value", Value: fmt.Sprintf("%.4f", instance.MetricValue)},
				{Name: "Threshold", Value: fmt.Sprintf("%.4f", instance.Threshold)},
			},
		}},
	}
	return s.post(ctx, card)
}

// NotifyJobResult posts a scheduled job outcome card to the webhook.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyJobResult(ctx context.Context, jobName, status, result string) {
	if s == nil {
		return
	}
	card := messageCard{
		Type:    "MessageCard",
		Context: "http://schema.org/extensions",
		Title:   fmt.Sprintf("Scheduled job %s: %s", status, jobName),
		Text:    result,
	}
	if err := s.post(ctx, card); err != nil {
		s.logger.Error("Failed to send Teams job notification",
			"job", jobName, "status", status, "error", err)
	}
}

func (s *Service) post(ctx context.Context, card messageCard) error {
	payload, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal teams card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build teams request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post teams webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("teams webhook returned status %d", resp.StatusCode)
	}
	return nil
}
