package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/argus/pkg/models"
)

const maxBlockTextLength = 2900

var severityEmoji = map[models.AlertSeverity]string{
	models.SeverityInfo:     ":information_source:",
	models.SeverityWarning:  ":warning:",
	models.SeverityCritical: ":rotating_light:",
}

var jobStatusEmoji = map[string]string{
	"SUCCESS": ":white_check_mark:",
	"FAILED":  ":x:",
	"TIMEOUT": ":hourglass:",
}

// BuildAlertMessage creates Block Kit blocks for a fired alert.
func BuildAlertMessage(rule *models.AlertRule, instance *models.AlertInstance) []goslack.Block {
	emoji := severityEmoji[instance.Severity]
	if emoji == "" {
		emoji = ":question:"
	}

	scope := instance.TenantID
	if scope == "" {
		scope = "platform"
	}

	header := fmt.Sprintf("%s *Alert: %s* (%s)", emoji, rule.Name, instance.Severity)
	body := fmt.Sprintf("%s\n*Scope:* %s\n*Value:* %.4f (threshold %.4f)",
		truncateForSlack(instance.Message), scope, instance.MetricValue, instance.Threshold)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
	}
}

// BuildJobResultMessage creates Block Kit blocks for a finished scheduled job.
func BuildJobResultMessage(jobName, status, result string) []goslack.Block {
	emoji := jobStatusEmoji[status]
	if emoji == "" {
		emoji = ":question:"
	}

	header := fmt.Sprintf("%s *Scheduled job %s: %s*", emoji, status, jobName)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}
	if result != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(result), false, false),
			nil, nil,
		))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
