package scheduler

import (
	"context"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/slack"
	"github.com/codeready-toolchain/argus/pkg/teams"
)

// Notifications fans a job outcome out to the channels the job names.
// Either service may be nil; delivery is fail-open throughout.
type Notifications struct {
	slack *slack.Service
	teams *teams.Service
}

func NewNotifications(slackSvc *slack.Service, teamsSvc *teams.Service) *Notifications {
	return &Notifications{slack: slackSvc, teams: teamsSvc}
}

func (n *Notifications) NotifyJobResult(ctx context.Context, job *models.ScheduledJob, status models.JobStatus, result string) {
	if job.SlackChannelID != "" {
		n.slack.NotifyJobResult(ctx, job.SlackChannelID, job.Name, string(status), result)
	}
	if job.TeamsWebhookURL != "" {
		// Jobs carry their own webhook URL, so a per-job service is built
		// on the fly.
		teams.NewService(job.TeamsWebhookURL).NotifyJobResult(ctx, job.Name, string(status), result)
	} else if n.teams != nil {
		n.teams.NotifyJobResult(ctx, job.Name, string(status), result)
	}
}
