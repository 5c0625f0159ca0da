package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/store"
	"github.com/codeready-toolchain/argus/test/util"
)

func TestRetentionStore(t *testing.T) {
	client := util.SetupTestDatabase(t)
	metrics := store.NewMetricStore(client.Pool())
	retention := store.NewRetentionStore(client.DB())
	ctx := context.Background()

	now := time.Now().UTC()
	rawCutoff := now.AddDate(0, 0, -90)
	auditCutoff := now.AddDate(-7, 0, 0)

	t.Run("raw metrics age out, recent rows survive", func(t *testing.T) {
		require.NoError(t, metrics.BatchInsert(ctx, []models.MetricEvent{
			agentExecution("acme", now.AddDate(0, 0, -120), true, 100),
			agentExecution("acme", now.Add(-time.Hour), true, 100),
			&models.ToolCallEvent{
				EventMeta: models.EventMeta{Time: now.AddDate(0, 0, -120), TenantID: "acme"},
				RunID:     "run-old", ToolName: "search", ToolSource: models.ToolSourceLocal,
			},
		}))

		deleted, err := retention.DeleteRawMetricsBefore(ctx, rawCutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		var remaining int
		require.NoError(t, client.DB().GetContext(ctx, &remaining,
			`SELECT count(*) FROM metric_agent_executions`))
		assert.Equal(t, 1, remaining)
	})

	t.Run("quota events and job executions follow the audit window", func(t *testing.T) {
		require.NoError(t, metrics.BatchInsert(ctx, []models.MetricEvent{
			&models.QuotaEvent{
				EventMeta: models.EventMeta{Time: now.AddDate(-8, 0, 0), TenantID: "acme"},
				Action:    models.QuotaRejectedRequests,
			},
			&models.QuotaEvent{
				EventMeta: models.EventMeta{Time: now.Add(-time.Hour), TenantID: "acme"},
				Action:    models.QuotaWarning,
			},
		}))

		jobs := store.NewJobStore(client.DB())
		job := &models.ScheduledJob{
			Name:           "nightly-report",
			CronExpression: "0 2 * * *",
			Timezone:       "UTC",
			JobType:        models.JobTypeMcpTool,
			McpServerName:  "github",
			ToolName:       "create_issue",
			Enabled:        true,
		}
		require.NoError(t, jobs.Save(ctx, job))
		for _, startedAt := range []time.Time{now.AddDate(-8, 0, 0), now.Add(-time.Hour)} {
			require.NoError(t, jobs.RecordExecution(ctx, &models.ScheduledJobExecution{
				JobID:       job.ID,
				Status:      models.JobStatusSuccess,
				StartedAt:   startedAt,
				CompletedAt: startedAt.Add(time.Second),
				DurationMs:  1000,
			}))
		}

		deleted, err := retention.DeleteAuditRowsBefore(ctx, auditCutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		execs, err := jobs.ListExecutions(ctx, job.ID, 10)
		require.NoError(t, err)
		require.Len(t, execs, 1)

		var quotaRows int
		require.NoError(t, client.DB().GetContext(ctx, &quotaRows,
			`SELECT count(*) FROM metric_quota_events`))
		assert.Equal(t, 1, quotaRows)
	})

	t.Run("resolved alerts are purged, active ones never", func(t *testing.T) {
		alerts := store.NewAlertStore(client.DB())
		rule := &models.AlertRule{
			Name:      "pipeline pressure",
			Type:      models.RuleStaticThreshold,
			Metric:    models.MetricPipelineBufferUsage,
			Threshold: 90,
			Severity:  models.SeverityWarning,
			Enabled:   true,
		}
		require.NoError(t, alerts.SaveRule(ctx, rule))

		// one old resolved instance, then a fresh active one
		_, _, err := alerts.Fire(ctx, rule, 95, "buffer at 95%")
		require.NoError(t, err)
		resolved, err := alerts.Resolve(ctx, rule.ID)
		require.NoError(t, err)
		_, err = client.DB().ExecContext(ctx,
			`UPDATE alert_instances SET resolved_at = now() - interval '120 days' WHERE id = $1`,
			resolved.ID)
		require.NoError(t, err)

		_, _, err = alerts.Fire(ctx, rule, 97, "buffer at 97%")
		require.NoError(t, err)

		deleted, err := retention.DeleteResolvedAlertsBefore(ctx, rawCutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		active, err := alerts.ListActiveInstances(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})
}
