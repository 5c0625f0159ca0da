package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/models"
)

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *", ""))
	assert.NoError(t, ValidateSchedule("0 6 * * 1", "Asia/Tokyo"))
	assert.NoError(t, ValidateSchedule("@hourly", "UTC"))

	assert.Error(t, ValidateSchedule("not a cron", ""))
	assert.Error(t, ValidateSchedule("61 * * * *", ""))
	assert.Error(t, ValidateSchedule("* * * * *", "Mars/Olympus"))
}

func TestCronSpec_TimezonePrefix(t *testing.T) {
	job := &models.ScheduledJob{CronExpression: "0 6 * * *", Timezone: "Europe/Prague"}
	assert.Equal(t, "CRON_TZ=Europe/Prague 0 6 * * *", cronSpec(job))

	job.Timezone = ""
	assert.Equal(t, "0 6 * * *", cronSpec(job))
}

func schedulerFixture(jobs ...*models.ScheduledJob) (*Scheduler, *memoryJobStore) {
	store := newMemoryJobStore(jobs...)
	manager := &stubManager{connected: true, hasTool: true, tool: successTool("ok")}
	executor := executorFixture(store, manager, nil, nil)
	return NewScheduler(store, executor), store
}

func TestScheduler_RunsRegisteredJob(t *testing.T) {
	job := toolJob()
	job.CronExpression = "@every 10ms"
	s, store := schedulerFixture(job)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.executions) >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	s, _ := schedulerFixture()
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}

func TestScheduler_UpsertRejectsInvalidSchedule(t *testing.T) {
	s, store := schedulerFixture()
	job := toolJob()
	job.CronExpression = "bogus"

	require.Error(t, s.Upsert(context.Background(), job))
	assert.Empty(t, store.jobs)
}

func TestScheduler_UpsertRegistersWhileRunning(t *testing.T) {
	s, store := schedulerFixture()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	job := toolJob()
	job.CronExpression = "@every 10ms"
	require.NoError(t, s.Upsert(context.Background(), job))

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.executions) >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_DisabledJobNotTriggered(t *testing.T) {
	s, store := schedulerFixture()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	job := toolJob()
	job.CronExpression = "@every 10ms"
	job.Enabled = false
	require.NoError(t, s.Upsert(context.Background(), job))

	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.executions)
}

func TestScheduler_RemoveDropsTrigger(t *testing.T) {
	job := toolJob()
	job.CronExpression = "@every 10ms"
	s, store := schedulerFixture(job)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.Remove(context.Background(), job.ID))

	store.mu.Lock()
	baseline := len(store.executions)
	store.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, baseline, len(store.executions))
}

func TestScheduler_RunNowExecutesImmediately(t *testing.T) {
	job := toolJob()
	job.CronExpression = "0 0 1 1 *"
	s, store := schedulerFixture(job)

	require.NoError(t, s.RunNow(context.Background(), job.ID))
	require.Len(t, store.executions, 1)
	assert.False(t, store.executions[0].DryRun)
}

func TestScheduler_DryRunWritesFlaggedRecord(t *testing.T) {
	job := toolJob()
	job.CronExpression = "0 0 1 1 *"
	s, store := schedulerFixture(job)

	require.NoError(t, s.DryRun(context.Background(), job.ID))
	require.Len(t, store.executions, 1)
	assert.True(t, store.executions[0].DryRun)
	assert.Empty(t, store.runs)
}

func TestScheduler_RunNowUnknownJob(t *testing.T) {
	s, _ := schedulerFixture()
	assert.Error(t, s.RunNow(context.Background(), uuid.NewString()))
}
