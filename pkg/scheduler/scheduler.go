// Package scheduler runs cron-driven MCP tool calls and agent invocations:
// timezone-aware triggers, a bounded retry loop, approval gating for
// policy-protected tools, and persisted execution records.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ValidateSchedule rejects cron expressions and timezones the dispatcher
// cannot register. Called before persisting a job.
func ValidateSchedule(expression, timezone string) error {
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	if _, err := cron.ParseStandard(expression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return nil
}

// cronSpec renders the job's schedule with its timezone prefix.
func cronSpec(job *models.ScheduledJob) string {
	if job.Timezone == "" {
		return job.CronExpression
	}
	return "CRON_TZ=" + job.Timezone + " " + job.CronExpression
}

// Scheduler owns the cron runner and the mapping from job IDs to cron
// entries. Start and Stop are idempotent.
type Scheduler struct {
	jobs     JobStore
	executor *Executor
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewScheduler(jobs JobStore, executor *Executor) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		executor: executor,
		entries:  make(map[string]cron.EntryID),
		logger:   slog.Default().With("component", "job-scheduler"),
	}
}

// Start loads all enabled jobs, registers their triggers, and starts the
// cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	jobs, err := s.jobs.List(ctx, true)
	if err != nil {
		return fmt.Errorf("load scheduled jobs: %w", err)
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron = cron.New()
	for _, job := range jobs {
		if err := s.registerLocked(job); err != nil {
			s.logger.Error("Skipping unschedulable job", "job", job.Name, "error", err)
		}
	}
	s.cron.Start()

	s.logger.Info("Job scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()
	if c == nil {
		return
	}

	<-c.Stop().Done()
	cancel()
	s.logger.Info("Job scheduler stopped")
}

// registerLocked adds the job's trigger. Caller holds s.mu.
func (s *Scheduler) registerLocked(job *models.ScheduledJob) error {
	id, err := s.cron.AddFunc(cronSpec(job), func() {
		s.runScheduled(job.ID)
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name, err)
	}
	s.entries[job.ID] = id
	return nil
}

// runScheduled re-reads the job so a trigger always executes the current
// definition, and skips jobs disabled since registration.
func (s *Scheduler) runScheduled(jobID string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		s.logger.Error("Scheduled job vanished", "job_id", jobID, "error", err)
		return
	}
	if !job.Enabled {
		return
	}
	s.executor.Execute(ctx, job, false)
}

// Upsert validates, persists, and (re)schedules a job definition.
func (s *Scheduler) Upsert(ctx context.Context, job *models.ScheduledJob) error {
	if err := ValidateSchedule(job.CronExpression, job.Timezone); err != nil {
		return err
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	if entry, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entry)
		delete(s.entries, job.ID)
	}
	if !job.Enabled {
		return nil
	}
	return s.registerLocked(job)
}

// Remove deletes a job and drops its trigger.
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		if entry, ok := s.entries[jobID]; ok {
			s.cron.Remove(entry)
			delete(s.entries, jobID)
		}
	}
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	s.executor.Execute(ctx, job, false)
	return nil
}

// DryRun executes the job's full path without touching its last-run state.
// The execution record is written with its dry-run flag set.
func (s *Scheduler) DryRun(ctx context.Context, jobID string) error {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	s.executor.Execute(ctx, job, true)
	return nil
}
