// Package services – JobService
//
// This file implements the scheduled-job lifecycle: creation with cron
// validation, listing, the claim handshake the scheduler uses to win a due
// job, and the completion arithmetic that rolls a recurring job forward.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
)

// scheduleParser accepts standard five-field cron expressions plus the
// @hourly/@daily style descriptors.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression and returns its schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// createAttempts bounds index-collision retries on job creation.
const createAttempts = 5

// JobService manages scheduled jobs.
type JobService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Now stamps job times; overridable in tests. Defaults to UTC now.
	Now func() time.Time
}

// NewJobService constructs a JobService.
func NewJobService(db *gorm.DB) *JobService {
	return &JobService{DB: db, Now: func() time.Time { return time.Now().UTC() }}
}

// Create validates the schedule, assigns the next per-owner index, computes
// the first due time from the schedule, and persists the job as pending.
func (s *JobService) Create(ctx context.Context, ownerID, schedule string, payload json.RawMessage, oneShot bool) (*domain.ScheduledJob, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("owner.id", ownerID),
			attribute.String("schedule", schedule),
		),
	)
	defer span.End()

	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	// Index allocation reads MAX(idx) and inserts; two concurrent creates
	// for one owner can collide on the key, so the insert retries with a
	// freshly read index.
	var job *domain.ScheduledJob
	for attempt := 0; ; attempt++ {
		idx, err := repo.NextJobIndex(ctx, s.DB, ownerID)
		if err != nil {
			return nil, err
		}
		job = &domain.ScheduledJob{
			OwnerID:  ownerID,
			Idx:      idx,
			Schedule: schedule,
			NextRun:  sched.Next(s.Now()),
			Status:   domain.JobPending,
			Payload:  payload,
			OneShot:  oneShot,
		}
		err = repo.CreateJob(ctx, s.DB, job)
		if err == nil {
			return job, nil
		}
		if attempt >= createAttempts-1 || !repo.IsDuplicateKey(err) {
			return nil, err
		}
	}
}

// Get fetches one job by owner and index.
func (s *JobService) Get(ctx context.Context, ownerID string, idx int) (*domain.ScheduledJob, error) {
	return repo.GetJob(ctx, s.DB, ownerID, idx)
}

// List returns an owner's jobs, or every job when ownerID is empty.
func (s *JobService) List(ctx context.Context, ownerID string) ([]domain.ScheduledJob, error) {
	return repo.ListJobs(ctx, s.DB, ownerID)
}

// Delete removes a job.
func (s *JobService) Delete(ctx context.Context, ownerID string, idx int) error {
	return repo.DeleteJob(ctx, s.DB, ownerID, idx)
}

// Due returns the jobs eligible for execution at now.
func (s *JobService) Due(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error) {
	return repo.DueJobs(ctx, s.DB, now)
}

// Claim attempts the pending-to-running transition. It reports false when a
// concurrent claimer already won the job.
func (s *JobService) Claim(ctx context.Context, ownerID string, idx int) (bool, error) {
	return repo.ClaimJob(ctx, s.DB, ownerID, idx)
}

// Complete records a successful run: the due time that just ran becomes the
// last run, the next occurrence is computed from the schedule at the current
// time, and the job returns to pending. The next run is therefore always in
// the future even when the scheduler lagged several periods behind.
func (s *JobService) Complete(ctx context.Context, job *domain.ScheduledJob) error {
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		return err
	}
	return repo.CompleteJob(ctx, s.DB, job, sched.Next(s.Now()))
}

// Fail parks the job in the failed state with the reason attached.
func (s *JobService) Fail(ctx context.Context, ownerID string, idx int, reason string) error {
	return repo.FailJob(ctx, s.DB, ownerID, idx, reason)
}
