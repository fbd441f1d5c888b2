package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// ErrJobNotFound is returned when a (owner, idx) pair matches no job.
var ErrJobNotFound = errors.New("repo: job not found")

// ErrInvalidTransition is returned when a status update would leave the job
// state machine, for example completing a job that was never claimed.
var ErrInvalidTransition = errors.New("repo: invalid job status transition")

// IsDuplicateKey reports whether err is a primary-key collision, as raised
// when two writers race over the same (owner_id, idx) pair.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// transitionSources derives, from the state machine, the statuses allowed to
// move to next. Updates guard on them so an out-of-band write cannot skip a
// state.
func transitionSources(next domain.JobStatus) []domain.JobStatus {
	all := []domain.JobStatus{domain.JobPending, domain.JobRunning, domain.JobCompleted, domain.JobFailed}
	var out []domain.JobStatus
	for _, s := range all {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// NextJobIndex returns the next free per-owner index. Indexes are dense and
// start at 1, so owners can refer to their jobs by small numbers.
func NextJobIndex(ctx context.Context, db *gorm.DB, ownerID string) (int, error) {
	var max *int
	err := db.WithContext(ctx).
		Model(&domain.ScheduledJob{}).
		Where("owner_id = ?", ownerID).
		Select("MAX(idx)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// CreateJob persists a new scheduled job.
func CreateJob(ctx context.Context, db *gorm.DB, job *domain.ScheduledJob) error {
	return db.WithContext(ctx).Create(job).Error
}

// GetJob fetches one job by its composite key.
func GetJob(ctx context.Context, db *gorm.DB, ownerID string, idx int) (*domain.ScheduledJob, error) {
	var job domain.ScheduledJob
	err := db.WithContext(ctx).
		Where("owner_id = ? AND idx = ?", ownerID, idx).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns every job for an owner ordered by index. An empty owner
// returns all jobs (admin listing).
func ListJobs(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.ScheduledJob, error) {
	q := db.WithContext(ctx).Model(&domain.ScheduledJob{})
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var jobs []domain.ScheduledJob
	err := q.Order("owner_id, idx").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// DueJobs returns pending jobs whose next run time has passed.
func DueJobs(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.ScheduledJob, error) {
	var jobs []domain.ScheduledJob
	err := db.WithContext(ctx).
		Where("status = ? AND next_run <= ?", domain.JobPending, now).
		Order("next_run").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ClaimJob attempts the pending to running transition for one job. The
// update is conditional on the current status, so when several pollers race
// over the same due job exactly one of them wins the claim.
func ClaimJob(ctx context.Context, db *gorm.DB, ownerID string, idx int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduledJob{}).
		Where("owner_id = ? AND idx = ? AND status IN ?", ownerID, idx, transitionSources(domain.JobRunning)).
		Update("status", domain.JobRunning)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CompleteJob records a successful run: the run that just finished becomes
// last_run, the next occurrence is stored, and the job returns to pending so
// the next poll can pick it up again. Only a claimed (running) job can
// complete; anything else is an invalid transition.
func CompleteJob(ctx context.Context, db *gorm.DB, job *domain.ScheduledJob, nextRun time.Time) error {
	ranAt := job.NextRun
	res := db.WithContext(ctx).
		Model(&domain.ScheduledJob{}).
		Where("owner_id = ? AND idx = ? AND status IN ?", job.OwnerID, job.Idx, transitionSources(domain.JobCompleted)).
		Updates(map[string]any{
			"last_run": ranAt,
			"next_run": nextRun,
			"status":   domain.JobPending,
			"error":    "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FailJob parks a job in the failed state with the reason attached.
// Failed jobs are never rescheduled. Only a claimed (running) job can fail.
func FailJob(ctx context.Context, db *gorm.DB, ownerID string, idx int, reason string) error {
	const maxReason = 1024
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	res := db.WithContext(ctx).
		Model(&domain.ScheduledJob{}).
		Where("owner_id = ? AND idx = ? AND status IN ?", ownerID, idx, transitionSources(domain.JobFailed)).
		Updates(map[string]any{
			"status": domain.JobFailed,
			"error":  reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// DeleteJob removes a job. Deleting an absent job is not an error.
func DeleteJob(ctx context.Context, db *gorm.DB, ownerID string, idx int) error {
	return db.WithContext(ctx).
		Where("owner_id = ? AND idx = ?", ownerID, idx).
		Delete(&domain.ScheduledJob{}).Error
}
