package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

func mkJob(owner string, idx int, next time.Time) *domain.ScheduledJob {
	return &domain.ScheduledJob{
		OwnerID:  owner,
		Idx:      idx,
		Schedule: "*/5 * * * *",
		NextRun:  next,
		Status:   domain.JobPending,
		Payload:  json.RawMessage(`{"to":"5511999990000","message":"ping"}`),
	}
}

func TestNextJobIndex(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	idx, err := NextJobIndex(ctx, db, "owner")
	if err != nil || idx != 1 {
		t.Fatalf("empty table: idx=%d err=%v, want 1", idx, err)
	}

	for i := 1; i <= 3; i++ {
		if err := CreateJob(ctx, db, mkJob("owner", i, now)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if err := CreateJob(ctx, db, mkJob("other", 9, now)); err != nil {
		t.Fatalf("create other: %v", err)
	}

	idx, err = NextJobIndex(ctx, db, "owner")
	if err != nil || idx != 4 {
		t.Fatalf("idx=%d err=%v, want 4 (other owners do not count)", idx, err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	db := newRepoDB(t)
	if _, err := GetJob(context.Background(), db, "owner", 42); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestDueJobs(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := mkJob("owner", 1, now.Add(-time.Minute))
	future := mkJob("owner", 2, now.Add(time.Hour))
	running := mkJob("owner", 3, now.Add(-time.Hour))
	running.Status = domain.JobRunning

	for _, j := range []*domain.ScheduledJob{due, future, running} {
		if err := CreateJob(ctx, db, j); err != nil {
			t.Fatalf("create %d: %v", j.Idx, err)
		}
	}

	jobs, err := DueJobs(ctx, db, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Idx != 1 {
		t.Fatalf("due = %+v, want only idx 1", jobs)
	}
}

func TestClaimJob_OnlyOnce(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := CreateJob(ctx, db, mkJob("owner", 1, time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := ClaimJob(ctx, db, "owner", 1)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}

	// A concurrent poller that saw the same due row loses the race.
	ok, err = ClaimJob(ctx, db, "owner", 1)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("job claimed twice")
	}

	job, err := GetJob(ctx, db, "owner", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.JobRunning {
		t.Fatalf("status = %s, want running", job.Status)
	}
}

func TestCompleteJob_Reschedules(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	job := mkJob("owner", 1, due)
	if err := CreateJob(ctx, db, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ClaimJob(ctx, db, "owner", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	next := due.Add(5 * time.Minute)
	if err := CompleteJob(ctx, db, job, next); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := GetJob(ctx, db, "owner", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.LastRun == nil || !got.LastRun.Equal(due) {
		t.Fatalf("last_run = %v, want the due time %v", got.LastRun, due)
	}
	if !got.NextRun.Equal(next) {
		t.Fatalf("next_run = %v, want %v", got.NextRun, next)
	}
}

func TestFailJob(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := CreateJob(ctx, db, mkJob("owner", 1, time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ClaimJob(ctx, db, "owner", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	long := strings.Repeat("x", 2000)
	if err := FailJob(ctx, db, "owner", 1, long); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := GetJob(ctx, db, "owner", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if len(got.Error) != 1024 {
		t.Fatalf("error len = %d, want truncated to 1024", len(got.Error))
	}

	// Failed jobs never come back as due.
	jobs, err := DueJobs(ctx, db, time.Now().UTC().Add(time.Hour))
	if err != nil || len(jobs) != 0 {
		t.Fatalf("due after fail = %d, err=%v, want 0", len(jobs), err)
	}
}

func TestJobTransitions_GuardedByStateMachine(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	job := mkJob("owner", 1, due)
	if err := CreateJob(ctx, db, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Completing or failing an unclaimed (pending) job leaves the machine.
	if err := CompleteJob(ctx, db, job, due.Add(5*time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete pending: err = %v, want ErrInvalidTransition", err)
	}
	if err := FailJob(ctx, db, "owner", 1, "nope"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fail pending: err = %v, want ErrInvalidTransition", err)
	}

	if _, err := ClaimJob(ctx, db, "owner", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := FailJob(ctx, db, "owner", 1, "body exploded"); err != nil {
		t.Fatalf("fail running: %v", err)
	}

	// Failed is terminal: no re-claim, no completion.
	if ok, err := ClaimJob(ctx, db, "owner", 1); err != nil || ok {
		t.Fatalf("claim failed job: ok=%v err=%v", ok, err)
	}
	if err := CompleteJob(ctx, db, job, due.Add(time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete failed: err = %v, want ErrInvalidTransition", err)
	}
}

func TestCreateJob_DuplicateIndex(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := CreateJob(ctx, db, mkJob("owner", 1, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := CreateJob(ctx, db, mkJob("owner", 1, now))
	if err == nil {
		t.Fatal("expected a key collision")
	}
	if !IsDuplicateKey(err) {
		t.Fatalf("IsDuplicateKey(%v) = false, want true", err)
	}
	if IsDuplicateKey(nil) {
		t.Fatal("IsDuplicateKey(nil) must be false")
	}
}

func TestDeleteJob(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := CreateJob(ctx, db, mkJob("owner", 1, time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := DeleteJob(ctx, db, "owner", 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetJob(ctx, db, "owner", 1); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	// Deleting again is a no-op.
	if err := DeleteJob(ctx, db, "owner", 1); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListJobs(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, j := range []*domain.ScheduledJob{mkJob("b", 1, now), mkJob("a", 2, now), mkJob("a", 1, now)} {
		if err := CreateJob(ctx, db, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	jobs, err := ListJobs(ctx, db, "a")
	if err != nil || len(jobs) != 2 {
		t.Fatalf("owner listing: len=%d err=%v", len(jobs), err)
	}
	if jobs[0].Idx != 1 || jobs[1].Idx != 2 {
		t.Fatalf("owner listing order: %d,%d", jobs[0].Idx, jobs[1].Idx)
	}

	all, err := ListJobs(ctx, db, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("admin listing: len=%d err=%v", len(all), err)
	}
}
