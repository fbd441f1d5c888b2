// Package scheduler implements the polling executor for scheduled jobs.
// Every poll it fetches the due pending jobs, claims each one, runs its body
// concurrently with the others, and rolls the job forward. Jobs whose body
// fails are removed (or parked failed when removal is impossible). The loop
// itself never dies: tick errors are logged and the next tick proceeds.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/services"
)

// DefaultInterval is how often the executor polls for due jobs.
const DefaultInterval = time.Minute

// DefaultJobTimeout bounds one job body execution.
const DefaultJobTimeout = 30 * time.Second

// Runner executes the body of one claimed job.
type Runner interface {
	Run(ctx context.Context, job domain.ScheduledJob) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job domain.ScheduledJob) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, job domain.ScheduledJob) error { return f(ctx, job) }

// Sender is the gateway slice the shipped job body needs.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// SendMessage is the standard job body: it decodes {to, message} from the
// job payload and delivers the text through the gateway.
type SendMessage struct {
	Gateway Sender
}

// Run delivers the payload message.
func (b SendMessage) Run(ctx context.Context, job domain.ScheduledJob) error {
	var body struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(job.Payload, &body); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if body.To == "" || body.Message == "" {
		return fmt.Errorf("payload missing to or message")
	}
	return b.Gateway.Send(ctx, body.To, body.Message)
}

// Executor polls for due jobs and runs them.
type Executor struct {
	// Jobs provides the claim/complete/fail lifecycle.
	Jobs *services.JobService
	// Runner executes claimed job bodies.
	Runner Runner

	// Interval is the poll period.
	Interval time.Duration
	// JobTimeout bounds one body execution.
	JobTimeout time.Duration
}

// New constructs an Executor with default timings.
func New(jobs *services.JobService, runner Runner) *Executor {
	return &Executor{
		Jobs:       jobs,
		Runner:     runner,
		Interval:   DefaultInterval,
		JobTimeout: DefaultJobTimeout,
	}
}

// Start runs the poll loop until ctx is cancelled. It always returns the
// context's error.
func (e *Executor) Start(ctx context.Context) error {
	interval := e.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log.Info().Dur("interval", interval).Msg("scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run one poll immediately so restarts do not wait a full interval.
	e.Tick(ctx, time.Now().UTC())
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			e.Tick(ctx, now.UTC())
		}
	}
}

// Tick executes every job due at now. Jobs run concurrently; each failure is
// recorded on its own job and never aborts the others.
func (e *Executor) Tick(ctx context.Context, now time.Time) {
	tr := otel.Tracer("scheduler/Executor")
	ctx, span := tr.Start(ctx, "Tick", trace.WithAttributes(attribute.String("now", now.Format(time.RFC3339))))
	defer span.End()

	due, err := e.Jobs.Due(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("fetching due jobs failed")
		return
	}
	if len(due) == 0 {
		return
	}
	log.Info().Int("due", len(due)).Msg("running due jobs")

	var g errgroup.Group
	for _, job := range due {
		job := job
		g.Go(func() error { return e.runOne(ctx, job) })
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("job tick finished with errors")
	}
}

// runOne claims and executes a single job.
func (e *Executor) runOne(ctx context.Context, job domain.ScheduledJob) error {
	claimed, err := e.Jobs.Claim(ctx, job.OwnerID, job.Idx)
	if err != nil {
		return fmt.Errorf("claim %s/%d: %w", job.OwnerID, job.Idx, err)
	}
	if !claimed {
		// Another poller won the race; nothing to do.
		log.Debug().Str("owner", job.OwnerID).Int("idx", job.Idx).Msg("lost claim")
		jobRuns.WithLabelValues("lost_claim").Inc()
		return nil
	}

	timeout := e.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.Runner.Run(runCtx, job); err != nil {
		log.Error().Err(err).Str("owner", job.OwnerID).Int("idx", job.Idx).Msg("job body failed")
		jobRuns.WithLabelValues("failed").Inc()
		// Failed jobs are removed so they cannot fire again. If even the
		// cleanup fails the job is parked Failed with the reason, never
		// left Running.
		if derr := e.Jobs.Delete(ctx, job.OwnerID, job.Idx); derr != nil {
			if ferr := e.Jobs.Fail(ctx, job.OwnerID, job.Idx, err.Error()); ferr != nil {
				return fmt.Errorf("mark failed %s/%d: %w", job.OwnerID, job.Idx, ferr)
			}
			return fmt.Errorf("run %s/%d: %w", job.OwnerID, job.Idx, err)
		}
		return fmt.Errorf("run %s/%d: %w", job.OwnerID, job.Idx, err)
	}
	jobRuns.WithLabelValues("completed").Inc()

	if job.OneShot {
		if err := e.Jobs.Delete(ctx, job.OwnerID, job.Idx); err != nil {
			return fmt.Errorf("delete one-shot %s/%d: %w", job.OwnerID, job.Idx, err)
		}
		log.Info().Str("owner", job.OwnerID).Int("idx", job.Idx).Msg("one-shot job done")
		return nil
	}
	if err := e.Jobs.Complete(ctx, &job); err != nil {
		return fmt.Errorf("complete %s/%d: %w", job.OwnerID, job.Idx, err)
	}
	return nil
}
