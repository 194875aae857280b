package worker

import (
	"context"
	"regexp"
	"sync"
	"time"

	"statuscert-backend/internal/jobs"
	"statuscert-backend/internal/reviews"
	"statuscert-backend/internal/shared/metrics"
	"statuscert-backend/internal/shared/telemetry"
)

// transientPattern matches error text worth retrying: infrastructure hiccups
// rather than bad input.
var transientPattern = regexp.MustCompile(`(?i)timeout|network|connection|rate limit|temporarily`)

const staleFailureMessage = "Timed out while processing. Please retry."

// Runner executes one claimed job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job jobs.Job) error
}

// Worker polls the job queue, running up to Concurrency claimed jobs per tick
// and sweeping stale RUNNING rows left behind by a crashed process.
type Worker struct {
	Jobs    jobs.Repo
	Reviews reviews.Repo
	Runner  Runner

	PollInterval time.Duration
	Concurrency  int
	IdleLogEvery int
	StaleAfter   time.Duration
}

// Run blocks until ctx is cancelled. In-flight jobs finish before it returns.
func (w *Worker) Run(ctx context.Context) {
	poll := w.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	idleLogEvery := w.IdleLogEvery
	if idleLogEvery <= 0 {
		idleLogEvery = 30
	}

	telemetry.Info("worker.started", map[string]any{
		"pollIntervalMs": poll.Milliseconds(),
		"concurrency":    w.concurrency(),
	})

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			telemetry.Info("worker.stopped", nil)
			return
		case <-ticker.C:
			claimed := w.tick(ctx)
			if claimed == 0 {
				idleTicks++
				if idleTicks%idleLogEvery == 0 {
					telemetry.Info("worker.idle", map[string]any{"ticks": idleTicks})
				}
				continue
			}
			idleTicks = 0
		}
	}
}

func (w *Worker) concurrency() int {
	if w.Concurrency < 1 {
		return 1
	}
	return w.Concurrency
}

// tick sweeps stale jobs, then claims and runs up to Concurrency queued jobs.
// It returns the number of jobs claimed.
func (w *Worker) tick(ctx context.Context) int {
	w.sweepStale(ctx)

	var claimed []jobs.Job
	for len(claimed) < w.concurrency() {
		job, ok, err := w.Jobs.ClaimNext(ctx)
		if err != nil {
			telemetry.Error("worker.claim_failed", map[string]any{"error": err.Error()})
			break
		}
		if !ok {
			break
		}
		metrics.IncJobsClaimed()
		claimed = append(claimed, job)
	}

	var wg sync.WaitGroup
	for _, job := range claimed {
		wg.Add(1)
		go func(job jobs.Job) {
			defer wg.Done()
			w.handle(ctx, job)
		}(job)
	}
	wg.Wait()
	return len(claimed)
}

func (w *Worker) handle(ctx context.Context, job jobs.Job) {
	started := time.Now()
	telemetry.Info("worker.job_started", map[string]any{
		"jobId":    job.ID,
		"reviewId": job.ReviewID,
		"jobType":  job.JobType,
		"attempt":  job.AttemptCount,
	})

	err := w.Runner.Run(ctx, job)
	elapsed := time.Since(started)
	metrics.ObserveJobDurationMs(float64(elapsed.Milliseconds()))

	if err != nil {
		w.retryOrFail(ctx, job, err)
		return
	}

	// The runner settles business rejections itself, so a nil error can
	// still mean a FAILED job.
	done, getErr := w.Jobs.GetByID(ctx, job.FirmID, job.ID)
	if getErr == nil && done.Status == jobs.StatusFailed {
		metrics.IncJobsFailed()
		telemetry.Info("worker.job_rejected", map[string]any{
			"jobId":   job.ID,
			"jobType": job.JobType,
			"error":   strVal(done.ErrorMessage),
		})
		return
	}
	metrics.IncJobsSucceeded()
	telemetry.Info("worker.job_succeeded", map[string]any{
		"jobId":      job.ID,
		"jobType":    job.JobType,
		"durationMs": elapsed.Milliseconds(),
	})
}

// retryOrFail requeues a transient failure while attempts remain; anything
// else fails the job and cascades the review to FAILED.
func (w *Worker) retryOrFail(ctx context.Context, job jobs.Job, cause error) {
	message := cause.Error()
	if transientPattern.MatchString(message) && job.AttemptCount < jobs.MaxAttempts {
		if err := w.Jobs.Requeue(ctx, job.ID, message); err != nil {
			telemetry.Error("worker.requeue_failed", map[string]any{"jobId": job.ID, "error": err.Error()})
		} else {
			metrics.IncJobsRequeued()
			telemetry.Warn("worker.job_requeued", map[string]any{
				"jobId":   job.ID,
				"jobType": job.JobType,
				"attempt": job.AttemptCount,
				"error":   message,
			})
			return
		}
	}

	failed := jobs.StatusFailed
	if err := w.Jobs.Update(ctx, job.ID, jobs.Patch{Status: &failed, ErrorMessage: &message}); err != nil {
		telemetry.Error("worker.fail_update_failed", map[string]any{"jobId": job.ID, "error": err.Error()})
	}
	if err := w.Reviews.SetFailed(ctx, job.FirmID, job.ReviewID, message); err != nil {
		telemetry.Warn("worker.review_fail_cascade_failed", map[string]any{"reviewId": job.ReviewID, "error": err.Error()})
	}
	metrics.IncJobsFailed()
	telemetry.Error("worker.job_failed", map[string]any{
		"jobId":   job.ID,
		"jobType": job.JobType,
		"attempt": job.AttemptCount,
		"error":   message,
	})
}

// sweepStale fails RUNNING jobs older than StaleAfter and cascades their
// reviews, covering workers that died mid-job.
func (w *Worker) sweepStale(ctx context.Context) {
	if w.StaleAfter <= 0 {
		return
	}
	stale, err := w.Jobs.FailStale(ctx, w.StaleAfter)
	if err != nil {
		telemetry.Error("worker.stale_sweep_failed", map[string]any{"error": err.Error()})
		return
	}
	for _, job := range stale {
		metrics.IncJobsStaleFailed()
		if err := w.Reviews.SetFailed(ctx, job.FirmID, job.ReviewID, staleFailureMessage); err != nil {
			telemetry.Warn("worker.review_fail_cascade_failed", map[string]any{"reviewId": job.ReviewID, "error": err.Error()})
		}
		telemetry.Warn("worker.stale_job_failed", map[string]any{
			"jobId":    job.ID,
			"reviewId": job.ReviewID,
			"jobType":  job.JobType,
		})
	}
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
