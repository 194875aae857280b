package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no job matches the lookup.
var ErrNotFound = errors.New("job not found")

// Patch is a partial job update. Nil fields are left untouched.
type Patch struct {
	Status       *string
	Stage        *string
	Progress     *int
	ErrorMessage *string
	Result       map[string]any
}

// Repo defines queue persistence. The queue is the jobs table itself; claims
// are made with row locks so multiple workers never run the same job.
type Repo interface {
	// Enqueue inserts a job unless an active one already exists for the same
	// review and type, in which case the existing job is returned and created
	// is false.
	Enqueue(ctx context.Context, job Job) (Job, bool, error)
	// ClaimNext atomically claims the oldest queued job, moving it to RUNNING.
	// ok is false when the queue is empty.
	ClaimNext(ctx context.Context) (Job, bool, error)
	GetByID(ctx context.Context, firmID, jobID string) (Job, error)
	Update(ctx context.Context, jobID string, patch Patch) error
	// Requeue returns a transiently failed job to the queue, resetting stage
	// and progress and bumping the attempt counter.
	Requeue(ctx context.Context, jobID, message string) error
	// FailStale marks RUNNING jobs untouched for longer than olderThan as
	// FAILED and returns them so callers can cascade to their reviews.
	FailStale(ctx context.Context, olderThan time.Duration) ([]Job, error)
	Health(ctx context.Context, staleAfter, recentWindow time.Duration) (Health, error)
}

// Helpers for building patches.

func StrField(s string) *string { return &s }
func IntField(n int) *int       { return &n }
