package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores jobs in memory and is safe for concurrent use. It backs
// tests and the inline execution mode.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Job
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Job)}
}

func (r *MemoryRepo) Enqueue(ctx context.Context, job Job) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.ReviewID == job.ReviewID && existing.JobType == job.JobType &&
			IsActive(existing.Status) {
			return existing, false, nil
		}
	}

	now := time.Now().UTC()
	job.Status = StatusQueued
	job.Stage = StageValidating
	job.Progress = 1
	job.AttemptCount = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	r.byID[job.ID] = job
	return job, true, nil
}

func (r *MemoryRepo) ClaimNext(ctx context.Context) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	queued := []Job{}
	for _, job := range r.byID {
		if job.Status == StatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return Job{}, false, nil
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })

	job := queued[0]
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	r.byID[job.ID] = job
	return job, true, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, firmID, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok || job.FirmID != firmID {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (r *MemoryRepo) Update(ctx context.Context, jobID string, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	if patch.Status != nil {
		job.Status = *patch.Status
		if *patch.Status == StatusSucceeded || *patch.Status == StatusFailed {
			job.FinishedAt = &now
		}
	}
	if patch.Stage != nil {
		job.Stage = *patch.Stage
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.ErrorMessage != nil {
		job.ErrorMessage = patch.ErrorMessage
	}
	if patch.Result != nil {
		job.Result = patch.Result
	}
	job.UpdatedAt = now
	r.byID[jobID] = job
	return nil
}

func (r *MemoryRepo) Requeue(ctx context.Context, jobID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = StatusQueued
	job.Stage = StageValidating
	job.Progress = 0
	job.AttemptCount++
	job.ErrorMessage = &message
	job.StartedAt = nil
	job.UpdatedAt = time.Now().UTC()
	r.byID[jobID] = job
	return nil
}

func (r *MemoryRepo) FailStale(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	message := "Timed out while processing. Please retry."

	out := []Job{}
	for id, job := range r.byID {
		if job.Status != StatusRunning || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.Status = StatusFailed
		job.ErrorMessage = &message
		job.FinishedAt = &now
		job.UpdatedAt = now
		r.byID[id] = job
		out = append(out, job)
	}
	return out, nil
}

func (r *MemoryRepo) Health(ctx context.Context, staleAfter, recentWindow time.Duration) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var health Health
	var oldestQueued *time.Time
	for _, job := range r.byID {
		switch job.Status {
		case StatusQueued:
			health.Queued++
			created := job.CreatedAt
			if oldestQueued == nil || created.Before(*oldestQueued) {
				oldestQueued = &created
			}
		case StatusRunning:
			health.Running++
			if job.UpdatedAt.Before(now.Add(-staleAfter)) {
				health.StaleRunning++
			}
		case StatusSucceeded:
			if job.FinishedAt != nil && job.FinishedAt.After(now.Add(-recentWindow)) {
				health.SucceededLast5m++
			}
		case StatusFailed:
			if job.FinishedAt != nil && job.FinishedAt.After(now.Add(-recentWindow)) {
				health.FailedLast5m++
			}
		}
	}
	if oldestQueued != nil {
		health.OldestQueuedAge = now.Sub(*oldestQueued)
	}
	return health, nil
}

var _ Repo = (*MemoryRepo)(nil)
