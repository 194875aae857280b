package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const jobColumns = `id, review_id, firm_id, job_type, status, stage, progress, attempt_count,
       payload, result, error_message, started_at, finished_at, created_at, updated_at`

func (r *PGRepo) Enqueue(ctx context.Context, job Job) (Job, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, err
	}
	defer tx.Rollback()

	// Serialize per-review to avoid duplicate active jobs.
	if _, err := tx.ExecContext(ctx,
		`SELECT id FROM status_cert_reviews WHERE id = $1 AND firm_id = $2 FOR UPDATE`,
		job.ReviewID, job.FirmID,
	); err != nil {
		return Job{}, false, err
	}

	existingQuery := `
SELECT ` + jobColumns + `
FROM status_cert_jobs
WHERE review_id = $1 AND firm_id = $2 AND job_type = $3 AND status IN ('QUEUED', 'RUNNING')
ORDER BY created_at DESC
LIMIT 1`
	existing, err := scanJob(tx.QueryRowContext(ctx, existingQuery, job.ReviewID, job.FirmID, job.JobType))
	if err == nil {
		if err := tx.Commit(); err != nil {
			return Job{}, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Job{}, false, err
	}

	const insertQuery = `
INSERT INTO status_cert_jobs (id, review_id, firm_id, job_type, status, stage, progress, attempt_count, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'QUEUED', 'VALIDATING', 1, 0, $5, now(), now())`
	var payload any
	if len(job.Payload) > 0 {
		payload = []byte(job.Payload)
	}
	if _, err := tx.ExecContext(ctx, insertQuery, job.ID, job.ReviewID, job.FirmID, job.JobType, payload); err != nil {
		return Job{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, false, err
	}

	job.Status = StatusQueued
	job.Stage = StageValidating
	job.Progress = 1
	job.AttemptCount = 0
	return job, true, nil
}

// ClaimNext picks the oldest queued job with SKIP LOCKED so concurrent
// workers never double-claim, and flips it to RUNNING in the same statement.
func (r *PGRepo) ClaimNext(ctx context.Context) (Job, bool, error) {
	query := `
WITH next_job AS (
	SELECT id
	FROM status_cert_jobs
	WHERE status = 'QUEUED'
	ORDER BY created_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
UPDATE status_cert_jobs j
SET status = 'RUNNING', started_at = now(), updated_at = now()
FROM next_job
WHERE j.id = next_job.id
RETURNING ` + prefixColumns("j", jobColumns)
	job, err := scanJob(r.DB.QueryRowContext(ctx, query))
	if errors.Is(err, ErrNotFound) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (r *PGRepo) GetByID(ctx context.Context, firmID, jobID string) (Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM status_cert_jobs
WHERE id = $1 AND firm_id = $2
LIMIT 1`
	return scanJob(r.DB.QueryRowContext(ctx, query, jobID, firmID))
}

func (r *PGRepo) Update(ctx context.Context, jobID string, patch Patch) error {
	sets := []string{"updated_at = now()"}
	args := []any{jobID}

	next := func() string { return fmt.Sprintf("$%d", len(args)+1) }
	if patch.Status != nil {
		sets = append(sets, "status = "+next())
		args = append(args, *patch.Status)
		if *patch.Status == StatusSucceeded || *patch.Status == StatusFailed {
			sets = append(sets, "finished_at = now()")
		}
	}
	if patch.Stage != nil {
		sets = append(sets, "stage = "+next())
		args = append(args, *patch.Stage)
	}
	if patch.Progress != nil {
		sets = append(sets, "progress = "+next())
		args = append(args, *patch.Progress)
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = "+next())
		args = append(args, *patch.ErrorMessage)
	}
	if patch.Result != nil {
		payload, err := json.Marshal(patch.Result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		sets = append(sets, "result = "+next())
		args = append(args, payload)
	}

	query := "UPDATE status_cert_jobs SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) Requeue(ctx context.Context, jobID, message string) error {
	const query = `
UPDATE status_cert_jobs
SET status = 'QUEUED', stage = 'VALIDATING', progress = 0,
    attempt_count = attempt_count + 1, error_message = $2,
    started_at = NULL, updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, jobID, message)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) FailStale(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	query := `
UPDATE status_cert_jobs
SET status = 'FAILED', error_message = 'Timed out while processing. Please retry.',
    finished_at = now(), updated_at = now()
WHERE status = 'RUNNING' AND updated_at < now() - $1::interval
RETURNING ` + jobColumns
	rows, err := r.DB.QueryContext(ctx, query, intervalArg(olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Job{}
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *PGRepo) Health(ctx context.Context, staleAfter, recentWindow time.Duration) (Health, error) {
	const query = `
SELECT
	COUNT(*) FILTER (WHERE status = 'QUEUED'),
	COUNT(*) FILTER (WHERE status = 'RUNNING'),
	COALESCE(EXTRACT(EPOCH FROM now() - MIN(created_at) FILTER (WHERE status = 'QUEUED')), 0),
	COUNT(*) FILTER (WHERE status = 'RUNNING' AND updated_at < now() - $1::interval),
	COUNT(*) FILTER (WHERE status = 'SUCCEEDED' AND finished_at >= now() - $2::interval),
	COUNT(*) FILTER (WHERE status = 'FAILED' AND finished_at >= now() - $2::interval)
FROM status_cert_jobs`
	var health Health
	var oldestSeconds float64
	err := r.DB.QueryRowContext(ctx, query, intervalArg(staleAfter), intervalArg(recentWindow)).Scan(
		&health.Queued,
		&health.Running,
		&oldestSeconds,
		&health.StaleRunning,
		&health.SucceededLast5m,
		&health.FailedLast5m,
	)
	if err != nil {
		return Health{}, err
	}
	health.OldestQueuedAge = time.Duration(oldestSeconds * float64(time.Second))
	return health, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (Job, error) {
	job, err := scanJobFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

func scanJobRows(rows *sql.Rows) (Job, error) {
	return scanJobFrom(rows)
}

func scanJobFrom(s rowScanner) (Job, error) {
	var job Job
	var payload, result []byte
	if err := s.Scan(
		&job.ID,
		&job.ReviewID,
		&job.FirmID,
		&job.JobType,
		&job.Status,
		&job.Stage,
		&job.Progress,
		&job.AttemptCount,
		&payload,
		&result,
		&job.ErrorMessage,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return Job{}, err
	}
	if len(payload) > 0 {
		job.Payload = json.RawMessage(payload)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return Job{}, fmt.Errorf("decode job result %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}

var _ Repo = (*PGRepo)(nil)
