package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, lane, org_id, entity_id, payload, status, attempts, max_attempts, base_delay_ms, max_delay_ms,
	next_run_at, last_error, created_at, updated_at, finished_at`

// JobRepository is the durable job queue. A running job's next_run_at is its
// lease expiry: once it passes, the job is claimable again.
type JobRepository struct {
	db dbtx
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: pool}
}

func NewJobRepositoryWithTx(tx pgx.Tx) *JobRepository {
	return &JobRepository{db: tx}
}

func (r *JobRepository) Enqueue(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	job, err := domain.NewJob(uuid.NewString(), spec, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return nil, err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO jobs
			(id, lane, org_id, entity_id, payload, status, attempts, max_attempts, base_delay_ms, max_delay_ms,
			 next_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Lane, job.OrgID, job.EntityID, []byte(job.Payload), job.Status, job.Attempts,
		job.Policy.MaxAttempts, job.Policy.BaseDelay.Milliseconds(), job.Policy.MaxDelay.Milliseconds(),
		job.NextRunAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

func (r *JobRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Job, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
}

// ClaimDue leases up to limit due jobs of a lane. Queued jobs whose run time
// has come and running jobs whose lease expired are both eligible; each claim
// counts as one attempt.
func (r *JobRepository) ClaimDue(ctx context.Context, lane domain.Lane, limit int, lease time.Duration) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM jobs
			 WHERE lane = $1
			   AND status IN ('queued', 'running')
			   AND next_run_at <= now()
			 ORDER BY next_run_at ASC, created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE jobs
		 SET status = 'running',
		     attempts = jobs.attempts + 1,
		     next_run_at = now() + make_interval(secs => $3),
		     updated_at = now()
		 FROM cte
		 WHERE jobs.id = cte.id
		 RETURNING jobs.id, jobs.lane, jobs.org_id, jobs.entity_id, jobs.payload, jobs.status, jobs.attempts,
		           jobs.max_attempts, jobs.base_delay_ms, jobs.max_delay_ms, jobs.next_run_at, jobs.last_error,
		           jobs.created_at, jobs.updated_at, jobs.finished_at`,
		lane, limit, lease.Seconds(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ExtendLease pushes a running job's lease out to until.
func (r *JobRepository) ExtendLease(ctx context.Context, id string, until time.Time) error {
	return r.updateRunning(ctx,
		`UPDATE jobs SET next_run_at = $2, updated_at = now() WHERE id = $1 AND status = 'running'`,
		id, until,
	)
}

// ScheduleRetry returns a running job to the queue, due at runAt.
func (r *JobRepository) ScheduleRetry(ctx context.Context, id string, runAt time.Time, lastError string) error {
	return r.updateRunning(ctx,
		`UPDATE jobs SET status = 'queued', next_run_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, runAt, nullableString(lastError),
	)
}

func (r *JobRepository) MarkSucceeded(ctx context.Context, id string) (bool, error) {
	return r.finish(ctx,
		`UPDATE jobs SET status = 'succeeded', finished_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ('queued', 'running')`,
		id,
	)
}

func (r *JobRepository) MarkDead(ctx context.Context, id string, lastError string) (bool, error) {
	return r.finish(ctx,
		`UPDATE jobs SET status = 'dead', last_error = $2, finished_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ('queued', 'running')`,
		id, nullableString(lastError),
	)
}

func (r *JobRepository) ListByEntity(ctx context.Context, entityID string) ([]*domain.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE entity_id = $1 ORDER BY created_at DESC`,
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns the number of jobs per lane and status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.Lane]map[domain.JobStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT lane, status, count(*) FROM jobs GROUP BY lane, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Lane]map[domain.JobStatus]int)
	for rows.Next() {
		var lane domain.Lane
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&lane, &status, &n); err != nil {
			return nil, err
		}
		if counts[lane] == nil {
			counts[lane] = make(map[domain.JobStatus]int)
		}
		counts[lane][status] = n
	}
	return counts, rows.Err()
}

// updateRunning applies a transition that only exists for running jobs. A job
// in any other status is left untouched.
func (r *JobRepository) updateRunning(ctx context.Context, sql string, args ...any) error {
	cmdTag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		_, err := r.GetByID(ctx, args[0].(string))
		return err
	}
	return nil
}

// finish reports whether this call moved the job into a terminal status.
func (r *JobRepository) finish(ctx context.Context, sql string, args ...any) (bool, error) {
	cmdTag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	if cmdTag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, args[0].(string)); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *JobRepository) getOne(ctx context.Context, sql string, args ...any) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var payload []byte
	var baseDelayMS, maxDelayMS int64
	var lastError pgtype.Text
	err := row.Scan(&job.ID, &job.Lane, &job.OrgID, &job.EntityID, &payload, &job.Status, &job.Attempts,
		&job.Policy.MaxAttempts, &baseDelayMS, &maxDelayMS, &job.NextRunAt, &lastError,
		&job.CreatedAt, &job.UpdatedAt, &job.FinishedAt)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	job.Policy.BaseDelay = time.Duration(baseDelayMS) * time.Millisecond
	job.Policy.MaxDelay = time.Duration(maxDelayMS) * time.Millisecond
	if lastError.Valid {
		job.LastError = lastError.String
	}
	return &job, nil
}
