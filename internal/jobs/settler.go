package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/telemetry"
)

// Queue is the part of the job store the dispatcher drives.
type Queue interface {
	ClaimDue(ctx context.Context, lane domain.Lane, limit int, lease time.Duration) ([]*domain.Job, error)
	ScheduleRetry(ctx context.Context, id string, runAt time.Time, lastError string) error
}

// Projector applies job outcomes to documents and campaigns.
type Projector interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	MarkProcessing(ctx context.Context, job *domain.Job) error
	Discard(ctx context.Context, job *domain.Job, reason string) error
	ApplySuccess(ctx context.Context, jobID string, chunks []domain.ProducedChunk) error
	ApplyFailure(ctx context.Context, jobID, message string) error
	ApplyProgress(ctx context.Context, progress domain.JobProgress, lease time.Duration) error
}

// Settler decides what happens to a job after an attempt: success is
// projected, a failure is retried with exponential backoff until the lane
// policy is exhausted, then projected as a terminal failure.
type Settler struct {
	queue     Queue
	projector Projector
	now       func() time.Time
}

// NewSettler creates a new Settler
func NewSettler(queue Queue, projector Projector) *Settler {
	return &Settler{
		queue:     queue,
		projector: projector,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Fail records a failed attempt of a running job. Validation errors are
// permanent and skip the remaining attempts.
func (s *Settler) Fail(ctx context.Context, job *domain.Job, jobErr error) error {
	msg := domain.MessageOf(jobErr)
	permanent := domain.HasCode(jobErr, domain.ErrCodeValidation)

	if permanent || job.Policy.Exhausted(job.Attempts) {
		slog.WarnContext(ctx, "job failed permanently", "job_id", job.ID, "lane", job.Lane,
			"attempt", job.Attempts, "max_attempts", job.Policy.MaxAttempts, "error", msg)
		telemetry.CaptureError(ctx, fmt.Errorf("%s job %s: %w", job.Lane, job.ID, jobErr))
		if err := s.projector.ApplyFailure(ctx, job.ID, msg); err != nil {
			return fmt.Errorf("failed to apply job failure: %w", err)
		}
		return nil
	}

	delay := job.Policy.Backoff(job.Attempts)
	slog.InfoContext(ctx, "job will be retried", "job_id", job.ID, "lane", job.Lane,
		"attempt", job.Attempts, "max_attempts", job.Policy.MaxAttempts, "retry_in", delay, "error", msg)
	if err := s.queue.ScheduleRetry(ctx, job.ID, s.now().Add(delay), msg); err != nil {
		return domain.QueueFailure("failed to schedule retry", err)
	}
	return nil
}

// Apply records a result reported by an external worker. A failure without
// Permanent is treated like a failed attempt of the running job.
func (s *Settler) Apply(ctx context.Context, result domain.JobResult) error {
	if err := result.Validate(); err != nil {
		return err
	}

	if result.Outcome == domain.OutcomeSuccess {
		return s.projector.ApplySuccess(ctx, result.JobID, result.ProducedChunks)
	}

	if result.Permanent {
		return s.projector.ApplyFailure(ctx, result.JobID, result.Error)
	}

	job, err := s.projector.GetJob(ctx, result.JobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case domain.JobStatusSucceeded, domain.JobStatusDead:
		slog.DebugContext(ctx, "failure for finished job ignored", "job_id", job.ID, "status", job.Status)
		return nil
	case domain.JobStatusQueued:
		return domain.Conflict("job %s is not running", job.ID)
	}

	msg := result.Error
	if msg == "" {
		msg = "worker reported failure"
	}
	return s.Fail(ctx, job, domain.WorkerFailure(msg))
}

// Progress applies a progress report, extending the job's lease by lease.
func (s *Settler) Progress(ctx context.Context, progress domain.JobProgress, lease time.Duration) error {
	return s.projector.ApplyProgress(ctx, progress, lease)
}
