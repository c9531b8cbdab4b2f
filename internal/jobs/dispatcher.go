package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/logger"
	"github.com/cloo-solutions/outreach/internal/telemetry"
)

// ErrDeferred is returned by a Handler that handed the job to an external
// worker. The job stays running under its lease until a result arrives.
var ErrDeferred = errors.New("job deferred to external worker")

// Handler runs one attempt of a job
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) ([]domain.ProducedChunk, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *domain.Job) ([]domain.ProducedChunk, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) ([]domain.ProducedChunk, error) {
	return f(ctx, job)
}

// DispatcherConfig tunes a lane dispatcher
type DispatcherConfig struct {
	BatchSize int
	// Lease is how long a claimed job stays invisible to other claimers.
	Lease time.Duration
}

// Defaults
const (
	DefaultBatchSize = 10
	DefaultLease     = 5 * time.Minute
)

// Dispatcher claims due jobs of one lane and runs them through the lane's
// handler. It implements JobProcessor.
type Dispatcher struct {
	lane      domain.Lane
	queue     Queue
	projector Projector
	settler   *Settler
	handler   Handler
	cfg       DispatcherConfig
}

// NewDispatcher creates a new Dispatcher for lane
func NewDispatcher(lane domain.Lane, queue Queue, projector Projector, handler Handler, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	return &Dispatcher{
		lane:      lane,
		queue:     queue,
		projector: projector,
		settler:   NewSettler(queue, projector),
		handler:   handler,
		cfg:       cfg,
	}
}

// Lane returns the lane this dispatcher serves
func (d *Dispatcher) Lane() domain.Lane {
	return d.lane
}

// ProcessJobs implements the JobProcessor interface
func (d *Dispatcher) ProcessJobs(ctx context.Context) error {
	jobs, err := d.queue.ClaimDue(ctx, d.lane, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return fmt.Errorf("failed to claim %s jobs: %w", d.lane, err)
	}

	if len(jobs) == 0 {
		return nil
	}

	slog.DebugContext(ctx, "processing claimed jobs", "lane", d.lane, "count", len(jobs))

	for _, job := range jobs {
		if err := d.processJob(ctx, job); err != nil {
			slog.ErrorContext(ctx, "error processing job", "job_id", job.ID, "lane", d.lane, "error", err)
		}
	}

	return nil
}

func (d *Dispatcher) processJob(ctx context.Context, job *domain.Job) (err error) {
	ctx = logger.WithJobID(logger.WithOrgID(ctx, job.OrgID), job.ID)
	ctx, span := telemetry.StartJobTransaction(ctx, job)
	defer func() { span.Finish(err) }()

	// a lease that expired on the last attempt leaves nothing to retry
	if job.Attempts > job.Policy.MaxAttempts {
		msg := fmt.Sprintf("lease expired after %d attempts", job.Policy.MaxAttempts)
		return d.projector.ApplyFailure(ctx, job.ID, msg)
	}

	if err := d.projector.MarkProcessing(ctx, job); err != nil {
		if errors.Is(err, domain.ErrStaleGeneration) {
			return d.projector.Discard(ctx, job, err.Error())
		}
		return d.settler.Fail(ctx, job, err)
	}

	slog.InfoContext(ctx, "running job", "lane", job.Lane, "attempt", job.Attempts)
	chunks, jobErr := d.handler.Handle(ctx, job)
	if errors.Is(jobErr, ErrDeferred) {
		slog.InfoContext(ctx, "job handed to external worker", "lane", job.Lane)
		return nil
	}
	if jobErr != nil {
		return d.settler.Fail(ctx, job, jobErr)
	}

	err = d.projector.ApplySuccess(ctx, job.ID, chunks)
	if errors.Is(err, domain.ErrStaleGeneration) {
		slog.InfoContext(ctx, "job result superseded", "lane", job.Lane)
		return nil
	}
	if err != nil && domain.HasCode(err, domain.ErrCodeValidation) {
		return d.settler.Fail(ctx, job, err)
	}
	return err
}
