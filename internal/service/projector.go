package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/telemetry"
)

// Projector applies worker-reported outcomes and progress to documents and
// campaigns. Each job's outcome is applied at most once: the job row's
// transition to succeeded or dead is the guard, and it commits together
// with the entity change.
type Projector struct {
	txRunner TxRunner
	jobs     JobStore
	uuidGen  UUIDGenerator
	now      Clock
}

// NewProjector creates a new Projector
func NewProjector(txRunner TxRunner, jobs JobStore) *Projector {
	return NewProjectorWithUUIDGen(txRunner, jobs, &DefaultUUIDGenerator{}, systemClock)
}

// NewProjectorWithUUIDGen creates a Projector with custom id and clock sources (for testing)
func NewProjectorWithUUIDGen(txRunner TxRunner, jobs JobStore, uuidGen UUIDGenerator, now Clock) *Projector {
	return &Projector{
		txRunner: txRunner,
		jobs:     jobs,
		uuidGen:  uuidGen,
		now:      now,
	}
}

// GetJob returns a job by id.
func (p *Projector) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return p.jobs.GetByID(ctx, jobID)
}

// MarkProcessing records that a worker picked up an embedding or crawl job.
// It returns ErrStaleGeneration when the document moved on or was deleted,
// in which case the job should be discarded. Scrape jobs are a no-op.
func (p *Projector) MarkProcessing(ctx context.Context, job *domain.Job) (err error) {
	if job.Lane == domain.LaneScrape {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "Projector.MarkProcessing", telemetry.SpanAttributes{
		OrgID:     job.OrgID,
		JobID:     job.ID,
		Lane:      string(job.Lane),
		Operation: "mark_processing",
	})
	defer func() { span.Finish(err) }()

	ref, err := documentRef(job)
	if err != nil {
		return err
	}

	return p.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		doc, err := repos.Documents().GetByIDForUpdate(ctx, ref.DocID)
		if err != nil {
			return err
		}
		if doc.IsDeleted() || doc.Generation != ref.Generation {
			return staleGeneration(job, ref, doc)
		}
		if doc.Status() == domain.DocumentStatusProcessing {
			return nil
		}
		next, err := doc.State.StartProcessing()
		if err != nil {
			return err
		}
		doc.State = next
		doc.UpdatedAt = p.now()
		return repos.Documents().Update(ctx, doc)
	})
}

// Discard finishes a job whose target no longer wants its result.
func (p *Projector) Discard(ctx context.Context, job *domain.Job, reason string) error {
	ok, err := p.jobs.MarkSucceeded(ctx, job.ID)
	if err != nil {
		return err
	}
	if ok {
		slog.InfoContext(ctx, "job discarded", "job_id", job.ID, "lane", job.Lane, "reason", reason)
	}
	return nil
}

// ApplySuccess records a successful job. For embedding and crawl jobs the
// produced chunks replace the document's chunk set when the job's generation
// is still current; otherwise the chunks are discarded, the document is left
// untouched and ErrStaleGeneration is returned. For scrape jobs the campaign
// is completed. A repeated notification for a finished job is a no-op.
func (p *Projector) ApplySuccess(ctx context.Context, jobID string, chunks []domain.ProducedChunk) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "Projector.ApplySuccess", telemetry.SpanAttributes{
		JobID:     jobID,
		Operation: "apply_success",
	})
	defer func() { span.Finish(err) }()

	if err := domain.ValidateChunkSet(chunks); err != nil {
		return err
	}

	var stale error
	err = p.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		job, err := repos.Jobs().GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		done, err := repos.Jobs().MarkSucceeded(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("mark job succeeded: %w", err)
		}
		if !done {
			slog.DebugContext(ctx, "duplicate success ignored", "job_id", job.ID, "status", job.Status)
			return nil
		}

		switch job.Lane {
		case domain.LaneEmbedding, domain.LaneCrawl:
			err := p.replaceChunks(ctx, repos, job, chunks)
			if errors.Is(err, domain.ErrStaleGeneration) {
				// the job still finishes; only its result is dropped
				stale = err
				return nil
			}
			return err
		case domain.LaneScrape:
			return p.completeCampaign(ctx, repos, job)
		}
		return domain.Validation("unknown lane %q", job.Lane)
	})
	if err != nil {
		return err
	}
	return stale
}

// ApplyFailure records a terminal job failure: the job becomes dead and its
// document or campaign becomes failed. The entity transition happens only
// for the call that killed the job, so it runs once per job.
func (p *Projector) ApplyFailure(ctx context.Context, jobID, message string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "Projector.ApplyFailure", telemetry.SpanAttributes{
		JobID:     jobID,
		Operation: "apply_failure",
	})
	defer func() { span.Finish(err) }()

	if message == "" {
		message = "unknown error"
	}

	return p.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		job, err := repos.Jobs().GetByIDForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		killed, err := repos.Jobs().MarkDead(ctx, job.ID, message)
		if err != nil {
			return fmt.Errorf("mark job dead: %w", err)
		}
		if !killed {
			slog.DebugContext(ctx, "duplicate failure ignored", "job_id", job.ID, "status", job.Status)
			return nil
		}

		switch job.Lane {
		case domain.LaneEmbedding, domain.LaneCrawl:
			return p.failDocument(ctx, repos, job, message)
		case domain.LaneScrape:
			return p.failCampaign(ctx, repos, job, message)
		}
		return domain.Validation("unknown lane %q", job.Lane)
	})
}

// ApplyProgress advances a running scrape job's campaign progress and
// extends the job's lease.
func (p *Projector) ApplyProgress(ctx context.Context, progress domain.JobProgress, lease time.Duration) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "Projector.ApplyProgress", telemetry.SpanAttributes{
		JobID:     progress.JobID,
		Operation: "apply_progress",
	})
	defer func() { span.Finish(err) }()

	if progress.JobID == "" {
		return domain.Validation("jobId is required")
	}

	return p.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		job, err := repos.Jobs().GetByIDForUpdate(ctx, progress.JobID)
		if err != nil {
			return err
		}
		if job.Lane != domain.LaneScrape {
			return domain.Validation("progress is only reported for scrape jobs")
		}
		if job.Status != domain.JobStatusRunning {
			return domain.Conflict("job %s is %s", job.ID, job.Status)
		}

		var payload domain.ScrapePayload
		if err := job.DecodePayload(&payload); err != nil {
			return err
		}
		c, err := repos.Campaigns().GetByIDForUpdate(ctx, payload.CampaignID)
		if err != nil {
			return err
		}
		next, err := c.State.Advance(progress.ProgressUpdate)
		if err != nil {
			return err
		}
		c.State = next
		c.UpdatedAt = p.now()
		if err := repos.Campaigns().Update(ctx, c); err != nil {
			return fmt.Errorf("update campaign: %w", err)
		}
		if lease > 0 {
			if err := repos.Jobs().ExtendLease(ctx, job.ID, p.now().Add(lease)); err != nil {
				return fmt.Errorf("extend lease: %w", err)
			}
		}
		return nil
	})
}

// replaceChunks swaps the document's chunk set for the produced one.
func (p *Projector) replaceChunks(ctx context.Context, repos TxRepositories, job *domain.Job, produced []domain.ProducedChunk) error {
	ref, err := documentRef(job)
	if err != nil {
		return err
	}
	doc, err := repos.Documents().GetByIDForUpdate(ctx, ref.DocID)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return staleGeneration(job, ref, nil)
	}
	if err != nil {
		return err
	}
	if doc.IsDeleted() || doc.Generation != ref.Generation {
		slog.WarnContext(ctx, "stale result discarded", "job_id", job.ID, "document_id", doc.ID,
			"job_generation", ref.Generation, "document_generation", doc.Generation)
		return staleGeneration(job, ref, doc)
	}
	if doc.State.IsTerminal() {
		slog.WarnContext(ctx, "result for finished document ignored", "job_id", job.ID,
			"document_id", doc.ID, "status", doc.Status())
		return nil
	}

	if _, err := repos.Chunks().DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if len(produced) > 0 {
		now := p.now()
		chunks := make([]domain.KnowledgeChunk, len(produced))
		for _, c := range produced {
			chunks[c.Index] = domain.KnowledgeChunk{
				ID:          p.uuidGen.NewString(),
				DocumentID:  doc.ID,
				OrgID:       doc.OrgID,
				Generation:  doc.Generation,
				ChunkIndex:  c.Index,
				Content:     c.Content,
				TokenLength: c.TokenLength,
				Embedding:   c.Embedding,
				CreatedAt:   now,
			}
		}
		if err := repos.Chunks().InsertBatch(ctx, chunks); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}

	next, err := doc.State.Embed(len(produced))
	if err != nil {
		return err
	}
	doc.State = next
	doc.UpdatedAt = p.now()
	if err := repos.Documents().Update(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	slog.InfoContext(ctx, "document embedded", "document_id", doc.ID, "generation", doc.Generation, "chunks", len(produced))
	return nil
}

func (p *Projector) completeCampaign(ctx context.Context, repos TxRepositories, job *domain.Job) error {
	var payload domain.ScrapePayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}
	c, err := repos.Campaigns().GetByIDForUpdate(ctx, payload.CampaignID)
	if err != nil {
		return err
	}
	if c.Status() != domain.CampaignStatusActive {
		slog.WarnContext(ctx, "scrape success for inactive campaign ignored", "campaign_id", c.ID, "status", c.Status())
		return nil
	}
	next, err := c.State.Complete(p.now())
	if err != nil {
		return err
	}
	c.State = next
	c.UpdatedAt = p.now()
	if err := repos.Campaigns().Update(ctx, c); err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	slog.InfoContext(ctx, "campaign completed", "campaign_id", c.ID)
	return nil
}

func (p *Projector) failDocument(ctx context.Context, repos TxRepositories, job *domain.Job, message string) error {
	ref, err := documentRef(job)
	if err != nil {
		return err
	}
	doc, err := repos.Documents().GetByIDForUpdate(ctx, ref.DocID)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc.IsDeleted() || doc.Generation != ref.Generation || doc.State.IsTerminal() {
		slog.InfoContext(ctx, "failure for superseded document ignored", "job_id", job.ID, "document_id", doc.ID)
		return nil
	}
	next, err := doc.State.Fail(message)
	if err != nil {
		return err
	}
	doc.State = next
	doc.UpdatedAt = p.now()
	if err := repos.Documents().Update(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	slog.WarnContext(ctx, "document failed", "document_id", doc.ID, "generation", doc.Generation, "error", message)
	return nil
}

func (p *Projector) failCampaign(ctx context.Context, repos TxRepositories, job *domain.Job, message string) error {
	var payload domain.ScrapePayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}
	c, err := repos.Campaigns().GetByIDForUpdate(ctx, payload.CampaignID)
	if err != nil {
		return err
	}
	if c.Status() != domain.CampaignStatusActive {
		return nil
	}
	next, err := c.State.Fail(message)
	if err != nil {
		return err
	}
	c.State = next
	c.UpdatedAt = p.now()
	if err := repos.Campaigns().Update(ctx, c); err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	slog.WarnContext(ctx, "campaign failed", "campaign_id", c.ID, "error", message)
	return nil
}

func documentRef(job *domain.Job) (domain.DocumentRef, error) {
	var ref domain.DocumentRef
	if err := job.DecodePayload(&ref); err != nil {
		return ref, err
	}
	if ref.DocID == "" || ref.Generation < 1 {
		return ref, domain.Validation("job %s payload has no document reference", job.ID)
	}
	return ref, nil
}

func staleGeneration(job *domain.Job, ref domain.DocumentRef, doc *domain.KnowledgeDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: job %s targets missing document %s", domain.ErrStaleGeneration, job.ID, ref.DocID)
	}
	if doc.IsDeleted() {
		return fmt.Errorf("%w: job %s targets deleted document %s", domain.ErrStaleGeneration, job.ID, doc.ID)
	}
	return fmt.Errorf("%w: job %s has generation %d, document %s is at %d",
		domain.ErrStaleGeneration, job.ID, ref.Generation, doc.ID, doc.Generation)
}
