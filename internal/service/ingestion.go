package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
	"github.com/cloo-solutions/outreach/internal/telemetry"
)

// RetryPolicies holds the retry policy per lane. Missing lanes fall back to
// domain.DefaultPolicy.
type RetryPolicies map[domain.Lane]domain.RetryPolicy

func (p RetryPolicies) For(lane domain.Lane) domain.RetryPolicy {
	if policy, ok := p[lane]; ok {
		return policy
	}
	return domain.DefaultPolicy(lane)
}

// IngestionService decides whether a document mutation inserts or replaces,
// clears stale chunks, and submits exactly one job per mutation.
type IngestionService struct {
	docs     DocumentRepository
	chunks   ChunkRepository
	txRunner TxRunner
	files    FileStorage
	policies RetryPolicies
	uuidGen  UUIDGenerator
	now      Clock
}

// NewIngestionService creates a new IngestionService. files may be nil, in
// which case uploads fail with a storage error.
func NewIngestionService(
	docs DocumentRepository,
	chunks ChunkRepository,
	txRunner TxRunner,
	files FileStorage,
	policies RetryPolicies,
) *IngestionService {
	return NewIngestionServiceWithUUIDGen(docs, chunks, txRunner, files, policies, &DefaultUUIDGenerator{}, systemClock)
}

// NewIngestionServiceWithUUIDGen creates an IngestionService with custom id and clock sources (for testing)
func NewIngestionServiceWithUUIDGen(
	docs DocumentRepository,
	chunks ChunkRepository,
	txRunner TxRunner,
	files FileStorage,
	policies RetryPolicies,
	uuidGen UUIDGenerator,
	now Clock,
) *IngestionService {
	return &IngestionService{
		docs:     docs,
		chunks:   chunks,
		txRunner: txRunner,
		files:    files,
		policies: policies,
		uuidGen:  uuidGen,
		now:      now,
	}
}

type SubmitUploadInput struct {
	OrgID       string
	Title       string
	Description string
	FileRef     string
}

type SubmitCrawlInput struct {
	OrgID       string
	Title       string
	Description string
	URL         string
	MaxDepth    int
	MaxPages    int
}

type SaveOfferInput struct {
	OrgID       string
	OfferText   string
	Title       string // defaults to domain.DefaultOfferTitle
	Description string
}

type ListDocumentsInput struct {
	OrgID  string
	Cursor string
	Limit  int
}

type ListDocumentsOutput struct {
	Items   []*domain.KnowledgeDocument
	Cursor  string
	HasMore bool
}

// SubmitUpload registers an uploaded file as a pending document and queues
// its embedding.
func (s *IngestionService) SubmitUpload(ctx context.Context, input SubmitUploadInput) (doc *domain.KnowledgeDocument, err error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.SubmitUpload", telemetry.SpanAttributes{
		OrgID:     input.OrgID,
		Operation: "submit_upload",
	})
	defer func() { span.Finish(err) }()

	if input.OrgID == "" {
		return nil, domain.ErrMissingOrg
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	fileRef := strings.TrimSpace(input.FileRef)
	if title == "" || description == "" || fileRef == "" {
		return nil, fmt.Errorf("%w: title, description and fileRef are required", domain.ErrMissingRequiredField)
	}

	if err := s.resolveFile(ctx, input.OrgID, fileRef); err != nil {
		return nil, err
	}

	now := s.now()
	doc = &domain.KnowledgeDocument{
		ID:          s.uuidGen.NewString(),
		OrgID:       input.OrgID,
		Kind:        domain.DocumentKindUpload,
		Title:       title,
		Description: description,
		FileRef:     fileRef,
		State:       domain.DocumentPending(),
		Generation:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Create(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		return s.enqueue(ctx, repos.Jobs(), doc)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "upload submitted", "document_id", doc.ID, "org_id", doc.OrgID)
	return doc, nil
}

// SubmitCrawl registers a website crawl as a pending document and queues it.
func (s *IngestionService) SubmitCrawl(ctx context.Context, input SubmitCrawlInput) (doc *domain.KnowledgeDocument, err error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.SubmitCrawl", telemetry.SpanAttributes{
		OrgID:     input.OrgID,
		Operation: "submit_crawl",
	})
	defer func() { span.Finish(err) }()

	if input.OrgID == "" {
		return nil, domain.ErrMissingOrg
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, fmt.Errorf("%w: title and description are required", domain.ErrMissingRequiredField)
	}
	u, err := domain.ParseCrawlURL(input.URL)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateCrawlBounds(input.MaxDepth, input.MaxPages); err != nil {
		return nil, err
	}

	now := s.now()
	doc = &domain.KnowledgeDocument{
		ID:          s.uuidGen.NewString(),
		OrgID:       input.OrgID,
		Kind:        domain.DocumentKindCrawl,
		Title:       title,
		Description: description,
		SourceURL:   u.String(),
		CrawlDepth:  input.MaxDepth,
		CrawlPages:  input.MaxPages,
		State:       domain.DocumentPending(),
		Generation:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Create(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		return s.enqueue(ctx, repos.Jobs(), doc)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "crawl submitted", "document_id", doc.ID, "url", doc.SourceURL,
		"max_depth", doc.CrawlDepth, "max_pages", doc.CrawlPages)
	return doc, nil
}

// SaveOffer creates or replaces the organization's single offer document.
// On replace, the generation is bumped and every existing chunk is deleted in
// the same transaction that submits the new embedding job.
func (s *IngestionService) SaveOffer(ctx context.Context, input SaveOfferInput) (doc *domain.KnowledgeDocument, err error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.SaveOffer", telemetry.SpanAttributes{
		OrgID:     input.OrgID,
		Operation: "save_offer",
	})
	defer func() { span.Finish(err) }()

	if input.OrgID == "" {
		return nil, domain.ErrMissingOrg
	}
	text := strings.TrimSpace(input.OfferText)
	if text == "" {
		return nil, domain.Validation("offer text is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = domain.DefaultOfferTitle
	}
	description := strings.TrimSpace(input.Description)

	var replaced bool
	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		docs := repos.Documents()
		if err := docs.LockOffer(ctx, input.OrgID); err != nil {
			return fmt.Errorf("lock offer: %w", err)
		}

		existing, err := docs.GetOfferByOrg(ctx, input.OrgID)
		switch {
		case errors.Is(err, domain.ErrDocumentNotFound):
			now := s.now()
			doc = &domain.KnowledgeDocument{
				ID:          s.uuidGen.NewString(),
				OrgID:       input.OrgID,
				Kind:        domain.DocumentKindOffer,
				Title:       title,
				Description: description,
				Content:     text,
				State:       domain.DocumentPending(),
				Generation:  1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := domain.ValidateDocument(doc); err != nil {
				return err
			}
			if err := docs.Create(ctx, doc); err != nil {
				return fmt.Errorf("create offer: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find offer: %w", err)
		default:
			doc, err = docs.GetByIDForUpdate(ctx, existing.ID)
			if err != nil {
				return fmt.Errorf("lock offer row: %w", err)
			}
			if err := s.resubmit(ctx, repos, doc, title, description, text); err != nil {
				return err
			}
			replaced = true
		}

		return s.enqueue(ctx, repos.Jobs(), doc)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "offer saved", "document_id", doc.ID, "generation", doc.Generation, "replaced", replaced)
	return doc, nil
}

// Reprocess resubmits an existing document with its current content.
func (s *IngestionService) Reprocess(ctx context.Context, orgID, documentID string) (doc *domain.KnowledgeDocument, err error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Reprocess", telemetry.SpanAttributes{
		OrgID:      orgID,
		DocumentID: documentID,
		Operation:  "reprocess",
	})
	defer func() { span.Finish(err) }()

	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}

	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		doc, err = repos.Documents().GetByIDForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.OrgID != orgID || doc.IsDeleted() {
			return domain.ErrDocumentNotFound
		}
		if doc.Kind == domain.DocumentKindUpload {
			if err := s.resolveFile(ctx, orgID, doc.FileRef); err != nil {
				return err
			}
		}
		if err := s.resubmit(ctx, repos, doc, doc.Title, doc.Description, doc.Content); err != nil {
			return err
		}
		return s.enqueue(ctx, repos.Jobs(), doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument returns a document owned by orgID.
func (s *IngestionService) GetDocument(ctx context.Context, orgID, documentID string) (*domain.KnowledgeDocument, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.GetDocument", telemetry.SpanAttributes{
		OrgID:      orgID,
		DocumentID: documentID,
		Operation:  "get",
	})
	defer span.End()

	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OrgID != orgID || doc.IsDeleted() {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// GetOffer returns the organization's offer document.
func (s *IngestionService) GetOffer(ctx context.Context, orgID string) (*domain.KnowledgeDocument, error) {
	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}
	return s.docs.GetOfferByOrg(ctx, orgID)
}

// ListDocuments lists an organization's documents, most recently updated first.
func (s *IngestionService) ListDocuments(ctx context.Context, input ListDocumentsInput) (*ListDocumentsOutput, error) {
	if input.OrgID == "" {
		return nil, domain.ErrMissingOrg
	}
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.Validation("invalid cursor")
	}

	page, err := s.docs.ListByOrgWithCursor(ctx, input.OrgID, cursor, pagination.ClampLimit(input.Limit))
	if err != nil {
		return nil, err
	}
	return &ListDocumentsOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

// ListChunks returns the current chunk set of a document.
func (s *IngestionService) ListChunks(ctx context.Context, orgID, documentID string) ([]*domain.KnowledgeChunk, error) {
	if _, err := s.GetDocument(ctx, orgID, documentID); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, documentID)
}

// DeleteDocument soft-deletes a document and drops its chunks. A deleted
// offer frees the organization's offer slot.
func (s *IngestionService) DeleteDocument(ctx context.Context, orgID, documentID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.DeleteDocument", telemetry.SpanAttributes{
		OrgID:      orgID,
		DocumentID: documentID,
		Operation:  "delete",
	})
	defer func() { span.Finish(err) }()

	if orgID == "" {
		return domain.ErrMissingOrg
	}

	return s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		doc, err := repos.Documents().GetByIDForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.OrgID != orgID || doc.IsDeleted() {
			return domain.ErrDocumentNotFound
		}
		now := s.now()
		doc.DeletedAt = &now
		doc.UpdatedAt = now
		if err := repos.Documents().Update(ctx, doc); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if _, err := repos.Chunks().DeleteByDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return nil
	})
}

// resubmit resets doc to pending under a new generation and deletes its
// chunks. doc must have been read FOR UPDATE in the same transaction.
func (s *IngestionService) resubmit(ctx context.Context, repos TxRepositories, doc *domain.KnowledgeDocument, title, description, content string) error {
	doc.Resubmit(title, description, content, s.now())
	if err := domain.ValidateDocument(doc); err != nil {
		return err
	}
	if err := repos.Documents().Update(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	removed, err := repos.Chunks().DeleteByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	slog.DebugContext(ctx, "document resubmitted", "document_id", doc.ID, "generation", doc.Generation, "chunks_removed", removed)
	return nil
}

// enqueue submits the one job a document mutation produces.
func (s *IngestionService) enqueue(ctx context.Context, q Queue, doc *domain.KnowledgeDocument) error {
	spec := domain.JobSpec{
		OrgID:    doc.OrgID,
		EntityID: doc.ID,
	}

	switch doc.Kind {
	case domain.DocumentKindUpload:
		spec.Lane = domain.LaneEmbedding
		spec.Payload = domain.EmbeddingPayload{
			DocID:      doc.ID,
			OrgID:      doc.OrgID,
			FileRef:    doc.FileRef,
			Generation: doc.Generation,
		}
	case domain.DocumentKindOffer:
		spec.Lane = domain.LaneEmbedding
		spec.Payload = domain.EmbeddingPayload{
			DocID:           doc.ID,
			OrgID:           doc.OrgID,
			RawTextOverride: doc.Content,
			Generation:      doc.Generation,
		}
	case domain.DocumentKindCrawl:
		spec.Lane = domain.LaneCrawl
		spec.Payload = domain.CrawlPayload{
			DocID:      doc.ID,
			OrgID:      doc.OrgID,
			SourceURL:  doc.SourceURL,
			MaxDepth:   doc.CrawlDepth,
			MaxPages:   doc.CrawlPages,
			Generation: doc.Generation,
		}
	default:
		return domain.Validation("invalid document kind: %q", doc.Kind)
	}
	spec.Policy = s.policies.For(spec.Lane)

	job, err := q.Enqueue(ctx, spec)
	if err != nil {
		if domain.HasCode(err, domain.ErrCodeValidation) {
			return err
		}
		return domain.QueueFailure("submit "+string(spec.Lane)+" job", err)
	}
	slog.DebugContext(ctx, "job enqueued", "job_id", job.ID, "lane", job.Lane, "document_id", doc.ID)
	return nil
}

// resolveFile checks the file exists in storage and belongs to orgID.
func (s *IngestionService) resolveFile(ctx context.Context, orgID, fileRef string) error {
	if s.files == nil {
		return domain.StorageFailure("file storage is not configured", nil)
	}
	if !strings.HasPrefix(fileRef, orgID+"/") {
		return domain.ErrFileNotFound
	}
	if _, err := s.files.Resolve(ctx, fileRef); err != nil {
		if domain.HasCode(err, domain.ErrCodeStorage) {
			return err
		}
		return domain.StorageFailure("resolve file reference", err)
	}
	return nil
}
