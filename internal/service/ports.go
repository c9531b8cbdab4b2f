package service

import (
	"context"
	"io"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
	"github.com/google/uuid"
)

// DocumentRepository persists knowledge documents. GetByIDForUpdate and
// LockOffer only serialize when called through TxRepositories.
type DocumentRepository interface {
	Create(ctx context.Context, d *domain.KnowledgeDocument) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.KnowledgeDocument, error)
	GetOfferByOrg(ctx context.Context, orgID string) (*domain.KnowledgeDocument, error)
	LockOffer(ctx context.Context, orgID string) error
	Update(ctx context.Context, d *domain.KnowledgeDocument) error
	ListByOrgWithCursor(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)
}

type DocumentPageResult struct {
	Items      []*domain.KnowledgeDocument
	NextCursor string
	HasMore    bool
}

// ChunkRepository persists the derived chunks of a document
type ChunkRepository interface {
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
	InsertBatch(ctx context.Context, chunks []domain.KnowledgeChunk) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.KnowledgeChunk, error)
}

// CampaignRepository persists campaigns
type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Campaign, error)
	Update(ctx context.Context, c *domain.Campaign) error
	ListByOrgWithCursor(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*CampaignPageResult, error)
}

type CampaignPageResult struct {
	Items      []*domain.Campaign
	NextCursor string
	HasMore    bool
}

// TemplateRepository persists email templates
type TemplateRepository interface {
	Create(ctx context.Context, t *domain.EmailTemplate) error
	GetByID(ctx context.Context, id string) (*domain.EmailTemplate, error)
	Update(ctx context.Context, t *domain.EmailTemplate) error
	Delete(ctx context.Context, id string) error
	ListByCampaign(ctx context.Context, campaignID string) ([]*domain.EmailTemplate, error)
}

// Queue accepts job submissions.
type Queue interface {
	Enqueue(ctx context.Context, spec domain.JobSpec) (*domain.Job, error)
}

// JobStore is the durable job table. MarkSucceeded and MarkDead report
// whether this call performed the transition, so outcome side effects run
// once per job.
type JobStore interface {
	Queue
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Job, error)
	ClaimDue(ctx context.Context, lane domain.Lane, limit int, lease time.Duration) ([]*domain.Job, error)
	ExtendLease(ctx context.Context, id string, until time.Time) error
	ScheduleRetry(ctx context.Context, id string, runAt time.Time, lastError string) error
	MarkSucceeded(ctx context.Context, id string) (bool, error)
	MarkDead(ctx context.Context, id string, lastError string) (bool, error)
	ListByEntity(ctx context.Context, entityID string) ([]*domain.Job, error)
}

// ObjectMetadata describes a stored file
type ObjectMetadata struct {
	ContentLength int64
	ContentType   string
	ETag          string
}

// FileStorage is the blob store holding uploaded files.
type FileStorage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Resolve(ctx context.Context, key string) (*ObjectMetadata, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// Clock returns the current time; tests pin it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
