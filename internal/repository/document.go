package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const offerIndexName = "uq_knowledge_documents_offer"

const documentColumns = `id, org_id, kind, title, description, content, file_ref, source_url, crawl_depth, crawl_pages,
	status, chunk_count, error, generation, created_at, updated_at, deleted_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.KnowledgeDocument) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_documents
			(id, org_id, kind, title, description, content, file_ref, source_url, crawl_depth, crawl_pages,
			 status, chunk_count, error, generation, created_at, updated_at, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.OrgID, d.Kind, d.Title, d.Description,
		nullableString(d.Content), nullableString(d.FileRef), nullableString(d.SourceURL),
		nullableInt(d.CrawlDepth), nullableInt(d.CrawlPages),
		d.State.Status(), d.State.ChunkCount(), nullableString(d.State.ErrorMessage()),
		d.Generation, d.CreatedAt, d.UpdatedAt, d.DeletedAt,
	)
	if isUniqueViolation(err, offerIndexName) {
		return domain.ErrOfferAlreadyExists
	}
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM knowledge_documents WHERE id = $1`, id)
}

// GetByIDForUpdate locks the document row until the surrounding transaction ends.
func (r *DocumentRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.KnowledgeDocument, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM knowledge_documents WHERE id = $1 FOR UPDATE`, id)
}

// GetOfferByOrg returns the organization's live offer document.
func (r *DocumentRepository) GetOfferByOrg(ctx context.Context, orgID string) (*domain.KnowledgeDocument, error) {
	return r.getOne(ctx,
		`SELECT `+documentColumns+` FROM knowledge_documents
		 WHERE org_id = $1 AND kind = $2 AND deleted_at IS NULL`,
		orgID, domain.DocumentKindOffer,
	)
}

// LockOffer serializes offer writes for one organization. The lock is held
// until the transaction ends, including when no offer row exists yet.
func (r *DocumentRepository) LockOffer(ctx context.Context, orgID string) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID("offer", orgID))
	return err
}

func (r *DocumentRepository) Update(ctx context.Context, d *domain.KnowledgeDocument) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_documents
		 SET title = $1, description = $2, content = $3, status = $4, chunk_count = $5, error = $6,
		     generation = $7, updated_at = $8, deleted_at = $9
		 WHERE id = $10`,
		d.Title, d.Description, nullableString(d.Content),
		d.State.Status(), d.State.ChunkCount(), nullableString(d.State.ErrorMessage()),
		d.Generation, d.UpdatedAt, d.DeletedAt, d.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) ListByOrgWithCursor(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM knowledge_documents
			 WHERE org_id = $1 AND deleted_at IS NULL AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			orgID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+`
			 FROM knowledge_documents
			 WHERE org_id = $1 AND deleted_at IS NULL
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			orgID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.KnowledgeDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &service.DocumentPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *DocumentRepository) getOne(ctx context.Context, sql string, args ...any) (*domain.KnowledgeDocument, error) {
	d, err := scanDocument(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func scanDocument(row pgx.Row) (*domain.KnowledgeDocument, error) {
	var (
		d                           domain.KnowledgeDocument
		content, fileRef, sourceURL *string
		crawlDepth, crawlPages      *int
		status                      domain.DocumentStatus
		chunkCount                  int
		errMsg                      *string
		deletedAt                   *time.Time
	)
	err := row.Scan(&d.ID, &d.OrgID, &d.Kind, &d.Title, &d.Description, &content, &fileRef, &sourceURL,
		&crawlDepth, &crawlPages, &status, &chunkCount, &errMsg, &d.Generation, &d.CreatedAt, &d.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	state, err := domain.RestoreDocumentState(status, chunkCount, derefString(errMsg))
	if err != nil {
		return nil, err
	}
	d.State = state
	d.Content = derefString(content)
	d.FileRef = derefString(fileRef)
	d.SourceURL = derefString(sourceURL)
	d.CrawlDepth = derefInt(crawlDepth)
	d.CrawlPages = derefInt(crawlPages)
	d.DeletedAt = deletedAt
	return &d, nil
}
