package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const templateColumns = `id, campaign_id, org_id, name, subject, body, variables, version, created_at, updated_at`

type TemplateRepository struct {
	db dbtx
}

func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{db: pool}
}

func NewTemplateRepositoryWithTx(tx pgx.Tx) *TemplateRepository {
	return &TemplateRepository{db: tx}
}

func (r *TemplateRepository) Create(ctx context.Context, t *domain.EmailTemplate) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO email_templates (id, campaign_id, org_id, name, subject, body, variables, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.CampaignID, t.OrgID, t.Name, t.Subject, t.Body, variablesOrEmpty(t.Variables), t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return domain.ErrTemplateNameConflict
	}
	return err
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	t, err := scanTemplate(r.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM email_templates WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *TemplateRepository) Update(ctx context.Context, t *domain.EmailTemplate) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE email_templates
		 SET name = $1, subject = $2, body = $3, variables = $4, version = $5, updated_at = $6
		 WHERE id = $7`,
		t.Name, t.Subject, t.Body, variablesOrEmpty(t.Variables), t.Version, t.UpdatedAt, t.ID,
	)
	if isUniqueViolation(err, "") {
		return domain.ErrTemplateNameConflict
	}
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrTemplateNotFound
	}
	return nil
}

func (r *TemplateRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*domain.EmailTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+` FROM email_templates WHERE campaign_id = $1 ORDER BY created_at ASC, id ASC`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*domain.EmailTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func scanTemplate(row pgx.Row) (*domain.EmailTemplate, error) {
	var t domain.EmailTemplate
	err := row.Scan(&t.ID, &t.CampaignID, &t.OrgID, &t.Name, &t.Subject, &t.Body, &t.Variables, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func variablesOrEmpty(vars []string) []string {
	if vars == nil {
		return []string{}
	}
	return vars
}
