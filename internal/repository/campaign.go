package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const campaignColumns = `id, org_id, name, description, queries, status, progress, created_at, updated_at`

type CampaignRepository struct {
	db dbtx
}

func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{db: pool}
}

func NewCampaignRepositoryWithTx(tx pgx.Tx) *CampaignRepository {
	return &CampaignRepository{db: tx}
}

func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	progress, err := encodeProgress(c.State)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO campaigns (id, org_id, name, description, queries, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.OrgID, c.Name, c.Description, c.Queries, c.State.Status(), progress, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	return r.getOne(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
}

// GetByIDForUpdate locks the campaign row until the surrounding transaction ends.
func (r *CampaignRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Campaign, error) {
	return r.getOne(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, id)
}

func (r *CampaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	progress, err := encodeProgress(c.State)
	if err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE campaigns
		 SET name = $1, description = $2, queries = $3, status = $4, progress = $5, updated_at = $6
		 WHERE id = $7`,
		c.Name, c.Description, c.Queries, c.State.Status(), progress, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

func (r *CampaignRepository) ListByOrgWithCursor(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*service.CampaignPageResult, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+campaignColumns+`
			 FROM campaigns
			 WHERE org_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			orgID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+campaignColumns+`
			 FROM campaigns
			 WHERE org_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			orgID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
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

	return &service.CampaignPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *CampaignRepository) getOne(ctx context.Context, sql string, args ...any) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	var status domain.CampaignStatus
	var rawProgress []byte
	if err := row.Scan(&c.ID, &c.OrgID, &c.Name, &c.Description, &c.Queries, &status, &rawProgress, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	var progress domain.CampaignProgress
	if len(rawProgress) > 0 {
		if err := json.Unmarshal(rawProgress, &progress); err != nil {
			return nil, fmt.Errorf("decode campaign %s progress: %w", c.ID, err)
		}
	}
	state, err := domain.RestoreCampaignState(status, progress)
	if err != nil {
		return nil, err
	}
	c.State = state
	return &c, nil
}

func encodeProgress(s domain.CampaignState) ([]byte, error) {
	if s.Status() == domain.CampaignStatusDraft {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(s.Progress())
	if err != nil {
		return nil, fmt.Errorf("encode campaign progress: %w", err)
	}
	return b, nil
}
