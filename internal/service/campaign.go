package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
	"github.com/cloo-solutions/outreach/internal/telemetry"
)

// CampaignService owns the campaign lifecycle and its email templates.
type CampaignService struct {
	campaigns CampaignRepository
	templates TemplateRepository
	txRunner  TxRunner
	policies  RetryPolicies
	uuidGen   UUIDGenerator
	now       Clock
}

// NewCampaignService creates a new CampaignService
func NewCampaignService(
	campaigns CampaignRepository,
	templates TemplateRepository,
	txRunner TxRunner,
	policies RetryPolicies,
) *CampaignService {
	return NewCampaignServiceWithUUIDGen(campaigns, templates, txRunner, policies, &DefaultUUIDGenerator{}, systemClock)
}

// NewCampaignServiceWithUUIDGen creates a CampaignService with custom id and clock sources (for testing)
func NewCampaignServiceWithUUIDGen(
	campaigns CampaignRepository,
	templates TemplateRepository,
	txRunner TxRunner,
	policies RetryPolicies,
	uuidGen UUIDGenerator,
	now Clock,
) *CampaignService {
	return &CampaignService{
		campaigns: campaigns,
		templates: templates,
		txRunner:  txRunner,
		policies:  policies,
		uuidGen:   uuidGen,
		now:       now,
	}
}

type CreateCampaignInput struct {
	OrgID       string
	Name        string
	Description string
	Queries     []string
}

type ListCampaignsInput struct {
	OrgID  string
	Cursor string
	Limit  int
}

type ListCampaignsOutput struct {
	Items   []*domain.Campaign
	Cursor  string
	HasMore bool
}

// CreateCampaign stores a new draft campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, input CreateCampaignInput) (c *domain.Campaign, err error) {
	ctx, span := telemetry.StartSpan(ctx, "CampaignService.CreateCampaign", telemetry.SpanAttributes{
		OrgID:     input.OrgID,
		Operation: "create",
	})
	defer func() { span.Finish(err) }()

	if input.OrgID == "" {
		return nil, domain.ErrMissingOrg
	}
	queries, err := domain.NormalizeQueries(input.Queries)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c = &domain.Campaign{
		ID:          s.uuidGen.NewString(),
		OrgID:       input.OrgID,
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		Queries:     queries,
		State:       domain.CampaignDraft(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := domain.ValidateCampaign(c); err != nil {
		return nil, err
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Activate moves a draft campaign to active and submits one scrape job
// carrying the full query list. Both happen in one transaction; a campaign
// that is not a draft is left untouched and no job is submitted.
func (s *CampaignService) Activate(ctx context.Context, orgID, campaignID string) (c *domain.Campaign, err error) {
	ctx, span := telemetry.StartSpan(ctx, "CampaignService.Activate", telemetry.SpanAttributes{
		OrgID:      orgID,
		CampaignID: campaignID,
		Operation:  "activate",
	})
	defer func() { span.Finish(err) }()

	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}

	var jobID string
	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		c, err = repos.Campaigns().GetByIDForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if c.OrgID != orgID {
			return domain.ErrCampaignNotFound
		}

		next, err := c.State.Activate(len(c.Queries))
		if err != nil {
			return err
		}
		c.State = next
		c.UpdatedAt = s.now()
		if err := repos.Campaigns().Update(ctx, c); err != nil {
			return fmt.Errorf("update campaign: %w", err)
		}

		job, err := repos.Jobs().Enqueue(ctx, domain.JobSpec{
			Lane:     domain.LaneScrape,
			OrgID:    c.OrgID,
			EntityID: c.ID,
			Payload: domain.ScrapePayload{
				CampaignID: c.ID,
				OrgID:      c.OrgID,
				Queries:    c.Queries,
			},
			Policy: s.policies.For(domain.LaneScrape),
		})
		if err != nil {
			if domain.HasCode(err, domain.ErrCodeValidation) {
				return err
			}
			return domain.QueueFailure("submit scrape job", err)
		}
		jobID = job.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "campaign activated", "campaign_id", c.ID, "job_id", jobID, "queries", len(c.Queries))
	return c, nil
}

// GetCampaign returns a campaign owned by orgID.
func (s *CampaignService) GetCampaign(ctx context.Context, orgID, campaignID string) (*domain.Campaign, error) {
	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.OrgID != orgID {
		return nil, domain.ErrCampaignNotFound
	}
	return c, nil
}

// ListCampaigns lists an organization's campaigns, most recently updated first.
func (s *CampaignService) ListCampaigns(ctx context.Context, input ListCampaignsInput) (*ListCampaignsOutput, error) {
	if input.OrgID == "" {
		return nil, domain.ErrMissingOrg
	}
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.Validation("invalid cursor")
	}
	page, err := s.campaigns.ListByOrgWithCursor(ctx, input.OrgID, cursor, pagination.ClampLimit(input.Limit))
	if err != nil {
		return nil, err
	}
	return &ListCampaignsOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

type CreateTemplateInput struct {
	OrgID      string
	CampaignID string
	Name       string
	Subject    string
	Body       string
}

type UpdateTemplateInput struct {
	OrgID      string
	TemplateID string
	Name       string
	Subject    string
	Body       string
}

// CreateTemplate attaches an email template to a campaign.
func (s *CampaignService) CreateTemplate(ctx context.Context, input CreateTemplateInput) (*domain.EmailTemplate, error) {
	if _, err := s.GetCampaign(ctx, input.OrgID, input.CampaignID); err != nil {
		return nil, err
	}

	now := s.now()
	t := &domain.EmailTemplate{
		ID:         s.uuidGen.NewString(),
		CampaignID: input.CampaignID,
		OrgID:      input.OrgID,
		Name:       strings.TrimSpace(input.Name),
		Subject:    strings.TrimSpace(input.Subject),
		Body:       input.Body,
		Variables:  domain.ExtractVariables(input.Body),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := domain.ValidateEmailTemplate(t); err != nil {
		return nil, err
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns a campaign's templates ordered by name.
func (s *CampaignService) ListTemplates(ctx context.Context, orgID, campaignID string) ([]*domain.EmailTemplate, error) {
	if _, err := s.GetCampaign(ctx, orgID, campaignID); err != nil {
		return nil, err
	}
	return s.templates.ListByCampaign(ctx, campaignID)
}

// GetTemplate returns a template owned by orgID.
func (s *CampaignService) GetTemplate(ctx context.Context, orgID, templateID string) (*domain.EmailTemplate, error) {
	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}
	t, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if t.OrgID != orgID {
		return nil, domain.ErrTemplateNotFound
	}
	return t, nil
}

// UpdateTemplate revises a template. Empty fields keep their value.
func (s *CampaignService) UpdateTemplate(ctx context.Context, input UpdateTemplateInput) (*domain.EmailTemplate, error) {
	t, err := s.GetTemplate(ctx, input.OrgID, input.TemplateID)
	if err != nil {
		return nil, err
	}
	t.Revise(strings.TrimSpace(input.Name), strings.TrimSpace(input.Subject), input.Body, s.now())
	if err := domain.ValidateEmailTemplate(t); err != nil {
		return nil, err
	}
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTemplate removes a template.
func (s *CampaignService) DeleteTemplate(ctx context.Context, orgID, templateID string) error {
	if _, err := s.GetTemplate(ctx, orgID, templateID); err != nil {
		return err
	}
	return s.templates.Delete(ctx, templateID)
}
