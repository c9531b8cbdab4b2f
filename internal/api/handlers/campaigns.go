package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/outreach/internal/api"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/go-chi/chi/v5"
)

type CampaignService interface {
	CreateCampaign(ctx context.Context, input service.CreateCampaignInput) (*domain.Campaign, error)
	GetCampaign(ctx context.Context, orgID, campaignID string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, input service.ListCampaignsInput) (*service.ListCampaignsOutput, error)
	Activate(ctx context.Context, orgID, campaignID string) (*domain.Campaign, error)

	CreateTemplate(ctx context.Context, input service.CreateTemplateInput) (*domain.EmailTemplate, error)
	ListTemplates(ctx context.Context, orgID, campaignID string) ([]*domain.EmailTemplate, error)
	GetTemplate(ctx context.Context, orgID, templateID string) (*domain.EmailTemplate, error)
	UpdateTemplate(ctx context.Context, input service.UpdateTemplateInput) (*domain.EmailTemplate, error)
	DeleteTemplate(ctx context.Context, orgID, templateID string) error
}

type CampaignHandler struct {
	svc CampaignService
}

func NewCampaignHandler(svc CampaignService) *CampaignHandler {
	return &CampaignHandler{svc: svc}
}

type CreateCampaignRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Queries     []string `json:"queries"`
}

type ProgressResponse struct {
	ScrapingStatus     string `json:"scrapingStatus,omitempty"`
	CurrentQueryIndex  int    `json:"currentQueryIndex"`
	TotalQueries       int    `json:"totalQueries"`
	ProcessedCompanies int    `json:"processedCompanies"`
	Error              string `json:"error,omitempty"`
	CompletedAt        string `json:"completedAt,omitempty"`
}

type CampaignResponse struct {
	ID          string           `json:"id"`
	OrgID       string           `json:"orgId"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Queries     []string         `json:"queries"`
	Status      string           `json:"status"`
	Progress    ProgressResponse `json:"progress"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
}

type CampaignListResponse struct {
	Items   []*CampaignResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"hasMore"`
}

type TemplateRequest struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type TemplateResponse struct {
	ID         string   `json:"id"`
	CampaignID string   `json:"campaignId"`
	Name       string   `json:"name"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Variables  []string `json:"variables"`
	Version    int      `json:"version"`
	CreatedAt  string   `json:"createdAt"`
	UpdatedAt  string   `json:"updatedAt"`
}

func campaignToResponse(c *domain.Campaign) *CampaignResponse {
	p := c.State.Progress()
	return &CampaignResponse{
		ID:          c.ID,
		OrgID:       c.OrgID,
		Name:        c.Name,
		Description: c.Description,
		Queries:     c.Queries,
		Status:      string(c.State.Status()),
		Progress: ProgressResponse{
			ScrapingStatus:     string(p.ScrapingStatus),
			CurrentQueryIndex:  p.CurrentQueryIndex,
			TotalQueries:       p.TotalQueries,
			ProcessedCompanies: p.ProcessedCompanies,
			Error:              p.Error,
			CompletedAt:        formatTime(p.CompletedAt),
		},
		CreatedAt: c.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: c.UpdatedAt.UTC().Format(timeLayout),
	}
}

func templateToResponse(t *domain.EmailTemplate) *TemplateResponse {
	vars := t.Variables
	if vars == nil {
		vars = []string{}
	}
	return &TemplateResponse{
		ID:         t.ID,
		CampaignID: t.CampaignID,
		Name:       t.Name,
		Subject:    t.Subject,
		Body:       t.Body,
		Variables:  vars,
		Version:    t.Version,
		CreatedAt:  t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:  t.UpdatedAt.UTC().Format(timeLayout),
	}
}

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	campaign, err := h.svc.CreateCampaign(r.Context(), service.CreateCampaignInput{
		OrgID:       orgID,
		Name:        req.Name,
		Description: req.Description,
		Queries:     req.Queries,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, campaignToResponse(campaign))
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	campaign, err := h.svc.GetCampaign(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, campaignToResponse(campaign))
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	output, err := h.svc.ListCampaigns(r.Context(), service.ListCampaignsInput{
		OrgID:  orgID,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  parseLimit(r),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*CampaignResponse, len(output.Items))
	for i, c := range output.Items {
		items[i] = campaignToResponse(c)
	}

	api.Success(w, http.StatusOK, CampaignListResponse{
		Items:   items,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

func (h *CampaignHandler) Activate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	campaign, err := h.svc.Activate(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, campaignToResponse(campaign))
}

func (h *CampaignHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tmpl, err := h.svc.CreateTemplate(r.Context(), service.CreateTemplateInput{
		OrgID:      orgID,
		CampaignID: chi.URLParam(r, "id"),
		Name:       req.Name,
		Subject:    req.Subject,
		Body:       req.Body,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, templateToResponse(tmpl))
}

func (h *CampaignHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	templates, err := h.svc.ListTemplates(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*TemplateResponse, len(templates))
	for i, t := range templates {
		items[i] = templateToResponse(t)
	}

	api.Success(w, http.StatusOK, items)
}

func (h *CampaignHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	tmpl, err := h.templateInCampaign(r, orgID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, templateToResponse(tmpl))
}

func (h *CampaignHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.templateInCampaign(r, orgID); err != nil {
		api.HandleError(w, err)
		return
	}

	tmpl, err := h.svc.UpdateTemplate(r.Context(), service.UpdateTemplateInput{
		OrgID:      orgID,
		TemplateID: chi.URLParam(r, "templateID"),
		Name:       req.Name,
		Subject:    req.Subject,
		Body:       req.Body,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, templateToResponse(tmpl))
}

func (h *CampaignHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	if _, err := h.templateInCampaign(r, orgID); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.svc.DeleteTemplate(r.Context(), orgID, chi.URLParam(r, "templateID")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// templateInCampaign loads the template and checks it belongs to the
// campaign in the path.
func (h *CampaignHandler) templateInCampaign(r *http.Request, orgID string) (*domain.EmailTemplate, error) {
	tmpl, err := h.svc.GetTemplate(r.Context(), orgID, chi.URLParam(r, "templateID"))
	if err != nil {
		return nil, err
	}
	if tmpl.CampaignID != chi.URLParam(r, "id") {
		return nil, domain.ErrTemplateNotFound
	}
	return tmpl, nil
}
