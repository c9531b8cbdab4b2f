package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloo-solutions/outreach/internal/api"
	"github.com/cloo-solutions/outreach/internal/domain"
)

type AuthService interface {
	CreateOrg(ctx context.Context, name string) (*domain.Organization, error)
	CreateAPIKey(ctx context.Context, orgID, name string) (string, error)
}

// AuthHandler provisions organizations and API keys. Its routes sit behind
// the admin token.
type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type CreateOrgRequest struct {
	Name string `json:"name"`
}

type OrgResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

type CreateAPIKeyRequest struct {
	OrgID string `json:"orgId"`
	Name  string `json:"name"`
}

// APIKeyResponse carries the plaintext token. It is shown once.
type APIKeyResponse struct {
	OrgID string `json:"orgId"`
	Token string `json:"token"`
	Name  string `json:"name"`
}

func (h *AuthHandler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	var req CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	org, err := h.svc.CreateOrg(r.Context(), req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, OrgResponse{
		ID:        org.ID,
		Name:      org.Name,
		CreatedAt: org.CreatedAt.UTC().Format(timeLayout),
	})
}

func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrgID == "" {
		api.Error(w, http.StatusBadRequest, "orgId is required")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	token, err := h.svc.CreateAPIKey(r.Context(), req.OrgID, req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, APIKeyResponse{
		OrgID: req.OrgID,
		Token: token,
		Name:  req.Name,
	})
}
