package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/outreach/internal/api"
	"github.com/cloo-solutions/outreach/internal/api/middleware"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/go-chi/chi/v5"
)

const timeLayout = "2006-01-02T15:04:05Z"

type DocumentService interface {
	SubmitUpload(ctx context.Context, input service.SubmitUploadInput) (*domain.KnowledgeDocument, error)
	SubmitCrawl(ctx context.Context, input service.SubmitCrawlInput) (*domain.KnowledgeDocument, error)
	SaveOffer(ctx context.Context, input service.SaveOfferInput) (*domain.KnowledgeDocument, error)
	GetOffer(ctx context.Context, orgID string) (*domain.KnowledgeDocument, error)
	GetDocument(ctx context.Context, orgID, documentID string) (*domain.KnowledgeDocument, error)
	ListDocuments(ctx context.Context, input service.ListDocumentsInput) (*service.ListDocumentsOutput, error)
	ListChunks(ctx context.Context, orgID, documentID string) ([]*domain.KnowledgeChunk, error)
	Reprocess(ctx context.Context, orgID, documentID string) (*domain.KnowledgeDocument, error)
	DeleteDocument(ctx context.Context, orgID, documentID string) error
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type SubmitUploadRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	FileRef     string `json:"fileRef"`
}

type SubmitCrawlRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	MaxDepth    int    `json:"maxDepth"`
	MaxPages    int    `json:"maxPages"`
}

type SaveOfferRequest struct {
	OfferText   string `json:"offerText"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type DocumentResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"orgId"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content,omitempty"`
	FileRef     string `json:"fileRef,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	MaxDepth    int    `json:"maxDepth,omitempty"`
	MaxPages    int    `json:"maxPages,omitempty"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunkCount,omitempty"`
	Error       string `json:"error,omitempty"`
	Generation  int64  `json:"generation"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type DocumentListResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"hasMore"`
}

type ChunkResponse struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	Content     string `json:"content"`
	TokenLength int    `json:"tokenLength"`
	Embedded    bool   `json:"embedded"`
	Generation  int64  `json:"generation"`
}

func documentToResponse(d *domain.KnowledgeDocument) *DocumentResponse {
	return &DocumentResponse{
		ID:          d.ID,
		OrgID:       d.OrgID,
		Kind:        string(d.Kind),
		Title:       d.Title,
		Description: d.Description,
		Content:     d.Content,
		FileRef:     d.FileRef,
		SourceURL:   d.SourceURL,
		MaxDepth:    d.CrawlDepth,
		MaxPages:    d.CrawlPages,
		Status:      string(d.State.Status()),
		ChunkCount:  d.State.ChunkCount(),
		Error:       d.State.ErrorMessage(),
		Generation:  d.Generation,
		CreatedAt:   d.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   d.UpdatedAt.UTC().Format(timeLayout),
	}
}

func (h *DocumentHandler) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req SubmitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.svc.SubmitUpload(r.Context(), service.SubmitUploadInput{
		OrgID:       orgID,
		Title:       req.Title,
		Description: req.Description,
		FileRef:     req.FileRef,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

func (h *DocumentHandler) SubmitCrawl(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req SubmitCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.svc.SubmitCrawl(r.Context(), service.SubmitCrawlInput{
		OrgID:       orgID,
		Title:       req.Title,
		Description: req.Description,
		URL:         req.URL,
		MaxDepth:    req.MaxDepth,
		MaxPages:    req.MaxPages,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

func (h *DocumentHandler) SaveOffer(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req SaveOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.svc.SaveOffer(r.Context(), service.SaveOfferInput{
		OrgID:       orgID,
		OfferText:   req.OfferText,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

func (h *DocumentHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	doc, err := h.svc.GetOffer(r.Context(), orgID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	doc, err := h.svc.GetDocument(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	output, err := h.svc.ListDocuments(r.Context(), service.ListDocumentsInput{
		OrgID:  orgID,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  parseLimit(r),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, len(output.Items))
	for i, d := range output.Items {
		items[i] = documentToResponse(d)
	}

	api.Success(w, http.StatusOK, DocumentListResponse{
		Items:   items,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

func (h *DocumentHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	chunks, err := h.svc.ListChunks(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*ChunkResponse, len(chunks))
	for i, c := range chunks {
		items[i] = &ChunkResponse{
			ID:          c.ID,
			Index:       c.ChunkIndex,
			Content:     c.Content,
			TokenLength: c.TokenLength,
			Embedded:    len(c.Embedding) > 0,
			Generation:  c.Generation,
		}
	}

	api.Success(w, http.StatusOK, items)
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	doc, err := h.svc.Reprocess(r.Context(), orgID, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteDocument(r.Context(), orgID, chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireOrg writes an AuthError and returns false when the request carries
// no organization.
func requireOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID, err := middleware.GetPrincipal(r.Context()).RequireOrg()
	if err != nil {
		api.HandleError(w, err)
		return "", false
	}
	return orgID, true
}

func parseLimit(r *http.Request) int {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
