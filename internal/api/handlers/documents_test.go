package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) doc(args mock.Arguments) (*domain.KnowledgeDocument, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeDocument), args.Error(1)
}

func (m *MockDocumentService) SubmitUpload(ctx context.Context, input service.SubmitUploadInput) (*domain.KnowledgeDocument, error) {
	return m.doc(m.Called(ctx, input))
}

func (m *MockDocumentService) SubmitCrawl(ctx context.Context, input service.SubmitCrawlInput) (*domain.KnowledgeDocument, error) {
	return m.doc(m.Called(ctx, input))
}

func (m *MockDocumentService) SaveOffer(ctx context.Context, input service.SaveOfferInput) (*domain.KnowledgeDocument, error) {
	return m.doc(m.Called(ctx, input))
}

func (m *MockDocumentService) GetOffer(ctx context.Context, orgID string) (*domain.KnowledgeDocument, error) {
	return m.doc(m.Called(ctx, orgID))
}

func (m *MockDocumentService) GetDocument(ctx context.Context, orgID, documentID string) (*domain.KnowledgeDocument, error) {
	return m.doc(m.Called(ctx, orgID, documentID))
}

func (m *MockDocumentService) ListDocuments(ctx context.Context, input service.ListDocumentsInput) (*service.ListDocumentsOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListDocumentsOutput), args.Error(1)
}

func (m *MockDocumentService) ListChunks(ctx context.Context, orgID, documentID string) ([]*domain.KnowledgeChunk, error) {
	args := m.Called(ctx, orgID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeChunk), args.Error(1)
}

func (m *MockDocumentService) Reprocess(ctx context.Context, orgID, documentID string) (*domain.KnowledgeDocument, error) {
	return m.doc(m.Called(ctx, orgID, documentID))
}

func (m *MockDocumentService) DeleteDocument(ctx context.Context, orgID, documentID string) error {
	return m.Called(ctx, orgID, documentID).Error(0)
}

func newTestDocument(kind domain.DocumentKind) *domain.KnowledgeDocument {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	return &domain.KnowledgeDocument{
		ID:          "doc-1",
		OrgID:       testOrgID,
		Kind:        kind,
		Title:       "Offer",
		Description: "What we sell",
		State:       domain.DocumentPending(),
		Generation:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestDocumentHandler_SaveOffer(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	doc := newTestDocument(domain.DocumentKindOffer)
	doc.Content = "We install heat pumps"
	doc.Generation = 3
	mockSvc.On("SaveOffer", mock.Anything, service.SaveOfferInput{
		OrgID:     testOrgID,
		OfferText: "We install heat pumps",
	}).Return(doc, nil)

	w := httptest.NewRecorder()
	handler.SaveOffer(w, requestWithOrg(http.MethodPut, "/offer", `{"offerText":"We install heat pumps"}`))

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "doc-1", data["id"])
	assert.Equal(t, "offer", data["kind"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, float64(3), data["generation"])
	assert.Equal(t, "2026-05-04T12:00:00Z", data["createdAt"])
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_SaveOffer_EmptyText(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("SaveOffer", mock.Anything, mock.Anything).Return(nil, domain.Validation("offerText is required"))

	w := httptest.NewRecorder()
	NewDocumentHandler(mockSvc).SaveOffer(w, requestWithOrg(http.MethodPut, "/offer", `{"offerText":"   "}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "ValidationError", body.Kind)
	assert.Equal(t, "offerText is required", body.Message)
}

func TestDocumentHandler_SubmitUpload(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	doc := newTestDocument(domain.DocumentKindUpload)
	doc.FileRef = "org-456/abc/brochure.pdf"
	mockSvc.On("SubmitUpload", mock.Anything, service.SubmitUploadInput{
		OrgID:       testOrgID,
		Title:       "Brochure",
		Description: "Product brochure",
		FileRef:     "org-456/abc/brochure.pdf",
	}).Return(doc, nil)

	body := `{"title":"Brochure","description":"Product brochure","fileRef":"org-456/abc/brochure.pdf"}`
	w := httptest.NewRecorder()
	handler.SubmitUpload(w, requestWithOrg(http.MethodPost, "/documents/upload", body))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "org-456/abc/brochure.pdf", decodeData(t, w)["fileRef"])
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_SubmitUpload_UnresolvedFile(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("SubmitUpload", mock.Anything, mock.Anything).Return(nil, domain.ErrFileNotFound)

	w := httptest.NewRecorder()
	NewDocumentHandler(mockSvc).SubmitUpload(w, requestWithOrg(http.MethodPost, "/documents/upload",
		`{"title":"t","description":"d","fileRef":"missing"}`))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "StorageError", decodeError(t, w).Kind)
}

func TestDocumentHandler_SubmitCrawl(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	doc := newTestDocument(domain.DocumentKindCrawl)
	doc.SourceURL = "https://example.com"
	doc.CrawlDepth = 2
	doc.CrawlPages = 10
	mockSvc.On("SubmitCrawl", mock.Anything, service.SubmitCrawlInput{
		OrgID:       testOrgID,
		Title:       "Site",
		Description: "Company site",
		URL:         "https://example.com",
		MaxDepth:    2,
		MaxPages:    10,
	}).Return(doc, nil)

	body := `{"title":"Site","description":"Company site","url":"https://example.com","maxDepth":2,"maxPages":10}`
	w := httptest.NewRecorder()
	handler.SubmitCrawl(w, requestWithOrg(http.MethodPost, "/documents/crawl", body))

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "crawl", data["kind"])
	assert.Equal(t, float64(2), data["maxDepth"])
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_SubmitCrawl_OutOfBounds(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("SubmitCrawl", mock.Anything, mock.Anything).Return(nil, domain.Validation("maxDepth must be between 1 and 5"))

	w := httptest.NewRecorder()
	NewDocumentHandler(mockSvc).SubmitCrawl(w, requestWithOrg(http.MethodPost, "/documents/crawl",
		`{"title":"t","description":"d","url":"https://example.com","maxDepth":6,"maxPages":10}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_InvalidJSON(t *testing.T) {
	handler := NewDocumentHandler(new(MockDocumentService))
	for name, fn := range map[string]http.HandlerFunc{
		"upload": handler.SubmitUpload,
		"crawl":  handler.SubmitCrawl,
		"offer":  handler.SaveOffer,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, requestWithOrg(http.MethodPost, "/", `{bad`))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid request body", decodeError(t, w).Message)
		})
	}
}

func TestDocumentHandler_Unauthorized(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	w := httptest.NewRecorder()
	handler.GetOffer(w, httptest.NewRequest(http.MethodGet, "/offer", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AuthError", decodeError(t, w).Kind)
	mockSvc.AssertNotCalled(t, "GetOffer", mock.Anything, mock.Anything)
}

func TestDocumentHandler_Get(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	doc := newTestDocument(domain.DocumentKindUpload)
	doc.State = domain.DocumentFailed("could not extract text")
	mockSvc.On("GetDocument", mock.Anything, testOrgID, "doc-1").Return(doc, nil)
	mockSvc.On("GetDocument", mock.Anything, testOrgID, "missing").Return(nil, domain.ErrDocumentNotFound)

	w := httptest.NewRecorder()
	handler.Get(w, requestWithOrg(http.MethodGet, "/documents/doc-1", "", "id", "doc-1"))
	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, "could not extract text", data["error"])

	w = httptest.NewRecorder()
	handler.Get(w, requestWithOrg(http.MethodGet, "/documents/missing", "", "id", "missing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFoundError", decodeError(t, w).Kind)
}

func TestDocumentHandler_List(t *testing.T) {
	mockSvc := new(MockDocumentService)
	handler := NewDocumentHandler(mockSvc)

	embedded := newTestDocument(domain.DocumentKindOffer)
	embedded.State = domain.DocumentEmbedded(4)
	mockSvc.On("ListDocuments", mock.Anything, service.ListDocumentsInput{
		OrgID: testOrgID, Cursor: "abc", Limit: 5,
	}).Return(&service.ListDocumentsOutput{
		Items:   []*domain.KnowledgeDocument{embedded},
		Cursor:  "next",
		HasMore: true,
	}, nil)

	w := httptest.NewRecorder()
	handler.List(w, requestWithOrg(http.MethodGet, "/documents?cursor=abc&limit=5", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "next", data["cursor"])
	assert.Equal(t, true, data["hasMore"])
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(4), items[0].(map[string]any)["chunkCount"])
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_List_DefaultLimit(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("ListDocuments", mock.Anything, service.ListDocumentsInput{OrgID: testOrgID, Limit: 20}).
		Return(&service.ListDocumentsOutput{}, nil)

	w := httptest.NewRecorder()
	NewDocumentHandler(mockSvc).List(w, requestWithOrg(http.MethodGet, "/documents?limit=-3", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_Chunks(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("ListChunks", mock.Anything, testOrgID, "doc-1").Return([]*domain.KnowledgeChunk{
		{ID: "c0", ChunkIndex: 0, Content: "first", TokenLength: 1, Embedding: []float32{0.1}, Generation: 2},
		{ID: "c1", ChunkIndex: 1, Content: "second", TokenLength: 1, Generation: 2},
	}, nil)

	w := httptest.NewRecorder()
	NewDocumentHandler(mockSvc).Chunks(w, requestWithOrg(http.MethodGet, "/documents/doc-1/chunks", "", "id", "doc-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	items := decodeList(t, w)
	require.Len(t, items, 2)
	assert.Equal(t, true, items[0].(map[string]any)["embedded"])
	assert.Equal(t, false, items[1].(map[string]any)["embedded"])
}

func TestDocumentHandler_Reprocess(t *testing.T) {
	mockSvc := new(MockDocumentService)
	doc := newTestDocument(domain.DocumentKindUpload)
	doc.Generation = 2
	mockSvc.On("Reprocess", mock.Anything, testOrgID, "doc-1").Return(doc, nil)

	w := httptest.NewRecorder()
	NewDocumentHandler(mockSvc).Reprocess(w, requestWithOrg(http.MethodPost, "/documents/doc-1/reprocess", "", "id", "doc-1"))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, float64(2), decodeData(t, w)["generation"])
}

func TestDocumentHandler_Delete(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("DeleteDocument", mock.Anything, testOrgID, "doc-1").Return(nil)
	mockSvc.On("DeleteDocument", mock.Anything, testOrgID, "gone").Return(domain.ErrDocumentNotFound)
	handler := NewDocumentHandler(mockSvc)

	w := httptest.NewRecorder()
	handler.Delete(w, requestWithOrg(http.MethodDelete, "/documents/doc-1", "", "id", "doc-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = httptest.NewRecorder()
	handler.Delete(w, requestWithOrg(http.MethodDelete, "/documents/gone", "", "id", "gone"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
