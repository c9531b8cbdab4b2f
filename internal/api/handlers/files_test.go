package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/cloo-solutions/outreach/internal/api/middleware"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFileService struct {
	mock.Mock
}

func (m *MockFileService) UploadFile(ctx context.Context, input service.UploadFileInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

func (m *MockFileService) PresignUpload(ctx context.Context, orgID, name, contentType string) (*service.PresignedUpload, error) {
	args := m.Called(ctx, orgID, name, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PresignedUpload), args.Error(1)
}

func multipartRequest(t *testing.T, field, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	ctx := middleware.WithPrincipal(req.Context(), &domain.Principal{UserID: "key-1", OrgID: testOrgID})
	return req.WithContext(ctx)
}

func TestFileHandler_Upload(t *testing.T) {
	mockSvc := new(MockFileService)

	var uploaded string
	mockSvc.On("UploadFile", mock.Anything, mock.MatchedBy(func(in service.UploadFileInput) bool {
		return in.OrgID == testOrgID && in.Name == "brochure.pdf" && in.ContentType == "application/pdf" && in.Size == 8
	})).Run(func(args mock.Arguments) {
		data, _ := io.ReadAll(args.Get(1).(service.UploadFileInput).Body)
		uploaded = string(data)
	}).Return("org-456/u1/brochure.pdf", nil)

	w := httptest.NewRecorder()
	NewFileHandler(mockSvc).Upload(w, multipartRequest(t, "file", "brochure.pdf", "application/pdf", []byte("%PDF-1.4")))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "org-456/u1/brochure.pdf", decodeData(t, w)["fileRef"])
	assert.Equal(t, "%PDF-1.4", uploaded)
	mockSvc.AssertExpectations(t)
}

func TestFileHandler_Upload_MissingFile(t *testing.T) {
	mockSvc := new(MockFileService)

	w := httptest.NewRecorder()
	NewFileHandler(mockSvc).Upload(w, multipartRequest(t, "", "", "", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file is required", decodeError(t, w).Message)
	mockSvc.AssertNotCalled(t, "UploadFile", mock.Anything, mock.Anything)
}

func TestFileHandler_Upload_NotMultipart(t *testing.T) {
	w := httptest.NewRecorder()
	NewFileHandler(new(MockFileService)).Upload(w, requestWithOrg(http.MethodPost, "/files", `{"name":"x"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFileHandler_Upload_StorageFailure(t *testing.T) {
	mockSvc := new(MockFileService)
	mockSvc.On("UploadFile", mock.Anything, mock.Anything).Return("", domain.StorageFailure("upload file", assert.AnError))

	w := httptest.NewRecorder()
	NewFileHandler(mockSvc).Upload(w, multipartRequest(t, "file", "a.txt", "text/plain", []byte("hello")))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "StorageError", decodeError(t, w).Kind)
}

func TestFileHandler_Presign(t *testing.T) {
	mockSvc := new(MockFileService)
	mockSvc.On("PresignUpload", mock.Anything, testOrgID, "deck.pptx", "").
		Return(&service.PresignedUpload{FileRef: "org-456/u2/deck.pptx", UploadURL: "https://files.test/put"}, nil)

	w := httptest.NewRecorder()
	NewFileHandler(mockSvc).Presign(w, requestWithOrg(http.MethodPost, "/files/presign", `{"name":"deck.pptx"}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "org-456/u2/deck.pptx", data["fileRef"])
	assert.Equal(t, "https://files.test/put", data["uploadUrl"])
	mockSvc.AssertExpectations(t)
}
