package service

import (
	"context"
	"strings"
	"testing"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestionService_UploadFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	fileRef, err := h.ingestion.UploadFile(ctx, UploadFileInput{
		OrgID:       "org-1",
		Name:        "../Product Brochure (v2).pdf",
		ContentType: "application/pdf",
		Size:        5,
		Body:        strings.NewReader("%PDF-"),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fileRef, "org-1/"))
	assert.True(t, strings.HasSuffix(fileRef, "/Product_Brochure_v2.pdf"), fileRef)

	meta, err := h.files.Resolve(ctx, fileRef)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", meta.ContentType)

	doc, err := h.ingestion.SubmitUpload(ctx, SubmitUploadInput{
		OrgID: "org-1", Title: "Brochure", Description: "Product brochure", FileRef: fileRef,
	})
	require.NoError(t, err)
	assert.Equal(t, fileRef, doc.FileRef)
}

func TestIngestionService_UploadFile_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ingestion.UploadFile(ctx, UploadFileInput{Name: "a.txt", Size: 1, Body: strings.NewReader("a")})
	assert.ErrorIs(t, err, domain.ErrMissingOrg)

	_, err = h.ingestion.UploadFile(ctx, UploadFileInput{OrgID: "org-1", Name: "a.txt", Size: 0, Body: strings.NewReader("")})
	assert.True(t, domain.HasCode(err, domain.ErrCodeValidation))

	_, err = h.ingestion.UploadFile(ctx, UploadFileInput{OrgID: "org-1", Name: "a.txt", Size: MaxUploadBytes + 1, Body: strings.NewReader("a")})
	assert.True(t, domain.HasCode(err, domain.ErrCodeValidation))

	noStorage := NewIngestionService(h.store.Documents(), h.store.Chunks(), h.store, nil, nil)
	_, err = noStorage.UploadFile(ctx, UploadFileInput{OrgID: "org-1", Name: "a.txt", Size: 1, Body: strings.NewReader("a")})
	assert.True(t, domain.HasCode(err, domain.ErrCodeStorage))
}

func TestIngestionService_PresignUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	up, err := h.ingestion.PresignUpload(ctx, "org-1", "deck.pptx", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(up.FileRef, "org-1/"))
	assert.Equal(t, "https://files.test/"+up.FileRef, up.UploadURL)

	_, err = h.ingestion.PresignUpload(ctx, "org-1", "  ", "")
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":           "report.pdf",
		"../../etc/passwd":     "passwd",
		`C:\docs\Offer 1.docx`: "Offer_1.docx",
		"...":                  "file",
		"":                     "file",
		"naïve café.txt":       "naïve_café.txt",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFileName(in), in)
	}
}
