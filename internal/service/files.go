package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/telemetry"
)

// MaxUploadBytes bounds a single uploaded file
const MaxUploadBytes = 25 << 20

type UploadFileInput struct {
	OrgID       string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PresignedUpload is a fileRef together with the URL the client PUTs it to
type PresignedUpload struct {
	FileRef   string
	UploadURL string
}

// UploadFile stores a file under the organization's prefix and returns its
// fileRef for SubmitUpload.
func (s *IngestionService) UploadFile(ctx context.Context, input UploadFileInput) (fileRef string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.UploadFile", telemetry.SpanAttributes{
		OrgID:     input.OrgID,
		Operation: "upload_file",
	})
	defer func() { span.Finish(err) }()

	if input.OrgID == "" {
		return "", domain.ErrMissingOrg
	}
	if s.files == nil {
		return "", domain.StorageFailure("file storage is not configured", nil)
	}
	if input.Body == nil || input.Size <= 0 {
		return "", domain.Validation("file is empty")
	}
	if input.Size > MaxUploadBytes {
		return "", domain.Validation("file exceeds %d bytes", MaxUploadBytes)
	}

	fileRef = s.newFileRef(input.OrgID, input.Name)
	if err := s.files.Upload(ctx, fileRef, input.Body, input.Size, contentTypeOrDefault(input.ContentType)); err != nil {
		return "", domain.StorageFailure("upload file", err)
	}
	return fileRef, nil
}

// PresignUpload reserves a fileRef and returns a URL the client uploads to
// directly.
func (s *IngestionService) PresignUpload(ctx context.Context, orgID, name, contentType string) (*PresignedUpload, error) {
	if orgID == "" {
		return nil, domain.ErrMissingOrg
	}
	if s.files == nil {
		return nil, domain.StorageFailure("file storage is not configured", nil)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrMissingRequiredField)
	}

	fileRef := s.newFileRef(orgID, name)
	url, err := s.files.GenerateUploadURL(ctx, fileRef, contentTypeOrDefault(contentType))
	if err != nil {
		return nil, domain.StorageFailure("presign upload", err)
	}
	return &PresignedUpload{FileRef: fileRef, UploadURL: url}, nil
}

func (s *IngestionService) newFileRef(orgID, name string) string {
	return orgID + "/" + s.uuidGen.NewString() + "/" + sanitizeFileName(name)
}

func contentTypeOrDefault(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "application/octet-stream"
	}
	return ct
}

// sanitizeFileName keeps the base name with letters, digits, dot, dash and
// underscore.
func sanitizeFileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
