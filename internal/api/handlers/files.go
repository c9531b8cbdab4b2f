package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/outreach/internal/api"
	"github.com/cloo-solutions/outreach/internal/service"
)

// multipartOverhead leaves room for part headers around a maximal file.
const multipartOverhead = 1 << 20

type FileService interface {
	UploadFile(ctx context.Context, input service.UploadFileInput) (string, error)
	PresignUpload(ctx context.Context, orgID, name, contentType string) (*service.PresignedUpload, error)
}

type FileHandler struct {
	svc FileService
}

func NewFileHandler(svc FileService) *FileHandler {
	return &FileHandler{svc: svc}
}

type FileResponse struct {
	FileRef string `json:"fileRef"`
}

type PresignRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

type PresignResponse struct {
	FileRef   string `json:"fileRef"`
	UploadURL string `json:"uploadUrl"`
}

// Upload accepts a multipart form with a single "file" part.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	fileRef, err := h.svc.UploadFile(r.Context(), service.UploadFileInput{
		OrgID:       orgID,
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, FileResponse{FileRef: fileRef})
}

func (h *FileHandler) Presign(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	up, err := h.svc.PresignUpload(r.Context(), orgID, req.Name, req.ContentType)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, PresignResponse{FileRef: up.FileRef, UploadURL: up.UploadURL})
}
