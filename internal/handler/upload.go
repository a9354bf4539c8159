package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/SYED-TAHER/mobile-dev/internal/models"
)

const (
	imageField       = "image"
	defaultMaxMemory = 32 << 20
)

type captionService interface {
	Handle(ctx context.Context, req *models.UploadRequest) (*models.CaptionResponse, *models.APIError)
}

type UploadHandler struct {
	service        captionService
	maxUploadBytes int64
}

func NewUploadHandler(service captionService, maxUploadBytes int64) *UploadHandler {
	return &UploadHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload godoc
// @Summary Caption an image
// @Description Generate a natural-language caption for an uploaded image.
// @Tags caption
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Image to caption"
// @Success 200 {object} models.CaptionResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /upload [post]
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	w.Header().Set("X-Request-ID", id)

	req, apiErr := h.readUpload(w, r, id)
	if apiErr != nil {
		writeJSON(w, apiErr.Status(), apiErr.Response())
		return
	}

	resp, apiErr := h.service.Handle(r.Context(), req)
	if apiErr != nil {
		writeJSON(w, apiErr.Status(), apiErr.Response())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// readUpload pulls the "image" file out of the multipart body. An absent
// field yields a request with Present=false; only an oversized body is
// rejected here.
func (h *UploadHandler) readUpload(w http.ResponseWriter, r *http.Request, id string) (*models.UploadRequest, *models.APIError) {
	req := &models.UploadRequest{ID: id}
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	maxMemory := h.maxUploadBytes
	if maxMemory <= 0 {
		maxMemory = defaultMaxMemory
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, models.NewAPIError(models.KindInvalidImage,
				fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
		}
		return req, nil
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		return req, nil
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, models.NewAPIError(models.KindInvalidImage, fmt.Errorf("reading upload: %w", err))
	}

	req.FileName = header.Filename
	req.Data = data
	req.Present = true
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
