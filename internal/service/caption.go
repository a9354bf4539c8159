package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/SYED-TAHER/mobile-dev/internal/logger"
	"github.com/SYED-TAHER/mobile-dev/internal/metrics"
	"github.com/SYED-TAHER/mobile-dev/internal/models"
	"github.com/SYED-TAHER/mobile-dev/internal/modelhost"
)

type modelHost interface {
	EnsureLoaded(ctx context.Context) error
	Describe(ctx context.Context, img image.Image) (string, error)
}

// CaptionService turns one upload into a caption or a typed APIError.
// Nothing below it escapes as a panic.
type CaptionService struct {
	logger    logger.Logger
	host      modelHost
	maxPixels int
}

func NewCaptionService(logger logger.Logger, host modelHost, maxPixels int) *CaptionService {
	return &CaptionService{
		logger:    logger,
		host:      host,
		maxPixels: maxPixels,
	}
}

func (s *CaptionService) Handle(ctx context.Context, req *models.UploadRequest) (resp *models.CaptionResponse, apiErr *models.APIError) {
	log := s.logger.With("upload_id", req.ID)
	ctx = logger.WithContext(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			resp, apiErr = nil, s.fail(log, models.KindInferenceFailed, fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	log.Info("received image", "file_name", req.FileName, "bytes", len(req.Data))
	if err := req.Validate(); err != nil {
		return nil, s.fail(log, models.KindMissingInput, err)
	}

	start := time.Now()
	img, format, err := decodeImage(req.Data, s.maxPixels)
	metrics.StageDuration("decode", metrics.Status(err), time.Since(start))
	if err != nil {
		return nil, s.fail(log, models.KindInvalidImage, err)
	}
	b := img.Bounds()
	log.Info("decoded image", "format", format, "width", b.Dx(), "height", b.Dy())

	log.Debug("ensuring model is loaded")
	if err := s.host.EnsureLoaded(ctx); err != nil {
		return nil, s.fail(log, models.KindModelUnavailable, err)
	}

	description, err := s.host.Describe(ctx, img)
	if err != nil {
		return nil, s.fail(log, classify(err), err)
	}

	log.Info("generated description", "description", description)
	metrics.CaptionOutcome(metrics.StatusOK)
	return &models.CaptionResponse{Description: description}, nil
}

func (s *CaptionService) fail(log logger.Logger, kind models.ErrorKind, err error) *models.APIError {
	apiErr := models.NewAPIError(kind, err)
	log.Error("error in processing", "kind", kind, "error", err)
	metrics.CaptionOutcome(string(kind))
	return apiErr
}

// classify keeps a load failure surfaced by Describe distinct from an
// inference failure.
func classify(err error) models.ErrorKind {
	var loadErr *modelhost.ModelLoadError
	if errors.As(err, &loadErr) {
		return models.KindModelUnavailable
	}
	return models.KindInferenceFailed
}
