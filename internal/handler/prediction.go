package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/pneumoscan/pneumoscan/internal/auth"
	"github.com/pneumoscan/pneumoscan/internal/filex"
	"github.com/pneumoscan/pneumoscan/internal/handler/dto"
	"github.com/pneumoscan/pneumoscan/internal/middleware"
	"github.com/pneumoscan/pneumoscan/internal/model"
	"github.com/pneumoscan/pneumoscan/internal/service"
)

// ImageField is the multipart form field carrying the X-ray.
const ImageField = "image"

// PredictionService is what the prediction handler needs from the service layer.
type PredictionService interface {
	Upload(ctx context.Context, input service.UploadInput) (*service.UploadResult, error)
	Dashboard(ctx context.Context, username string) (*model.PredictionsDocument, error)
}

// PredictionHandler handles uploads and dashboards.
type PredictionHandler struct {
	svc           PredictionService
	tempDir       string
	maxUploadSize int64
	logger        *slog.Logger
}

// NewPredictionHandler creates a new PredictionHandler. Uploads are staged
// in tempDir and rejected once they exceed maxUploadSize bytes.
func NewPredictionHandler(svc PredictionService, tempDir string, maxUploadSize int64, logger *slog.Logger) *PredictionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionHandler{
		svc:           svc,
		tempDir:       tempDir,
		maxUploadSize: maxUploadSize,
		logger:        logger.With("component", "prediction_handler"),
	}
}

// Upload handles POST /api/upload.
func (h *PredictionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		handleServiceError(w, r, h.logger, auth.ErrMissingToken)
		return
	}

	staged, header, err := h.stageImage(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	defer func() {
		if err := staged.Remove(); err != nil {
			h.logger.WarnContext(r.Context(), "temp_file_cleanup_failed", "path", staged.Path, "error", err)
		}
	}()

	result, err := h.svc.Upload(r.Context(), service.UploadInput{
		Username:    id.StoreKey(),
		Filename:    header.filename,
		ContentType: header.contentType,
		File:        staged,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	middleware.AnnotateLog(r.Context(),
		slog.String("prediction", string(result.Record.Prediction)),
		slog.Float64("confidence", result.Record.Confidence),
	)
	writeJSON(w, http.StatusOK, dto.ToUploadResponse(id.Username, result.Record))
}

// Dashboard handles GET /api/dashboard.
func (h *PredictionHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		handleServiceError(w, r, h.logger, auth.ErrMissingToken)
		return
	}

	doc, err := h.svc.Dashboard(r.Context(), id.StoreKey())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToDashboardResponse(id.Username, doc))
}

type partHeader struct {
	filename    string
	contentType string
}

// stageImage streams the image part of a multipart body into a temp file.
// Other parts are skipped.
func (h *PredictionHandler) stageImage(r *http.Request) (*filex.Staged, partHeader, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, partHeader{}, service.ErrNoFile
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, partHeader{}, service.ErrNoFile
		}
		if err != nil {
			return nil, partHeader{}, malformedBody(err)
		}

		if part.FormName() != ImageField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		staged, err := h.stagePart(part)
		if err != nil {
			return nil, partHeader{}, err
		}
		return staged, partHeader{
			filename:    part.FileName(),
			contentType: part.Header.Get("Content-Type"),
		}, nil
	}
}

func (h *PredictionHandler) stagePart(part *multipart.Part) (*filex.Staged, error) {
	defer part.Close()

	staged, err := filex.Stage(h.tempDir, "upload-*", part, h.maxUploadSize)
	if err != nil {
		if isTooLarge(err) {
			return nil, err
		}
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	return staged, nil
}

// malformedBody reports an unreadable multipart body as a missing file
// unless the body hit a size limit.
func malformedBody(err error) error {
	if isTooLarge(err) {
		return err
	}
	return fmt.Errorf("%w: %w", service.ErrNoFile, err)
}

func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.Is(err, filex.ErrTooLarge) || errors.As(err, &maxBytesErr)
}
