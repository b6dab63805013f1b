package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pneumoscan/pneumoscan/internal/filex"
	"github.com/pneumoscan/pneumoscan/internal/imaging"
	"github.com/pneumoscan/pneumoscan/internal/inference"
	"github.com/pneumoscan/pneumoscan/internal/metrics"
	"github.com/pneumoscan/pneumoscan/internal/model"
	"github.com/pneumoscan/pneumoscan/internal/repository"
	"github.com/pneumoscan/pneumoscan/internal/storage"
)

// Normalizer converts image bytes into a model input tensor.
type Normalizer interface {
	Normalize(data []byte) (imaging.Tensor, error)
}

// Predictor classifies a tensor.
type Predictor interface {
	Predict(ctx context.Context, tensor imaging.Tensor) (inference.Result, error)
}

// ObjectUploader persists the original image and returns its URL.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// PredictionService runs the upload pipeline and serves prediction history.
type PredictionService struct {
	normalizer Normalizer
	predictor  Predictor
	uploader   ObjectUploader
	store      repository.PredictionStore
	stats      *StatsService
	metrics    metrics.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewPredictionService creates a new PredictionService. stats may be nil.
func NewPredictionService(
	normalizer Normalizer,
	predictor Predictor,
	uploader ObjectUploader,
	store repository.PredictionStore,
	stats *StatsService,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *PredictionService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionService{
		normalizer: normalizer,
		predictor:  predictor,
		uploader:   uploader,
		store:      store,
		stats:      stats,
		metrics:    recorder,
		logger:     logger.With("component", "prediction_service"),
		now:        time.Now,
	}
}

// UploadInput defines input for processing one uploaded scan.
type UploadInput struct {
	Username    string
	Filename    string
	ContentType string
	File        *filex.Staged
}

// UploadResult is the stored record together with its owner.
type UploadResult struct {
	Username string
	Record   model.PredictionRecord
}

// Upload normalizes the staged image, stores the original, classifies it
// and prepends the result to the user's history. Nothing is written to the
// prediction store unless every earlier step succeeded.
func (s *PredictionService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	result, err := s.upload(ctx, input)
	switch {
	case err == nil:
		s.metrics.IncUpload(metrics.UploadSuccess)
	case errors.Is(err, ErrNoFile), errors.Is(err, ErrInvalidImage):
		s.metrics.IncUpload(metrics.UploadRejected)
	default:
		s.metrics.IncUpload(metrics.UploadFailed)
	}
	return result, err
}

func (s *PredictionService) upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if input.File == nil {
		return nil, ErrNoFile
	}

	data, err := input.File.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read staged upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoFile
	}

	tensor, err := s.normalizer.Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	now := s.now().UTC()
	key := storage.ObjectKey(now, input.Filename)
	imageURL, err := s.uploader.Upload(ctx, key, bytes.NewReader(data), detectContentType(input.ContentType, data))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	verdict, err := s.predictor.Predict(ctx, tensor)
	s.metrics.ObserveInferenceDuration(time.Since(start))
	if err != nil {
		return nil, err
	}

	record := model.PredictionRecord{
		ImageURL:   imageURL,
		Prediction: verdict.Label,
		Confidence: verdict.Confidence,
		UploadedAt: now,
	}
	if err := s.store.AppendImage(ctx, input.Username, record); err != nil {
		return nil, fmt.Errorf("store prediction: %w", err)
	}
	s.metrics.IncPrediction(string(record.Prediction))

	s.logger.InfoContext(ctx, "prediction stored",
		"username", input.Username,
		"key", key,
		"prediction", record.Prediction,
		"confidence", record.Confidence,
	)

	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}

	return &UploadResult{Username: input.Username, Record: record}, nil
}

// Dashboard returns the user's history, newest first. A user without
// uploads gets an empty document rather than an error.
func (s *PredictionService) Dashboard(ctx context.Context, username string) (*model.PredictionsDocument, error) {
	doc, err := s.store.GetByUser(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.PredictionsDocument{Username: username, Images: []model.PredictionRecord{}}, nil
		}
		return nil, err
	}
	if doc.Images == nil {
		doc.Images = []model.PredictionRecord{}
	}
	return doc, nil
}

// detectContentType prefers the declared type and falls back to sniffing.
func detectContentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}
