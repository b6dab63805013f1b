package service

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pneumoscan/pneumoscan/internal/filex"
	"github.com/pneumoscan/pneumoscan/internal/imaging"
	"github.com/pneumoscan/pneumoscan/internal/inference"
	"github.com/pneumoscan/pneumoscan/internal/metrics"
	"github.com/pneumoscan/pneumoscan/internal/model"
	"github.com/pneumoscan/pneumoscan/internal/repository"
	"github.com/pneumoscan/pneumoscan/internal/storage"
	"github.com/pneumoscan/pneumoscan/internal/testutil"
)

type fakeNormalizer struct {
	err   error
	calls int
}

func (f *fakeNormalizer) Normalize(data []byte) (imaging.Tensor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return imaging.Tensor{{{0.5, 0.5, 0.5}}}, nil
}

type fakePredictor struct {
	result inference.Result
	err    error
	calls  int
}

func (f *fakePredictor) Predict(_ context.Context, _ imaging.Tensor) (inference.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeUploader struct {
	mu          sync.Mutex
	err         error
	calls       int
	key         string
	contentType string
	body        []byte
}

func (f *fakeUploader) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.key = key
	f.contentType = contentType
	f.body, _ = io.ReadAll(body)
	return storage.PublicURL("test-bucket", "us-east-1", key), nil
}

type failingStore struct {
	*repository.Memory
	err error
}

func (f *failingStore) AppendImage(context.Context, string, model.PredictionRecord) error {
	return f.err
}

func (f *failingStore) ScanAll(context.Context) ([]*model.PredictionsDocument, error) {
	return nil, f.err
}

type predictionFixture struct {
	svc        *PredictionService
	normalizer *fakeNormalizer
	predictor  *fakePredictor
	uploader   *fakeUploader
	store      *repository.Memory
	recorder   *metrics.InMemoryRecorder
}

func newPredictionFixture(t *testing.T, p float64) *predictionFixture {
	t.Helper()
	f := &predictionFixture{
		normalizer: &fakeNormalizer{},
		predictor:  &fakePredictor{result: inference.Classify(p)},
		uploader:   &fakeUploader{},
		store:      repository.NewMemory(),
		recorder:   metrics.NewInMemory(),
	}
	f.svc = NewPredictionService(f.normalizer, f.predictor, f.uploader, f.store, nil, f.recorder, nil)
	return f
}

func stage(t *testing.T, data []byte) *filex.Staged {
	t.Helper()
	staged, err := filex.Stage(t.TempDir(), "upload-*", bytes.NewReader(data), 1<<20)
	require.NoError(t, err)
	return staged
}

func TestUpload_Success(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0.82)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	png := testutil.PNG(t, 32, 32, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	res, err := f.svc.Upload(context.Background(), UploadInput{
		Username:    "alice",
		Filename:    "Scan.PNG",
		ContentType: "application/octet-stream",
		File:        stage(t, png),
	})
	require.NoError(t, err)

	require.Equal(t, "alice", res.Username)
	require.Equal(t, model.LabelPneumonia, res.Record.Prediction)
	require.Equal(t, 0.82, res.Record.Confidence)
	require.Nil(t, res.Record.SegmentationMapURL)
	require.Equal(t, fixed, res.Record.UploadedAt)

	require.True(t, strings.HasPrefix(f.uploader.key, storage.KeyPrefix))
	require.True(t, strings.HasSuffix(f.uploader.key, ".png"))
	require.Equal(t, "image/png", f.uploader.contentType)
	require.Equal(t, png, f.uploader.body)
	require.Equal(t, "https://test-bucket.s3.us-east-1.amazonaws.com/"+f.uploader.key, res.Record.ImageURL)

	doc, err := f.svc.Dashboard(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, doc.Images, 1)
	require.Equal(t, res.Record, doc.Images[0])

	snap := f.recorder.Snapshot()
	require.Equal(t, uint64(1), snap.UploadsSuccess)
	require.Equal(t, uint64(1), snap.PredictionsPneumonia)
	require.Equal(t, uint64(1), snap.InferenceCount)
}

func TestUpload_DeclaredContentTypeWins(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0.2)

	_, err := f.svc.Upload(context.Background(), UploadInput{
		Username:    "alice",
		Filename:    "scan.jpg",
		ContentType: "image/jpeg",
		File:        stage(t, []byte("jpeg bytes")),
	})
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", f.uploader.contentType)
}

func TestUpload_NewestFirst(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0.1)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadInput{Username: "bob", Filename: "a.png", File: stage(t, []byte("a"))})
	require.NoError(t, err)

	f.predictor.result = inference.Classify(0.9)
	second, err := f.svc.Upload(ctx, UploadInput{Username: "bob", Filename: "b.png", File: stage(t, []byte("b"))})
	require.NoError(t, err)

	doc, err := f.svc.Dashboard(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, doc.Images, 2)
	require.Equal(t, second.Record.ImageURL, doc.Images[0].ImageURL)
	require.Equal(t, model.LabelNormal, doc.Images[1].Prediction)
}

func TestUpload_UnknownVerdictIsStored(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0)
	f.predictor.result = inference.Result{Label: model.LabelUnknown}

	res, err := f.svc.Upload(context.Background(), UploadInput{Username: "carol", Filename: "x.png", File: stage(t, []byte("x"))})
	require.NoError(t, err)
	require.Equal(t, model.LabelUnknown, res.Record.Prediction)
	require.Zero(t, res.Record.Confidence)
}

func TestUpload_Failures(t *testing.T) {
	t.Parallel()

	storageErr := errors.Join(storage.ErrStorageWrite, errors.New("denied"))
	inferenceErr := errors.Join(inference.ErrInferenceUnavailable, errors.New("timeout"))

	tests := []struct {
		name           string
		setup          func(f *predictionFixture)
		file           func(t *testing.T) *filex.Staged
		wantErr        error
		wantUploads    int
		wantPredicts   int
		wantMetricFail bool
	}{
		{
			name:    "no file",
			file:    func(t *testing.T) *filex.Staged { return nil },
			wantErr: ErrNoFile,
		},
		{
			name:    "empty file",
			file:    func(t *testing.T) *filex.Staged { return stage(t, nil) },
			wantErr: ErrNoFile,
		},
		{
			name:    "undecodable image",
			setup:   func(f *predictionFixture) { f.normalizer.err = imaging.ErrDecode },
			wantErr: imaging.ErrDecode,
		},
		{
			name:           "storage failure",
			setup:          func(f *predictionFixture) { f.uploader.err = storageErr },
			wantErr:        storage.ErrStorageWrite,
			wantUploads:    1,
			wantMetricFail: true,
		},
		{
			name:           "inference failure",
			setup:          func(f *predictionFixture) { f.predictor.err = inferenceErr },
			wantErr:        inference.ErrInferenceUnavailable,
			wantUploads:    1,
			wantPredicts:   1,
			wantMetricFail: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newPredictionFixture(t, 0.7)
			if tt.setup != nil {
				tt.setup(f)
			}
			file := stage(t, []byte("image"))
			if tt.file != nil {
				file = tt.file(t)
			}

			_, err := f.svc.Upload(context.Background(), UploadInput{Username: "dave", Filename: "x.png", File: file})
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.wantUploads, f.uploader.calls)
			require.Equal(t, tt.wantPredicts, f.predictor.calls)

			_, err = f.store.GetByUser(context.Background(), "dave")
			require.ErrorIs(t, err, repository.ErrNotFound, "nothing may be stored on failure")

			snap := f.recorder.Snapshot()
			if tt.wantMetricFail {
				require.Equal(t, uint64(1), snap.UploadsFailed)
			} else {
				require.Equal(t, uint64(1), snap.UploadsRejected)
			}
		})
	}
}

func TestUpload_InvalidImageIsValidationError(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0.7)
	f.normalizer.err = imaging.ErrUnsupportedChannelLayout

	_, err := f.svc.Upload(context.Background(), UploadInput{Username: "erin", File: stage(t, []byte("x"))})
	require.ErrorIs(t, err, ErrInvalidImage)
	require.ErrorIs(t, err, imaging.ErrUnsupportedChannelLayout)
}

func TestUpload_StoreFailure(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0.7)
	storeErr := errors.New("dynamodb throttled")
	f.svc.store = &failingStore{Memory: repository.NewMemory(), err: storeErr}

	_, err := f.svc.Upload(context.Background(), UploadInput{Username: "erin", File: stage(t, []byte("x"))})
	require.ErrorIs(t, err, storeErr)
	require.Equal(t, 1, f.predictor.calls)
}

func TestDashboard_UnknownUser(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0.5)

	doc, err := f.svc.Dashboard(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, "nobody", doc.Username)
	require.NotNil(t, doc.Images)
	require.Empty(t, doc.Images)
}

func TestDashboard_StoreError(t *testing.T) {
	t.Parallel()
	f := newPredictionFixture(t, 0.5)
	boom := errors.New("boom")
	f.svc.store = &failingGetStore{err: boom}

	_, err := f.svc.Dashboard(context.Background(), "alice")
	require.ErrorIs(t, err, boom)
}

type failingGetStore struct {
	repository.Memory
	err error
}

func (f *failingGetStore) GetByUser(context.Context, string) (*model.PredictionsDocument, error) {
	return nil, f.err
}
