package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UploadsSuccess       uint64
	UploadsRejected      uint64
	UploadsFailed        uint64
	UploadsRateLimited   uint64
	PredictionsPneumonia uint64
	PredictionsNormal    uint64
	PredictionsUnknown   uint64
	InferenceCount       uint64
	InferenceTotalNs     int64
	AuthFailuresMissing  uint64
	AuthFailuresInvalid  uint64
	StatsCacheHits       uint64
	StatsCacheMisses     uint64
}

// InMemoryRecorder stores metrics in memory.
type InMemoryRecorder struct {
	uploadsSuccess       uint64
	uploadsRejected      uint64
	uploadsFailed        uint64
	uploadsRateLimited   uint64
	predictionsPneumonia uint64
	predictionsNormal    uint64
	predictionsUnknown   uint64
	inferenceCount       uint64
	inferenceTotalNs     int64
	authFailuresMissing  uint64
	authFailuresInvalid  uint64
	statsCacheHits       uint64
	statsCacheMisses     uint64
}

var _ Recorder = (*InMemoryRecorder)(nil)

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		UploadsSuccess:       atomic.LoadUint64(&m.uploadsSuccess),
		UploadsRejected:      atomic.LoadUint64(&m.uploadsRejected),
		UploadsFailed:        atomic.LoadUint64(&m.uploadsFailed),
		UploadsRateLimited:   atomic.LoadUint64(&m.uploadsRateLimited),
		PredictionsPneumonia: atomic.LoadUint64(&m.predictionsPneumonia),
		PredictionsNormal:    atomic.LoadUint64(&m.predictionsNormal),
		PredictionsUnknown:   atomic.LoadUint64(&m.predictionsUnknown),
		InferenceCount:       atomic.LoadUint64(&m.inferenceCount),
		InferenceTotalNs:     atomic.LoadInt64(&m.inferenceTotalNs),
		AuthFailuresMissing:  atomic.LoadUint64(&m.authFailuresMissing),
		AuthFailuresInvalid:  atomic.LoadUint64(&m.authFailuresInvalid),
		StatsCacheHits:       atomic.LoadUint64(&m.statsCacheHits),
		StatsCacheMisses:     atomic.LoadUint64(&m.statsCacheMisses),
	}
}

// IncUpload increments the counter for an upload outcome.
func (m *InMemoryRecorder) IncUpload(status string) {
	switch status {
	case UploadSuccess:
		atomic.AddUint64(&m.uploadsSuccess, 1)
	case UploadRejected:
		atomic.AddUint64(&m.uploadsRejected, 1)
	case UploadFailed:
		atomic.AddUint64(&m.uploadsFailed, 1)
	}
}

// IncPrediction increments the counter for a stored label.
func (m *InMemoryRecorder) IncPrediction(label string) {
	switch label {
	case "Pneumonia":
		atomic.AddUint64(&m.predictionsPneumonia, 1)
	case "Normal":
		atomic.AddUint64(&m.predictionsNormal, 1)
	default:
		atomic.AddUint64(&m.predictionsUnknown, 1)
	}
}

// ObserveInferenceDuration records endpoint latency.
func (m *InMemoryRecorder) ObserveInferenceDuration(duration time.Duration) {
	atomic.AddUint64(&m.inferenceCount, 1)
	atomic.AddInt64(&m.inferenceTotalNs, duration.Nanoseconds())
}

// IncUploadRateLimited increments the rejected-by-limit counter.
func (m *InMemoryRecorder) IncUploadRateLimited() {
	atomic.AddUint64(&m.uploadsRateLimited, 1)
}

// IncAuthFailure increments the counter for a failure reason.
func (m *InMemoryRecorder) IncAuthFailure(reason string) {
	if reason == AuthMissing {
		atomic.AddUint64(&m.authFailuresMissing, 1)
		return
	}
	atomic.AddUint64(&m.authFailuresInvalid, 1)
}

// IncStatsCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncStatsCacheHit() {
	atomic.AddUint64(&m.statsCacheHits, 1)
}

// IncStatsCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncStatsCacheMiss() {
	atomic.AddUint64(&m.statsCacheMisses, 1)
}
