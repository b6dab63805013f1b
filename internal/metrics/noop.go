package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncUpload is a no-op.
func (n *NoopRecorder) IncUpload(status string) {}

// IncPrediction is a no-op.
func (n *NoopRecorder) IncPrediction(label string) {}

// ObserveInferenceDuration is a no-op.
func (n *NoopRecorder) ObserveInferenceDuration(duration time.Duration) {}

// IncUploadRateLimited is a no-op.
func (n *NoopRecorder) IncUploadRateLimited() {}

// IncAuthFailure is a no-op.
func (n *NoopRecorder) IncAuthFailure(reason string) {}

// IncStatsCacheHit is a no-op.
func (n *NoopRecorder) IncStatsCacheHit() {}

// IncStatsCacheMiss is a no-op.
func (n *NoopRecorder) IncStatsCacheMiss() {}
