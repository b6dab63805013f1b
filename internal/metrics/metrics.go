// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Upload outcomes.
const (
	UploadSuccess  = "success"
	UploadRejected = "rejected" // client error: missing file, undecodable image
	UploadFailed   = "failed"   // dependency error
)

// Auth failure reasons.
const (
	AuthMissing = "missing"
	AuthInvalid = "invalid"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Upload pipeline metrics
	IncUpload(status string)
	IncPrediction(label string) // label: "Pneumonia", "Normal", "Unknown"
	ObserveInferenceDuration(duration time.Duration)
	IncUploadRateLimited()

	// Auth metrics
	IncAuthFailure(reason string)

	// Stats cache metrics
	IncStatsCacheHit()
	IncStatsCacheMiss()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
