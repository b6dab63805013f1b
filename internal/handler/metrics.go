package handler

import (
	"fmt"
	"net/http"

	"github.com/pneumoscan/pneumoscan/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "pneumoscan_uploads_total{status=\"success\"} %d\n", snap.UploadsSuccess)
	writeMetric(w, "pneumoscan_uploads_total{status=\"rejected\"} %d\n", snap.UploadsRejected)
	writeMetric(w, "pneumoscan_uploads_total{status=\"failed\"} %d\n", snap.UploadsFailed)
	writeMetric(w, "pneumoscan_uploads_rate_limited_total %d\n", snap.UploadsRateLimited)

	writeMetric(w, "pneumoscan_predictions_total{label=\"Pneumonia\"} %d\n", snap.PredictionsPneumonia)
	writeMetric(w, "pneumoscan_predictions_total{label=\"Normal\"} %d\n", snap.PredictionsNormal)
	writeMetric(w, "pneumoscan_predictions_total{label=\"Unknown\"} %d\n", snap.PredictionsUnknown)

	writeMetric(w, "pneumoscan_inference_duration_seconds_count %d\n", snap.InferenceCount)
	writeMetric(w, "pneumoscan_inference_duration_seconds_sum %.6f\n", float64(snap.InferenceTotalNs)/1e9)

	writeMetric(w, "pneumoscan_auth_failures_total{reason=\"missing\"} %d\n", snap.AuthFailuresMissing)
	writeMetric(w, "pneumoscan_auth_failures_total{reason=\"invalid\"} %d\n", snap.AuthFailuresInvalid)

	writeMetric(w, "pneumoscan_stats_cache_hits_total %d\n", snap.StatsCacheHits)
	writeMetric(w, "pneumoscan_stats_cache_misses_total %d\n", snap.StatsCacheMisses)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
