package model

// AverageAccuracy is the reported model accuracy. It is a fixed figure from
// offline evaluation, not something the service measures.
const AverageAccuracy = 0.94

// Stats aggregates prediction history across all users.
type Stats struct {
	TotalUsers        int     `json:"totalUsers"`
	TotalScans        int     `json:"totalScans"`
	AverageAccuracy   float64 `json:"averageAccuracy"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// ComputeStats folds prediction documents into aggregate statistics.
func ComputeStats(docs []*PredictionsDocument) Stats {
	stats := Stats{AverageAccuracy: AverageAccuracy}

	var confidenceSum float64
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		stats.TotalUsers++
		stats.TotalScans += len(doc.Images)
		for _, img := range doc.Images {
			confidenceSum += img.Confidence
		}
	}

	if stats.TotalScans > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalScans)
	}

	return stats
}
