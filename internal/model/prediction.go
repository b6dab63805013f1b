// Package model defines domain entities for the application.
package model

import (
	"errors"
	"math"
	"time"
)

// Label is the diagnosis attached to a prediction record.
type Label string

const (
	LabelPneumonia Label = "Pneumonia"
	LabelNormal    Label = "Normal"
	LabelUnknown   Label = "Unknown"
)

// IsValid checks if the label is one of the known values.
func (l Label) IsValid() bool {
	return l == LabelPneumonia || l == LabelNormal || l == LabelUnknown
}

// Record validation errors.
var (
	ErrEmptyImageURL        = errors.New("image url is empty")
	ErrInvalidLabel         = errors.New("invalid prediction label")
	ErrConfidenceOutOfRange = errors.New("confidence must be within [0, 1]")
)

// PredictionRecord is one stored inference result for one uploaded scan.
// Records are immutable once created.
type PredictionRecord struct {
	ImageURL           string    `json:"imageUrl" dynamodbav:"imageUrl"`
	Prediction         Label     `json:"prediction" dynamodbav:"prediction"`
	Confidence         float64   `json:"confidence" dynamodbav:"confidence"`
	SegmentationMapURL *string   `json:"segmentationMapUrl" dynamodbav:"segmentationMapUrl"`
	UploadedAt         time.Time `json:"uploadedAt" dynamodbav:"uploadedAt"`
}

// Validate checks the record invariants before it is persisted.
func (r *PredictionRecord) Validate() error {
	if r.ImageURL == "" {
		return ErrEmptyImageURL
	}
	if !r.Prediction.IsValid() {
		return ErrInvalidLabel
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return ErrConfidenceOutOfRange
	}
	return nil
}

// PredictionsDocument holds every prediction of one user, newest first.
type PredictionsDocument struct {
	Username string             `json:"username" dynamodbav:"username"`
	Images   []PredictionRecord `json:"images" dynamodbav:"images"`
}

// Latest returns the most recent record, or nil if the document is empty.
func (d *PredictionsDocument) Latest() *PredictionRecord {
	if d == nil || len(d.Images) == 0 {
		return nil
	}
	return &d.Images[0]
}
