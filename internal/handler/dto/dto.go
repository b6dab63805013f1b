// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

// SignupRequest is the body of POST /api/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// AuthResponse carries a freshly issued bearer token.
type AuthResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"tokenType"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	Username           string      `json:"username"`
	ImageURL           string      `json:"imageUrl"`
	Prediction         model.Label `json:"prediction"`
	Confidence         float64     `json:"confidence"`
	SegmentationMapURL *string     `json:"segmentationMapUrl"`
}

// DashboardResponse lists a user's predictions, newest first.
type DashboardResponse struct {
	Username string                   `json:"username"`
	Images   []model.PredictionRecord `json:"images"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// ReadyResponse reports each dependency check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ToAuthResponse converts an issued token and its account.
func ToAuthResponse(token string, expiresAt time.Time, user *model.User) *AuthResponse {
	return &AuthResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		User: UserResponse{
			Username: user.Username,
			Email:    user.Email,
		},
	}
}

// ToUploadResponse converts a stored prediction record.
func ToUploadResponse(username string, record model.PredictionRecord) *UploadResponse {
	return &UploadResponse{
		Username:           username,
		ImageURL:           record.ImageURL,
		Prediction:         record.Prediction,
		Confidence:         record.Confidence,
		SegmentationMapURL: record.SegmentationMapURL,
	}
}

// ToDashboardResponse converts a predictions document for username.
// Images is never null.
func ToDashboardResponse(username string, doc *model.PredictionsDocument) *DashboardResponse {
	images := doc.Images
	if images == nil {
		images = []model.PredictionRecord{}
	}
	return &DashboardResponse{
		Username: username,
		Images:   images,
	}
}
