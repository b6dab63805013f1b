// Package repository provides the persistence layer for accounts and
// prediction history.
package repository

import (
	"context"
	"errors"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

// Common errors for repository operations.
var (
	ErrNotFound     = errors.New("predictions not found")
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendDynamo   = "dynamodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// PredictionStore keeps one PredictionsDocument per username.
type PredictionStore interface {
	// GetByUser returns the document for username or ErrNotFound.
	GetByUser(ctx context.Context, username string) (*model.PredictionsDocument, error)

	// AppendImage prepends record to the user's list in one atomic store
	// operation, creating the document if it does not exist yet.
	AppendImage(ctx context.Context, username string, record model.PredictionRecord) error

	// ScanAll reads every document across all pages. It is expensive and
	// only meant for statistics.
	ScanAll(ctx context.Context) ([]*model.PredictionsDocument, error)
}

// UserStore keeps accounts keyed by username.
type UserStore interface {
	// CreateUser inserts user unless the username is taken (ErrUserExists).
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser returns the account for username or ErrUserNotFound.
	GetUser(ctx context.Context, username string) (*model.User, error)
}

// Store is a complete backend.
type Store interface {
	PredictionStore
	UserStore

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close()
}
