package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu          sync.RWMutex
	users       map[string]model.User
	predictions map[string][]model.PredictionRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]model.User),
		predictions: make(map[string][]model.PredictionRecord),
	}
}

// GetByUser returns a copy of the user's document.
func (m *Memory) GetByUser(_ context.Context, username string) (*model.PredictionsDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	images, ok := m.predictions[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &model.PredictionsDocument{
		Username: username,
		Images:   append([]model.PredictionRecord{}, images...),
	}, nil
}

// AppendImage prepends record under the store lock.
func (m *Memory) AppendImage(_ context.Context, username string, record model.PredictionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid prediction record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.predictions[username]
	images := make([]model.PredictionRecord, 0, len(existing)+1)
	images = append(images, record)
	images = append(images, existing...)
	m.predictions[username] = images
	return nil
}

// ScanAll returns copies of every document ordered by username.
func (m *Memory) ScanAll(_ context.Context) ([]*model.PredictionsDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]*model.PredictionsDocument, 0, len(m.predictions))
	for username, images := range m.predictions {
		docs = append(docs, &model.PredictionsDocument{
			Username: username,
			Images:   append([]model.PredictionRecord{}, images...),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Username < docs[j].Username })
	return docs, nil
}

// CreateUser stores user unless the username is taken.
func (m *Memory) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return ErrUserExists
	}
	m.users[user.Username] = *user
	return nil
}

// GetUser returns a copy of the account.
func (m *Memory) GetUser(_ context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() {}
