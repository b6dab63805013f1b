package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pneumoscan/pneumoscan/internal/cache"
	"github.com/pneumoscan/pneumoscan/internal/metrics"
	"github.com/pneumoscan/pneumoscan/internal/model"
	"github.com/pneumoscan/pneumoscan/internal/repository"
)

// StatsCache stores computed statistics.
type StatsCache interface {
	GetStats(ctx context.Context) (*model.Stats, error)
	SetStats(ctx context.Context, stats *model.Stats, ttl time.Duration) error
	InvalidateStats(ctx context.Context) error
}

// StatsService aggregates prediction history, cache-aside.
type StatsService struct {
	store   repository.PredictionStore
	cache   StatsCache
	ttl     time.Duration
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewStatsService creates a new StatsService. cache may be nil, in which
// case every call scans the store.
func NewStatsService(store repository.PredictionStore, statsCache StatsCache, ttl time.Duration, recorder metrics.Recorder, logger *slog.Logger) *StatsService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsService{
		store:   store,
		cache:   statsCache,
		ttl:     ttl,
		metrics: recorder,
		logger:  logger.With("component", "stats_service"),
	}
}

// Stats returns aggregate statistics across all users.
func (s *StatsService) Stats(ctx context.Context) (*model.Stats, error) {
	if s.cache != nil {
		cached, err := s.cache.GetStats(ctx)
		switch {
		case err == nil:
			s.metrics.IncStatsCacheHit()
			return cached, nil
		case errors.Is(err, cache.ErrCacheMiss):
			s.metrics.IncStatsCacheMiss()
		default:
			// Redis trouble falls through to the store.
			s.logger.WarnContext(ctx, "stats cache read failed", "error", err)
		}
	}

	docs, err := s.store.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan predictions: %w", err)
	}
	stats := model.ComputeStats(docs)

	if s.cache != nil {
		if err := s.cache.SetStats(ctx, &stats, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "stats cache write failed", "error", err)
		}
	}

	return &stats, nil
}

// Invalidate drops cached statistics after a new prediction.
func (s *StatsService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateStats(ctx); err != nil {
		s.logger.WarnContext(ctx, "stats cache invalidation failed", "error", err)
	}
}
