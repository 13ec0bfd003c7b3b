package services

import (
	"context"

	"rake-analytics/internal/models"
	"rake-analytics/internal/repository"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

// RakeService handles stored-record read operations
type RakeService struct {
	repo    repository.RakeRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRakeService creates a new rake service
func NewRakeService(repo repository.RakeRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *RakeService {
	return &RakeService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetRakes retrieves stored records with filtering and pagination
func (s *RakeService) GetRakes(ctx context.Context, filter repository.RecordFilter, limit, offset int) ([]models.Rake, int, error) {
	return s.repo.GetRakes(ctx, filter, limit, offset)
}

// FilterOptions lists the distinct dimension values present in the store
func (s *RakeService) FilterOptions(ctx context.Context) (*repository.FilterOptions, error) {
	return s.repo.FilterOptions(ctx)
}
