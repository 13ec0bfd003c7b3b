package services

import (
	"context"
	"io"
	"time"

	"rake-analytics/internal/analytics"
	"rake-analytics/internal/models"
	"rake-analytics/internal/repository"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

// AnalyticsService runs bucketed transit-time analytics over the stored
// records: filter in the store, window and aggregate in memory.
type AnalyticsService struct {
	repo    repository.RakeRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(repo repository.RakeRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AnalyticsService {
	return &AnalyticsService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// QueryParams selects and shapes one analytics view.
type QueryParams struct {
	Destination string // required: every view is per-destination
	Origin      string
	Commodity   string
	RakeType    string
	Granularity string
	GroupBy     []string
}

// BucketRow is the presentation form of one bucket: mean rounded to 2dp.
type BucketRow struct {
	BucketLabel      string   `json:"bucket_label"`
	Groups           []string `json:"groups,omitempty"`
	MeanTransitHours float64  `json:"mean_transit_hours"`
	Count            int      `json:"count"`
}

// QueryResult is the full analytics response for one query scope.
type QueryResult struct {
	Destination  string                  `json:"destination"`
	Granularity  string                  `json:"granularity"`
	Buckets      []BucketRow             `json:"buckets"`
	Outliers     []analytics.Outlier     `json:"outliers"`
	Bounds       analytics.OutlierBounds `json:"outlier_bounds"`
	TotalRecords int                     `json:"total_records"`
}

// resolve validates params and loads the windowed record set for them.
func (s *AnalyticsService) resolve(ctx context.Context, params QueryParams) ([]models.Rake, analytics.Granularity, []analytics.Dimension, error) {
	if params.Destination == "" {
		return nil, "", nil, &models.QueryError{
			Param:   "destination",
			Value:   "",
			Message: "destination is required",
		}
	}

	granularity, err := analytics.ParseGranularity(params.Granularity)
	if err != nil {
		return nil, "", nil, err
	}

	groupBy := make([]analytics.Dimension, 0, len(params.GroupBy))
	for _, g := range params.GroupBy {
		dim, err := analytics.ParseDimension(g)
		if err != nil {
			return nil, "", nil, err
		}
		groupBy = append(groupBy, dim)
	}

	filter := repository.RecordFilter{SttnTo: &params.Destination}
	if params.Origin != "" {
		filter.SttnFrom = &params.Origin
	}
	if params.Commodity != "" {
		filter.Cmdt = &params.Commodity
	}
	if params.RakeType != "" {
		filter.RakeType = &params.RakeType
	}

	records, err := s.repo.QueryRecords(ctx, filter)
	if err != nil {
		return nil, "", nil, err
	}

	windowed, err := analytics.LookbackWindow(records, granularity)
	if err != nil {
		return nil, "", nil, err
	}

	return windowed, granularity, groupBy, nil
}

// Query computes the bucketed aggregates and IQR outliers for one scope.
// Outlier bounds are derived from this scope's records only.
func (s *AnalyticsService) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	timer := time.Now()

	records, granularity, groupBy, err := s.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	buckets, err := analytics.Aggregate(records, granularity, groupBy)
	if err != nil {
		return nil, err
	}

	outliers, bounds := analytics.Outliers(records)
	s.metrics.OutliersFlagged.Add(float64(len(outliers)))
	s.metrics.AggregationDuration.WithLabelValues(string(granularity)).Observe(time.Since(timer).Seconds())

	result := &QueryResult{
		Destination:  params.Destination,
		Granularity:  string(granularity),
		Buckets:      presentBuckets(buckets),
		Outliers:     outliers,
		Bounds:       bounds,
		TotalRecords: len(records),
	}

	s.logger.Debug(ctx, "[ANALYTICS_QUERY] Query computed", logging.Fields{
		"destination":   params.Destination,
		"granularity":   string(granularity),
		"buckets":       len(result.Buckets),
		"outliers":      len(result.Outliers),
		"total_records": result.TotalRecords,
	})

	return result, nil
}

// BestWindow finds the lowest-mean bucket within the lookback window.
func (s *AnalyticsService) BestWindow(ctx context.Context, params QueryParams) (*BucketRow, error) {
	records, granularity, _, err := s.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	best, err := analytics.BestWindow(records, granularity)
	if err != nil || best == nil {
		return nil, err
	}

	row := presentBuckets([]analytics.BucketAggregate{*best})[0]
	return &row, nil
}

// ExportCSV writes the bucketed aggregates for one scope as delimited
// text with a deterministic column order.
func (s *AnalyticsService) ExportCSV(ctx context.Context, w io.Writer, params QueryParams) error {
	records, granularity, groupBy, err := s.resolve(ctx, params)
	if err != nil {
		return err
	}

	buckets, err := analytics.Aggregate(records, granularity, groupBy)
	if err != nil {
		return err
	}

	return analytics.WriteCSV(w, groupBy, buckets)
}

// Breakdown aggregates mean transit time per value of one dimension over
// all stored records matching the optional filters.
func (s *AnalyticsService) Breakdown(ctx context.Context, dimension string, filter repository.RecordFilter) ([]analytics.DimensionAggregate, error) {
	dim, err := analytics.ParseDimension(dimension)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.QueryRecords(ctx, filter)
	if err != nil {
		return nil, err
	}

	rows, err := analytics.Breakdown(records, dim)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].MeanTransitHrs = analytics.Round2(rows[i].MeanTransitHrs)
	}
	return rows, nil
}

// Bottlenecks ranks the ten slowest origin-destination routes.
func (s *AnalyticsService) Bottlenecks(ctx context.Context) ([]analytics.RouteAggregate, error) {
	records, err := s.repo.QueryRecords(ctx, repository.RecordFilter{})
	if err != nil {
		return nil, err
	}

	routes := analytics.Bottlenecks(records, 10)
	for i := range routes {
		routes[i].MeanTransitHrs = analytics.Round2(routes[i].MeanTransitHrs)
	}
	return routes, nil
}

func presentBuckets(buckets []analytics.BucketAggregate) []BucketRow {
	rows := make([]BucketRow, len(buckets))
	for i, b := range buckets {
		rows[i] = BucketRow{
			BucketLabel:      b.Label,
			Groups:           b.Groups,
			MeanTransitHours: analytics.Round2(b.MeanTransitHrs),
			Count:            b.Count,
		}
	}
	return rows
}
