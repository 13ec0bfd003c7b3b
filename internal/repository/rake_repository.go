package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"rake-analytics/internal/models"
	"rake-analytics/pkg/database"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

// rakeColumns are the insert columns, in bind order.
var rakeColumns = []string{
	"sr_no", "received_time", "dispatched_time",
	"transit_time", "transit_time_hrs",
	"sttn_from", "sttn_to", "cmdt", "rake_type",
	"totl_unts", "created_at",
}

// maxChunkRows keeps a multi-row insert under the lib/pq bind parameter
// limit of 65535.
var maxChunkRows = 65535 / len(rakeColumns)

// RakeRepository provides data access for shipment records
type RakeRepository interface {
	// Ingestion: idempotent insert-or-skip on the natural key
	InsertBatch(ctx context.Context, rakes []models.Rake) (inserted, skipped int, err error)

	// Query layer: filtered reads handed to the aggregator
	QueryRecords(ctx context.Context, filter RecordFilter) ([]models.Rake, error)
	GetRakes(ctx context.Context, filter RecordFilter, limit, offset int) ([]models.Rake, int, error)
	FilterOptions(ctx context.Context) (*FilterOptions, error)

	// Inspection
	Summary(ctx context.Context) (*StoreSummary, error)
	HealthCheck(ctx context.Context) error
}

// RecordFilter selects stored records by dimension and time window.
// Nil fields are unconstrained.
type RecordFilter struct {
	SttnTo   *string
	SttnFrom *string
	Cmdt     *string
	RakeType *string
	Since    *time.Time
	Until    *time.Time
}

// FilterOptions lists the distinct dimension values present in the store,
// used to populate the query layer's filter choices.
type FilterOptions struct {
	Origins      []string `json:"origins"`
	Destinations []string `json:"destinations"`
	Commodities  []string `json:"commodities"`
	RakeTypes    []string `json:"rake_types"`
}

// StoreSummary is a coarse health/inspection view of the stored data.
type StoreSummary struct {
	TotalRecords   int            `json:"total_records"`
	FirstReceived  *time.Time     `json:"first_received,omitempty"`
	LastReceived   *time.Time     `json:"last_received,omitempty"`
	PerDestination map[string]int `json:"per_destination"`
}

// rakeRepository implements RakeRepository
type rakeRepository struct {
	db        *database.PostgresDB
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	chunkSize int
}

// NewRakeRepository creates a new rake repository
func NewRakeRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) RakeRepository {
	return &rakeRepository{
		db:        db,
		logger:    logger,
		metrics:   metricsCollector,
		chunkSize: maxChunkRows,
	}
}

// InsertBatch persists cleaned records with deduplication on the natural
// key (received_time, sttn_from, sttn_to, cmdt, rake_type, dispatched_time).
// Duplicates are silently skipped and counted, never errors. The batch is
// chunked to respect the driver's parameter limit; each chunk commits
// independently, and a chunk-level failure degrades to row-by-row inserts
// so one bad chunk never aborts the whole ingestion.
func (r *rakeRepository) InsertBatch(ctx context.Context, rakes []models.Rake) (int, int, error) {
	if len(rakes) == 0 {
		return 0, 0, nil
	}

	timer := time.Now()
	inserted := 0

	for start := 0; start < len(rakes); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(rakes) {
			end = len(rakes)
		}
		chunk := rakes[start:end]

		n, err := r.insertChunk(ctx, chunk)
		if err != nil {
			r.logger.Warn(ctx, "[REPO_BULK_FALLBACK] Bulk insert failed, falling back to row-by-row", logging.Fields{
				"chunk_size": len(chunk),
			})
			r.metrics.RecordIngestionError("bulk_insert_fallback")
			n = r.insertRowByRow(ctx, chunk)
		}
		inserted += n
	}

	skipped := len(rakes) - inserted

	r.metrics.IngestionBatchSize.Observe(float64(len(rakes)))
	r.metrics.RecordsInserted.Add(float64(inserted))
	r.metrics.RecordsSkipped.Add(float64(skipped))
	r.logger.Info(ctx, "[REPO_INSERT_BATCH] Batch insert completed", logging.Fields{
		"submitted":   len(rakes),
		"inserted":    inserted,
		"skipped":     skipped,
		"duration_ms": time.Since(timer).Milliseconds(),
	})

	return inserted, skipped, nil
}

// insertChunk is the primary set-based path: one multi-row INSERT with
// ON CONFLICT DO NOTHING, so conflicting rows reduce the affected count
// instead of raising.
func (r *rakeRepository) insertChunk(ctx context.Context, chunk []models.Rake) (int, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO rakes (")
	sb.WriteString(strings.Join(rakeColumns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(chunk)*len(rakeColumns))
	for i := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range rakeColumns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*len(rakeColumns)+j+1)
		}
		sb.WriteString(")")
		args = append(args, bindArgs(&chunk[i])...)
	}
	sb.WriteString(" ON CONFLICT ON CONSTRAINT uq_rake_natural_key DO NOTHING")

	result, err := r.db.ExecContext(ctx, "insert_rakes_bulk", sb.String(), args...)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// insertRowByRow is the degraded path used when a set-based chunk fails:
// every row is attempted individually, uniqueness violations and other
// per-row errors are counted as skipped, and nothing propagates.
func (r *rakeRepository) insertRowByRow(ctx context.Context, chunk []models.Rake) int {
	query := fmt.Sprintf(
		"INSERT INTO rakes (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		strings.Join(rakeColumns, ", "),
	)

	inserted := 0
	for i := range chunk {
		_, err := r.db.ExecContext(ctx, "insert_rake_single", query, bindArgs(&chunk[i])...)
		if err == nil {
			inserted++
			continue
		}

		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Duplicate natural key: counted, not an error.
			continue
		}

		r.logger.Error(ctx, "[REPO_ROW_INSERT_ERROR] Row insert failed", logging.Fields{
			"natural_key": chunk[i].NaturalKey(),
		}, err)
		r.metrics.RecordIngestionError("row_insert_error")
	}

	return inserted
}

func bindArgs(rake *models.Rake) []interface{} {
	return []interface{}{
		rake.SrNo,
		rake.ReceivedTime,
		rake.DispatchedTime,
		rake.TransitTime,
		rake.TransitTimeHrs,
		rake.SttnFrom,
		rake.SttnTo,
		rake.Cmdt,
		rake.RakeType,
		rake.TotlUnts,
		rake.CreatedAt,
	}
}

const selectRakeColumns = `
	SELECT id, sr_no, received_time, dispatched_time,
	       transit_time, transit_time_hrs,
	       sttn_from, sttn_to, cmdt, rake_type,
	       totl_unts, created_at
	FROM rakes
	WHERE 1=1
`

func buildFilter(filter RecordFilter) (string, []interface{}) {
	var clauses strings.Builder
	args := []interface{}{}
	argNum := 1

	add := func(clause string, value interface{}) {
		fmt.Fprintf(&clauses, " AND %s $%d", clause, argNum)
		args = append(args, value)
		argNum++
	}

	if filter.SttnTo != nil {
		add("sttn_to =", *filter.SttnTo)
	}
	if filter.SttnFrom != nil {
		add("sttn_from =", *filter.SttnFrom)
	}
	if filter.Cmdt != nil {
		add("cmdt =", *filter.Cmdt)
	}
	if filter.RakeType != nil {
		add("rake_type =", *filter.RakeType)
	}
	if filter.Since != nil {
		add("received_time >=", *filter.Since)
	}
	if filter.Until != nil {
		add("received_time <=", *filter.Until)
	}

	return clauses.String(), args
}

// QueryRecords retrieves all records matching the filter, ordered by
// received time, for the aggregator. No pagination: aggregation is a
// single-pass computation over the full filtered set.
func (r *rakeRepository) QueryRecords(ctx context.Context, filter RecordFilter) ([]models.Rake, error) {
	clauses, args := buildFilter(filter)
	query := selectRakeColumns + clauses + " ORDER BY received_time"

	var rakes []models.Rake
	err := r.db.SelectContext(ctx, "query_records", &rakes, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	return rakes, nil
}

// GetRakes retrieves records with filtering and pagination for the
// listing API, along with a total count.
func (r *rakeRepository) GetRakes(ctx context.Context, filter RecordFilter, limit, offset int) ([]models.Rake, int, error) {
	clauses, args := buildFilter(filter)

	countQuery := "SELECT COUNT(*) FROM rakes WHERE 1=1" + clauses
	var totalCount int
	if err := r.db.GetContext(ctx, "count_rakes", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count rakes: %w", err)
	}

	query := selectRakeColumns + clauses
	query += fmt.Sprintf(" ORDER BY received_time DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var rakes []models.Rake
	if err := r.db.SelectContext(ctx, "get_rakes", &rakes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get rakes: %w", err)
	}

	return rakes, totalCount, nil
}

// FilterOptions returns the distinct dimension values present in the store.
func (r *rakeRepository) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	opts := &FilterOptions{}

	queries := []struct {
		dest  *[]string
		name  string
		query string
	}{
		{&opts.Origins, "distinct_origins", "SELECT DISTINCT sttn_from FROM rakes ORDER BY sttn_from"},
		{&opts.Destinations, "distinct_destinations", "SELECT DISTINCT sttn_to FROM rakes ORDER BY sttn_to"},
		{&opts.Commodities, "distinct_commodities", "SELECT DISTINCT cmdt FROM rakes ORDER BY cmdt"},
		{&opts.RakeTypes, "distinct_rake_types", "SELECT DISTINCT rake_type FROM rakes ORDER BY rake_type"},
	}

	for _, q := range queries {
		if err := r.db.SelectContext(ctx, q.name, q.dest, q.query); err != nil {
			return nil, fmt.Errorf("failed to load filter options: %w", err)
		}
	}

	return opts, nil
}

// Summary reports record count, received-time range, and per-destination
// counts for the inspection CLI.
func (r *rakeRepository) Summary(ctx context.Context) (*StoreSummary, error) {
	summary := &StoreSummary{PerDestination: make(map[string]int)}

	var totals struct {
		Count int        `db:"count"`
		Min   *time.Time `db:"min"`
		Max   *time.Time `db:"max"`
	}
	err := r.db.GetContext(ctx, "summary_totals", &totals,
		"SELECT COUNT(*) AS count, MIN(received_time) AS min, MAX(received_time) AS max FROM rakes")
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	summary.TotalRecords = totals.Count
	summary.FirstReceived = totals.Min
	summary.LastReceived = totals.Max

	var perDest []struct {
		SttnTo string `db:"sttn_to"`
		Count  int    `db:"count"`
	}
	err = r.db.SelectContext(ctx, "summary_per_destination", &perDest,
		"SELECT sttn_to, COUNT(*) AS count FROM rakes GROUP BY sttn_to ORDER BY COUNT(*) DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to load per-destination counts: %w", err)
	}
	for _, d := range perDest {
		summary.PerDestination[d.SttnTo] = d.Count
	}

	return summary, nil
}

// HealthCheck performs a repository health check
func (r *rakeRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
