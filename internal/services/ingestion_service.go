package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rake-analytics/internal/aliases"
	"rake-analytics/internal/models"
	"rake-analytics/internal/normalizer"
	"rake-analytics/internal/repository"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

// IngestionService handles shipment log ingestion: CSV parsing,
// normalization, and deduplicated persistence.
type IngestionService struct {
	repo      repository.RakeRepository
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	batchSize int
	uploadDir string
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.RakeRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, batchSize int, uploadDir string) *IngestionService {
	return &IngestionService{
		repo:      repo,
		logger:    logger,
		metrics:   metricsCollector,
		batchSize: batchSize,
		uploadDir: uploadDir,
	}
}

// IngestUpload spools an uploaded stream into the upload directory,
// ingests it from disk, and removes the spooled file afterwards.
func (s *IngestionService) IngestUpload(ctx context.Context, r io.Reader, filename string, tables aliases.Tables) (*models.IngestionSummary, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(s.uploadDir, filepath.Base(filename))
	spool, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	defer os.Remove(path)

	if _, err := io.Copy(spool, r); err != nil {
		spool.Close()
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	if err := spool.Close(); err != nil {
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}

	return s.IngestFile(ctx, path, tables)
}

// IngestReader processes one CSV stream. The alias tables are an
// explicitly passed snapshot so a concurrent reload can never race an
// in-flight run. Row-level problems are counted, never raised; a missing
// required column rejects the whole batch.
func (s *IngestionService) IngestReader(ctx context.Context, r io.Reader, tables aliases.Tables) (*models.IngestionSummary, error) {
	startTime := time.Now()
	defer func() {
		s.metrics.IngestionDuration.Observe(time.Since(startTime).Seconds())
	}()

	rakes, report, err := s.normalizeCSV(r, tables)
	if err != nil {
		return nil, err
	}

	summary := &models.IngestionSummary{
		TotalRows: report.TotalRows,
		Dropped:   report.Dropped(),
	}

	for start := 0; start < len(rakes); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rakes) {
			end = len(rakes)
		}

		inserted, skipped, err := s.repo.InsertBatch(ctx, rakes[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to insert batch: %w", err)
		}
		summary.Inserted += inserted
		summary.Skipped += skipped
	}

	s.logger.Info(ctx, "[INGEST_COMPLETE] CSV ingestion completed", logging.Fields{
		"total_rows":       summary.TotalRows,
		"dropped":          summary.Dropped,
		"inserted":         summary.Inserted,
		"skipped":          summary.Skipped,
		"duration_seconds": time.Since(startTime).Seconds(),
	})

	return summary, nil
}

// Preview runs the cleaning pipeline without touching the store. Used by
// the ingester's dry-run mode to vet a file before loading it.
func (s *IngestionService) Preview(r io.Reader, tables aliases.Tables) (*normalizer.Report, error) {
	_, report, err := s.normalizeCSV(r, tables)
	return report, err
}

func (s *IngestionService) normalizeCSV(r io.Reader, tables aliases.Tables) ([]models.Rake, *normalizer.Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV rows: %w", err)
	}

	rows, err := normalizer.BuildRows(headers, records)
	if err != nil {
		return nil, nil, err
	}

	rakes, report := normalizer.Normalize(rows, tables)

	s.metrics.RowsNormalized.Add(float64(report.Normalized))
	s.metrics.RecordRowsDropped("unknown_destination", report.UnknownDestination)
	s.metrics.RecordRowsDropped("bad_received_time", report.BadReceivedTime)
	s.metrics.RecordRowsDropped("bad_transit_time", report.BadTransitTime)

	return rakes, report, nil
}

// IngestFile ingests a single CSV file from disk.
func (s *IngestionService) IngestFile(ctx context.Context, path string, tables aliases.Tables) (*models.IngestionSummary, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, &models.ValidationError{
			Field:   "file",
			Value:   path,
			Message: "only .csv files are accepted",
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.IngestReader(ctx, file, tables)
}

// DirectoryResult contains directory-level ingestion statistics
type DirectoryResult struct {
	TotalFiles int
	Summary    models.IngestionSummary
	Duration   time.Duration
	Errors     []string
}

// IngestDirectory ingests every CSV file in a directory. A failing file is
// recorded and skipped; the run continues.
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string, tables aliases.Tables) (*DirectoryResult, error) {
	startTime := time.Now()

	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CSV files found in %s", dataDir)
	}

	runLogger := s.logger.WithFields(logging.Fields{"data_dir": dataDir})
	runLogger.Info(ctx, "[INGEST_FILES] Found shipment log files", logging.Fields{
		"file_count": len(files),
	})

	result := &DirectoryResult{
		TotalFiles: len(files),
		Errors:     make([]string, 0),
	}

	for _, path := range files {
		summary, err := s.IngestFile(ctx, path, tables)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", path, err))
			runLogger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": path,
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.Summary.TotalRows += summary.TotalRows
		result.Summary.Dropped += summary.Dropped
		result.Summary.Inserted += summary.Inserted
		result.Summary.Skipped += summary.Skipped

		runLogger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested", logging.Fields{
			"file_path": path,
			"inserted":  summary.Inserted,
			"skipped":   summary.Skipped,
			"dropped":   summary.Dropped,
		})
	}

	result.Duration = time.Since(startTime)
	return result, nil
}
