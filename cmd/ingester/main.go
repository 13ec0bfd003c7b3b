package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"rake-analytics/internal/aliases"
	"rake-analytics/internal/config"
	"rake-analytics/internal/repository"
	"rake-analytics/internal/services"
	"rake-analytics/pkg/database"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Directory containing CSV shipment logs")
	file := flag.String("file", "", "Ingest a single CSV file instead of a directory")
	dryRun := flag.Bool("dry-run", false, "Normalize only; report drop counts without writing to the database")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("rake-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting shipment log ingestion", logging.Fields{
		"version":    "1.0.0",
		"data_dir":   *dataDir,
		"file":       *file,
		"batch_size": cfg.Ingestion.BatchSize,
		"dry_run":    *dryRun,
	})

	metricsCollector := metrics.NewCollector("rake_ingester")

	aliasTables := aliases.Default()
	if cfg.Aliases.Path != "" {
		aliasTables, err = aliases.Load(cfg.Aliases.Path)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to load alias tables", logging.Fields{
				"path": cfg.Aliases.Path,
			}, err)
		}
	}

	if *dryRun {
		runDryRun(logger, metricsCollector, *file, aliasTables, cfg.Ingestion.BatchSize)
		return
	}

	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	rakeRepo := repository.NewRakeRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(rakeRepo, logger, metricsCollector, cfg.Ingestion.BatchSize, cfg.Ingestion.UploadDir)

	if *file != "" {
		summary, err := ingestionService.IngestFile(ctx, *file, aliasTables)
		if err != nil {
			logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
				"file": *file,
			}, err)
		}

		fmt.Printf("Processed %s. Inserted: %d, Skipped (duplicates): %d, Dropped: %d\n",
			*file, summary.Inserted, summary.Skipped, summary.Dropped)
		return
	}

	result, err := ingestionService.IngestDirectory(ctx, *dataDir, aliasTables)
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"data_dir": *dataDir,
		}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:   %d\n", result.TotalFiles)
	fmt.Printf("Total Rows:    %d\n", result.Summary.TotalRows)
	fmt.Printf("Dropped Rows:  %d\n", result.Summary.Dropped)
	fmt.Printf("Inserted:      %d\n", result.Summary.Inserted)
	fmt.Printf("Skipped:       %d\n", result.Summary.Skipped)
	fmt.Printf("Duration:      %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}
}

// runDryRun vets a file through the cleaning pipeline without a database.
func runDryRun(logger *logging.StructuredLogger, metricsCollector *metrics.Collector, path string, tables aliases.Tables, batchSize int) {
	if path == "" {
		fmt.Fprintln(os.Stderr, "dry-run requires -file")
		os.Exit(1)
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	svc := services.NewIngestionService(nil, logger, metricsCollector, batchSize, "")
	report, err := svc.Preview(f, tables)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Normalization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Dry run of %s\n", path)
	fmt.Printf("Total rows:            %d\n", report.TotalRows)
	fmt.Printf("Normalized:            %d\n", report.Normalized)
	fmt.Printf("Unknown destinations:  %d\n", report.UnknownDestination)
	fmt.Printf("Bad received times:    %d\n", report.BadReceivedTime)
	fmt.Printf("Bad transit times:     %d\n", report.BadTransitTime)
}
