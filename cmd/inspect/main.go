package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"rake-analytics/internal/config"
	"rake-analytics/internal/repository"
	"rake-analytics/pkg/database"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

// Quick look at what the store currently holds: record count, received
// time range, and per-destination distribution.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("rake-inspect", "1.0.0", logging.ErrorLevel)
	metricsCollector := metrics.NewCollector("rake_inspect")

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
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repository.NewRakeRepository(db, logger, metricsCollector)

	summary, err := repo.Summary(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load summary: %v\n", err)
		os.Exit(1)
	}

	if summary.TotalRecords == 0 {
		fmt.Println("→ No records in the 'rakes' table yet.")
		return
	}

	fmt.Printf("→ Total records in 'rakes' table: %d\n", summary.TotalRecords)
	if summary.FirstReceived != nil && summary.LastReceived != nil {
		fmt.Printf("Date range: %s  →  %s\n",
			summary.FirstReceived.Format("2006-01-02 15:04"),
			summary.LastReceived.Format("2006-01-02 15:04"))
	}

	type destCount struct {
		dest  string
		count int
	}
	counts := make([]destCount, 0, len(summary.PerDestination))
	for dest, count := range summary.PerDestination {
		counts = append(counts, destCount{dest, count})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].count > counts[j].count })

	fmt.Println("\nRecords per destination:")
	for _, c := range counts {
		fmt.Printf("  %6s : %5d\n", c.dest, c.count)
	}
}
