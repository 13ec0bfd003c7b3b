package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rake-analytics/internal/models"
	"rake-analytics/internal/repository"
)

func newAnalyticsService(repo repository.RakeRepository) *AnalyticsService {
	return NewAnalyticsService(repo, testLogger(), testMetrics)
}

func storedRake(received string, hrs float64, from, to, cmdt string) models.Rake {
	ts, err := time.Parse("2006-01-02 15:04", received)
	if err != nil {
		panic(err)
	}
	return models.Rake{
		ReceivedTime:   ts,
		TransitTimeHrs: hrs,
		SttnFrom:       from,
		SttnTo:         to,
		Cmdt:           cmdt,
		RakeType:       "BOXN",
	}
}

func seededRepo(rakes ...models.Rake) *fakeRepo {
	repo := newFakeRepo()
	repo.records = rakes
	return repo
}

func TestQuery_BucketsAndRounding(t *testing.T) {
	repo := seededRepo(
		storedRake("2024-01-05 10:00", 4.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 11:00", 4.5, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 12:00", 4.1, "KJR", "BSL", "IORE"),
		storedRake("2024-01-06 10:00", 7.0, "KJR", "BSL", "IORE"),
	)
	svc := newAnalyticsService(repo)

	result, err := svc.Query(context.Background(), QueryParams{
		Destination: "BSL",
		Granularity: "daily",
	})

	require.NoError(t, err)
	assert.Equal(t, "BSL", result.Destination)
	assert.Equal(t, 4, result.TotalRecords)
	require.Len(t, result.Buckets, 2)
	// (4.0+4.5+4.1)/3 = 4.2 exactly at 2dp.
	assert.Equal(t, 4.2, result.Buckets[0].MeanTransitHours)
	assert.Equal(t, 3, result.Buckets[0].Count)
	assert.Equal(t, 7.0, result.Buckets[1].MeanTransitHours)
}

func TestQuery_FiltersNarrowScope(t *testing.T) {
	repo := seededRepo(
		storedRake("2024-01-05 10:00", 4.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 11:00", 9.0, "BNDM", "BSL", "IORE"),
		storedRake("2024-01-05 12:00", 6.0, "KJR", "RSP", "IORE"),
	)
	svc := newAnalyticsService(repo)

	result, err := svc.Query(context.Background(), QueryParams{
		Destination: "BSL",
		Origin:      "KJR",
		Granularity: "daily",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalRecords)
	require.Len(t, result.Buckets, 1)
	assert.Equal(t, 4.0, result.Buckets[0].MeanTransitHours)
}

func TestQuery_DestinationRequired(t *testing.T) {
	svc := newAnalyticsService(newFakeRepo())

	_, err := svc.Query(context.Background(), QueryParams{Granularity: "daily"})

	var qe *models.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "destination", qe.Param)
}

func TestQuery_InvalidGranularity(t *testing.T) {
	svc := newAnalyticsService(newFakeRepo())

	_, err := svc.Query(context.Background(), QueryParams{
		Destination: "BSL",
		Granularity: "hourly",
	})

	var qe *models.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "granularity", qe.Param)
}

func TestQuery_InvalidGroupBy(t *testing.T) {
	svc := newAnalyticsService(newFakeRepo())

	_, err := svc.Query(context.Background(), QueryParams{
		Destination: "BSL",
		Granularity: "daily",
		GroupBy:     []string{"wagon_color"},
	})

	var qe *models.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "group_by", qe.Param)
}

func TestQuery_OutliersScopedToFilteredSet(t *testing.T) {
	repo := seededRepo(
		storedRake("2024-01-05 10:00", 1.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 11:00", 2.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 12:00", 3.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 13:00", 4.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 14:00", 5.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 15:00", 100.0, "KJR", "BSL", "IORE"),
		// A different destination: must not influence BSL's fences.
		storedRake("2024-01-05 16:00", 500.0, "KJR", "RSP", "IORE"),
	)
	svc := newAnalyticsService(repo)

	result, err := svc.Query(context.Background(), QueryParams{
		Destination: "BSL",
		Granularity: "daily",
	})

	require.NoError(t, err)
	require.Len(t, result.Outliers, 1)
	assert.Equal(t, 100.0, result.Outliers[0].TransitTimeHrs)
	assert.Equal(t, "above_upper_bound", result.Outliers[0].Deviation)
	assert.InDelta(t, 8.5, result.Bounds.Upper, 1e-9)
}

func TestBestWindow_Service(t *testing.T) {
	repo := seededRepo(
		storedRake("2024-01-05 10:00", 9.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-06 10:00", 3.0, "KJR", "BSL", "IORE"),
	)
	svc := newAnalyticsService(repo)

	best, err := svc.BestWindow(context.Background(), QueryParams{
		Destination: "BSL",
		Granularity: "daily",
	})

	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "2024-01-06", best.BucketLabel)
	assert.Equal(t, 3.0, best.MeanTransitHours)
}

func TestBestWindow_NoData(t *testing.T) {
	svc := newAnalyticsService(newFakeRepo())

	best, err := svc.BestWindow(context.Background(), QueryParams{
		Destination: "BSL",
		Granularity: "daily",
	})

	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestExportCSV_Service(t *testing.T) {
	repo := seededRepo(
		storedRake("2024-01-05 10:00", 4.333, "KJR", "BSL", "IORE"),
		storedRake("2024-01-06 10:00", 6.125, "KJR", "BSL", "IORE"),
	)
	svc := newAnalyticsService(repo)

	var buf bytes.Buffer
	err := svc.ExportCSV(context.Background(), &buf, QueryParams{
		Destination: "BSL",
		Granularity: "daily",
		GroupBy:     []string{"origin"},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"origin", "bucket", "mean_transit_hrs", "count"}, rows[0])
	assert.Equal(t, []string{"KJR", "2024-01-05", "4.33", "1"}, rows[1])
	assert.Equal(t, []string{"KJR", "2024-01-06", "6.13", "1"}, rows[2])
}

func TestBreakdown_Service(t *testing.T) {
	repo := seededRepo(
		storedRake("2024-01-05 10:00", 4.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 11:00", 5.0, "KJR", "BSL", "COAL"),
		storedRake("2024-01-05 12:00", 4.345, "KJR", "BSL", "IORE"),
	)
	svc := newAnalyticsService(repo)

	rows, err := svc.Breakdown(context.Background(), "commodity", repository.RecordFilter{})

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "COAL", rows[0].Value)
	assert.Equal(t, "IORE", rows[1].Value)
	// (4.0+4.345)/2 = 4.1725; presented rounded.
	assert.Equal(t, 4.17, rows[1].MeanTransitHrs)
}

func TestBottlenecks_Service(t *testing.T) {
	repo := seededRepo(
		storedRake("2024-01-05 10:00", 4.0, "KJR", "BSL", "IORE"),
		storedRake("2024-01-05 11:00", 20.0, "BNDM", "RSP", "IORE"),
	)
	svc := newAnalyticsService(repo)

	routes, err := svc.Bottlenecks(context.Background())

	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "BNDM", routes[0].SttnFrom)
	assert.Equal(t, 20.0, routes[0].MeanTransitHrs)
}
