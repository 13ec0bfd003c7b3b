package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rake-analytics/internal/aliases"
	"rake-analytics/internal/models"
	"rake-analytics/internal/repository"
	"rake-analytics/internal/services"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

// One collector per test binary: prometheus panics on duplicate registration.
var testMetrics = metrics.NewCollector("handlers_test")

// memoryRepo backs the handler tests with natural-key dedup semantics.
type memoryRepo struct {
	byKey   map[string]struct{}
	records []models.Rake
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byKey: make(map[string]struct{})}
}

func (m *memoryRepo) InsertBatch(_ context.Context, rakes []models.Rake) (int, int, error) {
	inserted, skipped := 0, 0
	for i := range rakes {
		key := rakes[i].NaturalKey()
		if _, ok := m.byKey[key]; ok {
			skipped++
			continue
		}
		m.byKey[key] = struct{}{}
		m.records = append(m.records, rakes[i])
		inserted++
	}
	return inserted, skipped, nil
}

func (m *memoryRepo) QueryRecords(_ context.Context, filter repository.RecordFilter) ([]models.Rake, error) {
	var out []models.Rake
	for _, r := range m.records {
		if filter.SttnTo != nil && r.SttnTo != *filter.SttnTo {
			continue
		}
		if filter.SttnFrom != nil && r.SttnFrom != *filter.SttnFrom {
			continue
		}
		if filter.Cmdt != nil && r.Cmdt != *filter.Cmdt {
			continue
		}
		if filter.RakeType != nil && r.RakeType != *filter.RakeType {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryRepo) GetRakes(ctx context.Context, filter repository.RecordFilter, limit, offset int) ([]models.Rake, int, error) {
	all, err := m.QueryRecords(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memoryRepo) FilterOptions(_ context.Context) (*repository.FilterOptions, error) {
	return &repository.FilterOptions{
		Origins:      []string{"KJR"},
		Destinations: []string{"BSL"},
		Commodities:  []string{"IORE"},
		RakeTypes:    []string{"BOXN"},
	}, nil
}

func (m *memoryRepo) Summary(_ context.Context) (*repository.StoreSummary, error) {
	return &repository.StoreSummary{TotalRecords: len(m.records)}, nil
}

func (m *memoryRepo) HealthCheck(_ context.Context) error { return nil }

func newTestRouter(t *testing.T, repo repository.RakeRepository) *mux.Router {
	t.Helper()
	logger := logging.NewStructuredLogger("handlers-test", "0.0.0", logging.ErrorLevel)

	handler := NewRakeHandler(
		services.NewIngestionService(repo, logger, testMetrics, 100, t.TempDir()),
		services.NewAnalyticsService(repo, logger, testMetrics),
		services.NewRakeService(repo, logger, testMetrics),
		aliases.Default(),
		logger,
		testMetrics,
	)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func seededRouter(t *testing.T, rakes ...models.Rake) *mux.Router {
	repo := newMemoryRepo()
	repo.records = rakes
	return newTestRouter(t, repo)
}

func storedRake(received string, hrs float64, from, to string) models.Rake {
	ts, err := time.Parse("2006-01-02 15:04", received)
	if err != nil {
		panic(err)
	}
	return models.Rake{
		ReceivedTime:   ts,
		TransitTimeHrs: hrs,
		SttnFrom:       from,
		SttnTo:         to,
		Cmdt:           "IORE",
		RakeType:       "BOXN",
	}
}

func multipartCSV(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

const uploadCSV = `Sr No.,Received Time,Dispatched Time,Transit Time,Sttn From,Sttn To,CMDT,Totl Unts,Rake Type
1,05-01-2024 10:00,05-01-2024 15:30,5:30,KJR,BSCS,IORE,58,BOXN
2,05-01-2024 11:00,,7:00,BNDM,HSPG,IOST,59,BOXNHL
`

func TestUpload(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo)

	body, contentType := multipartCSV(t, "shipments.csv", uploadCSV)
	req := httptest.NewRequest("POST", "/api/rakes/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary models.IngestionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.TotalRows)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 0, summary.Skipped)

	// The alias and collapse tables were applied on the way in.
	assert.Equal(t, "BSL", repo.records[0].SttnTo)
	assert.Equal(t, "IORE", repo.records[1].Cmdt)
}

func TestUpload_AcceptsUppercaseExtension(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(t, repo)

	body, contentType := multipartCSV(t, "SHIPMENTS.CSV", uploadCSV)
	req := httptest.NewRequest("POST", "/api/rakes/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, repo.records, 2)
}

func TestUpload_RejectsNonCSVFilename(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	body, contentType := multipartCSV(t, "shipments.xlsx", uploadCSV)
	req := httptest.NewRequest("POST", "/api/rakes/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_MissingColumnsIs400(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	body, contentType := multipartCSV(t, "shipments.csv", "Sr No.,Received Time\n1,05-01-2024 10:00\n")
	req := httptest.NewRequest("POST", "/api/rakes/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "missing required columns")
}

func TestGetAnalytics(t *testing.T) {
	router := seededRouter(t,
		storedRake("2024-01-05 10:00", 4.0, "KJR", "BSL"),
		storedRake("2024-01-05 11:00", 6.0, "KJR", "BSL"),
		storedRake("2024-01-06 10:00", 8.0, "KJR", "BSL"),
	)

	req := httptest.NewRequest("GET", "/api/analytics?destination=BSL&granularity=daily", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result services.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "BSL", result.Destination)
	assert.Equal(t, 3, result.TotalRecords)
	require.Len(t, result.Buckets, 2)
	assert.Equal(t, 5.0, result.Buckets[0].MeanTransitHours)
}

func TestGetAnalytics_MissingDestinationIs400(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	req := httptest.NewRequest("GET", "/api/analytics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAnalytics_BadGranularityIs400(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	req := httptest.NewRequest("GET", "/api/analytics?destination=BSL&granularity=hourly", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Message, "granularity")
}

func TestGetBestWindow_NoDataIs404(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	req := httptest.NewRequest("GET", "/api/analytics/best-window?destination=BSL", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportAnalytics(t *testing.T) {
	router := seededRouter(t,
		storedRake("2024-01-05 10:00", 5.5, "KJR", "BSL"),
	)

	req := httptest.NewRequest("GET", "/api/analytics/export?destination=BSL&granularity=daily", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "daily_analysis_BSL.csv")
	assert.Contains(t, rec.Body.String(), "2024-01-05,5.50,1")
}

func TestGetBreakdown(t *testing.T) {
	router := seededRouter(t,
		storedRake("2024-01-05 10:00", 4.0, "KJR", "BSL"),
		storedRake("2024-01-05 11:00", 8.0, "BNDM", "BSL"),
	)

	req := httptest.NewRequest("GET", "/api/analytics/breakdown?dimension=origin", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "BNDM")
	assert.Contains(t, rec.Body.String(), "KJR")
}

func TestGetBreakdown_BadDimensionIs400(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	req := httptest.NewRequest("GET", "/api/analytics/breakdown?dimension=wagon_color", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRakes_Pagination(t *testing.T) {
	router := seededRouter(t,
		storedRake("2024-01-05 10:00", 4.0, "KJR", "BSL"),
		storedRake("2024-01-05 11:00", 5.0, "KJR", "BSL"),
		storedRake("2024-01-05 12:00", 6.0, "KJR", "BSL"),
	)

	req := httptest.NewRequest("GET", "/api/rakes?page=2&limit=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp PaginatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 2, resp.TotalPages)
}

func TestFilterOptions_Endpoint(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	req := httptest.NewRequest("GET", "/api/rakes/filters", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var opts repository.FilterOptions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Equal(t, []string{"BSL"}, opts.Destinations)
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestOpenAPISpec_Served(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	req := httptest.NewRequest("GET", "/api/docs/openapi.json", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "/api/analytics"))
}
