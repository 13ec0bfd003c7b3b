package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"rake-analytics/internal/aliases"
	"rake-analytics/internal/models"
	"rake-analytics/internal/repository"
	"rake-analytics/internal/services"
	"rake-analytics/pkg/logging"
	"rake-analytics/pkg/metrics"
)

// RakeHandler handles the rake analytics API endpoints
type RakeHandler struct {
	ingestionService *services.IngestionService
	analyticsService *services.AnalyticsService
	rakeService      *services.RakeService
	aliasTables      aliases.Tables
	logger           *logging.StructuredLogger
	metrics          *metrics.Collector
}

// NewRakeHandler creates a new rake handler
func NewRakeHandler(
	ingestionService *services.IngestionService,
	analyticsService *services.AnalyticsService,
	rakeService *services.RakeService,
	aliasTables aliases.Tables,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *RakeHandler {
	return &RakeHandler{
		ingestionService: ingestionService,
		analyticsService: analyticsService,
		rakeService:      rakeService,
		aliasTables:      aliasTables,
		logger:           logger,
		metrics:          metricsCollector,
	}
}

// RegisterRoutes wires the API routes onto the router
func (h *RakeHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/rakes/upload", h.Upload).Methods("POST")
	router.HandleFunc("/api/rakes/filters", h.FilterOptions).Methods("GET")
	router.HandleFunc("/api/rakes", h.GetRakes).Methods("GET")

	router.HandleFunc("/api/analytics", h.GetAnalytics).Methods("GET")
	router.HandleFunc("/api/analytics/best-window", h.GetBestWindow).Methods("GET")
	router.HandleFunc("/api/analytics/export", h.ExportAnalytics).Methods("GET")
	router.HandleFunc("/api/analytics/breakdown", h.GetBreakdown).Methods("GET")
	router.HandleFunc("/api/analytics/bottlenecks", h.GetBottlenecks).Methods("GET")

	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// Upload handles POST /api/rakes/upload: a multipart CSV of raw shipment
// rows, responded to with the ingestion summary counts.
func (h *RakeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/rakes/upload").Observe(time.Since(startTime).Seconds())
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, r, "missing multipart file field \"file\"", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !hasCSVExtension(header.Filename) {
		h.sendError(w, r, "only .csv files are accepted", http.StatusBadRequest)
		return
	}

	summary, err := h.ingestionService.IngestUpload(ctx, file, header.Filename, h.aliasTables)
	if err != nil {
		var malformed *models.MalformedInputError
		if errors.As(err, &malformed) {
			h.sendError(w, r, malformed.Error(), http.StatusBadRequest)
			return
		}

		h.logger.Error(ctx, "[API_UPLOAD_ERROR] Ingestion failed", logging.Fields{
			"filename": header.Filename,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/rakes/upload")
		h.sendError(w, r, "failed to ingest file", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/rakes/upload", "POST", "200")
	h.sendJSON(w, summary, http.StatusOK)
}

// GetRakes handles GET /api/rakes
func (h *RakeHandler) GetRakes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/rakes").Observe(time.Since(startTime).Seconds())
	}()

	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	filter := filterFromQuery(r)

	if v := r.URL.Query().Get("start_date"); v != "" {
		start, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.sendError(w, r, "invalid start_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.Since = &start
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		end, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.sendError(w, r, "invalid end_date format, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.Until = &end
	}

	rakes, total, err := h.rakeService.GetRakes(ctx, filter, limit, offset)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_RAKES_ERROR] Failed to get rakes", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/rakes")
		h.sendError(w, r, "failed to retrieve records", http.StatusInternalServerError)
		return
	}

	response := PaginatedResponse{
		Data:       rakes,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}

	h.metrics.RecordAPIRequest("/api/rakes", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// FilterOptions handles GET /api/rakes/filters
func (h *RakeHandler) FilterOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts, err := h.rakeService.FilterOptions(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_FILTERS_ERROR] Failed to load filter options", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/rakes/filters")
		h.sendError(w, r, "failed to load filter options", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/rakes/filters", "GET", "200")
	h.sendJSON(w, opts, http.StatusOK)
}

// GetAnalytics handles GET /api/analytics
func (h *RakeHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/analytics").Observe(time.Since(startTime).Seconds())
	}()

	result, err := h.analyticsService.Query(ctx, analyticsParams(r))
	if err != nil {
		h.respondAnalyticsError(w, r, "/api/analytics", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics", "GET", "200")
	h.sendJSON(w, result, http.StatusOK)
}

// GetBestWindow handles GET /api/analytics/best-window
func (h *RakeHandler) GetBestWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	best, err := h.analyticsService.BestWindow(ctx, analyticsParams(r))
	if err != nil {
		h.respondAnalyticsError(w, r, "/api/analytics/best-window", err)
		return
	}
	if best == nil {
		h.sendError(w, r, "no records in the lookback window", http.StatusNotFound)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/best-window", "GET", "200")
	h.sendJSON(w, best, http.StatusOK)
}

// ExportAnalytics handles GET /api/analytics/export, streaming the
// aggregate result as a CSV attachment.
func (h *RakeHandler) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := analyticsParams(r)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_analysis_%s.csv", params.Granularity, params.Destination))

	if err := h.analyticsService.ExportCSV(ctx, w, params); err != nil {
		// Headers may already be out; log and surface what we can.
		h.logger.Error(ctx, "[API_EXPORT_ERROR] Export failed", logging.Fields{
			"destination": params.Destination,
			"granularity": params.Granularity,
		}, err)
		h.metrics.RecordAPIError("export_error", "/api/analytics/export")
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/export", "GET", "200")
}

// GetBreakdown handles GET /api/analytics/breakdown
func (h *RakeHandler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dimension := r.URL.Query().Get("dimension")
	rows, err := h.analyticsService.Breakdown(ctx, dimension, filterFromQuery(r))
	if err != nil {
		h.respondAnalyticsError(w, r, "/api/analytics/breakdown", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/breakdown", "GET", "200")
	h.sendJSON(w, rows, http.StatusOK)
}

// GetBottlenecks handles GET /api/analytics/bottlenecks
func (h *RakeHandler) GetBottlenecks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	routes, err := h.analyticsService.Bottlenecks(ctx)
	if err != nil {
		h.respondAnalyticsError(w, r, "/api/analytics/bottlenecks", err)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/bottlenecks", "GET", "200")
	h.sendJSON(w, routes, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *RakeHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// respondAnalyticsError maps typed query errors to 400 and everything
// else to 500.
func (h *RakeHandler) respondAnalyticsError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var queryErr *models.QueryError
	if errors.As(err, &queryErr) {
		h.sendError(w, r, queryErr.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Error(r.Context(), "[API_ANALYTICS_ERROR] Analytics query failed", logging.Fields{
		"endpoint": endpoint,
	}, err)
	h.metrics.RecordAPIError("internal_error", endpoint)
	h.sendError(w, r, "failed to compute analytics", http.StatusInternalServerError)
}

func analyticsParams(r *http.Request) services.QueryParams {
	q := r.URL.Query()
	params := services.QueryParams{
		Destination: q.Get("destination"),
		Origin:      q.Get("origin"),
		Commodity:   q.Get("commodity"),
		RakeType:    q.Get("rake_type"),
		Granularity: q.Get("granularity"),
	}
	if params.Granularity == "" {
		params.Granularity = "daily"
	}
	if groups, ok := q["group_by"]; ok {
		params.GroupBy = groups
	}
	return params
}

func filterFromQuery(r *http.Request) repository.RecordFilter {
	q := r.URL.Query()
	filter := repository.RecordFilter{}

	if v := q.Get("destination"); v != "" {
		filter.SttnTo = &v
	}
	if v := q.Get("origin"); v != "" {
		filter.SttnFrom = &v
	}
	if v := q.Get("commodity"); v != "" {
		filter.Cmdt = &v
	}
	if v := q.Get("rake_type"); v != "" {
		filter.RakeType = &v
	}

	return filter
}

func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = 100

	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	return page, limit
}

func hasCSVExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// sendJSON sends a JSON response
func (h *RakeHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *RakeHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}
