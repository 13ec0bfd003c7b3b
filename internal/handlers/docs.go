package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the Rake Analytics API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Rake Analytics API",
			"description": "Shipment log ingestion with deduplication and time-bucketed transit-time analytics",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/rakes/upload": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Upload a CSV shipment log",
					"description": "Cleans, normalizes, and persists rows with dedup on the natural key; responds with inserted/skipped/dropped counts",
					"requestBody": map[string]interface{}{
						"content": map[string]interface{}{
							"multipart/form-data": map[string]interface{}{
								"schema": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"file": map[string]string{"type": "string", "format": "binary"},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Ingestion summary"},
						"400": map[string]string{"description": "Missing required columns or not a CSV"},
					},
				},
			},
			"/api/rakes": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "List stored shipment records",
					"parameters": []map[string]interface{}{
						queryParam("destination", "Canonical destination code"),
						queryParam("origin", "Origin station code"),
						queryParam("commodity", "Canonical commodity code"),
						queryParam("rake_type", "Rake type"),
						queryParam("start_date", "Received from (YYYY-MM-DD)"),
						queryParam("end_date", "Received until (YYYY-MM-DD)"),
						queryParam("page", "Page number, default 1"),
						queryParam("limit", "Page size, default 100, max 1000"),
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Paginated records"},
					},
				},
			},
			"/api/rakes/filters": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Distinct dimension values for filter dropdowns",
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Origins, destinations, commodities, rake types"},
					},
				},
			},
			"/api/analytics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Time-bucketed transit-time analytics",
					"description": "Mean transit hours and record count per bucket, plus IQR outliers for the same scope",
					"parameters": []map[string]interface{}{
						requiredQueryParam("destination", "Canonical destination code"),
						queryParam("granularity", "daily, weekly, fortnightly, or monthly (default daily)"),
						queryParam("origin", "Origin station code"),
						queryParam("commodity", "Canonical commodity code"),
						queryParam("rake_type", "Rake type"),
						queryParam("group_by", "Grouping dimension, repeatable: origin, destination, commodity, rake_type"),
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Buckets, outliers, bounds, total record count"},
						"400": map[string]string{"description": "Invalid granularity, grouping key, or missing destination"},
					},
				},
			},
			"/api/analytics/best-window": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Lowest-mean bucket within the lookback window",
					"parameters": []map[string]interface{}{
						requiredQueryParam("destination", "Canonical destination code"),
						queryParam("granularity", "daily, weekly, fortnightly, or monthly"),
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Best bucket"},
						"404": map[string]string{"description": "No records in the lookback window"},
					},
				},
			},
			"/api/analytics/export": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Aggregate result as a CSV attachment",
					"parameters": []map[string]interface{}{
						requiredQueryParam("destination", "Canonical destination code"),
						queryParam("granularity", "daily, weekly, fortnightly, or monthly"),
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "CSV download"},
					},
				},
			},
			"/api/analytics/breakdown": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Mean transit time per value of one dimension",
					"parameters": []map[string]interface{}{
						requiredQueryParam("dimension", "origin, destination, commodity, or rake_type"),
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Per-value means and counts"},
					},
				},
			},
			"/api/analytics/bottlenecks": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Ten slowest origin-destination routes by mean transit time",
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Ranked routes"},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Service health check",
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Healthy"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}

func queryParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      map[string]string{"type": "string"},
	}
}

func requiredQueryParam(name, description string) map[string]interface{} {
	p := queryParam(name, description)
	p["required"] = true
	return p
}
