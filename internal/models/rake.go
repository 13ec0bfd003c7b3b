package models

import (
	"fmt"
	"time"
)

// RawRow represents one parsed CSV line keyed by canonical header name.
// No invariants hold at this point; fields may be missing or malformed.
type RawRow map[string]string

// Rake represents a single cleaned shipment event between two stations.
// NULL-able columns represented as pointers.
type Rake struct {
	ID             int64      `json:"id" db:"id"`
	SrNo           string     `json:"sr_no" db:"sr_no"`
	ReceivedTime   time.Time  `json:"received_time" db:"received_time"`
	DispatchedTime *time.Time `json:"dispatched_time,omitempty" db:"dispatched_time"`
	TransitTime    string     `json:"transit_time" db:"transit_time"`
	TransitTimeHrs float64    `json:"transit_time_hrs" db:"transit_time_hrs"`
	SttnFrom       string     `json:"sttn_from" db:"sttn_from"`
	SttnTo         string     `json:"sttn_to" db:"sttn_to"`
	Cmdt           string     `json:"cmdt" db:"cmdt"`
	RakeType       string     `json:"rake_type" db:"rake_type"`
	TotlUnts       *int       `json:"totl_unts,omitempty" db:"totl_unts"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// NaturalKey returns the six-field dedup key as a printable string.
// Two rakes with equal keys describe the same shipment event.
func (r *Rake) NaturalKey() string {
	dispatched := "null"
	if r.DispatchedTime != nil {
		dispatched = r.DispatchedTime.Format("2006-01-02T15:04")
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		r.ReceivedTime.Format("2006-01-02T15:04"),
		r.SttnFrom,
		r.SttnTo,
		r.Cmdt,
		r.RakeType,
		dispatched,
	)
}

// IngestionSummary is the user-visible result of one upload.
type IngestionSummary struct {
	TotalRows int `json:"total_rows"`
	Dropped   int `json:"dropped"`
	Inserted  int `json:"inserted"`
	Skipped   int `json:"skipped"`
}

// ValidationError represents a row-level data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// MalformedInputError rejects a whole batch before any row processing,
// e.g. when required columns are missing from the upload.
type MalformedInputError struct {
	MissingColumns []string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("input is missing required columns: %v", e.MissingColumns)
}

func (e *MalformedInputError) IsTransient() bool {
	return false
}

// QueryError represents an invalid analytics query parameter.
type QueryError struct {
	Param   string
	Value   string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Message)
}

func (e *QueryError) IsTransient() bool {
	return false
}
