package analytics

import (
	"fmt"
	"math"
	"time"

	"rake-analytics/internal/models"
)

// Granularity selects the bucket width for time-series aggregation.
type Granularity string

const (
	Daily       Granularity = "daily"
	Weekly      Granularity = "weekly"
	Fortnightly Granularity = "fortnightly"
	Monthly     Granularity = "monthly"
)

// periodEpoch anchors week and fortnight boundaries to a fixed Monday so
// bucket edges are stable across queries regardless of the filtered window.
var periodEpoch = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// granularitySpec drives all per-granularity behavior from one table
// instead of four parallel code paths.
type granularitySpec struct {
	periodDays   int // 0 means calendar month
	lookbackDays int
	bucketStart  func(t time.Time) time.Time
	label        func(start time.Time) string
}

var granularities = map[Granularity]granularitySpec{
	Daily: {
		periodDays:   1,
		lookbackDays: 30,
		bucketStart:  startOfDay,
		label: func(start time.Time) string {
			return start.Format("2006-01-02")
		},
	},
	Weekly: {
		periodDays:   7,
		lookbackDays: 90,
		bucketStart:  func(t time.Time) time.Time { return periodStart(t, 7) },
		label:        rangeLabel(7),
	},
	Fortnightly: {
		periodDays:   14,
		lookbackDays: 120,
		bucketStart:  func(t time.Time) time.Time { return periodStart(t, 14) },
		label:        rangeLabel(14),
	},
	Monthly: {
		periodDays:   0,
		lookbackDays: 365,
		bucketStart: func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		},
		label: func(start time.Time) string {
			return start.Format("2006-01")
		},
	},
}

// ParseGranularity validates a granularity string from the query layer.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if _, ok := granularities[g]; !ok {
		return "", &models.QueryError{
			Param:   "granularity",
			Value:   s,
			Message: "expected one of daily, weekly, fortnightly, monthly",
		}
	}
	return g, nil
}

// LookbackDays returns the default query window for this granularity.
func (g Granularity) LookbackDays() int {
	return granularities[g].lookbackDays
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// periodStart floors a timestamp onto an N-day grid anchored at periodEpoch.
func periodStart(t time.Time, days int) time.Time {
	elapsed := startOfDay(t).Sub(periodEpoch)
	period := time.Duration(days) * 24 * time.Hour
	n := math.Floor(float64(elapsed) / float64(period))
	return periodEpoch.Add(time.Duration(n) * period)
}

// rangeLabel renders an inclusive start-end date range for fixed-width buckets.
func rangeLabel(days int) func(start time.Time) string {
	return func(start time.Time) string {
		end := start.AddDate(0, 0, days-1)
		return fmt.Sprintf("%s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
}

// Dimension is a grouping key for aggregation.
type Dimension string

const (
	DimOrigin      Dimension = "origin"
	DimDestination Dimension = "destination"
	DimCommodity   Dimension = "commodity"
	DimRakeType    Dimension = "rake_type"
)

// ParseDimension validates a grouping key from the query layer.
func ParseDimension(s string) (Dimension, error) {
	switch Dimension(s) {
	case DimOrigin, DimDestination, DimCommodity, DimRakeType:
		return Dimension(s), nil
	}
	return "", &models.QueryError{
		Param:   "group_by",
		Value:   s,
		Message: "expected one of origin, destination, commodity, rake_type",
	}
}

func dimensionValue(r *models.Rake, d Dimension) string {
	switch d {
	case DimOrigin:
		return r.SttnFrom
	case DimDestination:
		return r.SttnTo
	case DimCommodity:
		return r.Cmdt
	case DimRakeType:
		return r.RakeType
	}
	return ""
}
