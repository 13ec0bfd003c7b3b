package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"rake-analytics/internal/models"
)

// BucketAggregate is one time bucket of a grouped aggregation. Mean values
// are kept at full precision here; rounding happens at presentation time so
// nested reductions (e.g. best-of-monthly) never compound rounding error.
type BucketAggregate struct {
	Start          time.Time `json:"bucket_start"`
	Label          string    `json:"bucket_label"`
	Groups         []string  `json:"groups,omitempty"`
	MeanTransitHrs float64   `json:"mean_transit_hrs"`
	Count          int       `json:"count"`
}

// Aggregate buckets records by granularity and the requested grouping
// dimensions, computing mean transit hours and record count per bucket.
// Buckets with no records are omitted. Output is sorted ascending by
// bucket start, then by group values.
func Aggregate(records []models.Rake, granularity Granularity, groupBy []Dimension) ([]BucketAggregate, error) {
	spec, ok := granularities[granularity]
	if !ok {
		return nil, &models.QueryError{
			Param:   "granularity",
			Value:   string(granularity),
			Message: "expected one of daily, weekly, fortnightly, monthly",
		}
	}
	for _, d := range groupBy {
		if _, err := ParseDimension(string(d)); err != nil {
			return nil, err
		}
	}

	type accumulator struct {
		start  time.Time
		groups []string
		sum    float64
		count  int
	}

	cells := make(map[string]*accumulator)
	for i := range records {
		r := &records[i]
		start := spec.bucketStart(r.ReceivedTime)

		groups := make([]string, len(groupBy))
		for j, d := range groupBy {
			groups[j] = dimensionValue(r, d)
		}

		key := start.Format(time.RFC3339) + "\x00" + strings.Join(groups, "\x00")
		cell, ok := cells[key]
		if !ok {
			cell = &accumulator{start: start, groups: groups}
			cells[key] = cell
		}
		cell.sum += r.TransitTimeHrs
		cell.count++
	}

	out := make([]BucketAggregate, 0, len(cells))
	for _, cell := range cells {
		out = append(out, BucketAggregate{
			Start:          cell.start,
			Label:          spec.label(cell.start),
			Groups:         cell.groups,
			MeanTransitHrs: cell.sum / float64(cell.count),
			Count:          cell.count,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return strings.Join(out[i].Groups, "\x00") < strings.Join(out[j].Groups, "\x00")
	})

	return out, nil
}

// LookbackWindow trims records to the granularity's lookback window. The
// window is anchored at the dataset's own max received time rather than
// the wall clock, so results are reproducible and the trailing partial
// day cannot skew the answer.
func LookbackWindow(records []models.Rake, granularity Granularity) ([]models.Rake, error) {
	spec, ok := granularities[granularity]
	if !ok {
		return nil, &models.QueryError{
			Param:   "granularity",
			Value:   string(granularity),
			Message: "expected one of daily, weekly, fortnightly, monthly",
		}
	}

	if len(records) == 0 {
		return nil, nil
	}

	anchor := records[0].ReceivedTime
	for i := range records {
		if records[i].ReceivedTime.After(anchor) {
			anchor = records[i].ReceivedTime
		}
	}
	cutoff := startOfDay(anchor).AddDate(0, 0, -spec.lookbackDays)

	windowed := make([]models.Rake, 0, len(records))
	for i := range records {
		if !records[i].ReceivedTime.Before(cutoff) {
			windowed = append(windowed, records[i])
		}
	}
	return windowed, nil
}

// BestWindow picks the non-empty bucket with the lowest mean transit time
// within the granularity's lookback window. Ties go to the earliest
// bucket. Returns nil when no records qualify.
func BestWindow(records []models.Rake, granularity Granularity) (*BucketAggregate, error) {
	windowed, err := LookbackWindow(records, granularity)
	if err != nil {
		return nil, err
	}
	if len(windowed) == 0 {
		return nil, nil
	}

	buckets, err := Aggregate(windowed, granularity, nil)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	best := buckets[0]
	for _, b := range buckets[1:] {
		if b.MeanTransitHrs < best.MeanTransitHrs {
			best = b
		}
	}
	return &best, nil
}

// DimensionAggregate is a non-bucketed rollup by a single dimension value.
type DimensionAggregate struct {
	Value          string  `json:"value"`
	MeanTransitHrs float64 `json:"mean_transit_hrs"`
	Count          int     `json:"count"`
}

// Breakdown computes mean transit time and count per value of one
// dimension, sorted ascending by value.
func Breakdown(records []models.Rake, dim Dimension) ([]DimensionAggregate, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i := range records {
		v := dimensionValue(&records[i], dim)
		sums[v] += records[i].TransitTimeHrs
		counts[v]++
	}

	out := make([]DimensionAggregate, 0, len(sums))
	for v, sum := range sums {
		out = append(out, DimensionAggregate{
			Value:          v,
			MeanTransitHrs: sum / float64(counts[v]),
			Count:          counts[v],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })

	return out, nil
}

// RouteAggregate is a rollup over an origin-destination pair.
type RouteAggregate struct {
	SttnFrom       string  `json:"sttn_from"`
	SttnTo         string  `json:"sttn_to"`
	MeanTransitHrs float64 `json:"mean_transit_hrs"`
	Count          int     `json:"count"`
}

// Bottlenecks ranks origin-destination routes by mean transit time,
// slowest first, returning at most topN routes.
func Bottlenecks(records []models.Rake, topN int) []RouteAggregate {
	type route struct{ from, to string }

	sums := make(map[route]float64)
	counts := make(map[route]int)
	for i := range records {
		k := route{records[i].SttnFrom, records[i].SttnTo}
		sums[k] += records[i].TransitTimeHrs
		counts[k]++
	}

	out := make([]RouteAggregate, 0, len(sums))
	for k, sum := range sums {
		out = append(out, RouteAggregate{
			SttnFrom:       k.from,
			SttnTo:         k.to,
			MeanTransitHrs: sum / float64(counts[k]),
			Count:          counts[k],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MeanTransitHrs != out[j].MeanTransitHrs {
			return out[i].MeanTransitHrs > out[j].MeanTransitHrs
		}
		if out[i].SttnFrom != out[j].SttnFrom {
			return out[i].SttnFrom < out[j].SttnFrom
		}
		return out[i].SttnTo < out[j].SttnTo
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Round2 rounds a mean for presentation. Aggregation itself keeps full
// precision.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
