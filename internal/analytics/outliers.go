package analytics

import (
	"math"
	"sort"

	"rake-analytics/internal/models"
)

// OutlierBounds are the IQR fences computed over one comparison set.
type OutlierBounds struct {
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
	IQR   float64 `json:"iqr"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Outlier is a record flagged as statistically anomalous within its
// comparison set.
type Outlier struct {
	models.Rake
	Deviation string `json:"deviation"` // "above_upper_bound" or "below_lower_bound"
}

// Outliers flags records whose transit time falls outside the 1.5×IQR
// fences of the given set. The bounds belong to this set alone; callers
// must not reuse them across differently filtered populations. Outliers
// are returned sorted descending by transit hours.
func Outliers(records []models.Rake) ([]Outlier, OutlierBounds) {
	if len(records) == 0 {
		return nil, OutlierBounds{}
	}

	values := make([]float64, len(records))
	for i := range records {
		values[i] = records[i].TransitTimeHrs
	}
	sort.Float64s(values)

	bounds := OutlierBounds{
		Q1: quantile(values, 0.25),
		Q3: quantile(values, 0.75),
	}
	bounds.IQR = bounds.Q3 - bounds.Q1
	bounds.Lower = bounds.Q1 - 1.5*bounds.IQR
	bounds.Upper = bounds.Q3 + 1.5*bounds.IQR

	var out []Outlier
	for i := range records {
		switch {
		case records[i].TransitTimeHrs > bounds.Upper:
			out = append(out, Outlier{Rake: records[i], Deviation: "above_upper_bound"})
		case records[i].TransitTimeHrs < bounds.Lower:
			out = append(out, Outlier{Rake: records[i], Deviation: "below_lower_bound"})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TransitTimeHrs > out[j].TransitTimeHrs
	})

	return out, bounds
}

// quantile computes the p-th quantile of sorted values using linear
// interpolation between closest ranks.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}

	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
