package analytics

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteCSV serializes bucketed aggregates as delimited text with a
// deterministic column order: one column per grouping dimension, then
// bucket label, mean (rounded to 2 decimals), and count.
func WriteCSV(w io.Writer, groupBy []Dimension, buckets []BucketAggregate) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(groupBy)+3)
	for _, d := range groupBy {
		header = append(header, string(d))
	}
	header = append(header, "bucket", "mean_transit_hrs", "count")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, b := range buckets {
		row := make([]string, 0, len(header))
		row = append(row, b.Groups...)
		row = append(row,
			b.Label,
			strconv.FormatFloat(Round2(b.MeanTransitHrs), 'f', 2, 64),
			strconv.Itoa(b.Count),
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
