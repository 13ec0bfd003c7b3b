package normalizer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"rake-analytics/internal/aliases"
	"rake-analytics/internal/models"
)

// timestampLayout is the fixed DD-MM-YYYY HH:MM format used by the
// upstream shipment logs.
const timestampLayout = "02-01-2006 15:04"

// Canonical column names after header cleanup.
const (
	colSrNo           = "sr_no"
	colReceivedTime   = "received_time"
	colDispatchedTime = "dispatched_time"
	colTransitTime    = "transit_time"
	colSttnFrom       = "sttn_from"
	colSttnTo         = "sttn_to"
	colCmdt           = "cmdt"
	colTotlUnts       = "totl_unts"
	colRakeType       = "rake_type"
)

// RequiredColumns lists every canonical column an upload must carry.
// A batch missing any of them is rejected before row processing.
var RequiredColumns = []string{
	colSrNo, colReceivedTime, colDispatchedTime,
	colTransitTime, colSttnFrom, colSttnTo,
	colCmdt, colTotlUnts, colRakeType,
}

// destinationCanonical is both the allow-list and the collapse table for
// destination stations: exactly these seven raw codes are accepted, and
// they collapse onto four canonical sites. IISD/BCME both feed ISP and
// HSPG/NHSB both feed RSP; that many-to-one mapping is intentional.
var destinationCanonical = map[string]string{
	"BSCS": "BSL",
	"BSPC": "BSP",
	"DSEY": "DSP",
	"IISD": "ISP",
	"BCME": "ISP",
	"HSPG": "RSP",
	"NHSB": "RSP",
}

// Report carries per-batch drop counts by reason.
type Report struct {
	TotalRows          int
	Normalized         int
	UnknownDestination int
	BadReceivedTime    int
	BadTransitTime     int
}

// Dropped returns the number of rows excluded from the output.
func (r *Report) Dropped() int {
	return r.UnknownDestination + r.BadReceivedTime + r.BadTransitTime
}

// CanonicalizeHeader cleans a raw column name: trim, lowercase, spaces
// to underscores, periods removed. "Sr No." and "sr_no" both map to "sr_no".
func CanonicalizeHeader(name string) string {
	h := strings.ToLower(strings.TrimSpace(name))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, ".", "")
	return h
}

// BuildRows pairs a header line with data records, producing RawRows keyed
// by canonical column name. Returns MalformedInputError when any required
// column is absent; this fails the whole batch by design of the contract.
func BuildRows(headers []string, records [][]string) ([]models.RawRow, error) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[CanonicalizeHeader(h)] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &models.MalformedInputError{MissingColumns: missing}
	}

	rows := make([]models.RawRow, 0, len(records))
	for _, rec := range records {
		row := make(models.RawRow, len(RequiredColumns))
		for _, col := range RequiredColumns {
			i := index[col]
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Normalize runs the cleaning pipeline over a batch of raw rows. Bad rows
// are counted and excluded, never returned as errors; the alias tables are
// an injected snapshot and are not modified.
func Normalize(rows []models.RawRow, tables aliases.Tables) ([]models.Rake, *Report) {
	report := &Report{TotalRows: len(rows)}
	rakes := make([]models.Rake, 0, len(rows))
	now := time.Now().UTC()

	for _, row := range rows {
		rawDest := strings.TrimSpace(row[colSttnTo])
		canonicalDest, ok := destinationCanonical[rawDest]
		if !ok {
			report.UnknownDestination++
			continue
		}

		received, receivedOK := parseTimestamp(row[colReceivedTime])
		if !receivedOK {
			report.BadReceivedTime++
			continue
		}

		transitHrs, transitOK := parseTransitHours(row[colTransitTime])
		if !transitOK {
			report.BadTransitTime++
			continue
		}

		rake := models.Rake{
			SrNo:           strings.TrimSpace(row[colSrNo]),
			ReceivedTime:   received,
			TransitTime:    strings.TrimSpace(row[colTransitTime]),
			TransitTimeHrs: transitHrs,
			SttnFrom:       tables.Station(strings.TrimSpace(row[colSttnFrom])),
			SttnTo:         canonicalDest,
			Cmdt:           tables.Commodity(strings.TrimSpace(row[colCmdt])),
			RakeType:       strings.TrimSpace(row[colRakeType]),
			CreatedAt:      now,
		}

		// Unparseable dispatch time stays NULL; the row is kept.
		if dispatched, ok := parseTimestamp(row[colDispatchedTime]); ok {
			rake.DispatchedTime = &dispatched
		}

		// Unparseable unit count stays NULL; the row is kept.
		if units, ok := parseUnits(row[colTotlUnts]); ok {
			rake.TotlUnts = &units
		}

		rakes = append(rakes, rake)
		report.Normalized++
	}

	return rakes, report
}

func parseTimestamp(value string) (time.Time, bool) {
	t, err := time.Parse(timestampLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseTransitHours converts an "H:MM" duration (extra colon parts, e.g.
// seconds, are ignored) into fractional hours rounded to 2 decimals.
func parseTransitHours(value string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 {
		return 0, false
	}

	hours, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, false
	}

	return round2(hours + minutes/60), true
}

// parseUnits takes the numeric prefix before a '+' separator, so "58+2"
// yields 58 and plain "58" yields 58.
func parseUnits(value string) (int, bool) {
	prefix := strings.TrimSpace(strings.SplitN(value, "+", 2)[0])
	if prefix == "" {
		return 0, false
	}

	f, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
