package normalizer

import (
	"testing"
	"time"

	"rake-analytics/internal/aliases"
	"rake-analytics/internal/models"
)

func TestCanonicalizeHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"spaces and period", "Sr No.", "sr_no"},
		{"already canonical", "sr_no", "sr_no"},
		{"mixed case", "Received Time", "received_time"},
		{"leading and trailing spaces", "  TRANSIT TIME  ", "transit_time"},
		{"periods removed", "Totl. Unts.", "totl_unts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalizeHeader(tt.in); got != tt.want {
				t.Errorf("CanonicalizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildRows_MissingColumns(t *testing.T) {
	headers := []string{"Sr No.", "Received Time", "Sttn From"}
	_, err := BuildRows(headers, [][]string{{"1", "01-01-2024 10:00", "ABC"}})

	if err == nil {
		t.Fatal("BuildRows() expected error for missing columns, got nil")
	}
	if _, ok := err.(*models.MalformedInputError); !ok {
		t.Errorf("BuildRows() error = %T, want *models.MalformedInputError", err)
	}
}

func TestBuildRows_VariantHeaders(t *testing.T) {
	headers := []string{
		"Sr No.", "Received Time", "Dispatched Time", "Transit Time",
		"Sttn From", "Sttn To", "CMDT", "Totl Unts", "Rake Type",
	}
	records := [][]string{
		{"1", "05-01-2024 10:00", "05-01-2024 15:30", "5:30", "KJR", "BSCS", "IORE", "58", "BOXN"},
	}

	rows, err := BuildRows(headers, records)
	if err != nil {
		t.Fatalf("BuildRows() unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("BuildRows() returned %d rows, want 1", len(rows))
	}
	if rows[0]["sr_no"] != "1" {
		t.Errorf("sr_no = %q, want %q", rows[0]["sr_no"], "1")
	}
	if rows[0]["sttn_to"] != "BSCS" {
		t.Errorf("sttn_to = %q, want %q", rows[0]["sttn_to"], "BSCS")
	}
}

func row(overrides map[string]string) models.RawRow {
	r := models.RawRow{
		"sr_no":           "1",
		"received_time":   "05-01-2024 10:00",
		"dispatched_time": "05-01-2024 15:30",
		"transit_time":    "5:30",
		"sttn_from":       "KJR",
		"sttn_to":         "BSCS",
		"cmdt":            "IORE",
		"totl_unts":       "58",
		"rake_type":       "BOXN",
	}
	for k, v := range overrides {
		r[k] = v
	}
	return r
}

func TestNormalize_TransitHours(t *testing.T) {
	tests := []struct {
		name    string
		transit string
		want    float64
		dropped bool
	}{
		{"five thirty", "5:30", 5.5, false},
		{"five forty-five", "5:45", 5.75, false},
		{"with seconds ignored", "7:30:15", 7.5, false},
		{"zero minutes", "12:00", 12.0, false},
		{"rounded to 2dp", "3:20", 3.33, false},
		{"not a duration", "abc", 0, true},
		{"no colon", "530", 0, true},
		{"empty", "", 0, true},
		{"bad minutes", "5:xx", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rakes, report := Normalize([]models.RawRow{row(map[string]string{"transit_time": tt.transit})}, aliases.Default())

			if tt.dropped {
				if len(rakes) != 0 {
					t.Fatalf("Normalize() kept row with transit %q, want dropped", tt.transit)
				}
				if report.BadTransitTime != 1 {
					t.Errorf("BadTransitTime = %d, want 1", report.BadTransitTime)
				}
				return
			}

			if len(rakes) != 1 {
				t.Fatalf("Normalize() dropped row with transit %q, want kept", tt.transit)
			}
			if rakes[0].TransitTimeHrs != tt.want {
				t.Errorf("TransitTimeHrs = %v, want %v", rakes[0].TransitTimeHrs, tt.want)
			}
		})
	}
}

func TestNormalize_DestinationCollapse(t *testing.T) {
	// Every raw allow-listed code must land on its documented canonical
	// site; IISD/BCME and HSPG/NHSB intentionally collapse pairwise.
	pairs := map[string]string{
		"BSCS": "BSL",
		"BSPC": "BSP",
		"DSEY": "DSP",
		"IISD": "ISP",
		"BCME": "ISP",
		"HSPG": "RSP",
		"NHSB": "RSP",
	}

	for raw, canonical := range pairs {
		t.Run(raw, func(t *testing.T) {
			rakes, _ := Normalize([]models.RawRow{row(map[string]string{"sttn_to": raw})}, aliases.Default())
			if len(rakes) != 1 {
				t.Fatalf("Normalize() dropped allow-listed destination %q", raw)
			}
			if rakes[0].SttnTo != canonical {
				t.Errorf("SttnTo = %q, want %q", rakes[0].SttnTo, canonical)
			}
		})
	}
}

func TestNormalize_UnknownDestinationDropped(t *testing.T) {
	rakes, report := Normalize([]models.RawRow{
		row(map[string]string{"sttn_to": "XXXX"}),
		row(nil),
	}, aliases.Default())

	if len(rakes) != 1 {
		t.Fatalf("Normalize() returned %d rows, want 1", len(rakes))
	}
	if report.UnknownDestination != 1 {
		t.Errorf("UnknownDestination = %d, want 1", report.UnknownDestination)
	}
}

func TestNormalize_Timestamps(t *testing.T) {
	t.Run("bad received time drops row", func(t *testing.T) {
		rakes, report := Normalize([]models.RawRow{row(map[string]string{"received_time": "2024-01-05 10:00"})}, aliases.Default())
		if len(rakes) != 0 {
			t.Fatal("Normalize() kept row with unparseable received_time")
		}
		if report.BadReceivedTime != 1 {
			t.Errorf("BadReceivedTime = %d, want 1", report.BadReceivedTime)
		}
	})

	t.Run("bad dispatched time becomes null, row kept", func(t *testing.T) {
		rakes, _ := Normalize([]models.RawRow{row(map[string]string{"dispatched_time": "garbage"})}, aliases.Default())
		if len(rakes) != 1 {
			t.Fatal("Normalize() dropped row with unparseable dispatched_time")
		}
		if rakes[0].DispatchedTime != nil {
			t.Errorf("DispatchedTime = %v, want nil", rakes[0].DispatchedTime)
		}
	})

	t.Run("valid timestamps parsed as DD-MM-YYYY HH:MM", func(t *testing.T) {
		rakes, _ := Normalize([]models.RawRow{row(nil)}, aliases.Default())
		if len(rakes) != 1 {
			t.Fatal("Normalize() dropped valid row")
		}

		wantReceived := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
		if !rakes[0].ReceivedTime.Equal(wantReceived) {
			t.Errorf("ReceivedTime = %v, want %v", rakes[0].ReceivedTime, wantReceived)
		}
		if rakes[0].DispatchedTime == nil {
			t.Fatal("DispatchedTime should not be nil")
		}
		wantDispatched := time.Date(2024, 1, 5, 15, 30, 0, 0, time.UTC)
		if !rakes[0].DispatchedTime.Equal(wantDispatched) {
			t.Errorf("DispatchedTime = %v, want %v", *rakes[0].DispatchedTime, wantDispatched)
		}
	})
}

func TestNormalize_UnitCount(t *testing.T) {
	tests := []struct {
		name  string
		units string
		want  *int
	}{
		{"plain number", "58", intPtr(58)},
		{"prefix before plus", "58+2", intPtr(58)},
		{"spaces around prefix", " 60 +1", intPtr(60)},
		{"unparseable becomes null", "abc", nil},
		{"empty becomes null", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rakes, _ := Normalize([]models.RawRow{row(map[string]string{"totl_unts": tt.units})}, aliases.Default())
			if len(rakes) != 1 {
				t.Fatalf("Normalize() dropped row with units %q; unit parsing must not drop rows", tt.units)
			}

			got := rakes[0].TotlUnts
			if tt.want == nil {
				if got != nil {
					t.Errorf("TotlUnts = %d, want nil", *got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("TotlUnts = %v, want %d", got, *tt.want)
			}
		})
	}
}

func TestNormalize_AliasTables(t *testing.T) {
	tables := aliases.Default()
	tables.Stations["KJRD"] = "KJR"

	rakes, _ := Normalize([]models.RawRow{
		row(map[string]string{"cmdt": "IOST"}),
		row(map[string]string{"sttn_from": "KJRD"}),
		row(map[string]string{"cmdt": "COAL", "sttn_from": "UNKNOWN"}),
	}, tables)

	if len(rakes) != 3 {
		t.Fatalf("Normalize() returned %d rows, want 3", len(rakes))
	}
	if rakes[0].Cmdt != "IORE" {
		t.Errorf("Cmdt = %q, want IORE (IOST alias)", rakes[0].Cmdt)
	}
	if rakes[1].SttnFrom != "KJR" {
		t.Errorf("SttnFrom = %q, want KJR (station alias)", rakes[1].SttnFrom)
	}
	// Absent mappings pass raw codes through unchanged.
	if rakes[2].Cmdt != "COAL" {
		t.Errorf("Cmdt = %q, want COAL", rakes[2].Cmdt)
	}
	if rakes[2].SttnFrom != "UNKNOWN" {
		t.Errorf("SttnFrom = %q, want UNKNOWN", rakes[2].SttnFrom)
	}
}

func TestNormalize_ReportCounts(t *testing.T) {
	rakes, report := Normalize([]models.RawRow{
		row(nil),
		row(map[string]string{"sttn_to": "ZZZZ"}),
		row(map[string]string{"received_time": "bad"}),
		row(map[string]string{"transit_time": "bad"}),
	}, aliases.Default())

	if report.TotalRows != 4 {
		t.Errorf("TotalRows = %d, want 4", report.TotalRows)
	}
	if report.Normalized != 1 || len(rakes) != 1 {
		t.Errorf("Normalized = %d (rows %d), want 1", report.Normalized, len(rakes))
	}
	if report.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", report.Dropped())
	}
}

func intPtr(v int) *int { return &v }
