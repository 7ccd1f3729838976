package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseRows(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	local := func(year int, month time.Month, day, hour, minute int) time.Time {
		return time.Date(year, month, day, hour, minute, 0, 0, berlin)
	}

	cases := []struct {
		name       string
		rows       [][]string
		skipHeader bool
		want       []sleepRow
		skipped    []skippedRow
	}{
		{
			name: "serial values roll the end past midnight",
			rows: [][]string{
				{"45292", "0.9375", "0.0625"},
			},
			want: []sleepRow{
				{Line: 1, Start: local(2024, 1, 1, 22, 30), End: local(2024, 1, 2, 1, 30)},
			},
		},
		{
			name: "empty date carries the last one forward",
			rows: [][]string{
				{"2024-01-01", "13:00", "14:15"},
				{"", "19:45", "23:00"},
				{"2024-01-02", "08:00", "09:00"},
			},
			want: []sleepRow{
				{Line: 1, Start: local(2024, 1, 1, 13, 0), End: local(2024, 1, 1, 14, 15)},
				{Line: 2, Start: local(2024, 1, 1, 19, 45), End: local(2024, 1, 1, 23, 0)},
				{Line: 3, Start: local(2024, 1, 2, 8, 0), End: local(2024, 1, 2, 9, 0)},
			},
		},
		{
			name: "rows without start or end are skipped but still set the date",
			rows: [][]string{
				{"3.1.2024", "10:00", ""},
				{"", "", "11:00"},
				{"", "12:00", "12:30"},
				{"", "", ""},
			},
			want: []sleepRow{
				{Line: 3, Start: local(2024, 1, 3, 12, 0), End: local(2024, 1, 3, 12, 30)},
			},
			skipped: []skippedRow{
				{Line: 1, Reason: "missing start or end"},
				{Line: 2, Reason: "missing start or end"},
			},
		},
		{
			name:       "header row",
			skipHeader: true,
			rows: [][]string{
				{"Date", "Start", "End"},
				{"2024-01-04", "7:05 PM", "6:10"},
			},
			want: []sleepRow{
				{Line: 2, Start: local(2024, 1, 4, 19, 5), End: local(2024, 1, 5, 6, 10)},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, skipped, err := parseRows(tc.rows, berlin, tc.skipHeader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("phases mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.skipped, skipped); diff != "" {
				t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRowsRejectsBadInput(t *testing.T) {
	cases := map[string][][]string{
		"phase before any date": {{"", "10:00", "11:00"}},
		"unparsable date":       {{"someday", "10:00", "11:00"}},
		"unparsable start":      {{"2024-01-01", "ten", "11:00"}},
		"unparsable end":        {{"2024-01-01", "10:00", "25:99"}},
		"header not skipped":    {{"Date", "Start", "End"}},
	}
	for name, rows := range cases {
		if _, _, err := parseRows(rows, time.UTC, false); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestParseClockCellRoundsSerials(t *testing.T) {
	// 45292.5 is noon on 2024-01-01; the date part is ignored
	got, err := parseClockCell("45292.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12*time.Hour {
		t.Fatalf("expected 12h, got %s", got)
	}
	got, err = parseClockCell("0.0006944444")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != time.Minute {
		t.Fatalf("expected 1m, got %s", got)
	}
}
