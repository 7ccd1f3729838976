package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"babylog/backend/internal/report"
)

var (
	dateLayouts  = []string{"2006-01-02", "2006-01-02 15:04:05", "2.1.2006", "1/2/2006"}
	clockLayouts = []string{"15:04:05", "15:04", "3:04 PM", "3:04:05 PM"}
)

// sleepRow is one imported phase with the spreadsheet row it came from.
type sleepRow struct {
	Line  int
	Start time.Time
	End   time.Time
}

// skippedRow records a line that had no start or end time.
type skippedRow struct {
	Line   int
	Reason string
}

// parseRows reads date, start and end columns. An empty date repeats the last
// date seen; an end before the start belongs to the next day. Cells are raw
// values, so dates and times may be Excel serial numbers or text.
func parseRows(rows [][]string, loc *time.Location, skipHeader bool) ([]sleepRow, []skippedRow, error) {
	var (
		phases   []sleepRow
		skipped  []skippedRow
		lastDate *time.Time
	)
	for idx, cells := range rows {
		line := idx + 1
		if skipHeader && idx == 0 {
			continue
		}
		dateCell, startCell, endCell := cell(cells, 0), cell(cells, 1), cell(cells, 2)
		if dateCell == "" && startCell == "" && endCell == "" {
			continue
		}
		if dateCell != "" {
			date, err := parseDateCell(dateCell)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
			lastDate = &date
		}
		if startCell == "" || endCell == "" {
			skipped = append(skipped, skippedRow{Line: line, Reason: "missing start or end"})
			continue
		}
		if lastDate == nil {
			return nil, nil, fmt.Errorf("line %d: no date before the first phase", line)
		}
		startClock, err := parseClockCell(startCell)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: start: %w", line, err)
		}
		endClock, err := parseClockCell(endCell)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: end: %w", line, err)
		}

		start := atClock(*lastDate, startClock, loc)
		end := atClock(*lastDate, endClock, loc)
		if end.Before(start) {
			end = atClock(lastDate.AddDate(0, 0, 1), endClock, loc)
		}
		if err := report.Interval(start, end).Validate(); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		phases = append(phases, sleepRow{Line: line, Start: start, End: end})
	}
	return phases, skipped, nil
}

func cell(cells []string, idx int) string {
	if idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

// parseDateCell returns the calendar date as midnight UTC.
func parseDateCell(raw string) (time.Time, error) {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(math.Floor(serial), false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

// parseClockCell returns the time of day as an offset from midnight, rounded
// to the second.
func parseClockCell(raw string) (time.Duration, error) {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		fraction := serial - math.Floor(serial)
		return time.Duration(math.Round(fraction*86400)) * time.Second, nil
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time %q", raw)
}

func atClock(date time.Time, clock time.Duration, loc *time.Location) time.Time {
	seconds := int(clock / time.Second)
	return time.Date(date.Year(), date.Month(), date.Day(), seconds/3600, seconds%3600/60, seconds%60, 0, loc)
}
