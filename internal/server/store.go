package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"babylog/backend/internal/report"
)

var errInvalidDateRange = errors.New("invalid date range")

// dateRange bounds a query by local calendar days. From is inclusive, To is
// the exclusive midnight after the requested last day. Either may be nil.
type dateRange struct {
	From *time.Time
	To   *time.Time
}

func parseDateRange(fromRaw, toRaw string, loc *time.Location) (dateRange, error) {
	var rng dateRange
	if strings.TrimSpace(fromRaw) != "" {
		from, err := parseDate(fromRaw, loc)
		if err != nil {
			return dateRange{}, fmt.Errorf("%w: from must be YYYY-MM-DD", errInvalidDateRange)
		}
		rng.From = &from
	}
	if strings.TrimSpace(toRaw) != "" {
		to, err := parseDate(toRaw, loc)
		if err != nil {
			return dateRange{}, fmt.Errorf("%w: to must be YYYY-MM-DD", errInvalidDateRange)
		}
		end := time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, to.Location())
		rng.To = &end
	}
	if rng.From != nil && rng.To != nil && !rng.From.Before(*rng.To) {
		return dateRange{}, fmt.Errorf("%w: from must not be after to", errInvalidDateRange)
	}
	return rng, nil
}

// where appends the range conditions on column to a query whose previous
// placeholders are args.
func (r dateRange) where(column string, args []any) (string, []any) {
	var clause strings.Builder
	if r.From != nil {
		args = append(args, *r.From)
		fmt.Fprintf(&clause, " AND %s >= $%d", column, len(args))
	}
	if r.To != nil {
		args = append(args, *r.To)
		fmt.Fprintf(&clause, " AND %s < $%d", column, len(args))
	}
	return clause.String(), args
}

// containsDay reports whether the local date (YYYY-MM-DD) falls inside r.
func (r dateRange) containsDay(date string, loc *time.Location) bool {
	day, err := parseDate(date, loc)
	if err != nil {
		return false
	}
	if r.From != nil && day.Before(*r.From) {
		return false
	}
	if r.To != nil && !day.Before(*r.To) {
		return false
	}
	return true
}

// trimToRange drops merged days outside r, such as the day after the range
// that only holds a midnight carry.
func trimToRange(days []report.MergedDay, r dateRange, loc *time.Location) []report.MergedDay {
	if r.From == nil && r.To == nil {
		return days
	}
	kept := days[:0]
	for _, day := range days {
		if r.containsDay(day.Date, loc) {
			kept = append(kept, day)
		}
	}
	return kept
}

// requestLocation honours the tz query parameter, falling back to the
// configured zone.
func (a *App) requestLocation(c *gin.Context) (*time.Location, error) {
	raw := strings.TrimSpace(c.Query("tz"))
	if raw == "" {
		return a.loc, nil
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q", raw)
	}
	return loc, nil
}

type sleepPhase struct {
	ID      string
	StartAt time.Time
	EndAt   *time.Time
}

func (p sleepPhase) record() report.Record {
	return report.FromNullableEnd(p.StartAt, p.EndAt)
}

func listSleepPhases(ctx context.Context, q dbQuerier, childID string, rng dateRange) ([]sleepPhase, error) {
	args := []any{childID}
	clause, args := rng.where("start_at", args)
	rows, err := q.Query(
		ctx,
		`SELECT id::text, start_at, end_at
		 FROM sleep_phases
		 WHERE child_id = $1`+clause+`
		 ORDER BY start_at ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phases := make([]sleepPhase, 0)
	for rows.Next() {
		var phase sleepPhase
		if err := rows.Scan(&phase.ID, &phase.StartAt, &phase.EndAt); err != nil {
			return nil, err
		}
		phases = append(phases, phase)
	}
	return phases, rows.Err()
}

func sleepRecords(phases []sleepPhase) []report.Record {
	records := make([]report.Record, 0, len(phases))
	for _, phase := range phases {
		records = append(records, phase.record())
	}
	return records
}

// instant tables share the at column; names are never taken from user input.
const (
	tableMeals   = "meals"
	tableDiapers = "diapers"
	tableEvents  = "events"
	tableDiary   = "diary_entries"
)

func listInstantRecords(ctx context.Context, q dbQuerier, table, childID string, rng dateRange) ([]report.Record, error) {
	args := []any{childID}
	clause, args := rng.where("at", args)
	rows, err := q.Query(
		ctx,
		`SELECT at FROM `+table+`
		 WHERE child_id = $1`+clause+`
		 ORDER BY at ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]report.Record, 0)
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		records = append(records, report.Instant(at))
	}
	return records, rows.Err()
}

func listTitledEntries(ctx context.Context, q dbQuerier, table, titleColumn, childID string, rng dateRange) ([]report.TitledEntry, error) {
	args := []any{childID}
	clause, args := rng.where("at", args)
	rows, err := q.Query(
		ctx,
		`SELECT at, `+titleColumn+` FROM `+table+`
		 WHERE child_id = $1`+clause+`
		 ORDER BY at ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]report.TitledEntry, 0)
	for rows.Next() {
		var entry report.TitledEntry
		if err := rows.Scan(&entry.At, &entry.Title); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func listMeasurements(ctx context.Context, q dbQuerier, childID string) ([]report.Measurement, error) {
	rows, err := q.Query(
		ctx,
		`SELECT taken_at, weight, height
		 FROM measurements
		 WHERE child_id = $1
		 ORDER BY taken_at ASC, created_at ASC`,
		childID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	measurements := make([]report.Measurement, 0)
	for rows.Next() {
		var m report.Measurement
		if err := rows.Scan(&m.TakenAt, &m.Weight, &m.Height); err != nil {
			return nil, err
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

func listEventTimes(ctx context.Context, q dbQuerier, childID string) ([]time.Time, error) {
	records, err := listInstantRecords(ctx, q, tableEvents, childID, dateRange{})
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, len(records))
	for _, record := range records {
		times = append(times, record.Start())
	}
	return times, nil
}

func loadPercentileRows(ctx context.Context, q dbQuerier, gender report.Gender, mtype report.MeasurementType) ([]report.PercentileRow, error) {
	rows, err := q.Query(
		ctx,
		`SELECT day, gender, m_type, p01, p1, p3, p5, p10, p15, p25, p50, p75, p85, p90, p95, p97, p99, p999
		 FROM percentiles
		 WHERE gender = $1 AND m_type = $2
		 ORDER BY day ASC`,
		string(gender),
		string(mtype),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]report.PercentileRow, 0)
	for rows.Next() {
		var row report.PercentileRow
		var g, t string
		if err := rows.Scan(
			&row.AgeDays, &g, &t,
			&row.P01, &row.P1, &row.P3, &row.P5, &row.P10, &row.P15, &row.P25,
			&row.P50, &row.P75, &row.P85, &row.P90, &row.P95, &row.P97, &row.P99, &row.P999,
		); err != nil {
			return nil, err
		}
		row.Gender = report.Gender(strings.TrimSpace(g))
		row.Type = report.MeasurementType(strings.TrimSpace(t))
		result = append(result, row)
	}
	return result, rows.Err()
}

func latestSleepPhase(ctx context.Context, q dbQuerier, childID string) (*sleepPhase, error) {
	var phase sleepPhase
	err := q.QueryRow(
		ctx,
		`SELECT id::text, start_at, end_at
		 FROM sleep_phases
		 WHERE child_id = $1
		 ORDER BY start_at DESC
		 LIMIT 1`,
		childID,
	).Scan(&phase.ID, &phase.StartAt, &phase.EndAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &phase, nil
}

func latestInstant(ctx context.Context, q dbQuerier, table, childID string) (*time.Time, error) {
	var at time.Time
	err := q.QueryRow(
		ctx,
		`SELECT at FROM `+table+` WHERE child_id = $1 ORDER BY at DESC LIMIT 1`,
		childID,
	).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// pageWindow turns a 1-based page into an offset, clamping page into range.
func pageWindow(total, pageSize, page int) (offset, pages, current int) {
	if pageSize < 1 {
		pageSize = 1
	}
	pages = (total + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}
	current = page
	if current < 1 {
		current = 1
	}
	if current > pages {
		current = pages
	}
	return (current - 1) * pageSize, pages, current
}
