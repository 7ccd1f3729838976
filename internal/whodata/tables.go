// Package whodata reads the WHO child growth standard percentile tables.
package whodata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"babylog/backend/internal/report"
)

const DefaultBaseURL = "https://www.who.int/childgrowth/standards"

// day, L, M, S, then 15 percentile columns
const columnCount = 19

var ErrMalformedTable = errors.New("malformed percentile table")

// Table identifies one published file, e.g. wfa_girls_p_exp.txt.
type Table struct {
	Gender report.Gender
	Type   report.MeasurementType
}

// Tables lists every table the growth charts use.
func Tables() []Table {
	return []Table{
		{Gender: report.GenderMale, Type: report.MeasurementLengthHeight},
		{Gender: report.GenderFemale, Type: report.MeasurementLengthHeight},
		{Gender: report.GenderMale, Type: report.MeasurementWeight},
		{Gender: report.GenderFemale, Type: report.MeasurementWeight},
	}
}

func (t Table) FileName() string {
	indicator := "wfa"
	if t.Type == report.MeasurementLengthHeight {
		indicator = "lhfa"
	}
	gender := "girls"
	if t.Gender == report.GenderMale {
		gender = "boys"
	}
	return fmt.Sprintf("%s_%s_p_exp.txt", indicator, gender)
}

func (t Table) String() string {
	return string(t.Gender) + "/" + string(t.Type)
}

// Parse reads a tab separated table with a header line. Blank lines are
// skipped; every other line must carry all percentile columns.
func Parse(r io.Reader, table Table) ([]report.PercentileRow, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	rows := make([]report.PercentileRow, 0, 1900)
	line := 0
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTable, table.FileName(), err)
		}
		line++
		if line == 1 {
			if _, convErr := strconv.Atoi(strings.TrimSpace(fields[0])); convErr != nil {
				continue
			}
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		row, err := parseRow(fields, table)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedTable, table.FileName(), line, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", ErrMalformedTable, table.FileName())
	}
	return rows, nil
}

func parseRow(fields []string, table Table) (report.PercentileRow, error) {
	if len(fields) < columnCount {
		return report.PercentileRow{}, fmt.Errorf("expected %d columns, got %d", columnCount, len(fields))
	}
	day, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return report.PercentileRow{}, fmt.Errorf("day: %w", err)
	}
	if day < 0 {
		return report.PercentileRow{}, fmt.Errorf("negative day %d", day)
	}

	var values [15]float64
	for i := range values {
		raw := strings.TrimSpace(fields[4+i])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return report.PercentileRow{}, fmt.Errorf("column %d: %w", 4+i, err)
		}
		values[i] = v
	}

	return report.PercentileRow{
		AgeDays: day,
		Gender:  table.Gender,
		Type:    table.Type,
		P01:     values[0],
		P1:      values[1],
		P3:      values[2],
		P5:      values[3],
		P10:     values[4],
		P15:     values[5],
		P25:     values[6],
		P50:     values[7],
		P75:     values[8],
		P85:     values[9],
		P90:     values[10],
		P95:     values[11],
		P97:     values[12],
		P99:     values[13],
		P999:    values[14],
	}, nil
}
