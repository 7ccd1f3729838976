package report

import (
	"fmt"
	"strings"
	"time"
)

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

func ParseGender(raw string) (Gender, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "M", "MALE", "BOY", "BOYS":
		return GenderMale, true
	case "F", "FEMALE", "GIRL", "GIRLS":
		return GenderFemale, true
	}
	return "", false
}

type MeasurementType string

const (
	MeasurementLengthHeight MeasurementType = "LH"
	MeasurementWeight       MeasurementType = "W"
)

func ParseMeasurementType(raw string) (MeasurementType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lh", "length", "height", "lhfa":
		return MeasurementLengthHeight, nil
	case "w", "weight", "wfa":
		return MeasurementWeight, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMeasurementType, raw)
}

// PercentileRow is one age-day of a reference growth table.
type PercentileRow struct {
	AgeDays int
	Gender  Gender
	Type    MeasurementType
	P01     float64
	P1      float64
	P3      float64
	P5      float64
	P10     float64
	P15     float64
	P25     float64
	P50     float64
	P75     float64
	P85     float64
	P90     float64
	P95     float64
	P97     float64
	P99     float64
	P999    float64
}

type Measurement struct {
	TakenAt time.Time
	Weight  *float64
	Height  *float64
}

// Value returns the measured quantity for mtype, if recorded.
func (m Measurement) Value(mtype MeasurementType) *float64 {
	switch mtype {
	case MeasurementWeight:
		return m.Weight
	case MeasurementLengthHeight:
		return m.Height
	}
	return nil
}

type PercentilePoint struct {
	AgeDays int
	Value   *float64
	Curve   *PercentileRow
}

// AgeInDays counts calendar days from birthday to the local date of t.
func AgeInDays(birthday, t time.Time, loc *time.Location) int {
	local := t.In(ensureLocation(loc))
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	birth := time.Date(birthday.Year(), birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC)
	return int(day.Sub(birth).Hours() / 24)
}

// PercentileSeries pairs measurements of mtype with the reference curve at the
// same age. Rows must already be narrowed to the child's gender; rows of other
// types are ignored. The result covers every age day from birth to the last
// measurement so curves render continuously; days without a measurement have a
// nil Value.
func PercentileSeries(
	birthday time.Time,
	measurements []Measurement,
	mtype MeasurementType,
	rows []PercentileRow,
	loc *time.Location,
) ([]PercentilePoint, error) {
	curves := map[int]PercentileRow{}
	for _, row := range rows {
		if row.Type == mtype {
			curves[row.AgeDays] = row
		}
	}
	if len(curves) == 0 {
		return nil, fmt.Errorf("%w: type %s", ErrNoPercentileData, mtype)
	}

	values := map[int]float64{}
	lastAge := -1
	for _, m := range measurements {
		value := m.Value(mtype)
		if value == nil {
			continue
		}
		age := AgeInDays(birthday, m.TakenAt, loc)
		if age < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNegativeAge, m.TakenAt.Format(time.RFC3339))
		}
		values[age] = *value
		if age > lastAge {
			lastAge = age
		}
	}
	if lastAge < 0 {
		return nil, fmt.Errorf("%w: type %s", ErrNoMeasurements, mtype)
	}

	points := make([]PercentilePoint, 0, lastAge+1)
	for age := 0; age <= lastAge; age++ {
		point := PercentilePoint{AgeDays: age}
		if v, ok := values[age]; ok {
			v := v
			point.Value = &v
		}
		if row, ok := curves[age]; ok {
			row := row
			point.Curve = &row
		}
		points = append(points, point)
	}
	return points, nil
}
