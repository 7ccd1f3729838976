package report

import (
	"math"
	"sort"
	"time"
)

type GrowthRow struct {
	AgeWeeks float64
	Height   *float64
	Weight   *float64
	Events   int
}

// GrowthSeries lays measurements and events out on an age-in-weeks axis.
// Each measurement yields one row; each event yields a row with Events=1 so a
// chart can sum them per week.
func GrowthSeries(birthday time.Time, measurements []Measurement, events []time.Time, loc *time.Location) []GrowthRow {
	rows := make([]GrowthRow, 0, len(measurements)+len(events))
	for _, m := range measurements {
		rows = append(rows, GrowthRow{
			AgeWeeks: ageInWeeks(birthday, m.TakenAt, loc),
			Height:   m.Height,
			Weight:   m.Weight,
		})
	}
	for _, at := range events {
		rows = append(rows, GrowthRow{
			AgeWeeks: ageInWeeks(birthday, at, loc),
			Events:   1,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].AgeWeeks < rows[j].AgeWeeks
	})
	return rows
}

func ageInWeeks(birthday, t time.Time, loc *time.Location) float64 {
	days := AgeInDays(birthday, t, loc)
	return math.Round(float64(days)/7*10) / 10
}
