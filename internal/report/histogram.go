package report

import (
	"fmt"
	"time"
)

const clockLayout = "15:04"

type HistogramSlot struct {
	Time  string
	Count int
}

// Histogram counts records per time-of-day slot of rasterMinutes width,
// independent of the calendar date. Every slot of the day is present.
//
// A closed interval increments the slot containing its start and every later
// slot whose exact time lies within [start, end]. Instants and open intervals
// increment only the slot containing their start.
func Histogram(records []Record, rasterMinutes int, loc *time.Location) ([]HistogramSlot, error) {
	if rasterMinutes <= 0 || rasterMinutes > 60 || 60%rasterMinutes != 0 {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidRaster, rasterMinutes)
	}
	loc = ensureLocation(loc)
	raster := time.Duration(rasterMinutes) * time.Minute
	slotsPerDay := int(24 * time.Hour / raster)

	counts := make([]int, slotsPerDay)
	slotIndex := func(t time.Time) int {
		return int(sinceMidnight(t) / raster)
	}

	for idx, record := range records {
		if err := record.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", idx, err)
		}
		start := snapDown(record.Start().In(loc), raster)
		end, ok := record.End()
		if !ok {
			counts[slotIndex(start)]++
			continue
		}
		end = snapUp(end.In(loc), raster)

		counts[slotIndex(start)]++
		for s := start.Add(raster); !s.After(end); s = s.Add(raster) {
			if record.Contains(s) {
				counts[slotIndex(s)]++
			}
		}
	}

	slots := make([]HistogramSlot, slotsPerDay)
	for i := range slots {
		clock := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * raster)
		slots[i] = HistogramSlot{Time: clock.Format(clockLayout), Count: counts[i]}
	}
	return slots, nil
}

// snapDown drops seconds and moves back to the previous raster boundary.
func snapDown(t time.Time, raster time.Duration) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	return t.Add(-(sinceMidnight(t) % raster))
}

// snapUp drops seconds and moves forward to the next raster boundary.
func snapUp(t time.Time, raster time.Duration) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	if rem := sinceMidnight(t) % raster; rem != 0 {
		return t.Add(raster - rem)
	}
	return t
}
