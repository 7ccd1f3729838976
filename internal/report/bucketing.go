package report

import (
	"fmt"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// DayWindow splits a day into a "day" and a "night" class by hour of day.
type DayWindow struct {
	DayStartHour   int
	NightStartHour int
}

func DefaultDayWindow() DayWindow {
	return DayWindow{DayStartHour: 8, NightStartHour: 19}
}

func (w DayWindow) Validate() error {
	if w.DayStartHour < 0 || w.DayStartHour > 23 || w.NightStartHour < 0 || w.NightStartHour > 23 {
		return fmt.Errorf("day window hours must be within 0..23, got %d/%d", w.DayStartHour, w.NightStartHour)
	}
	if w.DayStartHour > w.NightStartHour {
		return fmt.Errorf("day start %d must not be after night start %d", w.DayStartHour, w.NightStartHour)
	}
	return nil
}

// IsDay compares the time of day of t (in t's own location) against both
// bounds inclusively, so an instant exactly at NightStartHour:00:00 is still day.
func (w DayWindow) IsDay(t time.Time) bool {
	clock := sinceMidnight(t)
	return clock >= time.Duration(w.DayStartHour)*time.Hour &&
		clock <= time.Duration(w.NightStartHour)*time.Hour
}

type Tally struct {
	Count    int
	Duration time.Duration
}

func (t Tally) Seconds() float64 { return t.Duration.Seconds() }

func (t Tally) Hours() float64 { return t.Duration.Hours() }

func (t Tally) add(count int, d time.Duration) Tally {
	return Tally{Count: t.Count + count, Duration: t.Duration + d}
}

type DayBucket struct {
	Sum   Tally
	Day   Tally
	Night Tally
}

func (b DayBucket) add(isDay bool, count int, d time.Duration) DayBucket {
	b.Sum = b.Sum.add(count, d)
	if isDay {
		b.Day = b.Day.add(count, d)
	} else {
		b.Night = b.Night.add(count, d)
	}
	return b
}

type DayTotals struct {
	Date   string
	Bucket DayBucket
}

// LocalDate formats t as YYYY-MM-DD in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(ensureLocation(loc)).Format(dateLayout)
}

// SplitAtMidnight divides an interval at the first local midnight after its
// start. today+tomorrow always equals the full duration.
func SplitAtMidnight(r Record, loc *time.Location) (today, tomorrow time.Duration, err error) {
	if err := r.Validate(); err != nil {
		return 0, 0, err
	}
	end, ok := r.End()
	if !ok {
		return 0, 0, nil
	}
	loc = ensureLocation(loc)
	start := r.Start().In(loc)
	end = end.In(loc)
	if start.Format(dateLayout) == end.Format(dateLayout) {
		return end.Sub(start), 0, nil
	}
	midnight := nextMidnight(start)
	return midnight.Sub(start), end.Sub(midnight), nil
}

// SleepTotals buckets interval records per local calendar day. Durations that
// cross midnight are carried into the next day under the class of the
// originating record.
func SleepTotals(records []Record, window DayWindow, loc *time.Location) ([]DayTotals, error) {
	loc = ensureLocation(loc)
	acc := map[string]DayBucket{}
	for idx, record := range records {
		today, tomorrow, err := SplitAtMidnight(record, loc)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", idx, err)
		}
		start := record.Start().In(loc)
		isDay := window.IsDay(start)

		key := start.Format(dateLayout)
		acc[key] = acc[key].add(isDay, 1, today)

		if tomorrow > 0 {
			nextKey := nextMidnight(start).Format(dateLayout)
			acc[nextKey] = acc[nextKey].add(isDay, 1, tomorrow)
		}
	}
	return sortedTotals(acc), nil
}

func sortedTotals(acc map[string]DayBucket) []DayTotals {
	result := make([]DayTotals, 0, len(acc))
	for date, bucket := range acc {
		result = append(result, DayTotals{Date: date, Bucket: bucket})
	}
	// YYYY-MM-DD sorts lexically in date order.
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result
}

func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// sinceMidnight is the wall-clock time of day, unaffected by DST shifts.
func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func ensureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

func fmtDurationError(reason string, r Record) error {
	return fmt.Errorf("%w: %s (start=%s)", ErrInvalidDuration, reason, r.Start().Format(time.RFC3339))
}
