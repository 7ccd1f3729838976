package report

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// Category names used as keys of MergedDay.
const (
	CategorySleep   = "sleep"
	CategoryMeals   = "meals"
	CategoryDiapers = "diapers"
	CategoryEvents  = "events"
	CategoryDiary   = "diary"
)

// IntervalTotals buckets start-only records per local day. A record's duration
// is the gap since the previous record, attributed to the later record's day
// and day/night class. The first record contributes zero duration.
func IntervalTotals(records []Record, window DayWindow, loc *time.Location) []DayTotals {
	loc = ensureLocation(loc)
	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start().Before(ordered[j].Start())
	})

	acc := map[string]DayBucket{}
	var previous time.Time
	for idx, record := range ordered {
		start := record.Start().In(loc)
		var gap time.Duration
		if idx > 0 {
			gap = start.Sub(previous)
		}
		previous = start

		key := start.Format(dateLayout)
		acc[key] = acc[key].add(window.IsDay(start), 1, gap)
	}
	return sortedTotals(acc)
}

// MergedDay holds the per-category results of one calendar day.
type MergedDay struct {
	Date    string
	Buckets map[string]DayBucket
	Entries map[string][]string
}

func newMergedDay(date string) MergedDay {
	return MergedDay{
		Date:    date,
		Buckets: map[string]DayBucket{},
		Entries: map[string][]string{},
	}
}

// Bucket returns the bucket of category, if the day has one.
func (d MergedDay) Bucket(category string) (DayBucket, bool) {
	bucket, ok := d.Buckets[category]
	return bucket, ok
}

// Categorize tags per-day totals with a category name so they can be merged.
func Categorize(category string, days []DayTotals) []MergedDay {
	result := make([]MergedDay, 0, len(days))
	for _, day := range days {
		merged := newMergedDay(day.Date)
		merged.Buckets[category] = day.Bucket
		result = append(result, merged)
	}
	return result
}

// TitledEntry is an instant with a display title (event name, diary title).
type TitledEntry struct {
	At    time.Time
	Title string
}

// CategorizeEntries groups titles per local day, keeping input order.
func CategorizeEntries(category string, entries []TitledEntry, loc *time.Location) []MergedDay {
	loc = ensureLocation(loc)
	acc := map[string][]string{}
	for _, entry := range entries {
		key := LocalDate(entry.At, loc)
		acc[key] = append(acc[key], entry.Title)
	}
	result := make([]MergedDay, 0, len(acc))
	for date, titles := range acc {
		merged := newMergedDay(date)
		merged.Entries[category] = titles
		result = append(result, merged)
	}
	sortMergedDays(result)
	return result
}

// MergeTotals combines per-category day sequences into one sequence sorted by
// date. Days sharing a date are deep-merged: categories are united, a category
// present on both sides must carry identical values or ErrMergeConflict is
// returned. Inputs are not modified.
func MergeTotals(sources ...[]MergedDay) ([]MergedDay, error) {
	acc := map[string]MergedDay{}
	for _, source := range sources {
		for _, day := range source {
			current, ok := acc[day.Date]
			if !ok {
				current = newMergedDay(day.Date)
			}
			merged, err := mergeDay(current, day)
			if err != nil {
				return nil, err
			}
			acc[day.Date] = merged
		}
	}

	result := make([]MergedDay, 0, len(acc))
	for _, day := range acc {
		result = append(result, day)
	}
	sortMergedDays(result)
	return result, nil
}

func mergeDay(into, from MergedDay) (MergedDay, error) {
	out := newMergedDay(into.Date)
	for category, bucket := range into.Buckets {
		out.Buckets[category] = bucket
	}
	for category, titles := range into.Entries {
		out.Entries[category] = slices.Clone(titles)
	}

	for category, bucket := range from.Buckets {
		if existing, ok := out.Buckets[category]; ok && existing != bucket {
			return MergedDay{}, fmt.Errorf("%w: %s/%s", ErrMergeConflict, into.Date, category)
		}
		out.Buckets[category] = bucket
	}
	for category, titles := range from.Entries {
		if existing, ok := out.Entries[category]; ok && !slices.Equal(existing, titles) {
			return MergedDay{}, fmt.Errorf("%w: %s/%s", ErrMergeConflict, into.Date, category)
		}
		out.Entries[category] = slices.Clone(titles)
	}
	return out, nil
}

func sortMergedDays(days []MergedDay) {
	sort.Slice(days, func(i, j int) bool {
		return days[i].Date < days[j].Date
	})
}

type Metric int

const (
	MetricTime Metric = iota
	MetricCount
)

// CalculateAverage is the mean of the category's Sum metric over the days that
// carry that category. Time is averaged in seconds. An empty set yields 0.
func CalculateAverage(days []MergedDay, category string, metric Metric) float64 {
	total := 0.0
	n := 0
	for _, day := range days {
		bucket, ok := day.Bucket(category)
		if !ok {
			continue
		}
		n++
		switch metric {
		case MetricCount:
			total += float64(bucket.Sum.Count)
		default:
			total += bucket.Sum.Seconds()
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
