// Package report turns timestamped logbook records into per-day totals,
// time-of-day histograms and growth-percentile series.
package report

import (
	"errors"
	"time"
)

var (
	ErrInvalidDuration        = errors.New("invalid duration")
	ErrInvalidRaster          = errors.New("invalid histogram raster")
	ErrMergeConflict          = errors.New("conflicting totals for the same day")
	ErrNegativeAge            = errors.New("measurement taken before birthday")
	ErrNoPercentileData       = errors.New("no percentile data")
	ErrNoMeasurements         = errors.New("no measurements")
	ErrInvalidMeasurementType = errors.New("invalid measurement type")
)

// MaxRecordDuration is the longest interval the bucketing code accepts.
const MaxRecordDuration = 24 * time.Hour

type Kind int

const (
	KindInstant Kind = iota
	KindInterval
	KindOpenInterval
)

func (k Kind) String() string {
	switch k {
	case KindInstant:
		return "instant"
	case KindInterval:
		return "interval"
	case KindOpenInterval:
		return "open_interval"
	default:
		return "unknown"
	}
}

// Record is a logbook entry reduced to its timing. Meals, diapers, events and
// diary entries are instants; sleep phases are intervals, open while ongoing.
type Record struct {
	kind  Kind
	start time.Time
	end   time.Time
}

func Instant(at time.Time) Record {
	return Record{kind: KindInstant, start: at}
}

func Interval(start, end time.Time) Record {
	return Record{kind: KindInterval, start: start, end: end}
}

func OpenInterval(start time.Time) Record {
	return Record{kind: KindOpenInterval, start: start}
}

// FromNullableEnd builds an Interval or an OpenInterval depending on end.
func FromNullableEnd(start time.Time, end *time.Time) Record {
	if end == nil {
		return OpenInterval(start)
	}
	return Interval(start, *end)
}

func (r Record) Kind() Kind { return r.kind }

func (r Record) Start() time.Time { return r.start }

// End reports the end time and whether the record has one.
func (r Record) End() (time.Time, bool) {
	if r.kind != KindInterval {
		return time.Time{}, false
	}
	return r.end, true
}

// Duration is zero for instants and open intervals.
func (r Record) Duration() time.Duration {
	if r.kind != KindInterval {
		return 0
	}
	return r.end.Sub(r.start)
}

// Validate rejects intervals that end before they start or last longer than
// MaxRecordDuration.
func (r Record) Validate() error {
	if r.kind != KindInterval {
		return nil
	}
	d := r.end.Sub(r.start)
	if d < 0 {
		return fmtDurationError("end before start", r)
	}
	if d > MaxRecordDuration {
		return fmtDurationError("longer than 24h", r)
	}
	return nil
}

// Contains reports whether t lies within [start, end]. Only closed intervals
// contain anything.
func (r Record) Contains(t time.Time) bool {
	if r.kind != KindInterval {
		return false
	}
	return !t.Before(r.start) && !t.After(r.end)
}
