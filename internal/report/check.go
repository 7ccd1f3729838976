package report

import "time"

// Status sentinels reported by Check.
const (
	StateNoData   = -1
	StateSleeping = 0
	StateAwake    = 1
	StateRecorded = 1
	// diapers historically report 0 when nothing was logged yet
	StateDiaperNoData = 0
)

type Since struct {
	Days    int
	Hours   int
	Minutes int
}

func sinceFrom(d time.Duration) Since {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	rest := d % (24 * time.Hour)
	return Since{
		Days:    days,
		Hours:   int(rest / time.Hour),
		Minutes: int(rest % time.Hour / time.Minute),
	}
}

type CategoryStatus struct {
	State int
	Since *Since
}

type CheckResult struct {
	Sleep  CategoryStatus
	Meal   CategoryStatus
	Diaper CategoryStatus
}

// Check reports how long ago the latest sleep phase, meal and diaper change
// happened. An open sleep phase counts from its start, a closed one from its end.
func Check(now time.Time, lastSleep *Record, lastMeal, lastDiaper *time.Time) CheckResult {
	result := CheckResult{
		Sleep:  CategoryStatus{State: StateNoData},
		Meal:   CategoryStatus{State: StateNoData},
		Diaper: CategoryStatus{State: StateDiaperNoData},
	}

	if lastSleep != nil {
		if end, ok := lastSleep.End(); ok {
			since := sinceFrom(now.Sub(end))
			result.Sleep = CategoryStatus{State: StateAwake, Since: &since}
		} else {
			since := sinceFrom(now.Sub(lastSleep.Start()))
			result.Sleep = CategoryStatus{State: StateSleeping, Since: &since}
		}
	}
	if lastMeal != nil {
		since := sinceFrom(now.Sub(*lastMeal))
		result.Meal = CategoryStatus{State: StateRecorded, Since: &since}
	}
	if lastDiaper != nil {
		since := sinceFrom(now.Sub(*lastDiaper))
		result.Diaper = CategoryStatus{State: StateRecorded, Since: &since}
	}
	return result
}
