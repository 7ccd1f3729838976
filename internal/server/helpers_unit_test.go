package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"babylog/backend/internal/report"
)

func TestClaimHasAudience(t *testing.T) {
	if !claimHasAudience("expected", "expected") {
		t.Fatalf("expected string audience to match")
	}
	if claimHasAudience("other", "expected") {
		t.Fatalf("expected mismatched string audience to fail")
	}
	if !claimHasAudience([]any{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []any audience to match")
	}
	if !claimHasAudience([]string{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []string audience to match")
	}
	if claimHasAudience(nil, "expected") {
		t.Fatalf("expected nil audience to fail")
	}
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2026-02-15", nil)
	if err != nil {
		t.Fatalf("expected parseDate to succeed: %v", err)
	}
	if got.Format(time.RFC3339) != "2026-02-15T00:00:00Z" {
		t.Fatalf("unexpected parsed date: %s", got.Format(time.RFC3339))
	}

	cet := time.FixedZone("CET", 3600)
	local, err := parseDate(" 2026-02-15 ", cet)
	if err != nil {
		t.Fatalf("expected parseDate with zone to succeed: %v", err)
	}
	if local.Format(time.RFC3339) != "2026-02-15T00:00:00+01:00" {
		t.Fatalf("expected local midnight, got %s", local.Format(time.RFC3339))
	}

	if _, err := parseDate("02/15/2026", nil); err == nil {
		t.Fatalf("expected invalid date to fail")
	}
}

func TestParseDateRangeMakesToInclusive(t *testing.T) {
	rng, err := parseDateRange("2026-03-01", "2026-03-02", time.UTC)
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	if rng.From == nil || rng.To == nil {
		t.Fatalf("expected both bounds, got %+v", rng)
	}
	if got := rng.To.Format(time.RFC3339); got != "2026-03-03T00:00:00Z" {
		t.Fatalf("expected exclusive bound at next midnight, got %s", got)
	}

	clause, args := rng.where("at", []any{"child"})
	if clause != " AND at >= $2 AND at < $3" {
		t.Fatalf("unexpected clause %q", clause)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
}

func TestParseDateRangeOptionalBounds(t *testing.T) {
	rng, err := parseDateRange("", "", time.UTC)
	if err != nil {
		t.Fatalf("parse empty range: %v", err)
	}
	clause, args := rng.where("at", []any{"child"})
	if clause != "" || len(args) != 1 {
		t.Fatalf("expected no conditions, got %q %v", clause, args)
	}

	rng, err = parseDateRange("", "2026-03-02", time.UTC)
	if err != nil {
		t.Fatalf("parse to-only range: %v", err)
	}
	clause, _ = rng.where("start_at", nil)
	if clause != " AND start_at < $1" {
		t.Fatalf("unexpected to-only clause %q", clause)
	}
}

func TestParseDateRangeRejectsBadInput(t *testing.T) {
	cases := []struct{ from, to string }{
		{"2026-13-01", ""},
		{"", "yesterday"},
		{"2026-03-05", "2026-03-01"},
	}
	for _, tc := range cases {
		_, err := parseDateRange(tc.from, tc.to, time.UTC)
		if !errors.Is(err, errInvalidDateRange) {
			t.Fatalf("expected errInvalidDateRange for %q..%q, got %v", tc.from, tc.to, err)
		}
	}

	// a single day is a valid range
	if _, err := parseDateRange("2026-03-01", "2026-03-01", time.UTC); err != nil {
		t.Fatalf("expected single-day range to be valid: %v", err)
	}
}

func TestTrimToRangeDropsCarryOutsideRange(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	rng, err := parseDateRange("2024-01-01", "2024-01-01", loc)
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}

	// a phase starting 2024-01-01 23:00 carries one hour into 2024-01-02
	phase := report.Interval(
		time.Date(2024, 1, 1, 23, 0, 0, 0, loc),
		time.Date(2024, 1, 2, 1, 0, 0, 0, loc),
	)
	totals, err := report.SleepTotals([]report.Record{phase}, report.DefaultDayWindow(), loc)
	if err != nil {
		t.Fatalf("sleep totals: %v", err)
	}
	merged, err := report.MergeTotals(report.Categorize(report.CategorySleep, totals))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected the carry to create a second day, got %d", len(merged))
	}

	got := trimToRange(merged, rng, loc)
	dates := make([]string, 0, len(got))
	for _, day := range got {
		dates = append(dates, day.Date)
	}
	if diff := cmp.Diff([]string{"2024-01-01"}, dates); diff != "" {
		t.Fatalf("dates mismatch (-want +got):\n%s", diff)
	}

	unbounded := trimToRange(merged, dateRange{}, loc)
	if len(unbounded) != 2 {
		t.Fatalf("an open range keeps every day, got %d", len(unbounded))
	}
}

func TestDateRangeContainsDay(t *testing.T) {
	rng, err := parseDateRange("2026-03-02", "2026-03-04", time.UTC)
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	cases := map[string]bool{
		"2026-03-01": false,
		"2026-03-02": true,
		"2026-03-04": true,
		"2026-03-05": false,
		"garbage":    false,
	}
	for date, want := range cases {
		if got := rng.containsDay(date, time.UTC); got != want {
			t.Fatalf("containsDay(%s) = %v, want %v", date, got, want)
		}
	}
}

func TestPageWindow(t *testing.T) {
	cases := []struct {
		total, size, page      int
		offset, pages, current int
	}{
		{total: 0, size: 10, page: 1, offset: 0, pages: 1, current: 1},
		{total: 25, size: 10, page: 2, offset: 10, pages: 3, current: 2},
		{total: 25, size: 10, page: 9, offset: 20, pages: 3, current: 3},
		{total: 25, size: 10, page: -1, offset: 0, pages: 3, current: 1},
		{total: 5, size: 0, page: 3, offset: 2, pages: 5, current: 3},
	}
	for _, tc := range cases {
		offset, pages, current := pageWindow(tc.total, tc.size, tc.page)
		if offset != tc.offset || pages != tc.pages || current != tc.current {
			t.Fatalf(
				"pageWindow(%d,%d,%d) = (%d,%d,%d), want (%d,%d,%d)",
				tc.total, tc.size, tc.page,
				offset, pages, current,
				tc.offset, tc.pages, tc.current,
			)
		}
	}
}

func TestSettingsApplyMergesAndValidates(t *testing.T) {
	raster := 15
	night := 20
	childID := "  "
	next, err := updateMySettingsRequest{
		HistogramRaster: &raster,
		StartHourNight:  &night,
		DefaultChildID:  &childID,
	}.apply(defaultUserSettings())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := defaultUserSettings()
	want.HistogramRaster = 15
	want.StartHourNight = 20
	if diff := cmp.Diff(want, next); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsApplyRejectsInvalidValues(t *testing.T) {
	intPtr := func(v int) *int { return &v }
	cases := []struct {
		name string
		req  updateMySettingsRequest
	}{
		{"raster not dividing 60", updateMySettingsRequest{HistogramRaster: intPtr(7)}},
		{"raster zero", updateMySettingsRequest{HistogramRaster: intPtr(0)}},
		{"day after night", updateMySettingsRequest{StartHourDay: intPtr(20), StartHourNight: intPtr(8)}},
		{"hour out of range", updateMySettingsRequest{StartHourNight: intPtr(24)}},
		{"paginate too small", updateMySettingsRequest{PaginateBy: intPtr(0)}},
		{"factor too large", updateMySettingsRequest{HistogramFactorMD: intPtr(13)}},
		{"date range too long", updateMySettingsRequest{DateRangeDays: intPtr(400)}},
	}
	for _, tc := range cases {
		if _, err := tc.req.apply(defaultUserSettings()); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidRaster(t *testing.T) {
	for _, minutes := range []int{1, 2, 5, 10, 15, 20, 30, 60} {
		if !validRaster(minutes) {
			t.Fatalf("expected raster %d to be valid", minutes)
		}
	}
	for _, minutes := range []int{-10, 0, 7, 45, 90, 120} {
		if validRaster(minutes) {
			t.Fatalf("expected raster %d to be invalid", minutes)
		}
	}
}

func TestChildRequestResolve(t *testing.T) {
	name := " Mia "
	birthday := "2025-06-01"
	gender := "f"
	fields, err := childRequest{Name: &name, Birthday: &birthday, Gender: &gender}.resolve(nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fields.Name != "Mia" || fields.Gender != report.GenderFemale {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if fields.Birthday.Format("2006-01-02") != "2025-06-01" {
		t.Fatalf("unexpected birthday %s", fields.Birthday)
	}

	if _, err := (childRequest{Name: &name, Birthday: &birthday}).resolve(nil); err == nil {
		t.Fatalf("expected missing gender to fail on create")
	}

	renamed := "Lea"
	patched, err := childRequest{Name: &renamed}.resolve(&fields)
	if err != nil {
		t.Fatalf("resolve patch: %v", err)
	}
	if patched.Name != "Lea" || patched.Gender != report.GenderFemale {
		t.Fatalf("expected patch to keep base fields, got %+v", patched)
	}

	bad := "X"
	if _, err := (childRequest{Gender: &bad}).resolve(&fields); err == nil {
		t.Fatalf("expected invalid gender to fail")
	}
}

func TestRateLimiterAllowsBurstPerClient(t *testing.T) {
	limiter := newIPRateLimiter(1, 2)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected other client to have its own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("expected token to refill after a second")
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := newIPRateLimiter(1, 1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.Allow("b")
	if _, ok := limiter.clients["a"]; ok {
		t.Fatalf("expected idle client to be swept")
	}
}

func TestNilRateLimiterAllowsEverything(t *testing.T) {
	limiter := newIPRateLimiter(0, 10)
	if limiter != nil {
		t.Fatalf("expected nil limiter for zero rate")
	}
	for i := 0; i < 100; i++ {
		if !limiter.Allow("a") {
			t.Fatalf("expected nil limiter to allow request %d", i)
		}
	}
}

func TestReportStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", report.ErrInvalidRaster), http.StatusBadRequest},
		{report.ErrInvalidMeasurementType, http.StatusBadRequest},
		{report.ErrNegativeAge, http.StatusBadRequest},
		{report.ErrNoPercentileData, http.StatusNotFound},
		{report.ErrNoMeasurements, http.StatusNotFound},
		{report.ErrMergeConflict, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := reportStatus(tc.err); got != tc.want {
			t.Fatalf("reportStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRecordSpecsCoverEveryTable(t *testing.T) {
	segments := map[string]string{}
	for _, spec := range recordSpecs() {
		if spec.scan == nil || spec.bind == nil {
			t.Fatalf("spec %s missing scan or bind", spec.segment)
		}
		if len(spec.columns) == 0 || spec.columns[0] != spec.timeColumn {
			t.Fatalf("spec %s must select its time column first", spec.segment)
		}
		segments[spec.segment] = spec.table
	}
	want := map[string]string{
		"sleep":        "sleep_phases",
		"meals":        "meals",
		"diapers":      "diapers",
		"measurements": "measurements",
		"events":       "events",
		"diary":        "diary_entries",
	}
	if diff := cmp.Diff(want, segments); diff != "" {
		t.Fatalf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestSleepSpecCheckRejectsLongPhases(t *testing.T) {
	check := sleepSpec().check
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	if err := check(map[string]any{"start_at": start, "end_at": timePtr(start.Add(8 * time.Hour))}); err != nil {
		t.Fatalf("expected 8h phase to pass: %v", err)
	}
	if err := check(map[string]any{"start_at": start, "end_at": (*time.Time)(nil)}); err != nil {
		t.Fatalf("expected open phase to pass: %v", err)
	}
	err := check(map[string]any{"start_at": start, "end_at": timePtr(start.Add(25 * time.Hour))})
	var reqErr requestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected requestError for 25h phase, got %v", err)
	}
}

func TestMeasurementSpecCheckRequiresAValue(t *testing.T) {
	check := measurementSpec().check
	if err := check(map[string]any{"weight": (*float64)(nil), "height": (*float64)(nil)}); err == nil {
		t.Fatalf("expected empty measurement to fail")
	}
	if err := check(map[string]any{"weight": floatPtr(4.2), "height": (*float64)(nil)}); err != nil {
		t.Fatalf("expected weight-only measurement to pass: %v", err)
	}
}

func TestSanitizeCSVFilename(t *testing.T) {
	cases := map[string]string{
		"Mia":         "Mia",
		"  Lea Marie": "Lea_Marie",
		"../etc":      "etc",
		"":            "child",
		"???":         "child",
	}
	for input, want := range cases {
		if got := sanitizeCSVFilename(input); got != want {
			t.Fatalf("sanitizeCSVFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestEnsureCSVContainsHeader(t *testing.T) {
	if err := ensureCSVContainsHeader(strings.Join(exportHeader, ",") + "\n"); err != nil {
		t.Fatalf("expected header to be accepted: %v", err)
	}
	if err := ensureCSVContainsHeader("id,foo\n"); err == nil {
		t.Fatalf("expected foreign header to fail")
	}
	if err := ensureCSVContainsHeader(" "); err == nil {
		t.Fatalf("expected empty csv to fail")
	}
}

func TestRequiredSchemaIncludesRecordColumns(t *testing.T) {
	found := map[string]bool{}
	for _, col := range requiredSchema() {
		found[col.table+"."+col.column] = true
	}
	for _, key := range []string{"sleep_phases.end_at", "meals.foods", "diary_entries.title", "percentiles.p999", "foods.is_default", "diaper_contents.name"} {
		if !found[key] {
			t.Fatalf("expected %s in required schema", key)
		}
	}
}

func TestCatalogPayloadValues(t *testing.T) {
	name := "  Oat porridge  "
	desc := " warm "
	got, err := catalogPayload{Name: &name, Description: &desc}.values(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"name": "Oat porridge", "description": "warm"}, got); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}

	if _, err := (catalogPayload{}).values(true); err == nil {
		t.Fatalf("expected missing name to fail on create")
	}
	if got, err := (catalogPayload{}).values(false); err != nil || len(got) != 0 {
		t.Fatalf("expected empty update values, got %v / %v", got, err)
	}
	blank := "   "
	if _, err := (catalogPayload{Name: &blank}).values(false); err == nil {
		t.Fatalf("expected blank name to fail")
	}
	long := strings.Repeat("x", catalogNameMaxLen+1)
	if _, err := (catalogPayload{Name: &long}).values(true); err == nil {
		t.Fatalf("expected overlong name to fail")
	}
}

func TestCatalogBackedRecordsResolveNames(t *testing.T) {
	for _, spec := range recordSpecs() {
		wantResolve := spec.table == tableMeals || spec.table == tableDiapers
		if (spec.resolve != nil) != wantResolve {
			t.Fatalf("%s: resolve set = %v, want %v", spec.table, spec.resolve != nil, wantResolve)
		}
	}
	segments := map[string]string{}
	for _, spec := range catalogSpecs() {
		segments[spec.segment] = spec.table
	}
	want := map[string]string{"foods": "foods", "diaper-contents": "diaper_contents"}
	if diff := cmp.Diff(want, segments); diff != "" {
		t.Fatalf("catalog segments mismatch (-want +got):\n%s", diff)
	}
}
