package server

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestExportChildDataCSV(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	seedSleepPhase(t, fixture.ChildID, fixture.UserID, start, timePtr(start.Add(9*time.Hour)))
	seedInstant(t, tableMeals, fixture.ChildID, fixture.UserID, start.Add(-time.Hour))
	seedMeasurement(t, fixture.ChildID, fixture.UserID, start, floatPtr(4.2), nil)

	rec := performRequest(
		t,
		newTestRouter(t),
		http.MethodGet,
		childPath(fixture.ChildID, "/export.csv"),
		signToken(t, fixture.UserID, nil),
		nil,
		nil,
	)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	contentType := rec.Header().Get("Content-Type")
	if !strings.Contains(contentType, "text/csv") {
		t.Fatalf("expected text/csv content type, got %q", contentType)
	}
	body := rec.Body.String()
	if err := ensureCSVContainsHeader(body); err != nil {
		t.Fatalf("expected csv header, got err=%v body=%s", err, body)
	}
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d: %s", len(lines), body)
	}
	if !strings.Contains(lines[1], ",meal,") || !strings.Contains(lines[2], ",sleep,") {
		t.Fatalf("expected rows ordered by start time, body=%s", body)
	}
	if !strings.Contains(body, "weight=4.2") {
		t.Fatalf("expected measurement detail in csv, body=%s", body)
	}
}

func TestExportChildDataCSVHonoursDateRange(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	seedInstant(t, tableDiapers, fixture.ChildID, fixture.UserID, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	seedInstant(t, tableDiapers, fixture.ChildID, fixture.UserID, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC))

	rec := performRequest(
		t,
		newTestRouter(t),
		http.MethodGet,
		childPath(fixture.ChildID, "/export.csv?from=2026-03-04&to=2026-03-05"),
		signToken(t, fixture.UserID, nil),
		nil,
		nil,
	)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := strings.Count(rec.Body.String(), ",diaper,"); got != 1 {
		t.Fatalf("expected one diaper row in range, got %d", got)
	}
}

func TestExportChildDataCSVRequiresAccess(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	stranger := seedUser(t, "")

	rec := performRequest(
		t,
		newTestRouter(t),
		http.MethodGet,
		childPath(fixture.ChildID, "/export.csv"),
		signToken(t, stranger, nil),
		nil,
		nil,
	)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail != "Child access denied" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}
