package server

import (
	"net/http"
	"testing"
	"time"
)

func TestCreateChildAddsCreatorAsParent(t *testing.T) {
	resetDatabase(t)
	userID := seedUser(t, "")
	coParent := seedUser(t, "")
	token := signToken(t, userID, nil)

	rec := performRequest(
		t,
		newTestRouter(t),
		http.MethodPost,
		"/api/v1/children",
		token,
		map[string]any{
			"name":       "Mia",
			"birthday":   "2026-01-10",
			"gender":     "F",
			"parent_ids": []string{coParent},
		},
		nil,
	)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	parents := decodeStringList(t, body["parent_ids"])
	if len(parents) != 2 {
		t.Fatalf("expected creator and co-parent, got %v", parents)
	}

	listRec := performRequest(t, newTestRouter(t), http.MethodGet, "/api/v1/children", signToken(t, coParent, nil), nil, nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", listRec.Code, listRec.Body.String())
	}
	items, _ := decodeJSONMap(t, listRec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected co-parent to see the child, got %d items", len(items))
	}
}

func TestCreateChildRejectsUnknownParent(t *testing.T) {
	resetDatabase(t)
	userID := seedUser(t, "")

	rec := performRequest(
		t,
		newTestRouter(t),
		http.MethodPost,
		"/api/v1/children",
		signToken(t, userID, nil),
		map[string]any{
			"name":       "Mia",
			"birthday":   "2026-01-10",
			"gender":     "F",
			"parent_ids": []string{testID()},
		},
		nil,
	)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUpdateChildIsCreatorOnly(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	coParent := seedUser(t, "")
	seedParent(t, fixture.ChildID, coParent)

	rec := performRequest(
		t,
		newTestRouter(t),
		http.MethodPatch,
		childPath(fixture.ChildID, ""),
		signToken(t, coParent, nil),
		map[string]any{"name": "Renamed"},
		nil,
	)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rec.Code, rec.Body.String())
	}

	ownerRec := performRequest(
		t,
		newTestRouter(t),
		http.MethodPatch,
		childPath(fixture.ChildID, ""),
		signToken(t, fixture.UserID, nil),
		map[string]any{"name": "Renamed"},
		nil,
	)
	if ownerRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", ownerRec.Code, ownerRec.Body.String())
	}
	if name := decodeJSONMap(t, ownerRec)["name"]; name != "Renamed" {
		t.Fatalf("expected renamed child, got %v", name)
	}
}

func TestChildRoutesReturnNotFoundForUnknownChild(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	token := signToken(t, fixture.UserID, nil)

	for _, id := range []string{testID(), "not-a-uuid"} {
		rec := performRequest(t, newTestRouter(t), http.MethodGet, childPath(id, "/meals"), token, nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d body=%s", id, rec.Code, rec.Body.String())
		}
	}
}

func TestMealLifecycle(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	router := newTestRouter(t)
	token := signToken(t, fixture.UserID, nil)

	createRec := performRequest(
		t,
		router,
		http.MethodPost,
		childPath(fixture.ChildID, "/meals"),
		token,
		map[string]any{"at": "2026-03-01T08:30:00Z", "foods": []string{" milk ", ""}},
		nil,
	)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", createRec.Code, createRec.Body.String())
	}
	created := decodeJSONMap(t, createRec)
	recordID, _ := created["id"].(string)
	if foods := decodeStringList(t, created["foods"]); len(foods) != 1 || foods[0] != "milk" {
		t.Fatalf("expected cleaned foods [milk], got %v", foods)
	}

	patchRec := performRequest(
		t,
		router,
		http.MethodPatch,
		childPath(fixture.ChildID, "/meals/"+recordID),
		token,
		map[string]any{"foods": []string{"porridge"}},
		nil,
	)
	if patchRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", patchRec.Code, patchRec.Body.String())
	}
	patched := decodeJSONMap(t, patchRec)
	if patched["at"] != "2026-03-01T08:30:00Z" {
		t.Fatalf("expected at to stay unchanged, got %v", patched["at"])
	}

	listRec := performRequest(t, router, http.MethodGet, childPath(fixture.ChildID, "/meals"), token, nil, nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", listRec.Code, listRec.Body.String())
	}
	if total := decodeJSONMap(t, listRec)["total"]; total != float64(1) {
		t.Fatalf("expected 1 meal, got %v", total)
	}

	deleteRec := performRequest(t, router, http.MethodDelete, childPath(fixture.ChildID, "/meals/"+recordID), token, nil, nil)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", deleteRec.Code, deleteRec.Body.String())
	}
	againRec := performRequest(t, router, http.MethodDelete, childPath(fixture.ChildID, "/meals/"+recordID), token, nil, nil)
	if againRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", againRec.Code)
	}
}

func TestListRecordsPaginatesNewestFirst(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedInstant(t, tableDiapers, fixture.ChildID, fixture.UserID, base.Add(time.Duration(i)*time.Hour))
	}
	router := newTestRouter(t)
	token := signToken(t, fixture.UserID, nil)

	settingsRec := performRequest(t, router, http.MethodPatch, "/api/v1/settings/me", token, map[string]any{"paginate_by": 2}, nil)
	if settingsRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", settingsRec.Code, settingsRec.Body.String())
	}

	rec := performRequest(t, router, http.MethodGet, childPath(fixture.ChildID, "/diapers?page=2"), token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if body["pages"] != float64(3) || body["page"] != float64(2) {
		t.Fatalf("expected page 2 of 3, got %v of %v", body["page"], body["pages"])
	}
	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first, _ := items[0].(map[string]any)
	if first["at"] != "2026-03-01T10:00:00Z" {
		t.Fatalf("expected third newest diaper first on page 2, got %v", first["at"])
	}
}

func TestSleepRecordValidation(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	router := newTestRouter(t)
	token := signToken(t, fixture.UserID, nil)

	tooLong := performRequest(
		t,
		router,
		http.MethodPost,
		childPath(fixture.ChildID, "/sleep"),
		token,
		map[string]any{"start_at": "2026-03-01T08:00:00Z", "end_at": "2026-03-02T09:00:00Z"},
		nil,
	)
	if tooLong.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for 25h phase, got %d body=%s", tooLong.Code, tooLong.Body.String())
	}

	backwards := performRequest(
		t,
		router,
		http.MethodPost,
		childPath(fixture.ChildID, "/sleep"),
		token,
		map[string]any{"start_at": "2026-03-01T08:00:00Z", "end_at": "2026-03-01T07:00:00Z"},
		nil,
	)
	if backwards.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for end before start, got %d body=%s", backwards.Code, backwards.Body.String())
	}

	missing := performRequest(t, router, http.MethodPost, childPath(fixture.ChildID, "/sleep"), token, map[string]any{}, nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without start_at, got %d", missing.Code)
	}
	if detail := responseDetail(t, missing); detail != "start_at is required" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestToggleSleepStartsAndStops(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	token := signToken(t, fixture.UserID, nil)

	startRec := performRequest(t, newTestAppAt(t, now).Router(), http.MethodPost, childPath(fixture.ChildID, "/sleep/toggle"), token, nil, nil)
	if startRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", startRec.Code, startRec.Body.String())
	}
	if action := decodeJSONMap(t, startRec)["action"]; action != "started" {
		t.Fatalf("expected started, got %v", action)
	}

	later := now.Add(90 * time.Minute)
	stopRec := performRequest(t, newTestAppAt(t, later).Router(), http.MethodPost, childPath(fixture.ChildID, "/sleep/toggle"), token, nil, nil)
	if stopRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", stopRec.Code, stopRec.Body.String())
	}
	body := decodeJSONMap(t, stopRec)
	if body["action"] != "stopped" {
		t.Fatalf("expected stopped, got %v", body["action"])
	}
	item, _ := body["item"].(map[string]any)
	if item["duration_minutes"] != float64(90) {
		t.Fatalf("expected 90 minute phase, got %v", item["duration_minutes"])
	}
}

func TestToggleSleepRefusesStalePhase(t *testing.T) {
	resetDatabase(t)
	fixture := seedOwnerFixture(t)
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	seedSleepPhase(t, fixture.ChildID, fixture.UserID, start, nil)

	rec := performRequest(
		t,
		newTestAppAt(t, start.Add(30*time.Hour)).Router(),
		http.MethodPost,
		childPath(fixture.ChildID, "/sleep/toggle"),
		signToken(t, fixture.UserID, nil),
		nil,
		nil,
	)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rec.Code, rec.Body.String())
	}
}
