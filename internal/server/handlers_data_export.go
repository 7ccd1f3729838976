package server

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

var exportHeader = []string{
	"record_id",
	"child_id",
	"category",
	"start_time_utc",
	"end_time_utc",
	"detail",
	"created_by",
	"created_at_utc",
}

// exportRecordsQuery flattens every logbook table into one timeline.
const exportRecordsQuery = `SELECT id, category, start_time, end_time, detail, created_by, created_at FROM (
	SELECT id::text, 'sleep' AS category, start_at AS start_time, end_at AS end_time,
	       '' AS detail, created_by::text, created_at
	FROM sleep_phases WHERE child_id = $1
	UNION ALL
	SELECT id::text, 'meal', at, NULL, array_to_string(foods, '; '), created_by::text, created_at
	FROM meals WHERE child_id = $1
	UNION ALL
	SELECT id::text, 'diaper', at, NULL, array_to_string(contents, '; '), created_by::text, created_at
	FROM diapers WHERE child_id = $1
	UNION ALL
	SELECT id::text, 'measurement', taken_at, NULL,
	       concat_ws('; ', 'weight=' || weight::text, 'height=' || height::text),
	       created_by::text, created_at
	FROM measurements WHERE child_id = $1
	UNION ALL
	SELECT id::text, 'event', at, NULL, concat_ws(': ', name, NULLIF(description, '')),
	       created_by::text, created_at
	FROM events WHERE child_id = $1
	UNION ALL
	SELECT id::text, 'diary', at, NULL, title, created_by::text, created_at
	FROM diary_entries WHERE child_id = $1
) timeline WHERE TRUE`

func sanitizeCSVFilename(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "child"
	}
	var b strings.Builder
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	sanitized := strings.Trim(b.String(), "_")
	if sanitized == "" {
		return "child"
	}
	return sanitized
}

func timeOrEmpty(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func (a *App) exportChildDataCSV(c *gin.Context) {
	_, child, ok := a.requireChild(c)
	if !ok {
		return
	}
	loc, err := a.requestLocation(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	rng, err := parseDateRange(c.Query("from"), c.Query("to"), loc)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	clause, args := rng.where("start_time", []any{child.ID})
	rows, err := a.db.Query(
		c.Request.Context(),
		exportRecordsQuery+clause+` ORDER BY start_time ASC, created_at ASC`,
		args...,
	)
	if err != nil {
		logError(c, "export records", err)
		writeError(c, http.StatusInternalServerError, "Failed to load records")
		return
	}
	defer rows.Close()

	var out bytes.Buffer
	writer := csv.NewWriter(&out)
	if err := writer.Write(exportHeader); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to build CSV header")
		return
	}

	for rows.Next() {
		var (
			recordID  string
			category  string
			startTime time.Time
			endTime   *time.Time
			detail    *string
			createdBy string
			createdAt time.Time
		)
		if err := rows.Scan(
			&recordID,
			&category,
			&startTime,
			&endTime,
			&detail,
			&createdBy,
			&createdAt,
		); err != nil {
			logError(c, "scan export row", err)
			writeError(c, http.StatusInternalServerError, "Failed to parse records")
			return
		}
		detailText := ""
		if detail != nil {
			detailText = *detail
		}
		if err := writer.Write([]string{
			recordID,
			child.ID,
			category,
			startTime.UTC().Format(time.RFC3339),
			timeOrEmpty(endTime),
			detailText,
			createdBy,
			createdAt.UTC().Format(time.RFC3339),
		}); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to write CSV rows")
			return
		}
	}
	if err := rows.Err(); err != nil {
		logError(c, "read export rows", err)
		writeError(c, http.StatusInternalServerError, "Failed to read records")
		return
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to flush CSV")
		return
	}

	filename := fmt.Sprintf(
		"babylog_export_%s_%s.csv",
		sanitizeCSVFilename(child.Name),
		a.now().UTC().Format("20060102_150405"),
	)

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.String(http.StatusOK, out.String())
}

func ensureCSVContainsHeader(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("empty csv")
	}
	if !strings.HasPrefix(raw, strings.Join(exportHeader, ",")) {
		return errors.New("missing csv header")
	}
	return nil
}
