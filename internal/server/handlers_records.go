package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"babylog/backend/internal/report"
)

// requestError carries a message that is safe to return with a 400.
type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return requestError{msg: fmt.Sprintf(format, args...)}
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

// recordSpec describes one logbook table exposed as a CRUD collection under
// /children/:child_id/<segment>.
type recordSpec struct {
	segment    string
	table      string
	timeColumn string
	// columns are selected after id, in the order scan expects them
	columns []string
	scan    func(row pgx.Row) (gin.H, error)
	// bind decodes the request body into column values; requireAll is set on
	// create
	bind func(c *gin.Context, requireAll bool) (map[string]any, error)
	// resolve rewrites bound values against other tables inside the write
	// transaction
	resolve func(ctx context.Context, q dbQuerier, childID string, values map[string]any) error
	// check validates a row after it was written, before commit
	check func(item gin.H) error
}

func recordSpecs() []recordSpec {
	return []recordSpec{
		sleepSpec(),
		mealSpec(),
		diaperSpec(),
		measurementSpec(),
		eventSpec(),
		diarySpec(),
	}
}

func decodePayload(c *gin.Context, payload any) error {
	if err := c.ShouldBindJSON(payload); err != nil {
		return badRequest("Invalid request payload")
	}
	return nil
}

func sleepSpec() recordSpec {
	type payload struct {
		StartAt *time.Time `json:"start_at"`
		EndAt   *time.Time `json:"end_at"`
	}
	return recordSpec{
		segment:    "sleep",
		table:      "sleep_phases",
		timeColumn: "start_at",
		columns:    []string{"start_at", "end_at"},
		scan: func(row pgx.Row) (gin.H, error) {
			var id string
			var start time.Time
			var end *time.Time
			if err := row.Scan(&id, &start, &end); err != nil {
				return nil, err
			}
			var minutes *int
			if end != nil {
				m := int(end.Sub(start).Minutes())
				minutes = &m
			}
			return gin.H{"id": id, "start_at": start.UTC(), "end_at": utcPtr(end), "duration_minutes": minutes}, nil
		},
		bind: func(c *gin.Context, requireAll bool) (map[string]any, error) {
			var p payload
			if err := decodePayload(c, &p); err != nil {
				return nil, err
			}
			values := map[string]any{}
			if p.StartAt != nil {
				values["start_at"] = *p.StartAt
			} else if requireAll {
				return nil, badRequest("start_at is required")
			}
			if p.EndAt != nil {
				values["end_at"] = *p.EndAt
			}
			return values, nil
		},
		check: func(item gin.H) error {
			start, _ := item["start_at"].(time.Time)
			end, _ := item["end_at"].(*time.Time)
			if err := report.FromNullableEnd(start, end).Validate(); err != nil {
				return badRequest("Invalid sleep phase: end_at must be after start_at and within 24h")
			}
			return nil
		},
	}
}

func mealSpec() recordSpec {
	type payload struct {
		At    *time.Time `json:"at"`
		Foods []string   `json:"foods"`
	}
	return recordSpec{
		segment:    "meals",
		table:      tableMeals,
		timeColumn: "at",
		columns:    []string{"at", "foods"},
		resolve:    catalogResolver(tableFoods, "foods", "Food"),
		scan: func(row pgx.Row) (gin.H, error) {
			var id string
			var at time.Time
			var foods []string
			if err := row.Scan(&id, &at, &foods); err != nil {
				return nil, err
			}
			return gin.H{"id": id, "at": at.UTC(), "foods": nonNilStrings(foods)}, nil
		},
		bind: func(c *gin.Context, requireAll bool) (map[string]any, error) {
			var p payload
			if err := decodePayload(c, &p); err != nil {
				return nil, err
			}
			values := map[string]any{}
			if p.At != nil {
				values["at"] = *p.At
			} else if requireAll {
				return nil, badRequest("at is required")
			}
			if p.Foods != nil {
				values["foods"] = cleanStrings(p.Foods)
			} else if requireAll {
				values["foods"] = []string{}
			}
			return values, nil
		},
	}
}

func diaperSpec() recordSpec {
	type payload struct {
		At       *time.Time `json:"at"`
		Contents []string   `json:"contents"`
	}
	return recordSpec{
		segment:    "diapers",
		table:      tableDiapers,
		timeColumn: "at",
		columns:    []string{"at", "contents"},
		resolve:    catalogResolver(tableDiaperContents, "contents", "Diaper content"),
		scan: func(row pgx.Row) (gin.H, error) {
			var id string
			var at time.Time
			var contents []string
			if err := row.Scan(&id, &at, &contents); err != nil {
				return nil, err
			}
			return gin.H{"id": id, "at": at.UTC(), "contents": nonNilStrings(contents)}, nil
		},
		bind: func(c *gin.Context, requireAll bool) (map[string]any, error) {
			var p payload
			if err := decodePayload(c, &p); err != nil {
				return nil, err
			}
			values := map[string]any{}
			if p.At != nil {
				values["at"] = *p.At
			} else if requireAll {
				return nil, badRequest("at is required")
			}
			if p.Contents != nil {
				values["contents"] = cleanStrings(p.Contents)
			} else if requireAll {
				values["contents"] = []string{}
			}
			return values, nil
		},
	}
}

func measurementSpec() recordSpec {
	type payload struct {
		TakenAt *time.Time `json:"taken_at"`
		Weight  *float64   `json:"weight"`
		Height  *float64   `json:"height"`
	}
	return recordSpec{
		segment:    "measurements",
		table:      "measurements",
		timeColumn: "taken_at",
		columns:    []string{"taken_at", "weight", "height"},
		scan: func(row pgx.Row) (gin.H, error) {
			var id string
			var takenAt time.Time
			var weight, height *float64
			if err := row.Scan(&id, &takenAt, &weight, &height); err != nil {
				return nil, err
			}
			return gin.H{"id": id, "taken_at": takenAt.UTC(), "weight": weight, "height": height}, nil
		},
		bind: func(c *gin.Context, requireAll bool) (map[string]any, error) {
			var p payload
			if err := decodePayload(c, &p); err != nil {
				return nil, err
			}
			values := map[string]any{}
			if p.TakenAt != nil {
				values["taken_at"] = *p.TakenAt
			} else if requireAll {
				return nil, badRequest("taken_at is required")
			}
			if p.Weight != nil {
				if *p.Weight <= 0 {
					return nil, badRequest("weight must be positive")
				}
				values["weight"] = *p.Weight
			}
			if p.Height != nil {
				if *p.Height <= 0 {
					return nil, badRequest("height must be positive")
				}
				values["height"] = *p.Height
			}
			return values, nil
		},
		check: func(item gin.H) error {
			weight, _ := item["weight"].(*float64)
			height, _ := item["height"].(*float64)
			if weight == nil && height == nil {
				return badRequest("weight or height is required")
			}
			return nil
		},
	}
}

func eventSpec() recordSpec {
	type payload struct {
		At          *time.Time `json:"at"`
		Name        *string    `json:"name"`
		Description *string    `json:"description"`
	}
	return recordSpec{
		segment:    "events",
		table:      tableEvents,
		timeColumn: "at",
		columns:    []string{"at", "name", "description"},
		scan: func(row pgx.Row) (gin.H, error) {
			var id, name, description string
			var at time.Time
			if err := row.Scan(&id, &at, &name, &description); err != nil {
				return nil, err
			}
			return gin.H{"id": id, "at": at.UTC(), "name": name, "description": description}, nil
		},
		bind: func(c *gin.Context, requireAll bool) (map[string]any, error) {
			var p payload
			if err := decodePayload(c, &p); err != nil {
				return nil, err
			}
			values := map[string]any{}
			if p.At != nil {
				values["at"] = *p.At
			} else if requireAll {
				return nil, badRequest("at is required")
			}
			if p.Name != nil {
				name := strings.TrimSpace(*p.Name)
				if name == "" {
					return nil, badRequest("name must not be empty")
				}
				values["name"] = name
			} else if requireAll {
				return nil, badRequest("name is required")
			}
			if p.Description != nil {
				values["description"] = strings.TrimSpace(*p.Description)
			}
			return values, nil
		},
	}
}

func diarySpec() recordSpec {
	type payload struct {
		At      *time.Time `json:"at"`
		Title   *string    `json:"title"`
		Content *string    `json:"content"`
	}
	return recordSpec{
		segment:    "diary",
		table:      tableDiary,
		timeColumn: "at",
		columns:    []string{"at", "title", "content"},
		scan: func(row pgx.Row) (gin.H, error) {
			var id, title, content string
			var at time.Time
			if err := row.Scan(&id, &at, &title, &content); err != nil {
				return nil, err
			}
			return gin.H{"id": id, "at": at.UTC(), "title": title, "content": content}, nil
		},
		bind: func(c *gin.Context, requireAll bool) (map[string]any, error) {
			var p payload
			if err := decodePayload(c, &p); err != nil {
				return nil, err
			}
			values := map[string]any{}
			if p.At != nil {
				values["at"] = *p.At
			} else if requireAll {
				return nil, badRequest("at is required")
			}
			if p.Title != nil {
				title := strings.TrimSpace(*p.Title)
				if title == "" {
					return nil, badRequest("title must not be empty")
				}
				values["title"] = title
			} else if requireAll {
				return nil, badRequest("title is required")
			}
			if p.Content != nil {
				values["content"] = *p.Content
			}
			return values, nil
		},
	}
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func (s recordSpec) returning() string {
	return "RETURNING id::text, " + strings.Join(s.columns, ", ")
}

func writeRecordError(c *gin.Context, action string, err error) {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr):
		writeError(c, http.StatusBadRequest, reqErr.msg)
	case isCheckViolation(err):
		writeError(c, http.StatusBadRequest, "Record violates a data constraint")
	default:
		logError(c, action, err)
		writeError(c, http.StatusInternalServerError, "Failed to "+action)
	}
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return value, nil
}

func (a *App) listRecords(spec recordSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, child, ok := a.requireChild(c)
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
		page, err := queryInt(c, "page", 1)
		if err != nil {
			writeRecordError(c, "list records", err)
			return
		}

		ctx := c.Request.Context()
		settings, err := loadUserSettings(ctx, a.db, user.ID)
		if err != nil {
			writeRecordError(c, "load settings", err)
			return
		}

		args := []any{child.ID}
		clause, args := rng.where(spec.timeColumn, args)
		var total int
		if err := a.db.QueryRow(
			ctx,
			`SELECT COUNT(*) FROM `+spec.table+` WHERE child_id = $1`+clause,
			args...,
		).Scan(&total); err != nil {
			writeRecordError(c, "count records", err)
			return
		}

		offset, pages, current := pageWindow(total, settings.PaginateBy, page)
		args = append(args, settings.PaginateBy, offset)
		rows, err := a.db.Query(
			ctx,
			fmt.Sprintf(
				`SELECT id::text, %s FROM %s
				 WHERE child_id = $1%s
				 ORDER BY %s DESC, created_at DESC
				 LIMIT $%d OFFSET $%d`,
				strings.Join(spec.columns, ", "),
				spec.table,
				clause,
				spec.timeColumn,
				len(args)-1,
				len(args),
			),
			args...,
		)
		if err != nil {
			writeRecordError(c, "load records", err)
			return
		}
		defer rows.Close()

		items := make([]gin.H, 0)
		for rows.Next() {
			item, err := spec.scan(rows)
			if err != nil {
				writeRecordError(c, "parse records", err)
				return
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			writeRecordError(c, "read records", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"items": items,
			"page":  current,
			"pages": pages,
			"total": total,
		})
	}
}

func (a *App) createRecord(spec recordSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, child, ok := a.requireChild(c)
		if !ok {
			return
		}
		values, err := spec.bind(c, true)
		if err != nil {
			writeRecordError(c, "create record", err)
			return
		}

		ctx := c.Request.Context()
		tx, err := a.db.Begin(ctx)
		if err != nil {
			writeRecordError(c, "create record", err)
			return
		}
		defer tx.Rollback(ctx)

		if spec.resolve != nil {
			if err := spec.resolve(ctx, tx, child.ID, values); err != nil {
				writeRecordError(c, "create record", err)
				return
			}
		}

		cols := sortedColumns(values)
		args := []any{uuid.NewString(), child.ID, user.ID}
		placeholders := []string{"$1", "$2", "$3"}
		for _, col := range cols {
			args = append(args, values[col])
			placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
		}
		query := fmt.Sprintf(
			`INSERT INTO %s (id, child_id, created_by, %s, created_at)
			 VALUES (%s, NOW())
			 %s`,
			spec.table,
			strings.Join(cols, ", "),
			strings.Join(placeholders, ", "),
			spec.returning(),
		)

		item, err := spec.scan(tx.QueryRow(ctx, query, args...))
		if err != nil {
			writeRecordError(c, "create record", err)
			return
		}
		if spec.check != nil {
			if err := spec.check(item); err != nil {
				writeRecordError(c, "create record", err)
				return
			}
		}
		if err := tx.Commit(ctx); err != nil {
			writeRecordError(c, "create record", err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func (a *App) updateRecord(spec recordSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, child, ok := a.requireChild(c)
		if !ok {
			return
		}
		recordID := strings.TrimSpace(c.Param("record_id"))
		if _, err := uuid.Parse(recordID); err != nil {
			writeError(c, http.StatusNotFound, "Record not found")
			return
		}
		values, err := spec.bind(c, false)
		if err != nil {
			writeRecordError(c, "update record", err)
			return
		}
		if len(values) == 0 {
			writeError(c, http.StatusBadRequest, "No fields to update")
			return
		}

		ctx := c.Request.Context()
		tx, err := a.db.Begin(ctx)
		if err != nil {
			writeRecordError(c, "update record", err)
			return
		}
		defer tx.Rollback(ctx)

		if spec.resolve != nil {
			if err := spec.resolve(ctx, tx, child.ID, values); err != nil {
				writeRecordError(c, "update record", err)
				return
			}
		}

		args := []any{recordID, child.ID}
		assignments := make([]string, 0, len(values))
		for _, col := range sortedColumns(values) {
			args = append(args, values[col])
			assignments = append(assignments, fmt.Sprintf("%s = $%d", col, len(args)))
		}
		query := fmt.Sprintf(
			`UPDATE %s SET %s WHERE id = $1 AND child_id = $2 %s`,
			spec.table,
			strings.Join(assignments, ", "),
			spec.returning(),
		)

		item, err := spec.scan(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "Record not found")
			return
		}
		if err != nil {
			writeRecordError(c, "update record", err)
			return
		}
		if spec.check != nil {
			if err := spec.check(item); err != nil {
				writeRecordError(c, "update record", err)
				return
			}
		}
		if err := tx.Commit(ctx); err != nil {
			writeRecordError(c, "update record", err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func (a *App) deleteRecord(spec recordSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, child, ok := a.requireChild(c)
		if !ok {
			return
		}
		recordID := strings.TrimSpace(c.Param("record_id"))
		if _, err := uuid.Parse(recordID); err != nil {
			writeError(c, http.StatusNotFound, "Record not found")
			return
		}

		tag, err := a.db.Exec(
			c.Request.Context(),
			`DELETE FROM `+spec.table+` WHERE id = $1 AND child_id = $2`,
			recordID,
			child.ID,
		)
		if err != nil {
			writeRecordError(c, "delete record", err)
			return
		}
		if tag.RowsAffected() == 0 {
			writeError(c, http.StatusNotFound, "Record not found")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// toggleSleep closes the open sleep phase, or starts a new one when none is
// open.
func (a *App) toggleSleep(c *gin.Context) {
	user, child, ok := a.requireChild(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	tx, err := a.db.Begin(ctx)
	if err != nil {
		writeRecordError(c, "toggle sleep", err)
		return
	}
	defer tx.Rollback(ctx)

	now := a.now().UTC().Truncate(time.Second)
	spec := sleepSpec()

	var openID string
	var openStart time.Time
	err = tx.QueryRow(
		ctx,
		`SELECT id::text, start_at
		 FROM sleep_phases
		 WHERE child_id = $1 AND end_at IS NULL
		 ORDER BY start_at DESC
		 LIMIT 1
		 FOR UPDATE`,
		child.ID,
	).Scan(&openID, &openStart)

	var (
		item   gin.H
		action string
		status int
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		item, err = spec.scan(tx.QueryRow(
			ctx,
			`INSERT INTO sleep_phases (id, child_id, created_by, start_at, created_at)
			 VALUES ($1, $2, $3, $4, NOW())
			 `+spec.returning(),
			uuid.NewString(),
			child.ID,
			user.ID,
			now,
		))
		action = "started"
		status = http.StatusCreated
	case err != nil:
		writeRecordError(c, "toggle sleep", err)
		return
	default:
		if verr := report.Interval(openStart, now).Validate(); verr != nil {
			writeError(c, http.StatusConflict, "Open sleep phase is longer than 24h; edit it instead")
			return
		}
		item, err = spec.scan(tx.QueryRow(
			ctx,
			`UPDATE sleep_phases SET end_at = $3 WHERE id = $1 AND child_id = $2 `+spec.returning(),
			openID,
			child.ID,
			now,
		))
		action = "stopped"
		status = http.StatusOK
	}
	if err != nil {
		writeRecordError(c, "toggle sleep", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeRecordError(c, "toggle sleep", err)
		return
	}
	c.JSON(status, gin.H{"action": action, "item": item})
}
