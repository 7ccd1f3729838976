package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	tableFoods          = "foods"
	tableDiaperContents = "diaper_contents"

	catalogNameMaxLen = 100
)

// catalogSpec describes a per-user list of names that meals or diapers pick
// from. Default entries have no owner and are visible to everybody.
type catalogSpec struct {
	segment string
	table   string
	label   string
}

func catalogSpecs() []catalogSpec {
	return []catalogSpec{
		{segment: "foods", table: tableFoods, label: "Food"},
		{segment: "diaper-contents", table: tableDiaperContents, label: "Diaper content"},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type catalogPayload struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (p catalogPayload) values(requireName bool) (map[string]any, error) {
	values := map[string]any{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, badRequest("name must not be empty")
		}
		if len(name) > catalogNameMaxLen {
			return nil, badRequest("name must be at most %d characters", catalogNameMaxLen)
		}
		values["name"] = name
	} else if requireName {
		return nil, badRequest("name is required")
	}
	if p.Description != nil {
		values["description"] = strings.TrimSpace(*p.Description)
	}
	return values, nil
}

func scanCatalogItem(row pgx.Row) (gin.H, error) {
	var id, name, description string
	var isDefault bool
	var createdAt time.Time
	if err := row.Scan(&id, &name, &description, &isDefault, &createdAt); err != nil {
		return nil, err
	}
	return gin.H{
		"id":          id,
		"name":        name,
		"description": description,
		"is_default":  isDefault,
		"created_at":  createdAt.UTC(),
	}, nil
}

const catalogColumns = "id::text, name, description, is_default, created_at"

func (a *App) writeCatalogError(c *gin.Context, spec catalogSpec, action string, err error) {
	if isUniqueViolation(err) {
		writeError(c, http.StatusConflict, spec.label+" already exists")
		return
	}
	writeRecordError(c, action, err)
}

// listCatalog returns the defaults followed by the caller's own entries,
// newest first.
func (a *App) listCatalog(spec catalogSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authUserFromContext(c)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		rows, err := a.db.Query(
			c.Request.Context(),
			`SELECT `+catalogColumns+`
			 FROM `+spec.table+`
			 WHERE is_default OR created_by = $1
			 ORDER BY is_default DESC, created_at DESC, name`,
			user.ID,
		)
		if err != nil {
			writeRecordError(c, "load "+spec.segment, err)
			return
		}
		defer rows.Close()

		items := make([]gin.H, 0)
		for rows.Next() {
			item, err := scanCatalogItem(rows)
			if err != nil {
				writeRecordError(c, "parse "+spec.segment, err)
				return
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			writeRecordError(c, "read "+spec.segment, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func (a *App) createCatalogItem(spec catalogSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authUserFromContext(c)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		var p catalogPayload
		if err := decodePayload(c, &p); err != nil {
			writeRecordError(c, "create "+spec.segment, err)
			return
		}
		values, err := p.values(true)
		if err != nil {
			writeRecordError(c, "create "+spec.segment, err)
			return
		}
		description, _ := values["description"].(string)

		item, err := scanCatalogItem(a.db.QueryRow(
			c.Request.Context(),
			`INSERT INTO `+spec.table+` (id, name, description, is_default, created_by, created_at)
			 VALUES ($1, $2, $3, FALSE, $4, NOW())
			 RETURNING `+catalogColumns,
			uuid.NewString(),
			values["name"],
			description,
			user.ID,
		))
		if err != nil {
			a.writeCatalogError(c, spec, "create "+spec.segment, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

// updateCatalogItem only touches entries the caller owns; defaults and other
// users' entries answer 404.
func (a *App) updateCatalogItem(spec catalogSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authUserFromContext(c)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		itemID := strings.TrimSpace(c.Param("item_id"))
		if _, err := uuid.Parse(itemID); err != nil {
			writeError(c, http.StatusNotFound, spec.label+" not found")
			return
		}
		var p catalogPayload
		if err := decodePayload(c, &p); err != nil {
			writeRecordError(c, "update "+spec.segment, err)
			return
		}
		values, err := p.values(false)
		if err != nil {
			writeRecordError(c, "update "+spec.segment, err)
			return
		}
		if len(values) == 0 {
			writeError(c, http.StatusBadRequest, "No fields to update")
			return
		}

		args := []any{itemID, user.ID}
		assignments := make([]string, 0, len(values))
		for _, col := range sortedColumns(values) {
			args = append(args, values[col])
			assignments = append(assignments, fmt.Sprintf("%s = $%d", col, len(args)))
		}
		item, err := scanCatalogItem(a.db.QueryRow(
			c.Request.Context(),
			fmt.Sprintf(
				`UPDATE %s SET %s
				 WHERE id = $1 AND created_by = $2 AND NOT is_default
				 RETURNING %s`,
				spec.table,
				strings.Join(assignments, ", "),
				catalogColumns,
			),
			args...,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, spec.label+" not found")
			return
		}
		if err != nil {
			a.writeCatalogError(c, spec, "update "+spec.segment, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// catalogResolver maps the names in values[column] onto catalog entries
// visible for the child: defaults plus entries of its creator and parents.
// Matching ignores case; the stored name is the catalog's spelling.
func catalogResolver(table, column, label string) func(ctx context.Context, q dbQuerier, childID string, values map[string]any) error {
	return func(ctx context.Context, q dbQuerier, childID string, values map[string]any) error {
		names, _ := values[column].([]string)
		if len(names) == 0 {
			return nil
		}
		lowered := make([]string, 0, len(names))
		for _, name := range names {
			lowered = append(lowered, strings.ToLower(name))
		}

		rows, err := q.Query(
			ctx,
			`SELECT lower(name), name
			 FROM `+table+`
			 WHERE lower(name) = ANY($2)
			   AND (is_default OR created_by IN (
			         SELECT user_id FROM child_parents WHERE child_id = $1
			         UNION
			         SELECT created_by FROM children WHERE id = $1
			       ))
			 ORDER BY is_default DESC, created_at`,
			childID,
			lowered,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		// own entries come last and win over defaults
		known := map[string]string{}
		for rows.Next() {
			var key, name string
			if err := rows.Scan(&key, &name); err != nil {
				return err
			}
			known[key] = name
		}
		if err := rows.Err(); err != nil {
			return err
		}

		resolved := make([]string, 0, len(names))
		for i, name := range names {
			match, ok := known[lowered[i]]
			if !ok {
				return badRequest("Unknown %s %q", strings.ToLower(label), name)
			}
			resolved = append(resolved, match)
		}
		values[column] = resolved
		return nil
	}
}
