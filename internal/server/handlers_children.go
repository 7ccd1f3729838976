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

	"babylog/backend/internal/report"
)

var errInvalidParents = errors.New("invalid parent_ids")

type childRequest struct {
	Name      *string  `json:"name"`
	Birthday  *string  `json:"birthday"`
	Gender    *string  `json:"gender"`
	ParentIDs []string `json:"parent_ids"`
}

type childFields struct {
	Name     string
	Birthday time.Time
	Gender   report.Gender
}

// resolve merges the request into base. Every field is required when base is
// nil.
func (r childRequest) resolve(base *childFields) (childFields, error) {
	out := childFields{}
	if base != nil {
		out = *base
	}
	if r.Name != nil {
		out.Name = strings.TrimSpace(*r.Name)
	}
	if out.Name == "" {
		return childFields{}, errors.New("name is required")
	}
	if r.Birthday != nil {
		birthday, err := parseDate(*r.Birthday, time.UTC)
		if err != nil {
			return childFields{}, errors.New("birthday must be YYYY-MM-DD")
		}
		out.Birthday = birthday
	}
	if out.Birthday.IsZero() {
		return childFields{}, errors.New("birthday is required")
	}
	if r.Gender != nil {
		gender, ok := report.ParseGender(*r.Gender)
		if !ok {
			return childFields{}, errors.New("gender must be M or F")
		}
		out.Gender = gender
	}
	if out.Gender == "" {
		return childFields{}, errors.New("gender is required")
	}
	return out, nil
}

func childResponse(child childRecord, parentIDs []string) gin.H {
	return gin.H{
		"id":         child.ID,
		"name":       child.Name,
		"birthday":   child.Birthday.Format("2006-01-02"),
		"gender":     string(child.Gender),
		"created_by": child.CreatedBy,
		"parent_ids": parentIDs,
	}
}

func listParentIDs(ctx context.Context, q dbQuerier, childID string) ([]string, error) {
	rows, err := q.Query(
		ctx,
		`SELECT user_id::text FROM child_parents WHERE child_id = $1 ORDER BY user_id`,
		childID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// replaceParents sets the parent list of a child; the creator always stays.
func replaceParents(ctx context.Context, q dbQuerier, childID, creatorID string, parentIDs []string) error {
	keep := map[string]struct{}{creatorID: {}}
	for _, raw := range parentIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%w: must contain user UUIDs", errInvalidParents)
		}
		keep[id.String()] = struct{}{}
	}
	ids := make([]string, 0, len(keep))
	for id := range keep {
		ids = append(ids, id)
	}

	var known int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE id::text = ANY($1)`, ids).Scan(&known); err != nil {
		return err
	}
	if known != len(ids) {
		return fmt.Errorf("%w: unknown users", errInvalidParents)
	}

	if _, err := q.Exec(ctx, `DELETE FROM child_parents WHERE child_id = $1`, childID); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := q.Exec(
			ctx,
			`INSERT INTO child_parents (child_id, user_id) VALUES ($1, $2)`,
			childID,
			id,
		); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) listChildren(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT c.id::text, c.name, c.birthday, c.gender, c.created_by::text
		 FROM children c
		 WHERE c.created_by = $1
		    OR EXISTS (SELECT 1 FROM child_parents p WHERE p.child_id = c.id AND p.user_id = $1)
		 ORDER BY c.birthday DESC, c.name ASC`,
		user.ID,
	)
	if err != nil {
		logError(c, "list children", err)
		writeError(c, http.StatusInternalServerError, "Failed to load children")
		return
	}
	defer rows.Close()

	items := make([]gin.H, 0)
	for rows.Next() {
		var child childRecord
		var gender string
		if err := rows.Scan(&child.ID, &child.Name, &child.Birthday, &gender, &child.CreatedBy); err != nil {
			logError(c, "scan child", err)
			writeError(c, http.StatusInternalServerError, "Failed to parse children")
			return
		}
		child.Gender = report.Gender(strings.TrimSpace(gender))
		items = append(items, gin.H{
			"id":       child.ID,
			"name":     child.Name,
			"birthday": child.Birthday.Format("2006-01-02"),
			"gender":   string(child.Gender),
		})
	}
	if err := rows.Err(); err != nil {
		logError(c, "read children", err)
		writeError(c, http.StatusInternalServerError, "Failed to read children")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *App) createChild(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload childRequest
	if !mustJSON(c, &payload) {
		return
	}
	fields, err := payload.resolve(nil)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	tx, err := a.db.Begin(ctx)
	if err != nil {
		logError(c, "begin transaction", err)
		writeError(c, http.StatusInternalServerError, "Failed to create child")
		return
	}
	defer tx.Rollback(ctx)

	child := childRecord{
		ID:        uuid.NewString(),
		Name:      fields.Name,
		Birthday:  fields.Birthday,
		Gender:    fields.Gender,
		CreatedBy: user.ID,
	}
	if _, err := tx.Exec(
		ctx,
		`INSERT INTO children (id, name, birthday, gender, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		child.ID,
		child.Name,
		child.Birthday,
		string(child.Gender),
		child.CreatedBy,
	); err != nil {
		logError(c, "insert child", err)
		writeError(c, http.StatusInternalServerError, "Failed to create child")
		return
	}
	if err := replaceParents(ctx, tx, child.ID, user.ID, payload.ParentIDs); err != nil {
		writeParentsError(c, err)
		return
	}
	parentIDs, err := listParentIDs(ctx, tx, child.ID)
	if err != nil {
		logError(c, "list parents", err)
		writeError(c, http.StatusInternalServerError, "Failed to create child")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		logError(c, "commit child", err)
		writeError(c, http.StatusInternalServerError, "Failed to create child")
		return
	}
	c.JSON(http.StatusCreated, childResponse(child, parentIDs))
}

func (a *App) getChild(c *gin.Context) {
	_, child, ok := a.requireChild(c)
	if !ok {
		return
	}
	parentIDs, err := listParentIDs(c.Request.Context(), a.db, child.ID)
	if err != nil {
		logError(c, "list parents", err)
		writeError(c, http.StatusInternalServerError, "Failed to load child")
		return
	}
	c.JSON(http.StatusOK, childResponse(child, parentIDs))
}

func (a *App) updateChild(c *gin.Context) {
	user, child, ok := a.requireChild(c)
	if !ok {
		return
	}
	if child.CreatedBy != user.ID {
		writeError(c, http.StatusForbidden, "Only the creator can edit this child")
		return
	}

	var payload childRequest
	if !mustJSON(c, &payload) {
		return
	}
	fields, err := payload.resolve(&childFields{Name: child.Name, Birthday: child.Birthday, Gender: child.Gender})
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	tx, err := a.db.Begin(ctx)
	if err != nil {
		logError(c, "begin transaction", err)
		writeError(c, http.StatusInternalServerError, "Failed to update child")
		return
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`UPDATE children SET name = $2, birthday = $3, gender = $4 WHERE id = $1`,
		child.ID,
		fields.Name,
		fields.Birthday,
		string(fields.Gender),
	); err != nil {
		logError(c, "update child", err)
		writeError(c, http.StatusInternalServerError, "Failed to update child")
		return
	}
	if payload.ParentIDs != nil {
		if err := replaceParents(ctx, tx, child.ID, child.CreatedBy, payload.ParentIDs); err != nil {
			writeParentsError(c, err)
			return
		}
	}
	parentIDs, err := listParentIDs(ctx, tx, child.ID)
	if err != nil {
		logError(c, "list parents", err)
		writeError(c, http.StatusInternalServerError, "Failed to update child")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		logError(c, "commit child", err)
		writeError(c, http.StatusInternalServerError, "Failed to update child")
		return
	}

	child.Name = fields.Name
	child.Birthday = fields.Birthday
	child.Gender = fields.Gender
	c.JSON(http.StatusOK, childResponse(child, parentIDs))
}

func writeParentsError(c *gin.Context, err error) {
	if errors.Is(err, errInvalidParents) {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	logError(c, "replace parents", err)
	writeError(c, http.StatusInternalServerError, "Failed to save parents")
}
