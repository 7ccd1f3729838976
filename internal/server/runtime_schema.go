package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type schemaColumn struct {
	table  string
	column string
}

// requiredSchema lists the columns queried by the handlers. Record tables are
// derived from the registered record collections.
func requiredSchema() []schemaColumn {
	columns := []schemaColumn{
		{table: "users", column: "id"},
		{table: "children", column: "birthday"},
		{table: "children", column: "gender"},
		{table: "child_parents", column: "user_id"},
		{table: "user_settings", column: "histogram_raster"},
		{table: "percentiles", column: "p999"},
	}
	for _, spec := range recordSpecs() {
		columns = append(columns, schemaColumn{table: spec.table, column: "child_id"})
		for _, column := range spec.columns {
			columns = append(columns, schemaColumn{table: spec.table, column: column})
		}
	}
	for _, spec := range catalogSpecs() {
		for _, column := range []string{"name", "description", "is_default", "created_by"} {
			columns = append(columns, schemaColumn{table: spec.table, column: column})
		}
	}
	return columns
}

// ValidateRuntimeSchema fails when a column the API depends on is missing,
// which usually means migrations have not been applied.
func ValidateRuntimeSchema(ctx context.Context, q dbQuerier) error {
	if q == nil {
		return errors.New("database pool is nil")
	}

	for _, item := range requiredSchema() {
		ok, err := columnExists(ctx, q, item.table, item.column)
		if err != nil {
			return fmt.Errorf(
				"failed checking schema for %s.%s: %w",
				item.table,
				item.column,
				err,
			)
		}
		if !ok {
			return fmt.Errorf(
				"required column %s.%s is missing; run migrations (DB_RUN_MIGRATIONS=true)",
				item.table,
				item.column,
			)
		}
	}

	return nil
}

func columnExists(ctx context.Context, q dbQuerier, tableName, columnName string) (bool, error) {
	table := strings.TrimSpace(tableName)
	column := strings.TrimSpace(columnName)
	if table == "" || column == "" {
		return false, errors.New("table/column must not be empty")
	}
	var exists bool
	err := q.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM information_schema.columns
		   WHERE table_schema = current_schema()
		     AND table_name = $1
		     AND column_name = $2
		 )`,
		table,
		column,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
