package main

import (
	"context"
	"flag"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"babylog/backend/internal/config"
	"babylog/backend/internal/db"
	"babylog/backend/internal/logging"
	"babylog/backend/internal/whodata"
)

var percentileColumns = []string{
	"gender", "m_type", "day",
	"p01", "p1", "p3", "p5", "p10", "p15", "p25", "p50", "p75", "p85", "p90", "p95", "p97", "p99", "p999",
	"loaded_at",
}

func main() {
	cfg := config.Load()

	var (
		baseURL string
		rps     float64
		timeout time.Duration
		migrate bool
	)
	flag.StringVar(&baseURL, "base-url", cfg.WHOBaseURL, "base URL of the WHO child growth standard tables")
	flag.Float64Var(&rps, "rps", 1, "maximum downloads per second (0 disables pacing)")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout")
	flag.BoolVar(&migrate, "migrate", cfg.DBRunMigrations, "apply migrations before loading")
	flag.Parse()

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.Fatalf("invalid logging config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if migrate {
		if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
			logrus.Fatalf("database migration failed: %v", err)
		}
	}

	fetcher := whodata.NewFetcher(baseURL, rps)
	tables, err := fetcher.FetchAll(ctx, whodata.Tables())
	if err != nil {
		logrus.Fatalf("download percentiles: %v", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		logrus.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback(ctx)

	loadedAt := time.Now().UTC()
	for _, item := range tables {
		if _, err := tx.Exec(
			ctx,
			`DELETE FROM percentiles WHERE gender = $1 AND m_type = $2`,
			string(item.Table.Gender),
			string(item.Table.Type),
		); err != nil {
			logrus.Fatalf("clear %s: %v", item.Table, err)
		}

		source := make([][]any, 0, len(item.Rows))
		for _, row := range item.Rows {
			source = append(source, []any{
				string(row.Gender), string(row.Type), row.AgeDays,
				row.P01, row.P1, row.P3, row.P5, row.P10, row.P15, row.P25, row.P50,
				row.P75, row.P85, row.P90, row.P95, row.P97, row.P99, row.P999,
				loadedAt,
			})
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"percentiles"}, percentileColumns, pgx.CopyFromRows(source))
		if err != nil {
			logrus.Fatalf("copy %s: %v", item.Table, err)
		}
		logrus.WithFields(logrus.Fields{
			"table": item.Table.String(),
			"rows":  copied,
		}).Info("percentiles loaded")
	}

	if err := tx.Commit(ctx); err != nil {
		logrus.Fatalf("commit: %v", err)
	}
}
