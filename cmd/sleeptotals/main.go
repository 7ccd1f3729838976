package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kataras/tablewriter"
	"github.com/lensesio/tableprinter"
	"github.com/sirupsen/logrus"

	"babylog/backend/internal/config"
	"babylog/backend/internal/db"
	"babylog/backend/internal/logging"
	"babylog/backend/internal/report"
)

type sleepDay struct {
	Date        string  `header:"date"`
	Phases      int     `header:"phases"`
	Hours       float64 `header:"hours"`
	DayPhases   int     `header:"day phases"`
	DayHours    float64 `header:"day hours"`
	NightPhases int     `header:"night phases"`
	NightHours  float64 `header:"night hours"`
}

func main() {
	cfg := config.Load()

	var (
		childID  string
		from     string
		to       string
		timezone string
		dayStart int
		nightAt  int
		dbURL    string
	)
	flag.StringVar(&childID, "child-id", "", "child id (required)")
	flag.StringVar(&from, "from", "", "first local date YYYY-MM-DD (inclusive)")
	flag.StringVar(&to, "to", "", "last local date YYYY-MM-DD (inclusive)")
	flag.StringVar(&timezone, "tz", cfg.AppTimezone, "IANA timezone for day boundaries")
	flag.IntVar(&dayStart, "day-start", report.DefaultDayWindow().DayStartHour, "hour the day class starts")
	flag.IntVar(&nightAt, "night-start", report.DefaultDayWindow().NightStartHour, "hour the night class starts")
	flag.StringVar(&dbURL, "db", cfg.DatabaseURL, "DATABASE_URL override")
	flag.Parse()

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.Fatalf("invalid logging config: %v", err)
	}
	if _, err := uuid.Parse(strings.TrimSpace(childID)); err != nil {
		logrus.Fatalf("child-id must be a UUID: %v", err)
	}
	loc, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		logrus.Fatalf("load timezone: %v", err)
	}
	window := report.DayWindow{DayStartHour: dayStart, NightStartHour: nightAt}
	if err := window.Validate(); err != nil {
		logrus.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		logrus.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()

	query := `SELECT start_at, end_at FROM sleep_phases WHERE child_id = $1 AND end_at IS NOT NULL`
	args := []any{strings.TrimSpace(childID)}
	if from != "" {
		start, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			logrus.Fatalf("invalid from date: %v", err)
		}
		args = append(args, start)
		query += fmt.Sprintf(" AND start_at >= $%d", len(args))
	}
	if to != "" {
		end, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			logrus.Fatalf("invalid to date: %v", err)
		}
		args = append(args, end.AddDate(0, 0, 1))
		query += fmt.Sprintf(" AND start_at < $%d", len(args))
	}
	query += " ORDER BY start_at"

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		logrus.Fatalf("query sleep phases: %v", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (report.Record, error) {
		var start, end time.Time
		if err := row.Scan(&start, &end); err != nil {
			return report.Record{}, err
		}
		return report.Interval(start, end), nil
	})
	if err != nil {
		logrus.Fatalf("read sleep phases: %v", err)
	}

	totals, err := report.SleepTotals(records, window, loc)
	if err != nil {
		logrus.Fatalf("bucket sleep phases: %v", err)
	}

	var total time.Duration
	days := make([]sleepDay, 0, len(totals))
	for _, day := range totals {
		total += day.Bucket.Sum.Duration
		days = append(days, sleepDay{
			Date:        day.Date,
			Phases:      day.Bucket.Sum.Count,
			Hours:       round2(day.Bucket.Sum.Hours()),
			DayPhases:   day.Bucket.Day.Count,
			DayHours:    round2(day.Bucket.Day.Hours()),
			NightPhases: day.Bucket.Night.Count,
			NightHours:  round2(day.Bucket.Night.Hours()),
		})
	}

	if len(days) > 0 {
		printer := tableprinter.New(os.Stdout)
		printer.BorderTop, printer.BorderBottom, printer.BorderLeft, printer.BorderRight = true, true, true, true
		printer.CenterSeparator = "│"
		printer.ColumnSeparator = "│"
		printer.RowSeparator = "─"
		printer.HeaderBgColor = tablewriter.BgBlackColor
		printer.HeaderFgColor = tablewriter.FgGreenColor
		printer.Print(days)
	}
	fmt.Printf("Total sleep duration: %.2f hours.\n", total.Hours())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
