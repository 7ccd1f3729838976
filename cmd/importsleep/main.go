package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kataras/tablewriter"
	"github.com/lensesio/tableprinter"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"babylog/backend/internal/config"
	"babylog/backend/internal/db"
	"babylog/backend/internal/logging"
)

var sleepPhaseColumns = []string{"id", "child_id", "start_at", "end_at", "created_by", "created_at"}

type importedPhase struct {
	Line  int    `header:"line"`
	Start string `header:"start"`
	End   string `header:"end"`
	Hours string `header:"hours"`
}

func main() {
	cfg := config.Load()

	var (
		childID    string
		userID     string
		sheet      string
		timezone   string
		dbURL      string
		skipHeader bool
		dryRun     bool
	)
	flag.StringVar(&childID, "child-id", "", "child id (required)")
	flag.StringVar(&userID, "user-id", "", "created_by user id (default: child creator)")
	flag.StringVar(&sheet, "sheet", "", "sheet name (default: active sheet)")
	flag.StringVar(&timezone, "tz", cfg.AppTimezone, "IANA timezone of the spreadsheet times")
	flag.StringVar(&dbURL, "db", cfg.DatabaseURL, "DATABASE_URL override")
	flag.BoolVar(&skipHeader, "header", false, "first row is a header")
	flag.BoolVar(&dryRun, "dry-run", false, "print the parsed phases without writing them")
	flag.Parse()

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.Fatalf("invalid logging config: %v", err)
	}
	if flag.NArg() != 1 {
		logrus.Fatal("usage: importsleep [flags] <file.xlsx>")
	}
	childID = strings.TrimSpace(childID)
	if _, err := uuid.Parse(childID); err != nil {
		logrus.Fatalf("child-id must be a UUID: %v", err)
	}
	loc, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		logrus.Fatalf("load timezone: %v", err)
	}

	rows, err := readSheet(flag.Arg(0), sheet)
	if err != nil {
		logrus.Fatalf("read workbook: %v", err)
	}
	phases, skipped, err := parseRows(rows, loc, skipHeader)
	if err != nil {
		logrus.Fatalf("parse workbook: %v", err)
	}
	for _, row := range skipped {
		logrus.WithField("line", row.Line).Warnf("ignoring row: %s", row.Reason)
	}

	if dryRun {
		printPhases(phases, loc)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		logrus.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()

	createdBy := strings.TrimSpace(userID)
	if createdBy == "" {
		err := pool.QueryRow(ctx, `SELECT created_by::text FROM children WHERE id = $1`, childID).Scan(&createdBy)
		if errors.Is(err, pgx.ErrNoRows) {
			logrus.Fatalf("child not found: %s", childID)
		}
		if err != nil {
			logrus.Fatalf("resolve child: %v", err)
		}
	}

	now := time.Now().UTC()
	source := make([][]any, 0, len(phases))
	for _, phase := range phases {
		source = append(source, []any{uuid.NewString(), childID, phase.Start, phase.End, createdBy, now})
	}
	copied, err := pool.CopyFrom(ctx, pgx.Identifier{"sleep_phases"}, sleepPhaseColumns, pgx.CopyFromRows(source))
	if err != nil {
		logrus.Fatalf("insert sleep phases: %v", err)
	}
	logrus.WithFields(logrus.Fields{
		"child_id": childID,
		"imported": copied,
		"skipped":  len(skipped),
	}).Info("sleep phases imported")
}

// readSheet returns raw cell values so dates and times arrive as serial
// numbers regardless of their display format.
func readSheet(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

func printPhases(phases []sleepRow, loc *time.Location) {
	out := make([]importedPhase, 0, len(phases))
	for _, phase := range phases {
		out = append(out, importedPhase{
			Line:  phase.Line,
			Start: phase.Start.In(loc).Format("2006-01-02 15:04"),
			End:   phase.End.In(loc).Format("2006-01-02 15:04"),
			Hours: fmt.Sprintf("%.2f", phase.End.Sub(phase.Start).Hours()),
		})
	}
	printer := tableprinter.New(os.Stdout)
	printer.BorderTop, printer.BorderBottom, printer.BorderLeft, printer.BorderRight = true, true, true, true
	printer.CenterSeparator = "│"
	printer.ColumnSeparator = "│"
	printer.RowSeparator = "─"
	printer.HeaderBgColor = tablewriter.BgBlackColor
	printer.HeaderFgColor = tablewriter.FgGreenColor
	printer.Print(out)
}
