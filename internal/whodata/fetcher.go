package whodata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"babylog/backend/internal/report"
)

// maximum accepted table size
const maxTableBytes = 4 << 20

type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFetcher builds a downloader for baseURL. rps paces consecutive downloads;
// zero or less disables pacing.
func NewFetcher(baseURL string, rps float64) *Fetcher {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Fetcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (f *Fetcher) URL(table Table) string {
	return f.baseURL + "/" + table.FileName()
}

// Fetch downloads and parses one table.
func (f *Fetcher) Fetch(ctx context.Context, table Table) ([]report.PercentileRow, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	url := f.URL(table)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}
	req.Header.Set("Accept", "text/plain")

	started := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	rows, err := Parse(io.LimitReader(resp.Body, maxTableBytes), table)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"table":   table.String(),
		"rows":    len(rows),
		"elapsed": time.Since(started).Round(time.Millisecond).String(),
	}).Info("percentile table downloaded")
	return rows, nil
}

// TableRows pairs a table with its parsed rows.
type TableRows struct {
	Table Table
	Rows  []report.PercentileRow
}

// FetchAll downloads every table in order and stops at the first failure.
func (f *Fetcher) FetchAll(ctx context.Context, tables []Table) ([]TableRows, error) {
	out := make([]TableRows, 0, len(tables))
	for _, table := range tables {
		rows, err := f.Fetch(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		out = append(out, TableRows{Table: table, Rows: rows})
	}
	return out, nil
}
