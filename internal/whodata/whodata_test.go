package whodata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"babylog/backend/internal/report"
)

const sampleTable = "Day\tL\tM\tS\tP01\tP1\tP3\tP5\tP10\tP15\tP25\tP50\tP75\tP85\tP90\tP95\tP97\tP99\tP999\r\n" +
	"0\t0.3809\t3.2322\t0.14171\t2.0\t2.3\t2.4\t2.5\t2.7\t2.8\t2.9\t3.2\t3.6\t3.7\t3.9\t4.0\t4.2\t4.5\t4.8\r\n" +
	"1\t0.3259\t3.1957\t0.14578\t2.0\t2.2\t2.4\t2.5\t2.6\t2.7\t2.9\t3.2\t3.5\t3.7\t3.8\t4.0\t4.1\t4.4\t4.8\r\n" +
	"\r\n"

func TestParseReadsPercentileColumns(t *testing.T) {
	table := Table{Gender: report.GenderFemale, Type: report.MeasurementWeight}
	rows, err := Parse(strings.NewReader(sampleTable), table)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	want := report.PercentileRow{
		AgeDays: 0,
		Gender:  report.GenderFemale,
		Type:    report.MeasurementWeight,
		P01:     2.0,
		P1:      2.3,
		P3:      2.4,
		P5:      2.5,
		P10:     2.7,
		P15:     2.8,
		P25:     2.9,
		P50:     3.2,
		P75:     3.6,
		P85:     3.7,
		P90:     3.9,
		P95:     4.0,
		P97:     4.2,
		P99:     4.5,
		P999:    4.8,
	}
	if diff := cmp.Diff(want, rows[0]); diff != "" {
		t.Fatalf("unexpected first row (-want +got):\n%s", diff)
	}
	if rows[1].AgeDays != 1 || rows[1].P50 != 3.2 {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestParseRejectsShortRows(t *testing.T) {
	input := "Day\tL\tM\n0\t1\t2\n"
	_, err := Parse(strings.NewReader(input), Table{Gender: report.GenderMale, Type: report.MeasurementWeight})
	if !errors.Is(err, ErrMalformedTable) {
		t.Fatalf("expected ErrMalformedTable, got %v", err)
	}
}

func TestParseRejectsEmptyTable(t *testing.T) {
	_, err := Parse(strings.NewReader("Day\tL\tM\r\n"), Table{Gender: report.GenderMale, Type: report.MeasurementWeight})
	if !errors.Is(err, ErrMalformedTable) {
		t.Fatalf("expected ErrMalformedTable, got %v", err)
	}
}

func TestTableFileNames(t *testing.T) {
	var got []string
	for _, table := range Tables() {
		got = append(got, table.FileName())
	}
	want := []string{
		"lhfa_boys_p_exp.txt",
		"lhfa_girls_p_exp.txt",
		"wfa_boys_p_exp.txt",
		"wfa_girls_p_exp.txt",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected file names (-want +got):\n%s", diff)
	}
}

func TestFetcherDownloadsTables(t *testing.T) {
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		_, _ = w.Write([]byte(sampleTable))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL+"/standards/", 0)
	result, err := fetcher.FetchAll(context.Background(), Tables())
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(result) != 4 {
		t.Fatalf("expected 4 tables, got %d", len(result))
	}
	if result[0].Rows[0].Gender != report.GenderMale || result[0].Rows[0].Type != report.MeasurementLengthHeight {
		t.Fatalf("rows not tagged with their table: %+v", result[0].Rows[0])
	}
	if requested[3] != "/standards/wfa_girls_p_exp.txt" {
		t.Fatalf("unexpected request path %q", requested[3])
	}
}

func TestFetcherReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, 0)
	if _, err := fetcher.Fetch(context.Background(), Tables()[0]); err == nil {
		t.Fatalf("expected error for 404")
	}
}

func TestNewFetcherDefaultsBaseURL(t *testing.T) {
	fetcher := NewFetcher("  ", 2)
	want := DefaultBaseURL + "/wfa_boys_p_exp.txt"
	if got := fetcher.URL(Table{Gender: report.GenderMale, Type: report.MeasurementWeight}); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
