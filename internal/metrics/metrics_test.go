package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider, err := New()
	require.NoError(t, err)

	router := gin.New()
	router.Use(provider.Middleware())
	router.GET("/children/:child_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/children/"+id, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(provider.httpRequests.WithLabelValues("GET", "/children/:child_id", "204")))
	require.Equal(t, 1.0, testutil.ToFloat64(provider.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestHandlerExposesReportCounter(t *testing.T) {
	provider, err := New()
	require.NoError(t, err)
	provider.RecordReport("summary", "sleep", 12)
	provider.RecordReport("summary", "sleep", 0)

	rec := httptest.NewRecorder()
	provider.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `babylog_report_records_total{category="sleep",report="summary"} 12`), rec.Body.String())
}

func TestNilProviderIsNoop(t *testing.T) {
	var provider *Provider
	provider.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	provider.RecordReport("summary", "sleep", 1)
	require.Nil(t, provider.Registry())

	rec := httptest.NewRecorder()
	provider.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
