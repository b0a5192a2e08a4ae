package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pricewatchbd/crawler/internal/record"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(record.NewRunStats(), "run-1", "startech", zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProgressReflectsCounters(t *testing.T) {
	t.Parallel()

	stats := record.NewRunStats()
	stats.Add(func(s *record.RunStats) {
		s.ItemsWritten = 12
		s.DroppedInvalid = 3
		s.PagesFetched = 40
	})

	srv := NewServer(stats, "run-2", "ryans", zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp progressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-2", resp.RunID)
	assert.Equal(t, "ryans", resp.Site)
	assert.Equal(t, 12, resp.Counter.ItemsWritten)
	assert.Equal(t, 3, resp.Counter.DroppedInvalid)
	assert.Equal(t, 40, resp.Counter.PagesFetched)
}

func TestMetricsServesPrometheusExposition(t *testing.T) {
	t.Parallel()

	srv := NewServer(record.NewRunStats(), "run-3", "startech", zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
