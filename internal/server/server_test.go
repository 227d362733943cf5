package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenpulse/greenpulse/internal/analysis"
	"github.com/greenpulse/greenpulse/internal/metrics"
	"github.com/greenpulse/greenpulse/internal/models"
	"github.com/greenpulse/greenpulse/internal/storage"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T) (*Server, *storage.Store, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStore(filepath.Join(dir, "raw"), filepath.Join(dir, "processed"))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	srv, err := New(
		quietLogger(),
		store,
		[]string{"ssb", "elhub"},
		analysis.DefaultOptions(),
		16,
		metrics.New(registry),
	)
	require.NoError(t, err)

	return srv, store, srv.Router(registry)
}

func seedSSB(t *testing.T, store *storage.Store) {
	t.Helper()
	table := models.ObservationTable{
		{EntityID: "Norway", Period: 2000, Value: 54.0, Unit: "Mt CO2eq", Category: "emissions", Source: "ssb"},
		{EntityID: "Norway", Period: 2010, Value: 55.0, Unit: "Mt CO2eq", Category: "emissions", Source: "ssb"},
		{EntityID: "Norway", Period: 2023, Value: 46.0, Unit: "Mt CO2eq", Category: "emissions", Source: "ssb"},
	}
	_, err := store.SaveTable("ssb", table)
	require.NoError(t, err)
}

func TestHandleReport(t *testing.T) {
	_, store, router := newTestServer(t)
	seedSSB(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/ssb", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.TrendSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2000, summary.BaselinePeriod)
	assert.Equal(t, 2023, summary.LatestPeriod)
	assert.Equal(t, 55.0, summary.PeakValue)
	assert.Equal(t, 2010, summary.PeakPeriod)
	assert.Equal(t, "Mt CO2eq", summary.Unit)
}

func TestHandleReportUnknownSource(t *testing.T) {
	_, _, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/ssb", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReportInsufficientData(t *testing.T) {
	_, store, router := newTestServer(t)
	table := models.ObservationTable{
		{EntityID: "Norway", Period: 2023, Value: 46.0, Unit: "Mt CO2eq", Category: "emissions", Source: "ssb"},
	}
	_, err := store.SaveTable("ssb", table)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/ssb", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enough history")
}

func TestHandleReportMultiEntityNeedsEntityParam(t *testing.T) {
	_, store, router := newTestServer(t)
	table := models.ObservationTable{
		{EntityID: "NO1", Period: 2022, Value: 10, Unit: "GWh", Category: "consumption", Source: "elhub"},
		{EntityID: "NO1", Period: 2023, Value: 12, Unit: "GWh", Category: "consumption", Source: "elhub"},
		{EntityID: "NO2", Period: 2022, Value: 20, Unit: "GWh", Category: "consumption", Source: "elhub"},
		{EntityID: "NO2", Period: 2023, Value: 18, Unit: "GWh", Category: "consumption", Source: "elhub"},
	}
	_, err := store.SaveTable("elhub", table)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/elhub", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/elhub?entity=NO2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.TrendSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.InDelta(t, -0.1, summary.PercentChange, 1e-9)
}

func TestHandleSources(t *testing.T) {
	_, store, router := newTestServer(t)
	seedSSB(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sources", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []sourceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)

	assert.Equal(t, "ssb", statuses[0].Name)
	assert.True(t, statuses[0].HasData)
	assert.Equal(t, 3, statuses[0].RowCount)
	assert.Equal(t, []string{"Norway"}, statuses[0].Entities)

	assert.Equal(t, "elhub", statuses[1].Name)
	assert.False(t, statuses[1].HasData)
}

func TestHandleLatestRun(t *testing.T) {
	srv, _, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	report := &models.RunReport{
		RunID:     "run-1",
		StartedAt: time.Now().UTC(),
		Outcomes: map[string]models.SourceOutcome{
			"ssb": {Success: true, RowCount: 3},
		},
	}
	srv.SetLastReport(report)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-1")
}

func TestReportCacheDroppedOnNewRun(t *testing.T) {
	srv, store, router := newTestServer(t)
	seedSSB(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/ssb", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// New data lands, then a run report invalidates the cached summary.
	table := models.ObservationTable{
		{EntityID: "Norway", Period: 2000, Value: 54.0, Unit: "Mt CO2eq", Category: "emissions", Source: "ssb"},
		{EntityID: "Norway", Period: 2024, Value: 40.0, Unit: "Mt CO2eq", Category: "emissions", Source: "ssb"},
	}
	_, err := store.SaveTable("ssb", table)
	require.NoError(t, err)
	srv.SetLastReport(&models.RunReport{RunID: "run-2", Outcomes: map[string]models.SourceOutcome{}})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/ssb", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.TrendSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2024, summary.LatestPeriod)
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "greenpulse_http_requests_total")
}
