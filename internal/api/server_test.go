package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/detect"
	"github.com/atrium-data/presence.report/internal/geom"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/pipeline"
	"github.com/atrium-data/presence.report/internal/track"
	"github.com/atrium-data/presence.report/internal/zones"
)

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
	}
}

func testRegistry(t *testing.T) *zones.Registry {
	t.Helper()
	r, err := zones.NewRegistry([]zones.Zone{
		{ID: "desk-1", Name: "Desk 1", Category: zones.CategoryProductive, Polygon: rect(0, 0, 200, 200)},
		{ID: "lounge", Name: "Lounge", Category: zones.CategoryBreak, Polygon: rect(0, 300, 500, 500), MaxCapacity: 4},
	})
	require.NoError(t, err)
	return r
}

type fakeSummarizer struct {
	summary analytics.Summary
	have    bool
	collect int
}

func (f *fakeSummarizer) LastSummary() (analytics.Summary, bool) {
	return f.summary, f.have
}

func (f *fakeSummarizer) Collect(now time.Time) analytics.Summary {
	f.collect++
	s := f.summary
	s.Timestamp = now
	return s
}

type fakeAlertReader struct {
	alerts []occupancy.Alert
	err    error
}

func (f *fakeAlertReader) RecentAlerts(_ context.Context, limit int) ([]occupancy.Alert, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.alerts) {
		return f.alerts[:limit], nil
	}
	return f.alerts, nil
}

func testPipeline(t *testing.T, registry *zones.Registry) *pipeline.Pipeline {
	t.Helper()
	cfg := track.DefaultConfig()
	cfg.MinHits = 1
	tracker := track.NewTracker("cam-1", cfg)
	engine := occupancy.NewEngine("cam-1", registry, occupancy.Config{
		IdleThreshold: 300 * time.Second, IdleJitterPx: 5, UnauthorizedThreshold: 60 * time.Second,
	}, nil)
	return pipeline.New(pipeline.Config{
		CameraID: "cam-1",
		Tracker:  tracker,
		Engine:   engine,
	})
}

func newTestServer(t *testing.T, summarizer Summarizer, alerts AlertReader) (*Server, *pipeline.Pipeline) {
	t.Helper()
	registry := testRegistry(t)
	p := testPipeline(t, registry)
	return NewServer(registry, summarizer, alerts, []*pipeline.Pipeline{p}, nil), p
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeSummarizer{}, nil)
	w := get(t, s.ServeMux(), "/healthz")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"], "pipeline not running yet")
}

func TestShowMetricsUsesLastSummary(t *testing.T) {
	t.Parallel()

	f := &fakeSummarizer{
		summary: analytics.Summary{
			Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			Zones:     []analytics.ZoneSnapshot{{ZoneID: "desk-1", Occupants: 2}},
		},
		have: true,
	}
	s, _ := newTestServer(t, f, nil)
	w := get(t, s.ServeMux(), "/api/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	var got analytics.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Zones, 1)
	assert.Equal(t, "desk-1", got.Zones[0].ZoneID)
	assert.Zero(t, f.collect, "no on-demand collection when a summary exists")
}

func TestShowMetricsCollectsOnDemand(t *testing.T) {
	t.Parallel()

	f := &fakeSummarizer{}
	s, _ := newTestServer(t, f, nil)
	w := get(t, s.ServeMux(), "/api/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.collect)
}

func TestListZonesIncludesOccupants(t *testing.T) {
	t.Parallel()

	s, p := newTestServer(t, &fakeSummarizer{}, nil)

	// Put one confirmed track on the desk.
	now := time.Now()
	p.Tracker().Update([]detect.Detection{{
		CameraID:   "cam-1",
		Box:        geom.Box{X: 75, Y: 75, Width: 50, Height: 50},
		Confidence: 0.9,
	}}, now)
	p.Engine().ObserveFrame(p.Tracker().ConfirmedTracks(), now)

	w := get(t, s.ServeMux(), "/api/zones")
	require.Equal(t, http.StatusOK, w.Code)

	var got []struct {
		ID        string `json:"id"`
		Occupants int    `json:"occupants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "desk-1", got[0].ID)
	assert.Equal(t, 1, got[0].Occupants)
	assert.Zero(t, got[1].Occupants)
}

func TestListAlerts(t *testing.T) {
	t.Parallel()

	alerts := &fakeAlertReader{alerts: []occupancy.Alert{
		{ID: "a-1", Kind: occupancy.AlertIdleTimeout, ZoneID: "desk-1"},
		{ID: "a-2", Kind: occupancy.AlertOverCapacity, ZoneID: "lounge"},
	}}
	s, _ := newTestServer(t, &fakeSummarizer{}, alerts)
	mux := s.ServeMux()

	w := get(t, mux, "/api/alerts")
	require.Equal(t, http.StatusOK, w.Code)
	var got []occupancy.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	w = get(t, mux, "/api/alerts?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	w = get(t, mux, "/api/alerts?limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAlertsErrors(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeSummarizer{}, &fakeAlertReader{err: errors.New("disk error")})
	w := get(t, s.ServeMux(), "/api/alerts")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListAlertsWithoutStore(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeSummarizer{}, nil)
	w := get(t, s.ServeMux(), "/api/alerts")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestListCameras(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeSummarizer{}, nil)
	w := get(t, s.ServeMux(), "/api/cameras")

	require.Equal(t, http.StatusOK, w.Code)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "cam-1", got[0]["camera_id"])
	assert.Equal(t, false, got[0]["running"])
}

func TestListTracks(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeSummarizer{}, nil)
	mux := s.ServeMux()

	w := get(t, mux, "/api/tracks?camera=cam-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = get(t, mux, "/api/tracks?camera=cam-9")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, mux, "/api/tracks")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShowReport(t *testing.T) {
	t.Parallel()

	f := &fakeSummarizer{
		summary: analytics.Summary{
			Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			Zones:     []analytics.ZoneSnapshot{{ZoneID: "desk-1", Name: "Desk 1", Visits: 3}},
		},
		have: true,
	}
	s, _ := newTestServer(t, f, nil)
	w := get(t, s.ServeMux(), "/report")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Desk 1")
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeSummarizer{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
