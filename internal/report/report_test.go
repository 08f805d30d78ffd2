package report

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/zones"
)

func testSummary() analytics.Summary {
	return analytics.Summary{
		Timestamp: time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC),
		Zones: []analytics.ZoneSnapshot{
			{ZoneID: "desk-1", Name: "Desk 1", Category: zones.CategoryProductive, Visits: 4, CumulativeDwell: 90 * time.Minute},
			{ZoneID: "lounge", Name: "Lounge", Category: zones.CategoryBreak, Visits: 2, CumulativeDwell: 20 * time.Minute},
		},
		Persons: []analytics.PersonSnapshot{
			{PersonID: "alice", ProductiveTime: 90 * time.Minute, BreakTime: 20 * time.Minute, TotalTime: 110 * time.Minute},
		},
		AlertCounts: map[occupancy.AlertKind]int{
			occupancy.AlertIdleTimeout: 3,
		},
		Dwell: analytics.DwellStats{Count: 6, Mean: 18 * time.Minute},
	}
}

func TestWriteHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, testSummary()))

	html := buf.String()
	assert.Contains(t, html, "Desk 1")
	assert.Contains(t, html, "Lounge")
	assert.Contains(t, html, "Zone Occupancy")
	assert.Contains(t, html, "alice")
	assert.Contains(t, html, "idle_timeout")
}

func TestWriteHTMLSkipsEmptyPersonChart(t *testing.T) {
	t.Parallel()

	s := testSummary()
	s.Persons = nil

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, s))
	assert.NotContains(t, buf.String(), "Time Budget")
}

func TestSaveDwellHistogram(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plots", "dwell.png")
	samples := []float64{5, 10, 10, 20, 45, 90, 120, 300}
	require.NoError(t, SaveDwellHistogram(path, samples))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSaveDwellHistogramEmpty(t *testing.T) {
	t.Parallel()

	err := SaveDwellHistogram(filepath.Join(t.TempDir(), "dwell.png"), nil)
	assert.Error(t, err)
}

func TestGeneratorWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	g := NewGenerator(dir)

	htmlPath, pngPath, err := g.Write(testSummary(), []float64{10, 20, 30})
	require.NoError(t, err)

	assert.FileExists(t, htmlPath)
	assert.FileExists(t, pngPath)
	assert.Equal(t, dir, filepath.Dir(htmlPath))

	// No samples: histogram skipped, report still written.
	htmlPath, pngPath, err = g.Write(testSummary(), nil)
	require.NoError(t, err)
	assert.FileExists(t, htmlPath)
	assert.Empty(t, pngPath)
}

type fakeSource struct {
	summary analytics.Summary
	have    bool
	collect int
}

func (f *fakeSource) LastSummary() (analytics.Summary, bool) { return f.summary, f.have }

func (f *fakeSource) Collect(now time.Time) analytics.Summary {
	f.collect++
	s := f.summary
	s.Timestamp = now
	return s
}

func TestHandler(t *testing.T) {
	t.Parallel()

	src := &fakeSource{summary: testSummary(), have: true}
	h := Handler(src)

	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	w := httptest.NewRecorder()
	h(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Zone Occupancy")
	assert.Zero(t, src.collect)

	req = httptest.NewRequest(http.MethodPost, "/report", nil)
	w = httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandlerCollectsOnDemand(t *testing.T) {
	t.Parallel()

	src := &fakeSource{summary: testSummary()}
	h := Handler(src)

	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	w := httptest.NewRecorder()
	h(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, src.collect)
}
