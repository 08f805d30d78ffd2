package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/config"
	"github.com/atrium-data/presence.report/internal/detect"
	"github.com/atrium-data/presence.report/internal/geom"
	"github.com/atrium-data/presence.report/internal/zones"
)

func testConfig(t *testing.T) (*config.Config, *zones.Registry) {
	t.Helper()
	minHits := 1
	cfg := config.Empty()
	cfg.MinHits = &minHits
	cfg.Zones = []zones.Zone{{
		ID:       "desk-1",
		Name:     "Desk 1",
		Category: zones.CategoryProductive,
		Polygon: geom.Polygon{
			{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 200, Y: 200}, {X: 0, Y: 200},
		},
	}}
	registry, err := zones.NewRegistry(cfg.Zones)
	require.NoError(t, err)
	return cfg, registry
}

func encodeLog(t *testing.T, frames []detect.Frame) *detect.ReplaySource {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range frames {
		require.NoError(t, enc.Encode(f))
	}
	return detect.NewReplaySource(&buf)
}

func frameAt(ts time.Time, x, y float64) detect.Frame {
	return detect.Frame{
		CameraID:  "cam-1",
		Timestamp: ts,
		Detections: []detect.Detection{{
			CameraID:   "cam-1",
			Box:        geom.Box{X: x - 25, Y: y - 25, Width: 50, Height: 50},
			Confidence: 0.9,
			Timestamp:  ts,
		}},
	}
}

func TestReplayLog(t *testing.T) {
	t.Parallel()

	cfg, registry := testConfig(t)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	src := encodeLog(t, []detect.Frame{
		frameAt(t0, 100, 100),
		frameAt(t0.Add(time.Second), 100, 100),
		frameAt(t0.Add(2*time.Second), 100, 100),
	})

	r, sources, err := replayLog(src, cfg, registry)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	assert.Equal(t, 3, r.Frames)
	assert.Equal(t, []string{"cam-1"}, r.Cameras)
	assert.Zero(t, r.DroppedDets)

	agg := analytics.New(analytics.Config{Registry: registry, Sources: sources})
	summary := agg.Collect(t0.Add(2 * time.Second))
	require.Len(t, summary.Zones, 1)
	assert.Equal(t, 1, summary.Zones[0].Visits)
	assert.Equal(t, 2*time.Second, summary.Zones[0].CumulativeDwell)
}

func TestReplayLogDropsMalformedDetections(t *testing.T) {
	t.Parallel()

	cfg, registry := testConfig(t)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	bad := frameAt(t0, 100, 100)
	bad.Detections[0].Confidence = 7

	r, _, err := replayLog(encodeLog(t, []detect.Frame{bad}), cfg, registry)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Frames)
	assert.Equal(t, 1, r.DroppedDets)
}

func TestReplayLogRejectsMissingTimestamp(t *testing.T) {
	t.Parallel()

	cfg, registry := testConfig(t)
	f := detect.Frame{CameraID: "cam-1"}

	_, _, err := replayLog(encodeLog(t, []detect.Frame{f}), cfg, registry)
	assert.ErrorContains(t, err, "no timestamp")
}
