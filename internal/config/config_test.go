package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Empty()
	assert.Equal(t, 0.3, cfg.GetIOUThreshold())
	assert.Equal(t, 30, cfg.GetMaxAge())
	assert.Equal(t, 3, cfg.GetMinHits())
	assert.Equal(t, 128, cfg.GetMaxTracks())
	assert.Equal(t, 300*time.Second, cfg.GetIdleThreshold())
	assert.Equal(t, 5.0, cfg.GetIdleJitterPx())
	assert.Equal(t, 60*time.Second, cfg.GetUnauthorizedThreshold())
	assert.Equal(t, 60*time.Second, cfg.GetUpdateInterval())
	assert.Equal(t, ":8080", cfg.GetListenAddr())
	assert.Equal(t, "presence.db", cfg.GetDatabasePath())
	assert.Equal(t, "", cfg.GetRedisAddr())
	assert.Equal(t, "presence.alerts", cfg.GetRedisChannel())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
  "iou_threshold": 0.4,
  "max_age": 15,
  "min_hits": 2,
  "idle_threshold": "600s",
  "unauthorized_threshold": "30s",
  "update_interval": "5m",
  "listen_addr": ":9090",
  "cameras": [
    {"id": "cam-1", "source": "sim", "frame_interval": "50ms"}
  ],
  "zones": [
    {"id": "desk-1", "name": "Desk 1", "category": "productive",
     "polygon": [{"X": 0, "Y": 0}, {"X": 100, "Y": 0}, {"X": 100, "Y": 100}, {"X": 0, "Y": 100}]}
  ]
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.4, cfg.GetIOUThreshold())
	assert.Equal(t, 15, cfg.GetMaxAge())
	assert.Equal(t, 2, cfg.GetMinHits())
	assert.Equal(t, 128, cfg.GetMaxTracks(), "omitted fields keep defaults")
	assert.Equal(t, 600*time.Second, cfg.GetIdleThreshold())
	assert.Equal(t, 30*time.Second, cfg.GetUnauthorizedThreshold())
	assert.Equal(t, 5*time.Minute, cfg.GetUpdateInterval())
	assert.Equal(t, ":9090", cfg.GetListenAddr())

	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, 50*time.Millisecond, cfg.Cameras[0].GetFrameInterval())
	assert.Equal(t, time.Second, cfg.Cameras[0].GetDetectorTimeout())

	require.Len(t, cfg.Zones, 1)
	assert.Equal(t, "desk-1", cfg.Zones[0].ID)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load("/nonexistent/path/config.json")
	assert.Error(t, err)
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	t.Parallel()
	_, err := Load("config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"iou_threshold": `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	s := func(v string) *string { return &v }

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty is valid", Config{}, ""},
		{"iou above one", Config{IOUThreshold: f(1.5)}, "iou_threshold"},
		{"iou zero", Config{IOUThreshold: f(0)}, "iou_threshold"},
		{"max_age zero", Config{MaxAge: i(0)}, "max_age"},
		{"min_hits zero", Config{MinHits: i(0)}, "min_hits"},
		{"negative jitter", Config{IdleJitterPx: f(-1)}, "idle_jitter_px"},
		{"bad idle threshold", Config{IdleThreshold: s("soon")}, "idle_threshold"},
		{"bad update interval", Config{UpdateInterval: s("often")}, "update_interval"},
		{"camera without id", Config{Cameras: []CameraConfig{{Source: "sim"}}}, "empty id"},
		{"duplicate camera", Config{Cameras: []CameraConfig{
			{ID: "cam-1", Source: "sim"}, {ID: "cam-1", Source: "sim"},
		}}, "duplicate id"},
		{"unknown source", Config{Cameras: []CameraConfig{{ID: "cam-1", Source: "rtsp"}}}, "unknown source"},
		{"replay without path", Config{Cameras: []CameraConfig{{ID: "cam-1", Source: "replay"}}}, "replay_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRejectsDegenerateZone(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
  "zones": [{"id": "bad", "polygon": [{"X": 0, "Y": 0}, {"X": 1, "Y": 1}]}]
}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid zones")
}

func TestAssembledConfigs(t *testing.T) {
	t.Parallel()

	cfg := Empty()
	tc := cfg.TrackerConfig()
	assert.Equal(t, 0.3, tc.IOUThreshold)
	assert.Equal(t, 30, tc.MaxAge)

	oc := cfg.OccupancyConfig()
	assert.Equal(t, 300*time.Second, oc.IdleThreshold)
	assert.Equal(t, 5.0, oc.IdleJitterPx)
	assert.Equal(t, 60*time.Second, oc.UnauthorizedThreshold)
}
