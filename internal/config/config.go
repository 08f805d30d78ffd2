// Package config loads the pipeline configuration: cameras, zones, and
// tracking/occupancy thresholds. Fields omitted from the JSON file fall
// back to defaults through the Get* accessors, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/track"
	"github.com/atrium-data/presence.report/internal/zones"
)

// CameraConfig describes one detection source.
type CameraConfig struct {
	ID string `json:"id"`

	// Source selects the detection feed: "sim" for the built-in simulator,
	// "replay" for a recorded JSON-lines capture.
	Source string `json:"source"`

	// ReplayPath is the capture file, required when Source is "replay".
	ReplayPath string `json:"replay_path,omitempty"`

	// FrameInterval is the simulator frame cadence, duration string like "100ms".
	FrameInterval *string `json:"frame_interval,omitempty"`

	// DetectorTimeout bounds how long the pipeline waits for one frame
	// before treating it as dropped, duration string like "1s".
	DetectorTimeout *string `json:"detector_timeout,omitempty"`
}

// Config is the root configuration. The schema matches what the API's
// config endpoints report so the same JSON round-trips.
type Config struct {
	// Tracker params
	IOUThreshold *float64 `json:"iou_threshold,omitempty"`
	MaxAge       *int     `json:"max_age,omitempty"`
	MinHits      *int     `json:"min_hits,omitempty"`
	MaxTracks    *int     `json:"max_tracks,omitempty"`

	// Occupancy params
	IdleThreshold         *string  `json:"idle_threshold,omitempty"` // duration string like "300s"
	IdleJitterPx          *float64 `json:"idle_jitter_px,omitempty"`
	UnauthorizedThreshold *string  `json:"unauthorized_threshold,omitempty"` // duration string like "60s"

	// Aggregation params
	UpdateInterval *string `json:"update_interval,omitempty"` // duration string like "60s"

	// IO params
	ListenAddr   *string `json:"listen_addr,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`
	RedisAddr    *string `json:"redis_addr,omitempty"` // empty disables the Redis sink
	RedisChannel *string `json:"redis_channel,omitempty"`

	Cameras []CameraConfig `json:"cameras,omitempty"`
	Zones   []zones.Zone   `json:"zones,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under the max file size.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid. Zone geometry
// faults are fatal here, before any pipeline starts.
func (c *Config) Validate() error {
	if c.IOUThreshold != nil {
		if *c.IOUThreshold <= 0 || *c.IOUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be in (0, 1], got %f", *c.IOUThreshold)
		}
	}
	if c.MaxAge != nil && *c.MaxAge < 1 {
		return fmt.Errorf("max_age must be at least 1, got %d", *c.MaxAge)
	}
	if c.MinHits != nil && *c.MinHits < 1 {
		return fmt.Errorf("min_hits must be at least 1, got %d", *c.MinHits)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
	}
	if c.IdleJitterPx != nil && *c.IdleJitterPx < 0 {
		return fmt.Errorf("idle_jitter_px must be non-negative, got %f", *c.IdleJitterPx)
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"idle_threshold", c.IdleThreshold},
		{"unauthorized_threshold", c.UnauthorizedThreshold},
		{"update_interval", c.UpdateInterval},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.ParseDuration(*field.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", field.name, *field.value, err)
			}
		}
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera %d: empty id", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("camera %q: duplicate id", cam.ID)
		}
		seen[cam.ID] = true
		switch cam.Source {
		case "sim", "replay":
		default:
			return fmt.Errorf("camera %q: unknown source %q", cam.ID, cam.Source)
		}
		if cam.Source == "replay" && cam.ReplayPath == "" {
			return fmt.Errorf("camera %q: replay source requires replay_path", cam.ID)
		}
		for _, field := range []struct {
			name  string
			value *string
		}{
			{"frame_interval", cam.FrameInterval},
			{"detector_timeout", cam.DetectorTimeout},
		} {
			if field.value != nil && *field.value != "" {
				if _, err := time.ParseDuration(*field.value); err != nil {
					return fmt.Errorf("camera %q: invalid %s '%s': %w", cam.ID, field.name, *field.value, err)
				}
			}
		}
	}

	// Zone validation is the registry's job; run it now so a bad polygon
	// fails at load time instead of first resolve.
	if len(c.Zones) > 0 {
		if _, err := zones.NewRegistry(c.Zones); err != nil {
			return fmt.Errorf("invalid zones: %w", err)
		}
	}

	return nil
}

// GetIOUThreshold returns the iou_threshold value or the default.
func (c *Config) GetIOUThreshold() float64 {
	if c.IOUThreshold == nil {
		return 0.3
	}
	return *c.IOUThreshold
}

// GetMaxAge returns the max_age value or the default.
func (c *Config) GetMaxAge() int {
	if c.MaxAge == nil {
		return 30
	}
	return *c.MaxAge
}

// GetMinHits returns the min_hits value or the default.
func (c *Config) GetMinHits() int {
	if c.MinHits == nil {
		return 3
	}
	return *c.MinHits
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *Config) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 128
	}
	return *c.MaxTracks
}

// GetIdleThreshold parses and returns the IdleThreshold as a time.Duration.
func (c *Config) GetIdleThreshold() time.Duration {
	return parseDuration(c.IdleThreshold, 300*time.Second)
}

// GetIdleJitterPx returns the idle_jitter_px value or the default.
func (c *Config) GetIdleJitterPx() float64 {
	if c.IdleJitterPx == nil {
		return 5.0
	}
	return *c.IdleJitterPx
}

// GetUnauthorizedThreshold parses and returns the UnauthorizedThreshold.
func (c *Config) GetUnauthorizedThreshold() time.Duration {
	return parseDuration(c.UnauthorizedThreshold, 60*time.Second)
}

// GetUpdateInterval parses and returns the aggregation cadence.
func (c *Config) GetUpdateInterval() time.Duration {
	return parseDuration(c.UpdateInterval, 60*time.Second)
}

// GetListenAddr returns the listen_addr value or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetDatabasePath returns the database_path value or the default.
func (c *Config) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "presence.db"
	}
	return *c.DatabasePath
}

// GetRedisAddr returns the redis_addr value; empty disables the sink.
func (c *Config) GetRedisAddr() string {
	if c.RedisAddr == nil {
		return ""
	}
	return *c.RedisAddr
}

// GetRedisChannel returns the redis_channel value or the default.
func (c *Config) GetRedisChannel() string {
	if c.RedisChannel == nil || *c.RedisChannel == "" {
		return "presence.alerts"
	}
	return *c.RedisChannel
}

// GetFrameInterval parses and returns the camera frame cadence.
func (cam *CameraConfig) GetFrameInterval() time.Duration {
	return parseDuration(cam.FrameInterval, 100*time.Millisecond)
}

// GetDetectorTimeout parses and returns the per-frame detector deadline.
func (cam *CameraConfig) GetDetectorTimeout() time.Duration {
	return parseDuration(cam.DetectorTimeout, time.Second)
}

// TrackerConfig assembles the tracker parameters.
func (c *Config) TrackerConfig() track.Config {
	return track.Config{
		IOUThreshold: c.GetIOUThreshold(),
		MaxAge:       c.GetMaxAge(),
		MinHits:      c.GetMinHits(),
		MaxTracks:    c.GetMaxTracks(),
	}
}

// OccupancyConfig assembles the occupancy engine parameters.
func (c *Config) OccupancyConfig() occupancy.Config {
	return occupancy.Config{
		IdleThreshold:         c.GetIdleThreshold(),
		IdleJitterPx:          c.GetIdleJitterPx(),
		UnauthorizedThreshold: c.GetUnauthorizedThreshold(),
	}
}

func parseDuration(s *string, fallback time.Duration) time.Duration {
	if s == nil || *s == "" {
		return fallback
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fallback
	}
	return d
}
