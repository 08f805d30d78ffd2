// Command replay runs a recorded detection log through the full occupancy
// pipeline offline and emits a rollup JSON plus an optional HTML/PNG report.
//
// Usage:
//
//	replay -config site.json -log capture.jsonl -out ./reports
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/config"
	"github.com/atrium-data/presence.report/internal/detect"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/report"
	"github.com/atrium-data/presence.report/internal/track"
	"github.com/atrium-data/presence.report/internal/zones"
)

var (
	configPath = flag.String("config", "", "JSON config file with zones and thresholds (required)")
	logPath    = flag.String("log", "", "JSON-lines detection log to replay (required)")
	outDir     = flag.String("out", "", "Write the HTML report and dwell histogram here")
	rollupPath = flag.String("rollup", "", "Write the rollup JSON here instead of stdout")
)

// cameraState is one replayed camera's tracker and occupancy engine.
type cameraState struct {
	tracker *track.Tracker
	engine  *occupancy.Engine
	lastTS  time.Time
}

// rollup is the tool's JSON output.
type rollup struct {
	Log           string            `json:"log"`
	Frames        int               `json:"frames"`
	DroppedDets   int               `json:"dropped_detections"`
	Cameras       []string          `json:"cameras"`
	Alerts        []occupancy.Alert `json:"alerts"`
	Summary       analytics.Summary `json:"summary"`
	ElapsedReplay time.Duration     `json:"elapsed_replay_ns"`
}

func main() {
	flag.Parse()
	if *configPath == "" || *logPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	registry, err := zones.NewRegistry(cfg.Zones)
	if err != nil {
		log.Fatalf("invalid zone configuration: %v", err)
	}

	src, err := detect.OpenReplay(*logPath)
	if err != nil {
		log.Fatalf("failed to open detection log: %v", err)
	}
	defer src.Close()

	start := time.Now()
	r, sources, err := replayLog(src, cfg, registry)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	agg := analytics.New(analytics.Config{Registry: registry, Sources: sources})

	// Stamp the summary in capture time, not wall clock.
	lastTS := start
	for _, s := range sources {
		if cs, ok := s.(*engineSource); ok && cs.lastTS.After(lastTS) {
			lastTS = cs.lastTS
		}
	}
	r.Summary = agg.Collect(lastTS)
	r.ElapsedReplay = time.Since(start)
	r.Log = *logPath

	if err := writeRollup(r); err != nil {
		log.Fatalf("failed to write rollup: %v", err)
	}

	if *outDir != "" {
		htmlPath, pngPath, err := report.NewGenerator(*outDir).Write(r.Summary, agg.DwellSamples())
		if err != nil {
			log.Fatalf("failed to write report: %v", err)
		}
		log.Printf("wrote report %s", htmlPath)
		if pngPath != "" {
			log.Printf("wrote dwell histogram %s", pngPath)
		}
	}
}

// engineSource adapts a replayed camera to the aggregator, remembering the
// last frame timestamp so the rollup is stamped in capture time.
type engineSource struct {
	*occupancy.Engine
	lastTS time.Time
}

// replayLog drives every frame through a per-camera tracker and engine,
// flushing open records at each camera's last frame timestamp.
func replayLog(src *detect.ReplaySource, cfg *config.Config, registry *zones.Registry) (*rollup, []analytics.RecordSource, error) {
	ctx := context.Background()
	states := make(map[string]*cameraState)
	r := &rollup{Alerts: []occupancy.Alert{}}

	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, detect.ErrSourceClosed) {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		st, ok := states[frame.CameraID]
		if !ok {
			st = &cameraState{
				tracker: track.NewTracker(frame.CameraID, cfg.TrackerConfig()),
				engine:  occupancy.NewEngine(frame.CameraID, registry, cfg.OccupancyConfig(), nil),
			}
			states[frame.CameraID] = st
			r.Cameras = append(r.Cameras, frame.CameraID)
		}

		ts := frame.Timestamp
		if ts.IsZero() {
			return nil, nil, fmt.Errorf("frame %d for camera %s has no timestamp", r.Frames+1, frame.CameraID)
		}

		valid, dropped := detect.Filter(frame.Detections)
		r.DroppedDets += dropped
		st.tracker.Update(valid, ts)
		r.Alerts = append(r.Alerts, st.engine.ObserveFrame(st.tracker.ConfirmedTracks(), ts)...)
		st.lastTS = ts
		r.Frames++
	}

	sources := make([]analytics.RecordSource, 0, len(r.Cameras))
	for _, id := range r.Cameras {
		st := states[id]
		st.engine.Flush(st.lastTS)
		sources = append(sources, &engineSource{Engine: st.engine, lastTS: st.lastTS})
	}
	return r, sources, nil
}

func writeRollup(r *rollup) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if *rollupPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(*rollupPath, data, 0o644)
}
