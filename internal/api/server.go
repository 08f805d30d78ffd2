// Package api serves the read-only HTTP surface: occupancy metrics, zone
// definitions, alert history, heatmaps, and per-camera pipeline status.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/httputil"
	"github.com/atrium-data/presence.report/internal/monitoring"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/pipeline"
	"github.com/atrium-data/presence.report/internal/report"
	"github.com/atrium-data/presence.report/internal/timeutil"
	"github.com/atrium-data/presence.report/internal/track"
	"github.com/atrium-data/presence.report/internal/zones"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Summarizer is the slice of the aggregator the API reads.
type Summarizer interface {
	LastSummary() (analytics.Summary, bool)
	Collect(now time.Time) analytics.Summary
}

// AlertReader is the slice of the database the API reads.
type AlertReader interface {
	RecentAlerts(ctx context.Context, limit int) ([]occupancy.Alert, error)
}

// Server handles the HTTP API. All endpoints are read-only.
type Server struct {
	registry   *zones.Registry
	summarizer Summarizer
	alerts     AlertReader
	pipelines  []*pipeline.Pipeline
	clock      timeutil.Clock
}

// NewServer creates an API server. alerts may be nil when persistence is
// disabled; /api/alerts then returns an empty list.
func NewServer(registry *zones.Registry, summarizer Summarizer, alerts AlertReader, pipelines []*pipeline.Pipeline, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		registry:   registry,
		summarizer: summarizer,
		alerts:     alerts,
		pipelines:  pipelines,
		clock:      clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux builds the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/api/metrics", s.showMetrics)
	mux.HandleFunc("/api/zones", s.listZones)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/heatmap", s.showHeatmap)
	mux.HandleFunc("/api/cameras", s.listCameras)
	mux.HandleFunc("/api/tracks", s.listTracks)
	mux.Handle("/report", report.Handler(s.summarizer))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	cameras := make(map[string]bool, len(s.pipelines))
	healthy := true
	for _, p := range s.pipelines {
		cameras[p.CameraID()] = p.IsRunning()
		if !p.IsRunning() {
			healthy = false
		}
	}
	status["cameras"] = cameras
	if !healthy {
		status["status"] = "degraded"
	}
	httputil.WriteJSONOK(w, status)
}

// showMetrics returns the latest aggregation summary, computing one on
// demand when no interval has elapsed yet.
func (s *Server) showMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	summary, ok := s.summarizer.LastSummary()
	if !ok {
		summary = s.summarizer.Collect(s.clock.Now())
	}
	httputil.WriteJSONOK(w, summary)
}

type zoneView struct {
	zones.Zone
	Occupants int `json:"occupants"`
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	occupants := make(map[string]int)
	for _, p := range s.pipelines {
		for zoneID, n := range p.Engine().OccupantCounts() {
			occupants[zoneID] += n
		}
	}

	views := make([]zoneView, 0, len(s.registry.Zones()))
	for _, z := range s.registry.Zones() {
		views = append(views, zoneView{Zone: z, Occupants: occupants[z.ID]})
	}
	httputil.WriteJSONOK(w, views)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if s.alerts == nil {
		httputil.WriteJSONOK(w, []occupancy.Alert{})
		return
	}
	alerts, err := s.alerts.RecentAlerts(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to read alerts")
		return
	}
	if alerts == nil {
		alerts = []occupancy.Alert{}
	}
	httputil.WriteJSONOK(w, alerts)
}

func (s *Server) showHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	summary, ok := s.summarizer.LastSummary()
	if !ok {
		summary = s.summarizer.Collect(s.clock.Now())
	}
	if summary.Heatmap == nil {
		httputil.WriteJSONOK(w, map[string][24]time.Duration{})
		return
	}
	httputil.WriteJSONOK(w, summary.Heatmap)
}

type cameraView struct {
	CameraID        string `json:"camera_id"`
	Running         bool   `json:"running"`
	FramesProcessed int    `json:"frames_processed"`
	FramesDropped   int    `json:"frames_dropped"`
	TentativeTracks int    `json:"tentative_tracks"`
	ConfirmedTracks int    `json:"confirmed_tracks"`
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	views := make([]cameraView, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		tentative, confirmed := p.Tracker().Counts()
		views = append(views, cameraView{
			CameraID:        p.CameraID(),
			Running:         p.IsRunning(),
			FramesProcessed: p.FramesProcessed(),
			FramesDropped:   p.FramesDropped(),
			TentativeTracks: tentative,
			ConfirmedTracks: confirmed,
		})
	}
	httputil.WriteJSONOK(w, views)
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	cameraID := r.URL.Query().Get("camera")
	if cameraID == "" {
		httputil.BadRequest(w, "camera query parameter is required")
		return
	}
	for _, p := range s.pipelines {
		if p.CameraID() == cameraID {
			tracks := p.Tracker().ConfirmedTracks()
			if tracks == nil {
				tracks = []track.Track{}
			}
			httputil.WriteJSONOK(w, tracks)
			return
		}
	}
	httputil.NotFound(w, "no such camera")
}
