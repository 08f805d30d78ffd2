// presence.report ingests person-detection streams, tracks people across
// frames, resolves them to named zones, and serves occupancy analytics and
// alerts over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/geo/r2"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/api"
	"github.com/atrium-data/presence.report/internal/config"
	"github.com/atrium-data/presence.report/internal/db"
	"github.com/atrium-data/presence.report/internal/detect"
	"github.com/atrium-data/presence.report/internal/notify"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/pipeline"
	"github.com/atrium-data/presence.report/internal/report"
	"github.com/atrium-data/presence.report/internal/track"
	"github.com/atrium-data/presence.report/internal/zones"
)

var (
	configPath = flag.String("config", "presence.json", "Path to the JSON config file")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
	reportDir  = flag.String("report-dir", "", "Write an HTML/PNG report here on shutdown")
)

func main() {
	flag.Parse()

	cfg := config.Empty()
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		log.Printf("config %s not found, using defaults", *configPath)
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *dbPath != "" {
		cfg.DatabasePath = dbPath
	}

	// Zone geometry faults are fatal before any pipeline starts.
	registry, err := zones.NewRegistry(cfg.Zones)
	if err != nil {
		log.Fatalf("invalid zone configuration: %v", err)
	}

	database, err := db.Open(cfg.GetDatabasePath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	sinks := notify.Fanout{notify.LogSink{}, notify.StoreSink{Store: database}}
	if redisSink := notify.NewRedisSink(cfg.GetRedisAddr(), cfg.GetRedisChannel()); redisSink != nil {
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
		log.Printf("publishing alerts to redis at %s channel %s", cfg.GetRedisAddr(), cfg.GetRedisChannel())
	}

	cameras := cfg.Cameras
	if len(cameras) == 0 {
		log.Print("no cameras configured, starting a simulated camera")
		cameras = []config.CameraConfig{{ID: "sim-0", Source: "sim"}}
	}

	var pipelines []*pipeline.Pipeline
	var engines []analytics.RecordSource
	for _, cam := range cameras {
		src, err := openSource(cam, registry)
		if err != nil {
			log.Fatalf("camera %s: %v", cam.ID, err)
		}

		engine := occupancy.NewEngine(cam.ID, registry, cfg.OccupancyConfig(), nil)
		engines = append(engines, engine)
		pipelines = append(pipelines, pipeline.New(pipeline.Config{
			CameraID:        cam.ID,
			Source:          src,
			Tracker:         track.NewTracker(cam.ID, cfg.TrackerConfig()),
			Engine:          engine,
			Sink:            sinks,
			DetectorTimeout: cam.GetDetectorTimeout(),
		}))
	}

	aggregator := analytics.New(analytics.Config{
		Registry: registry,
		Sources:  engines,
		Store:    database,
		Interval: cfg.GetUpdateInterval(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				log.Printf("camera %s: pipeline error: %v", p.CameraID(), err)
			}
			log.Printf("camera %s: pipeline stopped", p.CameraID())
		}(p)
	}

	// The aggregator outlives the camera pipelines so its final collection
	// sees their shutdown flush. It runs detached from ctx and is stopped
	// explicitly after the pipelines drain.
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		if err := aggregator.Run(context.Background()); err != nil {
			log.Printf("aggregator error: %v", err)
		}
	}()

	apiServer := api.NewServer(registry, aggregator, database, pipelines, nil)
	server := &http.Server{
		Addr:    cfg.GetListenAddr(),
		Handler: api.LoggingMiddleware(apiServer.ServeMux()),
	}

	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		log.Printf("listening on %s", cfg.GetListenAddr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down...")

	wg.Wait()
	aggregator.Stop()
	<-aggDone

	if *reportDir != "" {
		writeShutdownReport(aggregator, *reportDir)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	<-httpDone

	log.Print("graceful shutdown complete")
}

// openSource builds the detection source for one camera. Simulated cameras
// get a walker per zone so a default deployment produces live data.
func openSource(cam config.CameraConfig, registry *zones.Registry) (detect.Source, error) {
	switch cam.Source {
	case "replay":
		return detect.OpenReplay(cam.ReplayPath)
	default:
		sim := &detect.SimulatedSource{
			CameraID: cam.ID,
			Walkers:  simWalkers(registry.Zones()),
		}
		return detect.Paced(sim, cam.GetFrameInterval(), nil), nil
	}
}

// simWalkers scripts one walker per zone, staggered so occupancy builds up
// over the first seconds of a run.
func simWalkers(zs []zones.Zone) []detect.Walker {
	walkers := make([]detect.Walker, 0, len(zs))
	for i, z := range zs {
		if len(z.Polygon) == 0 {
			continue
		}
		var c r2.Point
		for _, pt := range z.Polygon {
			c = c.Add(pt)
		}
		c = c.Mul(1 / float64(len(z.Polygon)))

		walkers = append(walkers, detect.Walker{
			Waypoints: []r2.Point{z.Polygon[0], c},
			StepPx:    2,
			BoxW:      50,
			BoxH:      50,
			Conf:      0.9,
			StartAt:   i * 20,
		})
	}
	return walkers
}

func writeShutdownReport(agg *analytics.Aggregator, dir string) {
	summary, ok := agg.LastSummary()
	if !ok {
		summary = agg.Collect(time.Now())
	}
	htmlPath, pngPath, err := report.NewGenerator(dir).Write(summary, agg.DwellSamples())
	if err != nil {
		log.Printf("failed to write report: %v", err)
		return
	}
	log.Printf("wrote report %s", htmlPath)
	if pngPath != "" {
		log.Printf("wrote dwell histogram %s", pngPath)
	}
}
