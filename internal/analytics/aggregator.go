// Package analytics aggregates closed occupancy records into periodic
// per-zone and per-person summaries, with dwell statistics over the
// process lifetime.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/atrium-data/presence.report/internal/monitoring"
	"github.com/atrium-data/presence.report/internal/occupancy"
	"github.com/atrium-data/presence.report/internal/timeutil"
	"github.com/atrium-data/presence.report/internal/zones"
)

// RecordSource is the slice of the occupancy engine the aggregator reads.
// One source per camera.
type RecordSource interface {
	CameraID() string
	DrainClosed() []occupancy.Record
	OccupantCounts() map[string]int
	AlertCounts() map[occupancy.AlertKind]int
}

// Store persists summaries and the closed visits behind them. Implemented
// by the sqlite layer; nil disables persistence.
type Store interface {
	PersistSummary(ctx context.Context, s Summary) error
	PersistVisits(ctx context.Context, recs []occupancy.Record) error
}

// ZoneSnapshot is the aggregated view of one zone at summary time.
type ZoneSnapshot struct {
	ZoneID          string         `json:"zone_id"`
	Name            string         `json:"name"`
	Category        zones.Category `json:"category"`
	Occupants       int            `json:"occupants"`
	Visits          int            `json:"visits"`
	CumulativeDwell time.Duration  `json:"cumulative_dwell_ns"`
}

// PersonSnapshot is the cumulative time budget of one identified person.
// Productive and collaborative zone time both count as productive.
type PersonSnapshot struct {
	PersonID       string        `json:"person_id"`
	ProductiveTime time.Duration `json:"productive_ns"`
	BreakTime      time.Duration `json:"break_ns"`
	TotalTime      time.Duration `json:"total_ns"`
}

// DwellStats summarizes the distribution of closed-visit dwell times.
type DwellStats struct {
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean_ns"`
	Median time.Duration `json:"median_ns"`
	P95    time.Duration `json:"p95_ns"`
}

// Summary is one aggregation interval's output.
type Summary struct {
	Timestamp   time.Time                    `json:"timestamp"`
	Zones       []ZoneSnapshot               `json:"zones"`
	Persons     []PersonSnapshot             `json:"persons,omitempty"`
	AlertCounts map[occupancy.AlertKind]int  `json:"alert_counts"`
	Dwell       DwellStats                   `json:"dwell"`
	Heatmap     map[string][24]time.Duration `json:"heatmap,omitempty"`
}

// Aggregator drains occupancy records from every camera on a fixed cadence
// and folds them into cumulative zone, person, and dwell statistics.
type Aggregator struct {
	registry *zones.Registry
	sources  []RecordSource
	store    Store
	interval time.Duration
	clock    timeutil.Clock

	mu          sync.Mutex
	zoneDwell   map[string]time.Duration
	zoneVisits  map[string]int
	personTime  map[string]*PersonSnapshot
	dwellSecs   []float64 // dwell samples, seconds
	heatmap     map[string][24]time.Duration
	pending     []occupancy.Record // drained but not yet persisted
	lastSummary *Summary

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config configures an Aggregator.
type Config struct {
	Registry *zones.Registry
	Sources  []RecordSource
	// Store is optional; nil means summaries are only kept in memory.
	Store Store
	// Interval is the aggregation cadence, e.g. 60s.
	Interval time.Duration
	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Aggregator{
		registry:   cfg.Registry,
		sources:    cfg.Sources,
		store:      cfg.Store,
		interval:   cfg.Interval,
		clock:      clock,
		zoneDwell:  make(map[string]time.Duration),
		zoneVisits: make(map[string]int),
		personTime: make(map[string]*PersonSnapshot),
		heatmap:    make(map[string][24]time.Duration),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run executes the aggregation loop. It blocks until the context is
// cancelled or Stop is called, producing one final summary on the way out.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	a.mu.Unlock()

	defer func() {
		close(a.doneCh)
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if a.interval <= 0 {
		monitoring.Logf("analytics: interval is zero or negative, not starting")
		return nil
	}

	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	monitoring.Logf("analytics: aggregator started: interval=%v", a.interval)

	for {
		select {
		case <-ctx.Done():
			a.collectAndPersist(ctx)
			return nil
		case <-a.stopCh:
			a.collectAndPersist(context.Background())
			return nil
		case <-ticker.C():
			a.collectAndPersist(ctx)
		}
	}
}

// Stop requests the aggregator to stop and waits for the final summary.
// Safe to call multiple times.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
	a.mu.Unlock()

	<-a.doneCh
}

func (a *Aggregator) collectAndPersist(ctx context.Context) {
	s := a.Collect(a.clock.Now())
	if a.store == nil {
		return
	}

	a.mu.Lock()
	visits := a.pending
	a.pending = nil
	a.mu.Unlock()

	if err := a.store.PersistVisits(ctx, visits); err != nil {
		monitoring.Logf("analytics: error persisting visits: %v", err)
	}
	if err := a.store.PersistSummary(ctx, s); err != nil {
		monitoring.Logf("analytics: error persisting summary: %v", err)
	}
}

// Collect drains every source, folds the closed records into the running
// totals, and returns the summary as of now.
func (a *Aggregator) Collect(now time.Time) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	occupants := make(map[string]int)
	alertCounts := make(map[occupancy.AlertKind]int)

	for _, src := range a.sources {
		recs := src.DrainClosed()
		for _, rec := range recs {
			a.foldRecord(rec)
		}
		if a.store != nil {
			a.pending = append(a.pending, recs...)
		}
		for zoneID, n := range src.OccupantCounts() {
			occupants[zoneID] += n
		}
		for kind, n := range src.AlertCounts() {
			alertCounts[kind] += n
		}
	}

	s := Summary{
		Timestamp:   now,
		AlertCounts: alertCounts,
		Dwell:       a.dwellStatsLocked(),
		Heatmap:     a.heatmapCopyLocked(),
	}

	for _, z := range a.registry.Zones() {
		s.Zones = append(s.Zones, ZoneSnapshot{
			ZoneID:          z.ID,
			Name:            z.Name,
			Category:        z.Category,
			Occupants:       occupants[z.ID],
			Visits:          a.zoneVisits[z.ID],
			CumulativeDwell: a.zoneDwell[z.ID],
		})
	}

	persons := make([]string, 0, len(a.personTime))
	for id := range a.personTime {
		persons = append(persons, id)
	}
	sort.Strings(persons)
	for _, id := range persons {
		s.Persons = append(s.Persons, *a.personTime[id])
	}

	a.lastSummary = &s
	return s
}

func (a *Aggregator) foldRecord(rec occupancy.Record) {
	dwell := rec.Dwell()
	a.zoneDwell[rec.ZoneID] += dwell
	a.zoneVisits[rec.ZoneID]++
	a.dwellSecs = append(a.dwellSecs, dwell.Seconds())

	hour := rec.EnteredAt.Hour()
	cells := a.heatmap[rec.ZoneID]
	cells[hour] += dwell
	a.heatmap[rec.ZoneID] = cells

	if rec.PersonID == "" {
		return
	}
	p, ok := a.personTime[rec.PersonID]
	if !ok {
		p = &PersonSnapshot{PersonID: rec.PersonID}
		a.personTime[rec.PersonID] = p
	}
	p.TotalTime += dwell
	if z, ok := a.registry.Zone(rec.ZoneID); ok {
		switch z.Category {
		case zones.CategoryProductive, zones.CategoryCollaborative:
			p.ProductiveTime += dwell
		case zones.CategoryBreak:
			p.BreakTime += dwell
		}
	}
}

func (a *Aggregator) dwellStatsLocked() DwellStats {
	n := len(a.dwellSecs)
	if n == 0 {
		return DwellStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, a.dwellSecs)
	sort.Float64s(sorted)

	secs := func(v float64) time.Duration {
		return time.Duration(v * float64(time.Second))
	}
	return DwellStats{
		Count:  n,
		Mean:   secs(stat.Mean(sorted, nil)),
		Median: secs(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		P95:    secs(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
	}
}

func (a *Aggregator) heatmapCopyLocked() map[string][24]time.Duration {
	if len(a.heatmap) == 0 {
		return nil
	}
	out := make(map[string][24]time.Duration, len(a.heatmap))
	for k, v := range a.heatmap {
		out[k] = v
	}
	return out
}

// LastSummary returns the most recent summary, or false when none has been
// produced yet. Serves the metrics API without re-draining the engines.
func (a *Aggregator) LastSummary() (Summary, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastSummary == nil {
		return Summary{}, false
	}
	return *a.lastSummary, true
}

// DwellSamples returns a copy of every dwell sample seen so far, in
// seconds. Used by the report renderer.
func (a *Aggregator) DwellSamples() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.dwellSecs))
	copy(out, a.dwellSecs)
	return out
}

// IsRunning reports whether the aggregation loop is active.
func (a *Aggregator) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
