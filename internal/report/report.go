// Package report renders occupancy summaries as standalone HTML chart
// pages and dwell-time histogram PNGs.
package report

import (
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/atrium-data/presence.report/internal/analytics"
	"github.com/atrium-data/presence.report/internal/httputil"
)

// SummarySource is the slice of the aggregator the report reads.
type SummarySource interface {
	LastSummary() (analytics.Summary, bool)
	Collect(now time.Time) analytics.Summary
}

// WriteHTML renders the occupancy report page for one summary.
func WriteHTML(w io.Writer, s analytics.Summary) error {
	page := components.NewPage()
	page.PageTitle = "Occupancy Report"
	page.AddCharts(zoneChart(s), alertChart(s))
	if len(s.Persons) > 0 {
		page.AddCharts(personChart(s))
	}
	return page.Render(w)
}

// zoneChart plots cumulative dwell minutes and visit counts per zone.
func zoneChart(s analytics.Summary) components.Charter {
	names := make([]string, 0, len(s.Zones))
	dwell := make([]opts.BarData, 0, len(s.Zones))
	visits := make([]opts.BarData, 0, len(s.Zones))
	for _, z := range s.Zones {
		names = append(names, z.Name)
		dwell = append(dwell, opts.BarData{Value: z.CumulativeDwell.Minutes()})
		visits = append(visits, opts.BarData{Value: z.Visits})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Zone Occupancy", Subtitle: s.Timestamp.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("dwell (min)", dwell,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("visits", visits)
	return bar
}

// alertChart plots alert totals by kind.
func alertChart(s analytics.Summary) components.Charter {
	kinds := []string{"idle_timeout", "unauthorized_access", "over_capacity"}
	data := make([]opts.BarData, 0, len(kinds))
	for _, k := range kinds {
		n := 0
		for kind, c := range s.AlertCounts {
			if string(kind) == k {
				n = c
			}
		}
		data = append(data, opts.BarData{Value: n})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Alerts"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(kinds).
		AddSeries("alerts", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

// personChart plots productive vs break minutes per identified person.
func personChart(s analytics.Summary) components.Charter {
	ids := make([]string, 0, len(s.Persons))
	productive := make([]opts.BarData, 0, len(s.Persons))
	breaks := make([]opts.BarData, 0, len(s.Persons))
	for _, p := range s.Persons {
		ids = append(ids, p.PersonID)
		productive = append(productive, opts.BarData{Value: p.ProductiveTime.Minutes()})
		breaks = append(breaks, opts.BarData{Value: p.BreakTime.Minutes()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Time Budget"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(ids).
		AddSeries("productive (min)", productive).
		AddSeries("break (min)", breaks)
	return bar
}

// SaveDwellHistogram writes a PNG histogram of dwell samples (seconds).
func SaveDwellHistogram(path string, samples []float64) error {
	if len(samples) == 0 {
		return fmt.Errorf("no dwell samples to plot")
	}

	p := plot.New()
	p.Title.Text = "Visit Dwell Time"
	p.X.Label.Text = "Dwell (s)"
	p.Y.Label.Text = "Visits"

	h, err := plotter.NewHist(plotter.Values(samples), 16)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	h.FillColor = color.RGBA{R: 0x26, G: 0x82, B: 0x8e, A: 0xff}
	p.Add(h)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

// Generator writes report artifacts to an output directory, one pair of
// files per summary.
type Generator struct {
	mu        sync.Mutex
	outputDir string
}

// NewGenerator creates a Generator rooted at outputDir.
func NewGenerator(outputDir string) *Generator {
	return &Generator{outputDir: outputDir}
}

// Write renders the HTML report and the dwell histogram for one summary.
// The histogram is skipped when there are no samples yet. Returns the
// paths written.
func (g *Generator) Write(s analytics.Summary, dwellSamples []float64) (htmlPath, pngPath string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output dir: %w", err)
	}

	stamp := s.Timestamp.UTC().Format("20060102T150405Z")
	htmlPath = filepath.Join(g.outputDir, fmt.Sprintf("report_%s.html", stamp))

	f, err := os.Create(htmlPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteHTML(f, s); err != nil {
		f.Close()
		return "", "", fmt.Errorf("failed to render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", err
	}

	if len(dwellSamples) == 0 {
		return htmlPath, "", nil
	}
	pngPath = filepath.Join(g.outputDir, fmt.Sprintf("dwell_hist_%s.png", stamp))
	if err := SaveDwellHistogram(pngPath, dwellSamples); err != nil {
		return htmlPath, "", err
	}
	return htmlPath, pngPath, nil
}

// Handler serves the HTML report over HTTP, collecting a fresh summary
// when none has been produced yet.
func Handler(src SummarySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		summary, ok := src.LastSummary()
		if !ok {
			summary = src.Collect(time.Now())
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := WriteHTML(w, summary); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render report: %v", err))
		}
	}
}
