package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/perfwatch/internal/export"
	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/threshold"
)

// SessionConfig holds session parameters for display.
type SessionConfig struct {
	URL        string        // Page under observation
	SessionID  string        // Session identifier
	Host       string        // Host backend (cdp, replay)
	Duration   time.Duration // Session duration (0 = until interrupted)
	SampleRate float64       // Activation percentage
	ReportURL  string        // Export destination, if any
	AutoSend   bool          // Export at settle and teardown
	ConfigFile string        // Path to config file if used
}

// Source is the session the dashboard observes.
type Source interface {
	Snapshot() metrics.Snapshot
	ExportStats() export.Stats
}

// Dashboard renders a live terminal UI for session vitals.
type Dashboard struct {
	source       Source
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid           *ui.Grid
	summaryPara    *widgets.Paragraph
	vitalsList     *widgets.List
	clsGauge       *widgets.Gauge
	tbtGauge       *widgets.Gauge
	fpsSparkline   *widgets.SparklineGroup
	navigationPara *widgets.Paragraph
	resourceList   *widgets.List
	runtimePara    *widgets.Paragraph
	exportPara     *widgets.Paragraph
	startTime      time.Time
	config         SessionConfig
}

// New creates a new Dashboard.
func New(source Source, cfg SessionConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	d := newDashboard(source, cfg, shutdownFunc)
	d.setupGrid()
	return d, nil
}

func newDashboard(source Source, cfg SessionConfig, shutdownFunc func()) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		source:       source,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		startTime:    time.Now(),
		config:       cfg,
	}
	d.initWidgets()
	return d
}

// initWidgets initializes all dashboard widgets.
func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Session"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.vitalsList = widgets.NewList()
	d.vitalsList.Title = "Web Vitals"
	d.vitalsList.Rows = []string{"Awaiting data"}
	d.vitalsList.BorderStyle.Fg = ui.ColorCyan

	d.clsGauge = widgets.NewGauge()
	d.clsGauge.Title = "Cumulative Layout Shift"
	d.clsGauge.BarColor = ui.ColorGreen
	d.clsGauge.BorderStyle.Fg = ui.ColorCyan
	d.clsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.tbtGauge = widgets.NewGauge()
	d.tbtGauge.Title = "Total Blocking Time"
	d.tbtGauge.BarColor = ui.ColorGreen
	d.tbtGauge.BorderStyle.Fg = ui.ColorCyan
	d.tbtGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	sparkline := widgets.NewSparkline()
	sparkline.Title = "FPS"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.fpsSparkline = widgets.NewSparklineGroup(sparkline)
	d.fpsSparkline.Title = "Frame Rate"
	d.fpsSparkline.BorderStyle.Fg = ui.ColorCyan

	d.navigationPara = widgets.NewParagraph()
	d.navigationPara.Title = "Navigation"
	d.navigationPara.Text = "Waiting for navigation timing..."
	d.navigationPara.BorderStyle.Fg = ui.ColorCyan

	d.resourceList = widgets.NewList()
	d.resourceList.Title = "Resources"
	d.resourceList.Rows = []string{"Awaiting data"}
	d.resourceList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.resourceList.BorderStyle.Fg = ui.ColorCyan

	d.runtimePara = widgets.NewParagraph()
	d.runtimePara.Title = "Runtime"
	d.runtimePara.Text = "No samples"
	d.runtimePara.BorderStyle.Fg = ui.ColorCyan

	d.exportPara = widgets.NewParagraph()
	d.exportPara.Title = "Export"
	d.exportPara.Text = "Export disabled"
	d.exportPara.BorderStyle.Fg = ui.ColorCyan
}

// setupGrid configures the layout grid.
func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.4, d.vitalsList),
			ui.NewCol(0.6,
				ui.NewRow(0.5, d.clsGauge),
				ui.NewRow(0.5, d.tbtGauge),
			),
		),
		ui.NewRow(0.22,
			ui.NewCol(0.65, d.fpsSparkline),
			ui.NewCol(0.35, d.runtimePara),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.5, d.navigationPara),
			ui.NewCol(0.5, d.resourceList),
		),
		ui.NewRow(0.10,
			ui.NewCol(1.0, d.exportPara),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and cleans up.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// run is the main dashboard update loop.
func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.update()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			// Drain any remaining events
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Do not return here; wait for Stop() to cancel context
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes all widget data from the session.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.source.Snapshot()
	m := snap.Metrics
	elapsed := time.Since(d.startTime)

	d.summaryPara.Text = fmt.Sprintf(
		"URL: %s\n%s\nElapsed: %s | Resources: %d | Long Tasks: %d | Layout Shifts: %d",
		d.config.URL,
		d.formatSessionParams(),
		elapsed.Round(time.Second),
		len(snap.Resources),
		len(snap.LongTasks),
		len(snap.LayoutShifts),
	)

	d.vitalsList.Rows = formatVitalRows(threshold.Ratings(m))
	updateGauge(d.clsGauge, m.CLS, "CLS", "%.3f")
	updateGauge(d.tbtGauge, m.TBT, "TBT", "%.0fms")
	d.updateFrameRate(snap.FPSData, m.AverageFPS)
	d.navigationPara.Text = formatNavigation(m)
	d.resourceList.Rows = formatResourceRows(metrics.FlattenResourceSummary(m.ResourceCounts, m.ResourceSizes), 10)
	d.runtimePara.Text = formatRuntime(m)
	d.exportPara.Text = d.formatExport(d.source.ExportStats())
}

// render draws all widgets to the screen.
func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func (d *Dashboard) updateFrameRate(samples []metrics.FrameSample, avg *float64) {
	if len(samples) == 0 {
		return
	}
	start := 0
	if len(samples) > 100 {
		start = len(samples) - 100
	}
	data := make([]float64, 0, len(samples)-start)
	for _, s := range samples[start:] {
		data = append(data, float64(s.FPS))
	}
	d.fpsSparkline.Sparklines[0].Data = data

	title := fmt.Sprintf("Frame Rate | Current: %d fps", samples[len(samples)-1].FPS)
	if avg != nil {
		title += fmt.Sprintf(" | Average: %.1f fps", *avg)
	}
	d.fpsSparkline.Title = title
}

// updateGauge scales v against the poor boundary of the named vital.
func updateGauge(g *widgets.Gauge, v *float64, vital, format string) {
	if v == nil {
		g.Percent = 0
		g.Label = "n/a"
		return
	}
	limits := threshold.VitalLimits[vital]
	percent := int(*v / limits.Poor * 100)
	if percent > 100 {
		percent = 100
	}
	g.Percent = percent
	g.Label = fmt.Sprintf(format, *v)
	g.BarColor = ratingColor(limits.Rate(*v))
}

func ratingColor(r threshold.Rating) ui.Color {
	switch r {
	case threshold.Good:
		return ui.ColorGreen
	case threshold.NeedsImprovement:
		return ui.ColorYellow
	default:
		return ui.ColorRed
	}
}

func ratingStyle(r threshold.Rating) string {
	switch r {
	case threshold.Good:
		return "fg:green"
	case threshold.NeedsImprovement:
		return "fg:yellow"
	default:
		return "fg:red"
	}
}

func formatVitalRows(ratings []threshold.VitalRating) []string {
	if len(ratings) == 0 {
		return []string{"Awaiting data"}
	}
	rows := make([]string, 0, len(ratings))
	for _, v := range ratings {
		value := fmt.Sprintf("%.0fms", v.Value)
		if v.Name == "CLS" {
			value = fmt.Sprintf("%.3f", v.Value)
		}
		rows = append(rows, fmt.Sprintf("%-5s %10s  [%s](%s)", v.Name, value, v.Rating, ratingStyle(v.Rating)))
	}
	return rows
}

func formatNavigation(m metrics.DerivedMetrics) string {
	type field struct {
		label string
		value *float64
	}
	fields := []field{
		{"TTFB", m.TTFB},
		{"DNS", m.DNSTime},
		{"TCP Connect", m.TCPConnectTime},
		{"Request", m.RequestTime},
		{"Response", m.ResponseTime},
		{"DOM Processing", m.DOMProcessingTime},
		{"DOM Ready", m.DOMReadyTime},
		{"Page Load", m.PageLoadTime},
	}
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-15s %8.1fms", f.label+":", *f.value))
	}
	if len(lines) == 0 {
		return "Waiting for navigation timing..."
	}
	return joinLines(lines)
}

func formatResourceRows(rows []metrics.ResourceRow, limit int) []string {
	if len(rows) == 0 {
		return []string{"[No resources](fg:green)"}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:cyan) | count %4d | %s", row.Type, row.Count, formatMetricValue(row.Size)))
	}
	return formatted
}

func formatRuntime(m metrics.DerivedMetrics) string {
	var lines []string
	if m.Memory != nil {
		lines = append(lines,
			fmt.Sprintf("Heap used:  %s", formatMetricValue(m.Memory.UsedJSHeapSize)),
			fmt.Sprintf("Heap total: %s", formatMetricValue(m.Memory.TotalJSHeapSize)))
	}
	if m.LongTaskTiming != nil && m.LongTaskTiming.Count > 0 {
		lines = append(lines, fmt.Sprintf("Longest task: %.0fms", m.LongTaskTiming.Max))
	}
	if m.DOMStats != nil {
		lines = append(lines, fmt.Sprintf("DOM: %d elements, depth %d", m.DOMStats.Elements, m.DOMStats.MaxDOMDepth))
	}
	if len(lines) == 0 {
		return "No samples"
	}
	return joinLines(lines)
}

func (d *Dashboard) formatExport(s export.Stats) string {
	if d.config.ReportURL == "" {
		return "Export disabled"
	}
	text := fmt.Sprintf("Sent: %d | Failed: %d | Dropped: %d | Bytes: %s", s.Sent, s.Failed, s.Dropped, formatMetricValue(s.BytesSent))
	if s.LastError != "" {
		text += fmt.Sprintf(" | [Last error: %s](fg:red)", s.LastError)
	}
	return text
}

func formatMetricValue(value interface{}) string {
	switch v := value.(type) {
	case int:
		return formatBytes(int64(v))
	case int64:
		return formatBytes(v)
	case float64:
		if v > 1000 {
			return fmt.Sprintf("%.0f", v)
		}
		return fmt.Sprintf("%.2f", v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// formatSessionParams formats the session parameters for display.
func (d *Dashboard) formatSessionParams() string {
	var parts []string

	if d.config.Host != "" {
		parts = append(parts, fmt.Sprintf("Host: %s", d.config.Host))
	}

	if d.config.SessionID != "" {
		parts = append(parts, fmt.Sprintf("Session: %s", d.config.SessionID))
	}

	// Sample rate (only show if not everyone)
	if d.config.SampleRate > 0 && d.config.SampleRate < 100 {
		parts = append(parts, fmt.Sprintf("Sample: %.0f%%", d.config.SampleRate))
	}

	if d.config.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", d.config.Duration))
	} else {
		parts = append(parts, "Duration: until interrupted")
	}

	if d.config.ReportURL != "" {
		mode := "manual"
		if d.config.AutoSend {
			mode = "auto"
		}
		parts = append(parts, fmt.Sprintf("Report: %s (%s)", d.config.ReportURL, mode))
	}

	if d.config.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.config.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
