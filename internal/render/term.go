package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	styles "github.com/charmbracelet/lipgloss"
	plot "github.com/chriskim06/drawille-go"

	"github.com/tobert/otlp-tail/internal/traces"
)

var (
	titleStyle  = styles.NewStyle().Bold(true)
	errorStyle  = styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "1", Dark: "9"})
	dimStyle    = styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "#555", Dark: "#777"})
	headerStyle = styles.NewStyle().Underline(true)
)

type termSeries struct {
	key    string
	values []float64
}

// Term renders the live views as text: braille line charts for the
// metric series and a compact trace table. It keeps its own per-series
// point retention so incremental extends splice correctly.
type Term struct {
	out    io.Writer
	width  int
	height int

	mu     sync.Mutex
	series []termSeries
	rows   []traces.Row
	detail []traces.Row // spans of the selected trace, shown as a waterfall
	cap    int
}

// NewTerm creates a terminal renderer writing to out with the given
// chart dimensions.
func NewTerm(out io.Writer, width, height int) *Term {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 12
	}
	return &Term{out: out, width: width, height: height}
}

// RenderFull replaces all adapter state and redraws.
func (t *Term) RenderFull(v FullView) error {
	t.mu.Lock()
	t.series = make([]termSeries, len(v.Series))
	for _, sv := range v.Series {
		if sv.Index < 0 || sv.Index >= len(t.series) {
			continue
		}
		values := make([]float64, len(sv.Points))
		for j, p := range sv.Points {
			values[j] = p.Value
		}
		t.series[sv.Index] = termSeries{key: sv.Key, values: values}
	}
	t.rows = v.Rows
	t.cap = v.Cap
	t.mu.Unlock()

	return t.draw()
}

// Extend appends the delivered points to their series, trims to the cap,
// and redraws the chart region.
func (t *Term) Extend(b ExtendBatch) error {
	t.mu.Lock()
	for _, ext := range b.Extends {
		if ext.Index < 0 || ext.Index >= len(t.series) {
			continue
		}
		s := &t.series[ext.Index]
		for _, p := range ext.NewPoints {
			s.values = append(s.values, p.Value)
		}
		if b.Cap > 0 && len(s.values) > b.Cap {
			s.values = append(s.values[:0], s.values[len(s.values)-b.Cap:]...)
		}
	}
	t.cap = b.Cap
	t.mu.Unlock()

	return t.draw()
}

// RenderTraces replaces the trace table contents and redraws without
// touching the chart state.
func (t *Term) RenderTraces(rows []traces.Row) error {
	t.mu.Lock()
	t.rows = rows
	t.mu.Unlock()
	return t.draw()
}

// SetDetail sets the spans rendered as a waterfall under the trace
// table. Pass nil to clear the detail view.
func (t *Term) SetDetail(rows []traces.Row) {
	t.mu.Lock()
	t.detail = rows
	t.mu.Unlock()
}

func (t *Term) draw() error {
	t.mu.Lock()
	chart := t.chartLocked()
	table := t.tableLocked()
	waterfall := Waterfall(t.detail, t.width)
	t.mu.Unlock()

	var b strings.Builder
	if chart != "" {
		b.WriteString(titleStyle.Render("Metrics"))
		b.WriteByte('\n')
		b.WriteString(chart)
		b.WriteByte('\n')
	}
	if table != "" {
		b.WriteString(table)
	}
	if waterfall != "" {
		b.WriteByte('\n')
		b.WriteString(waterfall)
	}

	_, err := io.WriteString(t.out, b.String())
	return err
}

func (t *Term) chartLocked() string {
	var data [][]float64
	for _, s := range t.series {
		if len(s.values) > 0 {
			data = append(data, s.values)
		}
	}
	if len(data) == 0 {
		return ""
	}

	p := plot.NewCanvas(t.width, t.height)
	p.ShowAxis = true
	p.Fill(data)
	return p.String()
}

func (t *Term) tableLocked() string {
	if len(t.rows) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d)\n", titleStyle.Render("Traces"), len(t.rows))
	b.WriteString(headerStyle.Render("  status  trace     service/span                              duration"))
	b.WriteByte('\n')

	for _, r := range t.rows {
		shortID := r.TraceID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		label := r.ServiceName + "/" + r.Name
		if len(label) > 40 {
			label = label[:39] + "…"
		}

		durStr := fmt.Sprintf("%.1fms", float64(r.Duration.Microseconds())/1000.0)

		line := fmt.Sprintf("  %s %s  %-40s  %8s", statusIcon(r), shortID, label, durStr)
		if r.Error {
			line = errorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')

		if r.Error && r.StatusMessage != "" {
			b.WriteString(dimStyle.Render("           " + r.StatusMessage))
			b.WriteByte('\n')
		}
	}

	return b.String()
}

func statusIcon(r traces.Row) string {
	switch r.StatusCode {
	case "ERROR":
		return "✗"
	case "OK":
		return "✓"
	default:
		return "·"
	}
}
