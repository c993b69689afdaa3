package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tobert/otlp-tail/internal/metrics"
	"github.com/tobert/otlp-tail/internal/series"
	"github.com/tobert/otlp-tail/internal/traces"
)

func seriesView(key string, index int, values ...float64) metrics.SeriesView {
	points := make([]series.Sample, len(values))
	for i, v := range values {
		points[i] = series.Sample{Key: key, Value: v, TimestampNanos: int64(i)}
	}
	return metrics.SeriesView{Key: key, MetricName: key, Index: index, Points: points}
}

// TestTermRenderFull tests that a full render draws both regions.
func TestTermRenderFull(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerm(&buf, 40, 8)

	err := term.RenderFull(FullView{
		Series: []metrics.SeriesView{seriesView("cpu", 0, 1, 2, 3, 2, 1)},
		Rows: []traces.Row{
			{TraceID: "abcdef1234", SpanID: "01", ServiceName: "web", Name: "GET /", StatusCode: "OK", Duration: 12 * time.Millisecond},
			{TraceID: "ffff00001111", SpanID: "02", ServiceName: "web", Name: "POST /pay", StatusCode: "ERROR", StatusMessage: "boom", Error: true},
		},
		Cap: 100,
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Metrics") {
		t.Error("expected chart section")
	}
	if !strings.Contains(out, "Traces (2)") {
		t.Error("expected trace table header")
	}
	if !strings.Contains(out, "abcdef12") {
		t.Error("expected shortened trace id")
	}
	if !strings.Contains(out, "boom") {
		t.Error("expected error message line")
	}
}

// TestTermExtendRetention tests that extends append and honor the cap.
func TestTermExtendRetention(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerm(&buf, 40, 8)

	term.RenderFull(FullView{
		Series: []metrics.SeriesView{seriesView("cpu", 0, 1, 2, 3)},
		Cap:    4,
	})

	err := term.Extend(ExtendBatch{
		Extends: []metrics.SeriesExtend{{
			Key:   "cpu",
			Index: 0,
			NewPoints: []series.Sample{
				{Value: 4, TimestampNanos: 10},
				{Value: 5, TimestampNanos: 11},
			},
		}},
		Cap: 4,
	})
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}

	term.mu.Lock()
	values := term.series[0].values
	term.mu.Unlock()

	if len(values) != 4 {
		t.Fatalf("expected retention of 4 points, got %d", len(values))
	}
	if values[0] != 2 || values[3] != 5 {
		t.Fatalf("expected oldest dropped and newest kept, got %v", values)
	}
}

// TestTermExtendUnknownIndex tests that a stray index is ignored instead
// of panicking.
func TestTermExtendUnknownIndex(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerm(&buf, 40, 8)

	term.RenderFull(FullView{Series: []metrics.SeriesView{seriesView("cpu", 0, 1)}, Cap: 10})

	err := term.Extend(ExtendBatch{
		Extends: []metrics.SeriesExtend{{Key: "ghost", Index: 7, NewPoints: []series.Sample{{Value: 1}}}},
		Cap:     10,
	})
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
}

// TestTermRenderTracesDrawsWithoutMetrics tests that trace rows reach
// the output even when no metric has ever rendered.
func TestTermRenderTracesDrawsWithoutMetrics(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerm(&buf, 40, 8)

	err := term.RenderTraces([]traces.Row{
		{TraceID: "deadbeef00", SpanID: "01", ServiceName: "web", Name: "GET /", StatusCode: "OK", Duration: 3 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("render traces failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Traces (1)") {
		t.Error("expected trace table after trace-only update")
	}
	if !strings.Contains(out, "deadbeef") {
		t.Error("expected trace id in output")
	}
	if strings.Contains(out, "Metrics") {
		t.Error("chart section should be absent with no series")
	}
}

// TestApplyRouting tests the plan-to-renderer routing helper.
func TestApplyRouting(t *testing.T) {
	rec := &recordingRenderer{}

	Apply(rec, metrics.UpdatePlan{Full: true, FullSeries: []metrics.SeriesView{seriesView("a", 0, 1)}, Cap: 5}, nil)
	if rec.fulls != 1 || rec.extends != 0 {
		t.Fatalf("expected full render, got %+v", rec)
	}

	Apply(rec, metrics.UpdatePlan{Extends: []metrics.SeriesExtend{{Key: "a", Index: 0}}, Cap: 5}, nil)
	if rec.extends != 1 {
		t.Fatalf("expected extend, got %+v", rec)
	}

	// Empty plan is a no-op
	Apply(rec, metrics.UpdatePlan{Cap: 5}, nil)
	if rec.fulls != 1 || rec.extends != 1 {
		t.Fatalf("empty plan should do nothing, got %+v", rec)
	}
}

type recordingRenderer struct {
	fulls   int
	extends int
	traces  int
}

func (r *recordingRenderer) RenderFull(v FullView) error {
	r.fulls++
	return nil
}

func (r *recordingRenderer) Extend(b ExtendBatch) error {
	r.extends++
	return nil
}

func (r *recordingRenderer) RenderTraces(rows []traces.Row) error {
	r.traces++
	return nil
}
