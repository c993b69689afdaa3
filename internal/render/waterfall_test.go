package render

import (
	"strings"
	"testing"
	"time"

	"github.com/tobert/otlp-tail/internal/traces"
)

func waterfallRows() []traces.Row {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	return []traces.Row{
		{
			TraceID: "deadbeefcafe0123", SpanID: "a1", ParentSpanID: "",
			Name: "GET /checkout", ServiceName: "gateway",
			Start: base, End: base.Add(100 * time.Millisecond), Duration: 100 * time.Millisecond,
		},
		{
			TraceID: "deadbeefcafe0123", SpanID: "b2", ParentSpanID: "a1",
			Name: "charge", ServiceName: "payments",
			Start: base.Add(10 * time.Millisecond), End: base.Add(60 * time.Millisecond),
			Duration: 50 * time.Millisecond,
			Error:    true, StatusCode: "ERROR",
		},
		{
			TraceID: "deadbeefcafe0123", SpanID: "c3", ParentSpanID: "a1",
			Name: "reserve", ServiceName: "inventory",
			Start: base.Add(65 * time.Millisecond), End: base.Add(95 * time.Millisecond),
			Duration: 30 * time.Millisecond,
		},
	}
}

func TestWaterfallStructure(t *testing.T) {
	out := Waterfall(waterfallRows(), 100)

	if !strings.Contains(out, "Trace deadbeef") {
		t.Errorf("missing shortened trace header:\n%s", out)
	}
	if !strings.Contains(out, "(3 spans, 100ms)") {
		t.Errorf("missing span count and total duration:\n%s", out)
	}
	if !strings.Contains(out, "gateway.GET /checkout") {
		t.Errorf("missing root label:\n%s", out)
	}
	if !strings.Contains(out, "payments.charge") || !strings.Contains(out, "!! ERR") {
		t.Errorf("error child not marked:\n%s", out)
	}

	// Children are indented under the root, start-time ordered.
	lines := strings.Split(out, "\n")
	var rootIdx, chargeIdx, reserveIdx int
	for i, line := range lines {
		switch {
		case strings.Contains(line, "gateway.GET"):
			rootIdx = i
		case strings.Contains(line, "payments.charge"):
			chargeIdx = i
		case strings.Contains(line, "inventory.reserve"):
			reserveIdx = i
		}
	}
	if !(rootIdx < chargeIdx && chargeIdx < reserveIdx) {
		t.Errorf("span order wrong: root=%d charge=%d reserve=%d", rootIdx, chargeIdx, reserveIdx)
	}
	if !strings.Contains(lines[chargeIdx], "├─") {
		t.Errorf("middle child should use mid connector: %q", lines[chargeIdx])
	}
	if !strings.Contains(lines[reserveIdx], "└─") {
		t.Errorf("last child should use end connector: %q", lines[reserveIdx])
	}
}

func TestWaterfallBarsReflectTiming(t *testing.T) {
	out := Waterfall(waterfallRows(), 100)

	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "gateway.GET") {
			// Root covers the whole window.
			if !strings.Contains(line, strings.Repeat("#", waterfallBarWidth)) {
				t.Errorf("root bar should span full width: %q", line)
			}
		}
		if strings.Contains(line, "inventory.reserve") {
			// A late span starts with idle time.
			bar := line[strings.Index(line, "[")+1 : strings.Index(line, "]")]
			if !strings.HasPrefix(bar, ".") {
				t.Errorf("late span bar should lead with idle: %q", bar)
			}
		}
	}
}

func TestWaterfallOrphanBecomesRoot(t *testing.T) {
	base := time.Now()
	rows := []traces.Row{{
		TraceID: "ff00", SpanID: "01", ParentSpanID: "unknown-parent",
		Name: "orphan", ServiceName: "svc",
		Start: base, End: base.Add(time.Millisecond), Duration: time.Millisecond,
	}}

	out := Waterfall(rows, 80)
	if !strings.Contains(out, "svc.orphan") {
		t.Errorf("orphan span not rendered:\n%s", out)
	}
}

func TestWaterfallEmpty(t *testing.T) {
	if out := Waterfall(nil, 80); out != "" {
		t.Errorf("empty input should render nothing, got %q", out)
	}
}
