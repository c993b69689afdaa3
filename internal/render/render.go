// Package render defines the adapter boundary the views talk to. An
// adapter is told either "re-render everything" or "extend with exactly
// these new points"; it never reaches back into store internals.
package render

import (
	"github.com/tobert/otlp-tail/internal/metrics"
	"github.com/tobert/otlp-tail/internal/traces"
)

// FullView is a complete replacement snapshot.
type FullView struct {
	Series []metrics.SeriesView
	Rows   []traces.Row
	// Cap is the per-series point retention the adapter must honor.
	Cap int
}

// ExtendBatch is an incremental update: per-series appended points with
// the series-index mapping, plus the same cap so the adapter's retention
// stays consistent with the store's.
type ExtendBatch struct {
	Extends []metrics.SeriesExtend
	Cap     int
}

// Renderer is implemented by display adapters (terminal, web).
// RenderTraces replaces only the trace rows; metric state is untouched,
// so trace-only streams still reach the display.
type Renderer interface {
	RenderFull(v FullView) error
	Extend(b ExtendBatch) error
	RenderTraces(rows []traces.Row) error
}

// Apply routes a store update plan to a renderer. Trace rows ride along
// on full renders; between fulls they arrive via RenderTraces.
func Apply(r Renderer, plan metrics.UpdatePlan, rows []traces.Row) error {
	if plan.Full {
		return r.RenderFull(FullView{Series: plan.FullSeries, Rows: rows, Cap: plan.Cap})
	}
	if len(plan.Extends) == 0 {
		return nil
	}
	return r.Extend(ExtendBatch{Extends: plan.Extends, Cap: plan.Cap})
}
