// Package traces maintains the live trace list: the full set of known
// rows, an independently recomputed filtered subset, and a
// virtualization window describing which rows are materialized for
// display.
package traces

import (
	"strings"
	"sync"
	"time"
)

// Row is one completed span as shown in the trace list. Rows are
// immutable after creation; identity is (TraceID, SpanID).
type Row struct {
	TraceID       string
	SpanID        string
	ParentSpanID  string
	Name          string
	ServiceName   string
	Start         time.Time
	End           time.Time
	Duration      time.Duration
	StatusCode    string
	StatusMessage string
	Attributes    map[string]string
	Error         bool
}

// Filter narrows the visible rows. Criteria are conjunctive; the zero
// value matches everything.
type Filter struct {
	// Service matches rows whose service name contains this substring,
	// case-insensitively.
	Service string
	// ErrorsOnly keeps only rows with Error set.
	ErrorsOnly bool
}

// Match reports whether a row passes the filter.
func (f Filter) Match(r Row) bool {
	if f.Service != "" && !strings.Contains(strings.ToLower(r.ServiceName), strings.ToLower(f.Service)) {
		return false
	}
	if f.ErrorsOnly && !r.Error {
		return false
	}
	return true
}

// Viewport describes the virtualization window over the filtered rows.
type Viewport struct {
	First    int // index of the first visible row in the filtered set
	Size     int // number of visible rows
	Overscan int // extra rows materialized above and below
}

type rowID struct {
	traceID string
	spanID  string
}

// Window holds all known trace rows with a capacity bound, the filtered
// view, the selection, and the viewport. All state is recomputed
// synchronously with each mutation, so readers always see a filtered set
// consistent with the active filter.
type Window struct {
	mu       sync.Mutex
	all      *ring[Row]
	filter   Filter
	filtered []Row
	viewport Viewport
	selected *rowID
}

// NewWindow creates a window holding at most maxTraces rows; the oldest
// rows are evicted first. Overscan applies to VisibleRows.
func NewWindow(maxTraces, overscan int) *Window {
	return &Window{
		all:      newRing[Row](maxTraces),
		viewport: Viewport{Size: 25, Overscan: overscan},
	}
}

// SetTraces replaces the full trace set and recomputes the filtered view
// and viewport clamp. Selection survives if the selected row is still
// present.
func (w *Window) SetTraces(rows []Row) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.all.clear()
	for _, r := range rows {
		w.all.add(r)
	}
	w.recompute()
}

// Append adds a batch of rows in arrival order, evicting the oldest rows
// beyond capacity.
func (w *Window) Append(rows []Row) {
	if len(rows) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range rows {
		w.all.add(r)
	}
	w.recompute()
}

// Clear drops every row, the selection, and resets the viewport to the
// top. Used on hard reset when a new source is selected.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.all.clear()
	w.selected = nil
	w.viewport.First = 0
	w.recompute()
}

// ApplyFilters sets the active filter and recomputes the filtered view.
func (w *Window) ApplyFilters(f Filter) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.filter = f
	w.recompute()
}

// Select marks the row with the given identity as selected. Returns
// false if no such row is currently in the filtered view.
func (w *Window) Select(traceID, spanID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range w.filtered {
		if r.TraceID == traceID && r.SpanID == spanID {
			w.selected = &rowID{traceID: traceID, spanID: spanID}
			return true
		}
	}
	return false
}

// SelectedTrace returns the selected row, if it is still present in the
// filtered view. Selection is by identity, so it is stable across filter
// changes that keep the row.
func (w *Window) SelectedTrace() (Row, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.selected == nil {
		return Row{}, false
	}
	for _, r := range w.filtered {
		if r.TraceID == w.selected.traceID && r.SpanID == w.selected.spanID {
			return r, true
		}
	}
	return Row{}, false
}

// SelectedIndex returns the selected row's index in the filtered view,
// or -1 if nothing is selected or the row was filtered out.
func (w *Window) SelectedIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.selected == nil {
		return -1
	}
	for i, r := range w.filtered {
		if r.TraceID == w.selected.traceID && r.SpanID == w.selected.spanID {
			return i
		}
	}
	return -1
}

// SetViewport moves the virtualization window.
func (w *Window) SetViewport(first, size int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if first < 0 {
		first = 0
	}
	if size < 0 {
		size = 0
	}
	w.viewport.First = first
	w.viewport.Size = size
}

// Viewport returns the current viewport.
func (w *Window) Viewport() Viewport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewport
}

// VisibleRows returns copies of the materialized rows:
// [First-Overscan, First+Size+Overscan] clamped to the filtered set.
// The result never exceeds Size + 2*Overscan rows.
func (w *Window) VisibleRows() []Row {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := w.viewport.First - w.viewport.Overscan
	end := w.viewport.First + w.viewport.Size + w.viewport.Overscan
	if start < 0 {
		start = 0
	}
	if end > len(w.filtered) {
		end = len(w.filtered)
	}
	if start >= end {
		return nil
	}

	out := make([]Row, end-start)
	copy(out, w.filtered[start:end])
	return out
}

// FilteredLen returns the size of the filtered view.
func (w *Window) FilteredLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.filtered)
}

// Len returns the number of rows held, filtered or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.len()
}

// FilteredRows returns a copy of the whole filtered view.
func (w *Window) FilteredRows() []Row {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Row, len(w.filtered))
	copy(out, w.filtered)
	return out
}

// BindWorker consumes row batches from a delivery channel, appending each
// through the same path as Append, until the channel closes or the
// returned stop function is called.
func (w *Window) BindWorker(batches <-chan []Row) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-done:
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				w.Append(batch)
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// recompute rebuilds the filtered view under the active filter. Caller
// holds the lock.
func (w *Window) recompute() {
	rows := w.all.all()
	w.filtered = w.filtered[:0]
	for _, r := range rows {
		if w.filter.Match(r) {
			w.filtered = append(w.filtered, r)
		}
	}
}
