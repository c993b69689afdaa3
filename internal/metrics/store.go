// Package metrics holds the per-series time-series state behind the
// metric graphs. Each series keeps an ordered, deduplicated,
// capacity-bounded sample buffer; every update yields a render plan
// telling the adapter whether to redraw or extend.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/tobert/otlp-tail/internal/series"
)

// DefaultMaxPoints bounds each series buffer when no cap is configured.
const DefaultMaxPoints = 1000

// SeriesView is a value snapshot of one series for rendering.
type SeriesView struct {
	Key        string
	MetricName string
	Kind       series.Kind
	Unit       string
	Index      int // stable renderer index for this series
	Points     []series.Sample
}

// SeriesExtend carries exactly the points appended to one already
// rendered series.
type SeriesExtend struct {
	Key       string
	Index     int
	NewPoints []series.Sample
}

// UpdatePlan is the outcome of a merge: either a full re-render (first
// render, or a series key the renderer has never seen) or a set of
// incremental extends. Cap lets the renderer keep its own retention
// consistent with the store's. When a buffer is already at capacity the
// extend still carries the appended tail even though the buffer length
// did not grow; the renderer's cap trim evicts the matching head.
type UpdatePlan struct {
	Full       bool
	FullSeries []SeriesView
	Extends    []SeriesExtend
	Cap        int
}

type seriesBuffer struct {
	key        string
	metricName string
	kind       series.Kind
	unit       string
	index      int
	samples    []series.Sample // strictly ascending by timestamp, unique
}

// Store owns every series buffer. It is safe for concurrent use; all
// returned data are value copies.
type Store struct {
	mu        sync.Mutex
	maxPoints int
	buffers   map[string]*seriesBuffer
	order     []string // series keys in first-seen order; renderer index mapping
	timeRange TimeRange
	rendered  bool

	now func() time.Time // test hook
}

// NewStore creates a store with the given per-series point cap.
// maxPoints <= 0 uses DefaultMaxPoints.
func NewStore(maxPoints int) *Store {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Store{
		maxPoints: maxPoints,
		buffers:   make(map[string]*seriesBuffer),
		timeRange: TimeRange{Preset: DefaultPreset},
		now:       time.Now,
	}
}

// UpdateMetric merges a batch of samples for one metric into the
// appropriate series buffers and returns the render plan. Merging the
// same batch twice is a no-op after the first application.
func (s *Store) UpdateMetric(name string, samples []series.Sample) UpdatePlan {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Group by series key.
	groups := make(map[string][]series.Sample)
	for _, sm := range samples {
		key := sm.Key
		if key == "" {
			key = series.SeriesKey(name, sm.Labels)
		}
		groups[key] = append(groups[key], sm)
	}

	newSeries := false
	appended := make(map[string]int, len(groups))

	for key, group := range groups {
		buf, ok := s.buffers[key]
		if !ok {
			first := group[0]
			buf = &seriesBuffer{
				key:        key,
				metricName: name,
				kind:       first.Kind,
				unit:       first.Unit,
				index:      len(s.order),
			}
			s.buffers[key] = buf
			s.order = append(s.order, key)
			newSeries = true
		}

		appended[key] = s.merge(buf, group)
	}

	if !s.rendered || newSeries {
		s.rendered = true
		return UpdatePlan{Full: true, FullSeries: s.snapshotLocked(), Cap: s.maxPoints}
	}

	// Incremental path: the delta for each series is the appended count
	// taken from the tail of the filtered buffer, so evicted head points
	// are never resent.
	start, end := s.timeRange.Window(s.now())
	plan := UpdatePlan{Cap: s.maxPoints}
	for key, n := range appended {
		if n == 0 {
			continue
		}
		buf := s.buffers[key]
		visible := filterRange(buf.samples, start, end)
		if n > len(visible) {
			n = len(visible)
		}
		if n == 0 {
			continue
		}
		plan.Extends = append(plan.Extends, SeriesExtend{
			Key:       key,
			Index:     buf.index,
			NewPoints: copySamples(visible[len(visible)-n:]),
		})
	}
	sort.Slice(plan.Extends, func(i, j int) bool { return plan.Extends[i].Index < plan.Extends[j].Index })

	return plan
}

// merge folds a group into a buffer: duplicate timestamps are dropped,
// the rest is sorted in, and the oldest points beyond the cap are
// evicted. Returns the number of samples actually added, which at
// capacity exceeds the buffer's length change. Caller holds the lock.
func (s *Store) merge(buf *seriesBuffer, group []series.Sample) int {
	existing := make(map[int64]struct{}, len(buf.samples))
	for _, sm := range buf.samples {
		existing[sm.TimestampNanos] = struct{}{}
	}

	added := 0
	for _, sm := range group {
		if _, dup := existing[sm.TimestampNanos]; dup {
			continue
		}
		existing[sm.TimestampNanos] = struct{}{}
		buf.samples = append(buf.samples, sm)
		added++
	}

	if added == 0 {
		return 0
	}

	sort.Slice(buf.samples, func(i, j int) bool {
		return buf.samples[i].TimestampNanos < buf.samples[j].TimestampNanos
	})

	if over := len(buf.samples) - s.maxPoints; over > 0 {
		buf.samples = append(buf.samples[:0], buf.samples[over:]...)
	}

	return added
}

// RemoveMetric drops every series derived from the given metric name.
func (s *Store) RemoveMetric(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := s.order[:0]
	for _, key := range s.order {
		buf := s.buffers[key]
		if buf.metricName == name {
			delete(s.buffers, key)
			continue
		}
		keep = append(keep, key)
	}
	s.order = keep

	// Reindex so the renderer mapping stays dense.
	for i, key := range s.order {
		s.buffers[key].index = i
	}

	// Surviving series indexes moved; the next update must redraw.
	s.rendered = false
}

// SetTimeRange changes the active display window.
func (s *Store) SetTimeRange(tr TimeRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tr.Preset == "" {
		tr.Preset = DefaultPreset
	}
	s.timeRange = tr
	// A different window needs a redraw; extends would splice wrong data.
	s.rendered = false
}

// TimeRangeNow returns the currently resolved window bounds.
func (s *Store) TimeRangeNow() (time.Time, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeRange.Window(s.now())
}

// RemoveOldestPoints evicts n oldest points from every series. Used for
// memory-pressure trims.
func (s *Store) RemoveOldestPoints(n int) {
	if n <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, buf := range s.buffers {
		if n >= len(buf.samples) {
			buf.samples = buf.samples[:0]
			continue
		}
		buf.samples = append(buf.samples[:0], buf.samples[n:]...)
	}
}

// Snapshot returns time-filtered value copies of every series, in
// renderer index order.
func (s *Store) Snapshot() []SeriesView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SeriesLen returns the stored (unfiltered) point count for a series key.
func (s *Store) SeriesLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if buf, ok := s.buffers[key]; ok {
		return len(buf.samples)
	}
	return 0
}

// SeriesCount returns the number of live series.
func (s *Store) SeriesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Destroy releases every buffer. The store is reusable afterwards but
// starts from a full render.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffers = make(map[string]*seriesBuffer)
	s.order = nil
	s.rendered = false
}

func (s *Store) snapshotLocked() []SeriesView {
	start, end := s.timeRange.Window(s.now())

	views := make([]SeriesView, 0, len(s.order))
	for _, key := range s.order {
		buf := s.buffers[key]
		views = append(views, SeriesView{
			Key:        buf.key,
			MetricName: buf.metricName,
			Kind:       buf.kind,
			Unit:       buf.unit,
			Index:      buf.index,
			Points:     copySamples(filterRange(buf.samples, start, end)),
		})
	}
	return views
}

// filterRange returns the subslice of samples within [start, end]. The
// buffer is sorted, so binary search both bounds.
func filterRange(samples []series.Sample, start, end time.Time) []series.Sample {
	startNanos := start.UnixNano()
	endNanos := end.UnixNano()

	lo := sort.Search(len(samples), func(i int) bool {
		return samples[i].TimestampNanos >= startNanos
	})
	hi := sort.Search(len(samples), func(i int) bool {
		return samples[i].TimestampNanos > endNanos
	})
	return samples[lo:hi]
}

func copySamples(in []series.Sample) []series.Sample {
	if len(in) == 0 {
		return nil
	}
	out := make([]series.Sample, len(in))
	copy(out, in)
	return out
}
