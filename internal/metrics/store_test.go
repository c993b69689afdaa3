package metrics

import (
	"testing"
	"time"

	"github.com/tobert/otlp-tail/internal/series"
)

// testStore returns a store with a fixed clock so rolling windows are
// deterministic.
func testStore(maxPoints int, now time.Time) *Store {
	s := NewStore(maxPoints)
	s.now = func() time.Time { return now }
	return s
}

func mkSamples(key string, startNanos int64, values ...float64) []series.Sample {
	samples := make([]series.Sample, len(values))
	for i, v := range values {
		samples[i] = series.Sample{
			Key:            key,
			MetricName:     "req.duration",
			Value:          v,
			TimestampNanos: startNanos + int64(i)*1_000_000_000,
			Kind:           series.KindGauge,
		}
	}
	return samples
}

// TestStoreFirstUpdateIsFull tests that the first merge always demands a
// full render.
func TestStoreFirstUpdateIsFull(t *testing.T) {
	now := time.Unix(1000, 0)
	s := testStore(100, now)

	plan := s.UpdateMetric("req.duration", mkSamples("a", now.Add(-time.Minute).UnixNano(), 1, 2, 3))
	if !plan.Full {
		t.Fatal("first update must be a full render")
	}
	if len(plan.FullSeries) != 1 || len(plan.FullSeries[0].Points) != 3 {
		t.Fatalf("unexpected full snapshot: %+v", plan.FullSeries)
	}
	if plan.Cap != 100 {
		t.Fatalf("expected cap 100, got %d", plan.Cap)
	}
}

// TestStoreIncrementalExtend tests that appends to known series produce
// extends carrying exactly the new points.
func TestStoreIncrementalExtend(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", mkSamples("a", base, 1, 2, 3))

	plan := s.UpdateMetric("req.duration", mkSamples("a", base+3_000_000_000, 4, 5))
	if plan.Full {
		t.Fatal("append to known series should extend, not redraw")
	}
	if len(plan.Extends) != 1 {
		t.Fatalf("expected one extend, got %+v", plan.Extends)
	}

	ext := plan.Extends[0]
	if ext.Key != "a" || ext.Index != 0 {
		t.Fatalf("unexpected extend target: %+v", ext)
	}
	if len(ext.NewPoints) != 2 || ext.NewPoints[0].Value != 4 || ext.NewPoints[1].Value != 5 {
		t.Fatalf("extend must carry exactly the appended tail, got %+v", ext.NewPoints)
	}
}

// TestStoreNewSeriesForcesFull tests that introducing an unseen series
// key demands a full render even mid-stream.
func TestStoreNewSeriesForcesFull(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", mkSamples("a", base, 1))

	plan := s.UpdateMetric("req.duration", mkSamples("b", base, 9))
	if !plan.Full {
		t.Fatal("unseen series key must force a full render")
	}
	if len(plan.FullSeries) != 2 {
		t.Fatalf("expected both series in the snapshot, got %d", len(plan.FullSeries))
	}
}

// TestStoreIdempotentMerge tests that re-applying an already merged batch
// changes nothing.
func TestStoreIdempotentMerge(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)
	base := now.Add(-time.Minute).UnixNano()
	batch := mkSamples("a", base, 1, 2, 3)

	s.UpdateMetric("req.duration", batch)
	before := s.SeriesLen("a")

	plan := s.UpdateMetric("req.duration", batch)
	if plan.Full {
		t.Fatal("duplicate batch must not force a redraw")
	}
	if len(plan.Extends) != 0 {
		t.Fatalf("duplicate batch must not extend, got %+v", plan.Extends)
	}
	if got := s.SeriesLen("a"); got != before {
		t.Fatalf("duplicate batch changed buffer length: %d -> %d", before, got)
	}
}

// TestStoreCapEviction tests that buffers never exceed the cap and evict
// oldest-first, and that extends never resend evicted heads.
func TestStoreCapEviction(t *testing.T) {
	now := time.Unix(100_000, 0)
	s := testStore(5, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", mkSamples("a", base, 1, 2, 3, 4, 5))

	// Appending 3 pushes out the 3 oldest
	plan := s.UpdateMetric("req.duration", mkSamples("a", base+5_000_000_000, 6, 7, 8))
	if got := s.SeriesLen("a"); got != 5 {
		t.Fatalf("buffer exceeded cap: %d", got)
	}

	views := s.Snapshot()
	points := views[0].Points
	if points[0].Value != 4 {
		t.Fatalf("expected oldest surviving point 4, got %v", points[0].Value)
	}
	if points[len(points)-1].Value != 8 {
		t.Fatalf("expected newest point 8, got %v", points[len(points)-1].Value)
	}

	if len(plan.Extends) != 1 || len(plan.Extends[0].NewPoints) != 3 {
		t.Fatalf("expected extend with the 3 appended points, got %+v", plan.Extends)
	}
	if plan.Extends[0].NewPoints[0].Value != 6 {
		t.Fatalf("extend resent evicted data: %+v", plan.Extends[0].NewPoints)
	}
}

// TestStoreAtCapExtendCarriesTail tests that an append to a buffer
// already at MaxPoints still extends with the appended points, even
// though eviction keeps the buffer length unchanged.
func TestStoreAtCapExtendCarriesTail(t *testing.T) {
	now := time.Unix(100_000, 0)
	s := testStore(3, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", mkSamples("a", base, 1, 2, 3))
	if got := s.SeriesLen("a"); got != 3 {
		t.Fatalf("buffer should be at cap, got %d", got)
	}

	plan := s.UpdateMetric("req.duration", mkSamples("a", base+3_000_000_000, 4, 5))
	if got := s.SeriesLen("a"); got != 3 {
		t.Fatalf("buffer length must not grow past the cap, got %d", got)
	}
	if plan.Full {
		t.Fatal("at-cap append should extend, not redraw")
	}
	if len(plan.Extends) != 1 {
		t.Fatalf("expected one extend, got %+v", plan.Extends)
	}

	pts := plan.Extends[0].NewPoints
	if len(pts) != 2 || pts[0].Value != 4 || pts[1].Value != 5 {
		t.Fatalf("extend must carry the appended tail despite eviction, got %+v", pts)
	}
}

// TestStoreOutOfOrderMerge tests that late-arriving samples are sorted in.
func TestStoreOutOfOrderMerge(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", []series.Sample{
		{Key: "a", MetricName: "req.duration", Value: 3, TimestampNanos: base + 2_000_000_000},
		{Key: "a", MetricName: "req.duration", Value: 1, TimestampNanos: base},
		{Key: "a", MetricName: "req.duration", Value: 2, TimestampNanos: base + 1_000_000_000},
	})

	points := s.Snapshot()[0].Points
	for i := 1; i < len(points); i++ {
		if points[i].TimestampNanos <= points[i-1].TimestampNanos {
			t.Fatalf("buffer not strictly ascending at %d: %+v", i, points)
		}
	}
	if points[0].Value != 1 || points[2].Value != 3 {
		t.Fatalf("unexpected order: %+v", points)
	}
}

// TestStoreTimeRangeFiltering tests that filtering applies at render time
// while storage retains the full history.
func TestStoreTimeRangeFiltering(t *testing.T) {
	now := time.Unix(100_000, 0)
	s := testStore(1000, now)

	old := mkSamples("a", now.Add(-2*time.Hour).UnixNano(), 1, 2)
	recent := mkSamples("a", now.Add(-time.Minute).UnixNano(), 3, 4)
	s.UpdateMetric("req.duration", append(old, recent...))

	// Default rolling 1h window hides the 2h-old points...
	points := s.Snapshot()[0].Points
	if len(points) != 2 || points[0].Value != 3 {
		t.Fatalf("expected only recent points in 1h window, got %+v", points)
	}

	// ...but they are still stored.
	if got := s.SeriesLen("a"); got != 4 {
		t.Fatalf("storage should retain all history, got %d", got)
	}

	// Widening to 6h reveals them.
	s.SetTimeRange(TimeRange{Preset: Preset6h})
	points = s.Snapshot()[0].Points
	if len(points) != 4 {
		t.Fatalf("expected all points in 6h window, got %d", len(points))
	}

	// Fixed window takes precedence over the preset.
	s.SetTimeRange(TimeRange{
		Start:  now.Add(-3 * time.Hour),
		End:    now.Add(-90 * time.Minute),
		Preset: Preset5m,
	})
	points = s.Snapshot()[0].Points
	if len(points) != 2 || points[0].Value != 1 {
		t.Fatalf("expected only the old points in the fixed window, got %+v", points)
	}
}

// TestStoreSetTimeRangeForcesRedraw tests that a window change demands a
// full render on the next update.
func TestStoreSetTimeRangeForcesRedraw(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", mkSamples("a", base, 1))
	s.SetTimeRange(TimeRange{Preset: Preset5m})

	plan := s.UpdateMetric("req.duration", mkSamples("a", base+1_000_000_000, 2))
	if !plan.Full {
		t.Fatal("time range change must force a full render")
	}
}

// TestStoreRemoveMetric tests that removal drops all series for the name
// and reindexes survivors.
func TestStoreRemoveMetric(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", mkSamples("a", base, 1))
	other := mkSamples("b", base, 2)
	for i := range other {
		other[i].MetricName = "cpu.usage"
	}
	s.UpdateMetric("cpu.usage", other)

	s.RemoveMetric("req.duration")

	if got := s.SeriesCount(); got != 1 {
		t.Fatalf("expected one surviving series, got %d", got)
	}
	views := s.Snapshot()
	if views[0].Key != "b" || views[0].Index != 0 {
		t.Fatalf("survivor not reindexed: %+v", views[0])
	}
}

// TestStoreRemoveOldestPoints tests the memory-pressure trim.
func TestStoreRemoveOldestPoints(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)
	base := now.Add(-time.Minute).UnixNano()

	s.UpdateMetric("req.duration", mkSamples("a", base, 1, 2, 3, 4))
	s.RemoveOldestPoints(2)

	if got := s.SeriesLen("a"); got != 2 {
		t.Fatalf("expected 2 points after trim, got %d", got)
	}
	if points := s.Snapshot()[0].Points; points[0].Value != 3 {
		t.Fatalf("trim must evict oldest first, got %+v", points)
	}

	// Trimming more than exists empties the buffer without panicking
	s.RemoveOldestPoints(10)
	if got := s.SeriesLen("a"); got != 0 {
		t.Fatalf("expected empty buffer, got %d", got)
	}
}

// TestStoreDestroy tests that Destroy releases all buffers.
func TestStoreDestroy(t *testing.T) {
	now := time.Unix(10_000, 0)
	s := testStore(100, now)

	s.UpdateMetric("req.duration", mkSamples("a", now.UnixNano(), 1))
	s.Destroy()

	if got := s.SeriesCount(); got != 0 {
		t.Fatalf("expected no series after destroy, got %d", got)
	}
	if plan := s.UpdateMetric("req.duration", mkSamples("a", now.UnixNano(), 1)); !plan.Full {
		t.Fatal("store must start from a full render after destroy")
	}
}
