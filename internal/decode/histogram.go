package decode

import "math"

// bucketPercentiles estimates p50/p95/p99 from explicit histogram
// buckets using linear interpolation within the containing bucket, the
// same approach Prometheus' histogram_quantile uses. The file exporter
// only records buckets, not raw observations, so estimation is the best
// available.
//
// Bucket layout in OTLP:
//   - counts[i] is the count for bucket i
//   - bounds[i] is the upper bound of bucket i (exclusive)
//   - bucket 0: (-Inf, bounds[0]], bucket n: (bounds[n-1], +Inf)
//
// For n bounds there are n+1 buckets. Returns nil when the histogram is
// empty or has no usable buckets.
func bucketPercentiles(bounds []float64, counts []uint64, total uint64) map[string]float64 {
	if len(counts) == 0 || total == 0 {
		return nil
	}

	out := make(map[string]float64, 3)
	targets := map[string]float64{"p50": 0.50, "p95": 0.95, "p99": 0.99}

	for name, target := range targets {
		if p := interpolateBucket(bounds, counts, total, target); !math.IsNaN(p) {
			out[name] = p
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func interpolateBucket(bounds []float64, counts []uint64, total uint64, target float64) float64 {
	targetCount := float64(total) * target
	cumulative := uint64(0)

	for i, count := range counts {
		cumulative += count
		if float64(cumulative) < targetCount || count == 0 {
			continue
		}

		var lower, upper float64
		switch {
		case i == 0:
			// First bucket is (-Inf, bounds[0]]; 0 is the usual lower
			// bound heuristic for latency histograms.
			if len(bounds) == 0 {
				return math.NaN()
			}
			lower, upper = 0, bounds[0]
		case i < len(bounds):
			lower, upper = bounds[i-1], bounds[i]
		default:
			// Overflow bucket reaches +Inf; report the last finite bound.
			if len(bounds) == 0 {
				return math.NaN()
			}
			return bounds[len(bounds)-1]
		}

		prevCumulative := cumulative - count
		fraction := (targetCount - float64(prevCumulative)) / float64(count)
		return lower + fraction*(upper-lower)
	}

	if len(bounds) > 0 {
		return bounds[len(bounds)-1]
	}
	return math.NaN()
}
