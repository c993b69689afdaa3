package series

import (
	"math"
	"sort"
)

// Stats holds the reduced statistics for histogram and summary kinds.
// Percentile fields are only populated for histograms.
type Stats struct {
	Sum   float64
	Count int
	Min   float64
	Max   float64
	Avg   float64
	P50   float64
	P95   float64
	P99   float64
}

// Result is the outcome of aggregating a batch of samples. Counter and
// gauge kinds produce Scalar; histogram and summary kinds produce Stats
// with HasStats set.
type Result struct {
	Scalar   float64
	Stats    Stats
	HasStats bool
}

// GaugeMode selects how a gauge batch is reduced.
type GaugeMode int

const (
	// GaugeLatest reduces to the sample with the greatest timestamp.
	GaugeLatest GaugeMode = iota
	// GaugeMean reduces to the arithmetic mean of the batch.
	GaugeMean
)

// Aggregate reduces a batch of samples according to the metric kind.
// Unknown kinds use gauge semantics. Gauge uses latest-by-timestamp;
// use AggregateGauge directly for mean mode.
func Aggregate(samples []Sample, kind Kind) Result {
	switch kind {
	case KindCounter:
		return Result{Scalar: AggregateCounter(samples)}
	case KindHistogram:
		return Result{Stats: AggregateHistogram(samples), HasStats: true}
	case KindSummary:
		return Result{Stats: AggregateSummary(samples), HasStats: true}
	default:
		return Result{Scalar: AggregateGauge(samples, GaugeLatest)}
	}
}

// AggregateCounter sums all sample values. Empty input yields 0.
func AggregateCounter(samples []Sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum
}

// AggregateGauge reduces a gauge batch. Empty input yields 0.
func AggregateGauge(samples []Sample, mode GaugeMode) float64 {
	if len(samples) == 0 {
		return 0
	}

	if mode == GaugeMean {
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum / float64(len(samples))
	}

	latest := samples[0]
	for _, s := range samples[1:] {
		if s.TimestampNanos > latest.TimestampNanos {
			latest = s
		}
	}
	return latest.Value
}

// AggregateHistogram computes full statistics including nearest-rank
// percentiles over the finite sample values. NaN and Inf values are
// discarded before reduction. Empty input yields a zero record.
func AggregateHistogram(samples []Sample) Stats {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		values = append(values, s.Value)
	}

	if len(values) == 0 {
		return Stats{}
	}

	sort.Float64s(values)

	stats := Stats{
		Min: values[0],
		Max: values[len(values)-1],
	}
	for _, v := range values {
		stats.Sum += v
	}
	stats.Count = len(values)
	stats.Avg = stats.Sum / float64(stats.Count)
	stats.P50 = nearestRank(values, 0.50)
	stats.P95 = nearestRank(values, 0.95)
	stats.P99 = nearestRank(values, 0.99)

	return stats
}

// AggregateSummary computes sum/count/min/max/avg over raw values with no
// percentiles. Empty input yields a zero record.
func AggregateSummary(samples []Sample) Stats {
	if len(samples) == 0 {
		return Stats{}
	}

	stats := Stats{
		Min: samples[0].Value,
		Max: samples[0].Value,
	}
	for _, s := range samples {
		stats.Sum += s.Value
		if s.Value < stats.Min {
			stats.Min = s.Value
		}
		if s.Value > stats.Max {
			stats.Max = s.Value
		}
	}
	stats.Count = len(samples)
	stats.Avg = stats.Sum / float64(stats.Count)

	return stats
}

// nearestRank returns the percentile of a sorted slice using the
// nearest-rank method: index = ceil(p * n) - 1, clamped to [0, n-1].
// Unlike interpolation this always returns an observed value, so the
// result is >= every value at or below its rank.
func nearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
