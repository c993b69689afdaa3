// Package series defines the metric sample model and kind-dispatched
// aggregation used by the time-series views. Samples are immutable once
// produced; everything here is pure computation over value copies.
package series

import (
	"sort"
	"strings"
)

// Kind classifies a metric's semantics. It is a closed set; anything the
// decoder cannot classify is treated as a gauge.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
	KindHistogram
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindHistogram:
		return "histogram"
	case KindSummary:
		return "summary"
	default:
		return "gauge"
	}
}

// ParseKind maps a kind name to a Kind. Unknown names fall back to gauge;
// this is deliberate so a producer introducing a new metric type degrades
// to latest-value rendering instead of dropping data.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "counter", "sum":
		return KindCounter
	case "gauge":
		return KindGauge
	case "histogram":
		return KindHistogram
	case "summary":
		return KindSummary
	default:
		return KindGauge
	}
}

// Sample is one decoded metric data point. Identity within a series is the
// timestamp: two samples with equal Key and TimestampNanos are duplicates.
type Sample struct {
	Key            string
	MetricName     string
	Value          float64
	TimestampNanos int64
	Labels         map[string]string
	Unit           string
	Kind           Kind
}

// SeriesKey derives the deterministic series identity from a metric name
// and label set. Labels are sorted by key so the same set always produces
// the same string regardless of map iteration order.
func SeriesKey(metricName string, labels map[string]string) string {
	if len(labels) == 0 {
		return metricName
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(metricName)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
