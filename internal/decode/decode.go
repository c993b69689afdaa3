// Package decode turns file-exported OTLP JSONL bytes into the domain
// records the views consume. One malformed line is dropped and counted,
// never fatal; the producer keeps appending and the pipeline keeps going.
package decode

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-tail/internal/series"
	"github.com/tobert/otlp-tail/internal/traces"
)

const (
	// Line scanning buffers. OTLP JSON lines can be large for batched
	// spans with many attributes.
	lineBufferInitial = 1 * 1024 * 1024
	lineBufferMax     = 10 * 1024 * 1024
)

// Signal identifies what a telemetry file contains.
type Signal int

const (
	SignalUnknown Signal = iota
	SignalTraces
	SignalMetrics
)

// SignalForFile classifies a file by its exporter naming convention
// (traces.jsonl, metrics-2025-01-02T03-04-05.jsonl, ...).
func SignalForFile(name string) Signal {
	switch {
	case strings.HasPrefix(name, "traces"):
		return SignalTraces
	case strings.HasPrefix(name, "metrics"):
		return SignalMetrics
	default:
		return SignalUnknown
	}
}

// MetricBatch groups the decoded samples of one metric.
type MetricBatch struct {
	MetricName string
	Samples    []series.Sample
}

// Traces decodes trace JSONL into rows. Returns the rows and the number
// of lines or values skipped as malformed.
func Traces(data []byte) ([]traces.Row, int) {
	var rows []traces.Row
	skipped := 0

	eachLine(data, func(line []byte) {
		var td tracepb.TracesData
		if err := protojson.Unmarshal(line, &td); err != nil {
			skipped++
			return
		}

		lineRows, bad := RowsFromResourceSpans(td.ResourceSpans)
		rows = append(rows, lineRows...)
		skipped += bad
	})

	return rows, skipped
}

// RowsFromResourceSpans converts already-parsed OTLP resource spans into
// rows. Shared by the file path and the gRPC receiver.
func RowsFromResourceSpans(resourceSpans []*tracepb.ResourceSpans) ([]traces.Row, int) {
	var rows []traces.Row
	skipped := 0

	for _, rs := range resourceSpans {
		serviceName := extractServiceName(rs.GetResource())
		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.Spans {
				row, ok := spanToRow(span, serviceName)
				if !ok {
					skipped++
					continue
				}
				rows = append(rows, row)
			}
		}
	}
	return rows, skipped
}

// Metrics decodes metric JSONL into per-metric sample batches. Returns
// the batches (in first-seen metric order) and the skip count.
func Metrics(data []byte) ([]MetricBatch, int) {
	byName := make(map[string]*MetricBatch)
	var order []string
	skipped := 0

	eachLine(data, func(line []byte) {
		var md metricspb.MetricsData
		if err := protojson.Unmarshal(line, &md); err != nil {
			skipped++
			return
		}

		skipped += collectMetricBatches(md.ResourceMetrics, byName, &order)
	})

	batches := make([]MetricBatch, 0, len(order))
	for _, name := range order {
		batches = append(batches, *byName[name])
	}
	return batches, skipped
}

// BatchesFromResourceMetrics converts already-parsed OTLP resource
// metrics into per-metric batches. Shared by the file path and the gRPC
// receiver.
func BatchesFromResourceMetrics(resourceMetrics []*metricspb.ResourceMetrics) ([]MetricBatch, int) {
	byName := make(map[string]*MetricBatch)
	var order []string
	skipped := collectMetricBatches(resourceMetrics, byName, &order)

	batches := make([]MetricBatch, 0, len(order))
	for _, name := range order {
		batches = append(batches, *byName[name])
	}
	return batches, skipped
}

func collectMetricBatches(resourceMetrics []*metricspb.ResourceMetrics, byName map[string]*MetricBatch, order *[]string) int {
	skipped := 0
	for _, rm := range resourceMetrics {
		serviceName := extractServiceName(rm.GetResource())
		for _, sm := range rm.GetScopeMetrics() {
			for _, metric := range sm.Metrics {
				samples, bad := metricSamples(metric, serviceName)
				skipped += bad
				if len(samples) == 0 {
					continue
				}

				batch, ok := byName[metric.Name]
				if !ok {
					batch = &MetricBatch{MetricName: metric.Name}
					byName[metric.Name] = batch
					*order = append(*order, metric.Name)
				}
				batch.Samples = append(batch.Samples, samples...)
			}
		}
	}
	return skipped
}

func eachLine(data []byte, fn func([]byte)) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	buf := make([]byte, 0, lineBufferInitial)
	scanner.Buffer(buf, lineBufferMax)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
}

func spanToRow(span *tracepb.Span, serviceName string) (traces.Row, bool) {
	if span == nil || len(span.TraceId) == 0 || len(span.SpanId) == 0 {
		return traces.Row{}, false
	}

	start := time.Unix(0, int64(span.StartTimeUnixNano))
	end := time.Unix(0, int64(span.EndTimeUnixNano))

	statusCode := "UNSET"
	statusMessage := ""
	if span.Status != nil {
		switch span.Status.Code {
		case tracepb.Status_STATUS_CODE_OK:
			statusCode = "OK"
		case tracepb.Status_STATUS_CODE_ERROR:
			statusCode = "ERROR"
		}
		statusMessage = span.Status.Message
	}

	return traces.Row{
		TraceID:       fmt.Sprintf("%x", span.TraceId),
		SpanID:        fmt.Sprintf("%x", span.SpanId),
		ParentSpanID:  fmt.Sprintf("%x", span.ParentSpanId),
		Name:          span.Name,
		ServiceName:   serviceName,
		Start:         start,
		End:           end,
		Duration:      end.Sub(start),
		StatusCode:    statusCode,
		StatusMessage: statusMessage,
		Attributes:    attributeMap(span.Attributes),
		Error:         statusCode == "ERROR",
	}, true
}

// metricSamples expands one OTLP metric into samples. Counter and gauge
// points map one to one. Histogram points become an average sample plus
// bucket-estimated p50/p95/p99 series distinguished by a quantile label;
// summary points become one sample per recorded quantile. Non-finite
// values are dropped and counted.
func metricSamples(metric *metricspb.Metric, serviceName string) ([]series.Sample, int) {
	var samples []series.Sample
	skipped := 0

	add := func(value float64, tsNanos uint64, labels map[string]string, kind series.Kind) {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			skipped++
			return
		}
		if serviceName != "" {
			if labels == nil {
				labels = make(map[string]string, 1)
			}
			labels["service"] = serviceName
		}
		samples = append(samples, series.Sample{
			Key:            series.SeriesKey(metric.Name, labels),
			MetricName:     metric.Name,
			Value:          value,
			TimestampNanos: int64(tsNanos),
			Labels:         labels,
			Unit:           metric.Unit,
			Kind:           kind,
		})
	}

	switch data := metric.Data.(type) {
	case *metricspb.Metric_Gauge:
		for _, dp := range data.Gauge.DataPoints {
			add(numberValue(dp), dp.TimeUnixNano, attributeMap(dp.Attributes), series.KindGauge)
		}

	case *metricspb.Metric_Sum:
		for _, dp := range data.Sum.DataPoints {
			add(numberValue(dp), dp.TimeUnixNano, attributeMap(dp.Attributes), series.KindCounter)
		}

	case *metricspb.Metric_Histogram:
		for _, dp := range data.Histogram.DataPoints {
			labels := attributeMap(dp.Attributes)
			if dp.Count > 0 && dp.Sum != nil {
				add(*dp.Sum/float64(dp.Count), dp.TimeUnixNano, cloneLabels(labels), series.KindHistogram)
			}
			for q, v := range bucketPercentiles(dp.GetExplicitBounds(), dp.GetBucketCounts(), dp.GetCount()) {
				ql := cloneLabels(labels)
				if ql == nil {
					ql = make(map[string]string, 1)
				}
				ql["quantile"] = q
				add(v, dp.TimeUnixNano, ql, series.KindHistogram)
			}
		}

	case *metricspb.Metric_Summary:
		for _, dp := range data.Summary.DataPoints {
			labels := attributeMap(dp.Attributes)
			if dp.Count > 0 {
				add(dp.Sum/float64(dp.Count), dp.TimeUnixNano, cloneLabels(labels), series.KindSummary)
			}
			for _, qv := range dp.QuantileValues {
				ql := cloneLabels(labels)
				if ql == nil {
					ql = make(map[string]string, 1)
				}
				ql["quantile"] = strconv.FormatFloat(qv.Quantile, 'g', -1, 64)
				add(qv.Value, dp.TimeUnixNano, ql, series.KindSummary)
			}
		}

	default:
		// ExponentialHistogram and unknown payloads are not graphed.
	}

	return samples, skipped
}

func numberValue(dp *metricspb.NumberDataPoint) float64 {
	switch v := dp.Value.(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		return v.AsDouble
	case *metricspb.NumberDataPoint_AsInt:
		return float64(v.AsInt)
	default:
		return math.NaN()
	}
}

// extractServiceName pulls service.name from an OTLP resource, defaulting
// to "unknown".
func extractServiceName(resource *resourcepb.Resource) string {
	if resource == nil {
		return "unknown"
	}
	for _, attr := range resource.Attributes {
		if attr.Key == "service.name" {
			if sv := attr.Value.GetStringValue(); sv != "" {
				return sv
			}
		}
	}
	return "unknown"
}

func attributeMap(attrs []*commonpb.KeyValue) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		out[attr.Key] = anyValueString(attr.Value)
	}
	return out
}

func anyValueString(v *commonpb.AnyValue) string {
	if v == nil {
		return ""
	}
	switch val := v.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	default:
		return v.String()
	}
}

func cloneLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
