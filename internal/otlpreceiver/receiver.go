// Package otlpreceiver runs an optional OTLP gRPC ingest endpoint so
// telemetry can be pushed directly instead of (or alongside) being
// tailed from files. Traces and metrics land in the same decoded shapes
// the file pipeline produces.
package otlpreceiver

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"

	"github.com/tobert/otlp-tail/internal/decode"
	"github.com/tobert/otlp-tail/internal/traces"
)

// Sink receives decoded telemetry. Implementations must be safe for
// concurrent calls; gRPC handles requests in parallel.
type Sink interface {
	ConsumeTraces(rows []traces.Row)
	ConsumeMetrics(batches []decode.MetricBatch)
}

// Config holds listener configuration.
type Config struct {
	Host string // e.g., "127.0.0.1"
	Port int    // 0 for ephemeral port assignment
}

// Server is the OTLP gRPC server for trace and metric export.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	sink       Sink
	stopOnce   sync.Once
	stopChan   chan struct{}
	stopDone   chan struct{}
}

// NewServer creates a server bound to the configured host and port (use
// port 0 for ephemeral). Decoded telemetry is handed to the sink.
func NewServer(cfg Config, sink Sink) (*Server, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()

	server := &Server{
		listener:   listener,
		grpcServer: grpcServer,
		sink:       sink,
		stopChan:   make(chan struct{}),
		stopDone:   make(chan struct{}, 1),
	}

	collectortrace.RegisterTraceServiceServer(grpcServer, &traceService{sink: sink})
	collectormetrics.RegisterMetricsServiceServer(grpcServer, &metricsService{sink: sink})

	return server, nil
}

// Start begins serving OTLP requests. Blocks until Stop is called or
// ctx is cancelled; typically run in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
			// Stop was called directly
		}
	}()

	err := s.grpcServer.Serve(s.listener)
	s.stopDone <- struct{}{}
	return err
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.grpcServer.GracefulStop()
		close(s.stopChan)
	})
}

// StopWait stops the server and waits for shutdown to complete.
func (s *Server) StopWait() {
	s.Stop()
	<-s.stopDone
}

// Endpoint returns the actual listening address, useful with ephemeral
// ports. Format "host:port".
func (s *Server) Endpoint() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type traceService struct {
	collectortrace.UnimplementedTraceServiceServer
	sink Sink
}

func (t *traceService) Export(
	ctx context.Context,
	req *collectortrace.ExportTraceServiceRequest,
) (*collectortrace.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	rows, skipped := decode.RowsFromResourceSpans(req.ResourceSpans)
	if skipped > 0 {
		log.Printf("⚠️ otlpreceiver: skipped %d malformed spans", skipped)
	}
	if len(rows) > 0 {
		t.sink.ConsumeTraces(rows)
	}

	return &collectortrace.ExportTraceServiceResponse{}, nil
}

type metricsService struct {
	collectormetrics.UnimplementedMetricsServiceServer
	sink Sink
}

func (m *metricsService) Export(
	ctx context.Context,
	req *collectormetrics.ExportMetricsServiceRequest,
) (*collectormetrics.ExportMetricsServiceResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	batches, skipped := decode.BatchesFromResourceMetrics(req.ResourceMetrics)
	if skipped > 0 {
		log.Printf("⚠️ otlpreceiver: skipped %d malformed metric values", skipped)
	}
	if len(batches) > 0 {
		m.sink.ConsumeMetrics(batches)
	}

	return &collectormetrics.ExportMetricsServiceResponse{}, nil
}
