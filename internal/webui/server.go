// Package webui serves a small embedded dashboard that mirrors the
// terminal view. It implements render.Renderer: full snapshots and
// incremental extends arrive as JSON frames over a WebSocket.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tobert/otlp-tail/internal/metrics"
	"github.com/tobert/otlp-tail/internal/render"
	"github.com/tobert/otlp-tail/internal/series"
	"github.com/tobert/otlp-tail/internal/traces"
)

//go:embed static/index.html
var staticFiles embed.FS

// clientBuffer is the per-connection frame queue. A client that cannot
// drain this many frames is dropped rather than blocking the renderer.
const clientBuffer = 32

// Server serves the embedded dashboard, REST endpoints, and the
// WebSocket update stream.
type Server struct {
	window *traces.Window
	start  time.Time

	mu       sync.Mutex
	lastFull *wsFrame // replayed to clients that connect mid-stream
	clients  map[uint64]chan wsFrame
	nextID   uint64
	series   int
}

// New creates a web UI server. The trace window backs /api/traces and
// the trace table in full frames.
func New(window *traces.Window) *Server {
	return &Server{
		window:  window,
		start:   time.Now(),
		clients: make(map[uint64]chan wsFrame),
	}
}

// RegisterRoutes attaches routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/traces", s.handleTraces)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// ListenAndServe starts a standalone HTTP server and blocks until ctx
// is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// wsFrame is a server-sent message. Type is "full", "extend", or
// "traces"; the other fields are populated according to the type.
type wsFrame struct {
	Type    string     `json:"type"`
	Cap     int        `json:"cap"`
	Series  []wsSeries `json:"series,omitempty"`
	Traces  []wsTrace  `json:"traces,omitempty"`
	Extends []wsExtend `json:"extends,omitempty"`
}

type wsSeries struct {
	Key        string    `json:"key"`
	MetricName string    `json:"metric_name"`
	Kind       string    `json:"kind"`
	Unit       string    `json:"unit,omitempty"`
	Index      int       `json:"index"`
	Points     []wsPoint `json:"points"`
}

type wsExtend struct {
	Key       string    `json:"key"`
	Index     int       `json:"index"`
	NewPoints []wsPoint `json:"new_points"`
}

// wsPoint is [unix_millis, value].
type wsPoint [2]float64

type wsTrace struct {
	Time       string  `json:"time"`
	TraceID    string  `json:"trace_id"`
	SpanID     string  `json:"span_id"`
	Service    string  `json:"service"`
	Name       string  `json:"name"`
	DurationMs float64 `json:"duration_ms"`
	Status     string  `json:"status"`
	Error      bool    `json:"error"`
}

// RenderFull implements render.Renderer.
func (s *Server) RenderFull(v render.FullView) error {
	frame := wsFrame{
		Type:   "full",
		Cap:    v.Cap,
		Series: make([]wsSeries, 0, len(v.Series)),
		Traces: make([]wsTrace, 0, len(v.Rows)),
	}
	for _, sv := range v.Series {
		frame.Series = append(frame.Series, wsSeries{
			Key:        sv.Key,
			MetricName: sv.MetricName,
			Kind:       sv.Kind.String(),
			Unit:       sv.Unit,
			Index:      sv.Index,
			Points:     wsPoints(sv.Points),
		})
	}
	for _, row := range v.Rows {
		frame.Traces = append(frame.Traces, traceSummary(row))
	}

	s.mu.Lock()
	s.series = len(v.Series)
	s.lastFull = &frame
	s.broadcastLocked(frame)
	s.mu.Unlock()
	return nil
}

// Extend implements render.Renderer.
func (s *Server) Extend(b render.ExtendBatch) error {
	frame := wsFrame{
		Type:    "extend",
		Cap:     b.Cap,
		Extends: make([]wsExtend, 0, len(b.Extends)),
	}
	for _, ext := range b.Extends {
		frame.Extends = append(frame.Extends, wsExtend{
			Key:       ext.Key,
			Index:     ext.Index,
			NewPoints: wsPointsFromExtend(ext),
		})
	}

	s.mu.Lock()
	s.broadcastLocked(frame)
	s.mu.Unlock()
	return nil
}

// RenderTraces implements render.Renderer. Trace rows arrive on their
// own frame so trace-only streams update clients between full renders.
// The cached full frame is refreshed too, so late subscribers see the
// current trace table.
func (s *Server) RenderTraces(rows []traces.Row) error {
	summaries := make([]wsTrace, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, traceSummary(row))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFull == nil {
		frame := wsFrame{Type: "full", Traces: summaries}
		s.lastFull = &frame
		s.broadcastLocked(frame)
		return nil
	}
	s.lastFull.Traces = summaries
	s.broadcastLocked(wsFrame{Type: "traces", Traces: summaries})
	return nil
}

// broadcastLocked fans a frame out to every connected client without
// blocking. Callers hold s.mu.
func (s *Server) broadcastLocked(frame wsFrame) {
	for id, ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Slow client. Close its channel so its writer exits.
			close(ch)
			delete(s.clients, id)
			log.Printf("⚠️ webui: dropped slow client %d", id)
		}
	}
}

// wsPoints converts samples to [unix_millis, value] pairs.
func wsPoints(samples []series.Sample) []wsPoint {
	points := make([]wsPoint, 0, len(samples))
	for _, sample := range samples {
		points = append(points, wsPoint{
			float64(sample.TimestampNanos / int64(time.Millisecond)),
			sample.Value,
		})
	}
	return points
}

func wsPointsFromExtend(ext metrics.SeriesExtend) []wsPoint {
	return wsPoints(ext.NewPoints)
}

// statusResponse is the JSON shape for /api/status.
type statusResponse struct {
	Uptime        float64 `json:"uptime_seconds"`
	Series        int     `json:"series"`
	Traces        int     `json:"traces"`
	TracesVisible int     `json:"traces_visible"`
	Clients       int     `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	series := s.series
	clients := len(s.clients)
	s.mu.Unlock()

	writeJSON(w, statusResponse{
		Uptime:        time.Since(s.start).Seconds(),
		Series:        series,
		Traces:        s.window.Len(),
		TracesVisible: s.window.FilteredLen(),
		Clients:       clients,
	})
}

// handleTraces returns filtered trace rows. Query params: service
// (substring), errors_only (true/false), limit (most recent N).
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := traces.Filter{
		Service:    q.Get("service"),
		ErrorsOnly: q.Get("errors_only") == "true",
	}

	rows := s.window.FilteredRows()
	out := make([]wsTrace, 0, len(rows))
	for _, row := range rows {
		if !f.Match(row) {
			continue
		}
		out = append(out, traceSummary(row))
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n < len(out) {
			out = out[len(out)-n:]
		}
	}

	writeJSON(w, out)
}

func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// wsControl is the client-sent control message.
type wsControl struct {
	Paused bool `json:"paused"`
}

// handleWebSocket upgrades the connection and streams frames until the
// client goes away or the server shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	frames, unsubscribe := s.subscribe()
	defer unsubscribe()

	// Read control messages from the client in a goroutine.
	controlCh := make(chan wsControl, 4)
	go func() {
		defer close(controlCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var c wsControl
			if json.Unmarshal(data, &c) == nil {
				select {
				case controlCh <- c:
				default:
				}
			}
		}
	}()

	var paused bool
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case c, ok := <-controlCh:
			if !ok {
				return
			}
			resume := paused && !c.Paused
			paused = c.Paused
			if resume {
				// Re-sync after a pause; extends were dropped.
				s.mu.Lock()
				last := s.lastFull
				s.mu.Unlock()
				if last != nil && !s.writeFrame(ctx, conn, *last) {
					return
				}
			}

		case frame, ok := <-frames:
			if !ok {
				// Dropped as a slow client.
				conn.Close(websocket.StatusTryAgainLater, "too slow")
				return
			}
			if paused {
				continue
			}
			if !s.writeFrame(ctx, conn, frame) {
				return
			}
		}
	}
}

// subscribe registers a frame channel, pre-seeded with the last full
// frame so a new client starts from current state.
func (s *Server) subscribe() (<-chan wsFrame, func()) {
	ch := make(chan wsFrame, clientBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.clients[id] = ch
	if s.lastFull != nil {
		ch <- *s.lastFull
	}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		if _, ok := s.clients[id]; ok {
			delete(s.clients, id)
		}
		s.mu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame wsFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("webui: failed to marshal frame: %v", err)
		return true
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data) == nil
}

func traceSummary(row traces.Row) wsTrace {
	return wsTrace{
		Time:       row.Start.Format("15:04:05.000"),
		TraceID:    row.TraceID,
		SpanID:     row.SpanID,
		Service:    row.ServiceName,
		Name:       row.Name,
		DurationMs: float64(row.Duration) / float64(time.Millisecond),
		Status:     row.StatusCode,
		Error:      row.Error,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}
