package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tobert/otlp-tail/internal/decode"
	"github.com/tobert/otlp-tail/internal/filereader"
	"github.com/tobert/otlp-tail/internal/metrics"
	"github.com/tobert/otlp-tail/internal/otlpreceiver"
	"github.com/tobert/otlp-tail/internal/pipeline"
	"github.com/tobert/otlp-tail/internal/render"
	"github.com/tobert/otlp-tail/internal/series"
	"github.com/tobert/otlp-tail/internal/settings"
	"github.com/tobert/otlp-tail/internal/traces"
	"github.com/tobert/otlp-tail/internal/watcher"
	"github.com/tobert/otlp-tail/internal/webui"
)

// ViewCommand returns the CLI command definition for the 'view'
// subcommand, the main entry point: tail telemetry files in a
// directory and render live charts and traces.
func ViewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "Tail OTLP telemetry files and render live charts",
		Description: `Watches a directory of OTLP JSONL export files (traces*.jsonl,
metrics*.jsonl), decodes appended data incrementally, and renders
metric charts and a trace list. Add --web-port to also serve the
browser dashboard.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Directory containing exported telemetry files",
			},
			&cli.StringFlag{
				Name:  "otel-config",
				Usage: "Derive the directory from an otel-collector config's file exporters",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Explicit config file (overrides global and project configs)",
			},
			&cli.IntFlag{
				Name:  "interval",
				Usage: "Polling interval in milliseconds",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "File read chunk size in bytes",
			},
			&cli.IntFlag{
				Name:  "max-file-size",
				Usage: "File size in bytes above which a warning is logged",
			},
			&cli.IntFlag{
				Name:  "max-points",
				Usage: "Data points retained per metric series",
			},
			&cli.IntFlag{
				Name:  "max-traces",
				Usage: "Trace rows retained",
			},
			&cli.StringFlag{
				Name:  "time-range",
				Usage: "Rolling time range preset: 5m, 15m, 1h, 6h, 24h",
			},
			&cli.BoolFlag{
				Name:  "notify",
				Usage: "Maintain the file listing from filesystem events instead of rescanning",
			},
			&cli.StringFlag{
				Name:  "web-host",
				Usage: "Web UI bind address",
			},
			&cli.IntFlag{
				Name:  "web-port",
				Usage: "Web UI port (0 disables the web UI)",
			},
			&cli.BoolFlag{
				Name:  "otlp",
				Usage: "Also accept telemetry on an OTLP gRPC endpoint",
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP gRPC bind address",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP gRPC port (0 for ephemeral)",
			},
			&cli.StringFlag{
				Name:  "settings",
				Usage: "Path to the settings database",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: runView,
	}
}

// flagOverlay builds a Config from the flags the user actually set, so
// merging never clobbers file-config values with flag defaults.
func flagOverlay(cmd *cli.Command) *Config {
	overlay := &Config{
		Dir:               cmd.String("dir"),
		OtelConfig:        cmd.String("otel-config"),
		PollingIntervalMs: cmd.Int("interval"),
		ChunkSizeBytes:    int64(cmd.Int("chunk-size")),
		MaxFileSizeBytes:  int64(cmd.Int("max-file-size")),
		MaxDataPoints:     cmd.Int("max-points"),
		MaxTraces:         cmd.Int("max-traces"),
		TimeRange:         cmd.String("time-range"),
		WebHost:           cmd.String("web-host"),
		WebPort:           cmd.Int("web-port"),
		OTLPHost:          cmd.String("otlp-host"),
		OTLPPort:          cmd.Int("otlp-port"),
		SettingsPath:      cmd.String("settings"),
	}
	if cmd.Bool("notify") {
		overlay.UseNotify = true
	}
	if cmd.Bool("otlp") {
		overlay.OTLPEnabled = true
	}
	if cmd.Bool("verbose") {
		overlay.Verbose = true
	}
	return overlay
}

func runView(cliCtx context.Context, cmd *cli.Command) error {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	cfg = MergeConfigs(cfg, flagOverlay(cmd))

	// Persisted preferences fill gaps the user left open.
	prefs := openSettings(cfg)
	if prefs != nil {
		defer prefs.Close()
		applySavedPrefs(cfg, prefs, cmd)
	}

	dir, err := resolveDir(cfg, prefs)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Directory: %s\n", dir)
		log.Printf("  Poll interval: %dms\n", cfg.PollingIntervalMs)
		log.Printf("  Retention: %d points/series, %d traces\n", cfg.MaxDataPoints, cfg.MaxTraces)
		log.Printf("  Time range: %s\n", cfg.TimeRange)
	}

	source, err := newSource(dir, cfg)
	if err != nil {
		return err
	}

	detector := watcher.NewDetector(source, cfg.Verbose)
	pipe := pipeline.New(detector, filereader.Options{
		ChunkSize: cfg.ChunkSizeBytes,
		MaxSize:   cfg.MaxFileSizeBytes,
	}, cfg.Verbose)

	store := metrics.NewStore(cfg.MaxDataPoints)
	store.SetTimeRange(metrics.TimeRange{Preset: metrics.ParsePreset(cfg.TimeRange)})
	window := traces.NewWindow(cfg.MaxTraces, 5)

	view := &liveView{
		store:     store,
		window:    window,
		renderers: []render.Renderer{render.NewTerm(os.Stdout, 100, 14)},
	}

	ctx, cancel := context.WithCancel(cliCtx)
	defer cancel()

	// Web UI is both a renderer and an HTTP server.
	if cfg.WebPort > 0 {
		web := webui.New(window)
		view.renderers = append(view.renderers, web)

		addr := fmt.Sprintf("%s:%d", cfg.WebHost, cfg.WebPort)
		go func() {
			if err := web.ListenAndServe(ctx, addr); err != nil {
				log.Printf("❌ web UI server error: %v", err)
			}
		}()
		log.Printf("🌐 Web UI on http://%s/ui/\n", addr)
	}

	// Optional push ingest alongside the file tail.
	if cfg.OTLPEnabled {
		otlpServer, err := otlpreceiver.NewServer(
			otlpreceiver.Config{Host: cfg.OTLPHost, Port: cfg.OTLPPort},
			view,
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP server: %w", err)
		}
		go func() {
			if err := otlpServer.Start(ctx); err != nil {
				log.Printf("❌ OTLP server error: %v", err)
			}
		}()
		defer otlpServer.StopWait()
		log.Printf("🌐 OTLP gRPC listening on %s\n", otlpServer.Endpoint())
	}

	events, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	pipe.Start(ctx)
	defer pipe.Stop()
	detector.Start(ctx, time.Duration(cfg.PollingIntervalMs)*time.Millisecond)
	defer detector.Stop()

	log.Printf("👀 Watching %s every %dms\n", dir, cfg.PollingIntervalMs)

	// Remember choices for the next session.
	if prefs != nil {
		prefs.Put(settings.KeyLastDirectory, dir)
		prefs.Put(settings.KeyTimeRangePreset, cfg.TimeRange)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-sigChan:
			if cfg.Verbose {
				log.Printf("📡 Received signal %v, shutting down...\n", sig)
			}
			cancel()
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			view.handleEvent(ev)
		}
	}
}

// liveView owns the shared apply path. File pipeline events and gRPC
// exports both land here; the mutex keeps plan generation and rendering
// atomic per batch.
type liveView struct {
	mu        sync.Mutex
	store     *metrics.Store
	window    *traces.Window
	renderers []render.Renderer
}

func (v *liveView) handleEvent(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventTraces:
		v.ConsumeTraces(ev.Rows)
	case pipeline.EventMetrics:
		v.applyMetric(ev.MetricName, ev.Samples)
	case pipeline.EventSourceError:
		log.Printf("❌ telemetry source error: %v", ev.Err)
	}
}

// ConsumeTraces implements otlpreceiver.Sink.
func (v *liveView) ConsumeTraces(rows []traces.Row) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.window.Append(rows)
	visible := v.window.VisibleRows()

	// The waterfall detail follows the selection.
	var detail []traces.Row
	if selected, ok := v.window.SelectedTrace(); ok {
		for _, row := range v.window.FilteredRows() {
			if row.TraceID == selected.TraceID {
				detail = append(detail, row)
			}
		}
	}

	for _, r := range v.renderers {
		if term, ok := r.(*render.Term); ok {
			term.SetDetail(detail)
		}
		if err := r.RenderTraces(visible); err != nil {
			log.Printf("⚠️ render error: %v", err)
		}
	}
}

// ConsumeMetrics implements otlpreceiver.Sink.
func (v *liveView) ConsumeMetrics(batches []decode.MetricBatch) {
	for _, batch := range batches {
		v.applyMetric(batch.MetricName, batch.Samples)
	}
}

func (v *liveView) applyMetric(name string, samples []series.Sample) {
	v.mu.Lock()
	defer v.mu.Unlock()

	plan := v.store.UpdateMetric(name, samples)
	rows := v.window.VisibleRows()
	for _, r := range v.renderers {
		if err := render.Apply(r, plan, rows); err != nil {
			log.Printf("⚠️ render error: %v", err)
		}
	}
}

// openSettings opens the preferences database, logging rather than
// failing when it is unavailable.
func openSettings(cfg *Config) *settings.Store {
	path := cfg.SettingsPath
	if path == "" {
		path = DefaultSettingsPath()
	}
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("⚠️ cannot create settings directory: %v", err)
		return nil
	}
	store, err := settings.Open(path)
	if err != nil {
		log.Printf("⚠️ settings unavailable: %v", err)
		return nil
	}
	return store
}

// applySavedPrefs layers persisted preferences under flags: a value the
// user set on the command line this run always wins.
func applySavedPrefs(cfg *Config, prefs *settings.Store, cmd *cli.Command) {
	if !cmd.IsSet("time-range") {
		if v, ok, _ := prefs.Get(settings.KeyTimeRangePreset); ok {
			cfg.TimeRange = v
		}
	}
	if !cmd.IsSet("max-points") {
		if v, ok, _ := prefs.Get(settings.KeyMaxDataPoints); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.MaxDataPoints = n
			}
		}
	}
	if !cmd.IsSet("max-traces") {
		if v, ok, _ := prefs.Get(settings.KeyMaxTraces); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.MaxTraces = n
			}
		}
	}
	if !cmd.IsSet("interval") {
		if v, ok, _ := prefs.Get(settings.KeyPollingIntervalMs); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.PollingIntervalMs = n
			}
		}
	}
	if !cmd.IsSet("chunk-size") {
		if v, ok, _ := prefs.Get(settings.KeyChunkSizeBytes); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				cfg.ChunkSizeBytes = n
			}
		}
	}
	if !cmd.IsSet("max-file-size") {
		if v, ok, _ := prefs.Get(settings.KeyMaxFileSizeBytes); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				cfg.MaxFileSizeBytes = n
			}
		}
	}
}

// resolveDir picks the telemetry directory: explicit --dir, then the
// otel-collector config's file exporters, then the remembered one.
func resolveDir(cfg *Config, prefs *settings.Store) (string, error) {
	if cfg.Dir != "" {
		return cfg.Dir, nil
	}

	if cfg.OtelConfig != "" {
		dirs, err := ParseOtelConfig(cfg.OtelConfig)
		if err != nil {
			return "", err
		}
		if len(dirs) == 0 {
			return "", fmt.Errorf("no file exporters found in %s", cfg.OtelConfig)
		}
		if len(dirs) > 1 {
			log.Printf("⚠️ multiple exporter directories found, using %s (also: %v)", dirs[0], dirs[1:])
		}
		return dirs[0], nil
	}

	if prefs != nil {
		if dir, ok, _ := prefs.Get(settings.KeyLastDirectory); ok && dir != "" {
			log.Printf("📁 Using remembered directory %s\n", dir)
			return dir, nil
		}
	}

	return "", fmt.Errorf("no telemetry directory: pass --dir or --otel-config")
}

func newSource(dir string, cfg *Config) (watcher.Source, error) {
	if cfg.UseNotify {
		return watcher.NewNotifySource(dir, cfg.Verbose)
	}
	return watcher.NewDirSource(dir)
}
