// Package pipeline wires change detection, chunked reads, and decoding
// together and publishes typed batch events to the views. Reads and
// decodes run on a worker goroutine; subscribers receive value copies
// over channels, so no component shares mutable state across the handoff.
package pipeline

import (
	"bytes"
	"context"
	"log"
	"sync"

	"github.com/tobert/otlp-tail/internal/decode"
	"github.com/tobert/otlp-tail/internal/filereader"
	"github.com/tobert/otlp-tail/internal/series"
	"github.com/tobert/otlp-tail/internal/traces"
	"github.com/tobert/otlp-tail/internal/watcher"
)

// EventKind discriminates pipeline events.
type EventKind int

const (
	// EventTraces carries a batch of decoded trace rows.
	EventTraces EventKind = iota
	// EventMetrics carries decoded samples for one metric.
	EventMetrics
	// EventSourceError signals that the source as a whole is inaccessible
	// and user action is needed; per-file failures are only logged.
	EventSourceError
)

// Event is one typed message on the delivery channel.
type Event struct {
	Kind       EventKind
	Rows       []traces.Row
	MetricName string
	Samples    []series.Sample
	Err        error
}

// subscriber channels are buffered; a consumer that falls this far
// behind starts losing batches rather than blocking the worker.
const subscriberBuffer = 64

// Pipeline consumes detector changes and publishes decoded batches.
type Pipeline struct {
	detector *watcher.Detector
	readOpts filereader.Options
	verbose  bool

	// Per-file count of bytes already decoded, so a grown file only
	// contributes its new suffix. Owned by the worker goroutine.
	offsets map[string]int

	mu      sync.Mutex
	subs    map[uint64]chan Event
	nextSub uint64

	work      chan []watcher.Change
	unsubFn   func()
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New creates a pipeline over a detector.
func New(detector *watcher.Detector, readOpts filereader.Options, verbose bool) *Pipeline {
	if detector == nil {
		panic("pipeline: detector must not be nil")
	}

	return &Pipeline{
		detector: detector,
		readOpts: readOpts,
		verbose:  verbose,
		offsets:  make(map[string]int),
		subs:     make(map[uint64]chan Event),
		work:     make(chan []watcher.Change, 16),
	}
}

// Subscribe returns a buffered event channel and an unsubscribe function.
// Events arriving while the buffer is full are dropped for that
// subscriber.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++

	ch := make(chan Event, subscriberBuffer)
	p.subs[id] = ch

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}

	return ch, unsubscribe
}

// Start subscribes to the detector and launches the worker goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.cancel = cancel

		p.unsubFn = p.detector.Subscribe(func(changes []watcher.Change) {
			select {
			case p.work <- changes:
			case <-ctx.Done():
			}
		})

		p.wg.Add(1)
		go p.workLoop(ctx)
	})
}

// Stop detaches from the detector and waits for the worker to finish.
func (p *Pipeline) Stop() {
	if p.unsubFn != nil {
		p.unsubFn()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pipeline) workLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case changes := <-p.work:
			for _, c := range changes {
				p.handleChange(ctx, c)
			}
		}
	}
}

func (p *Pipeline) handleChange(ctx context.Context, c watcher.Change) {
	switch c.Kind {
	case watcher.FileRemoved:
		delete(p.offsets, c.Meta.Name)
		return
	case watcher.FileNew, watcher.FileModified:
	default:
		return
	}

	signal := decode.SignalForFile(c.Meta.Name)
	if signal == decode.SignalUnknown {
		if p.verbose {
			log.Printf("📁 pipeline: ignoring %s (not a known signal)", c.Meta.Name)
		}
		return
	}

	data, err := filereader.ReadAll(ctx, c.Handle, p.readOpts)
	if err != nil {
		// One unreadable file is isolated; the next pass may succeed.
		log.Printf("⚠️  pipeline: %v", err)
		return
	}

	// Decode only the bytes appended since the last delivery. A smaller
	// file means rotation; start over from the top.
	offset := p.offsets[c.Meta.Name]
	if offset > len(data) {
		offset = 0
	}
	fresh := data[offset:]
	p.offsets[c.Meta.Name] = offset + len(fresh)

	// Trim a trailing partial line; it will be complete next pass.
	if n := bytes.LastIndexByte(fresh, '\n'); n >= 0 {
		p.offsets[c.Meta.Name] = offset + n + 1
		fresh = fresh[:n+1]
	} else if len(fresh) > 0 {
		p.offsets[c.Meta.Name] = offset
		return
	}

	if len(fresh) == 0 {
		return
	}

	switch signal {
	case decode.SignalTraces:
		rows, skipped := decode.Traces(fresh)
		if skipped > 0 {
			log.Printf("⚠️  pipeline: skipped %d malformed trace lines in %s", skipped, c.Meta.Name)
		}
		if len(rows) > 0 {
			p.publish(Event{Kind: EventTraces, Rows: rows})
			if p.verbose {
				log.Printf("📁 pipeline: %d trace rows from %s", len(rows), c.Meta.Name)
			}
		}

	case decode.SignalMetrics:
		batches, skipped := decode.Metrics(fresh)
		if skipped > 0 {
			log.Printf("⚠️  pipeline: skipped %d malformed metric entries in %s", skipped, c.Meta.Name)
		}
		for _, b := range batches {
			p.publish(Event{Kind: EventMetrics, MetricName: b.MetricName, Samples: b.Samples})
		}
	}
}

// ReportSourceError publishes a blocking error state, e.g. when the
// watch directory disappears entirely.
func (p *Pipeline) ReportSourceError(err error) {
	p.publish(Event{Kind: EventSourceError, Err: err})
}

func (p *Pipeline) publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than block the worker.
		}
	}
}
