package watcher

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeKind classifies one detected file change.
type ChangeKind int

const (
	FileNew ChangeKind = iota
	FileModified
	FileRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case FileNew:
		return "new"
	case FileModified:
		return "modified"
	case FileRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one detected file change. Handle is nil for removals.
type Change struct {
	Kind   ChangeKind
	Meta   FileMeta
	Handle Handle
}

// Detector polls a Source and diffs file metadata against its cache.
// The cache is owned exclusively by the detector; subscribers receive
// value copies and never observe a half-updated pass.
type Detector struct {
	verbose bool

	mu      sync.Mutex
	source  Source
	cache   map[string]FileMeta
	subs    map[int]func([]Change)
	nextSub int
	gen     uint64 // bumped on Stop and SetSource to invalidate stale passes

	inFlight atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDetector creates a detector over the given source.
func NewDetector(source Source, verbose bool) *Detector {
	if source == nil {
		panic("watcher: source must not be nil")
	}

	return &Detector{
		verbose: verbose,
		source:  source,
		cache:   make(map[string]FileMeta),
		subs:    make(map[int]func([]Change)),
	}
}

// Subscribe registers a callback invoked with the changes of each pass
// that found any. The returned function unsubscribes.
func (d *Detector) Subscribe(fn func([]Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// Start begins the polling loop. It returns immediately; passes run on a
// background goroutine until Stop is called or ctx is cancelled.
func (d *Detector) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.pollLoop(ctx, interval)
}

// Stop cancels the polling loop and invalidates any in-flight pass so its
// results are discarded on arrival. Safe to call multiple times.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.gen++
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// SetSource swaps the file source and hard-resets the metadata cache.
// The next pass reports every file in the new source as new.
func (d *Detector) SetSource(source Source) {
	if source == nil {
		panic("watcher: source must not be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.source = source
	d.cache = make(map[string]FileMeta)
}

func (d *Detector) pollLoop(ctx context.Context, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.inFlight.Load() {
				// A slow source is still mid-pass; skipping is safer than
				// queueing because passes must not overlap.
				log.Printf("⚠️  watcher: previous detection pass still running, skipping tick")
				continue
			}
			if _, err := d.Check(ctx); err != nil {
				// Transient failures must not stop the loop.
				log.Printf("⚠️  watcher: detection pass failed: %v", err)
			}
		}
	}
}

// Check performs one detection pass: list the source, classify every file
// against the cache, purge absent entries, then notify subscribers.
// Classification for all files completes before any callback fires.
func (d *Detector) Check(ctx context.Context) ([]Change, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		log.Printf("⚠️  watcher: detection pass already in progress, skipping")
		return nil, nil
	}
	defer d.inFlight.Store(false)

	d.mu.Lock()
	source := d.source
	startGen := d.gen
	d.mu.Unlock()

	handles, err := source.List(ctx)
	if err != nil {
		return nil, err
	}

	var changes []Change
	seen := make(map[string]struct{}, len(handles))
	next := make(map[string]FileMeta, len(handles))

	d.mu.Lock()
	for _, h := range handles {
		name := h.Name()
		seen[name] = struct{}{}

		meta, err := h.Stat(ctx)
		if err != nil {
			// One unreadable file must not abort the pass; keep the old
			// record so the next successful stat classifies correctly.
			if prev, ok := d.cache[name]; ok {
				next[name] = prev
			}
			if d.verbose {
				log.Printf("⚠️  watcher: stat %s: %v", name, err)
			}
			continue
		}

		prev, known := d.cache[name]
		switch {
		case !known:
			next[name] = meta
			changes = append(changes, Change{Kind: FileNew, Meta: meta, Handle: h})
		case metaUnavailable(meta):
			// No size and no mtime: conservatively unchanged.
			next[name] = prev
		case prev.Size != meta.Size || !prev.ModTime.Equal(meta.ModTime):
			next[name] = meta
			changes = append(changes, Change{Kind: FileModified, Meta: meta, Handle: h})
		default:
			next[name] = prev
		}
	}

	for name, prev := range d.cache {
		if _, ok := seen[name]; !ok {
			changes = append(changes, Change{Kind: FileRemoved, Meta: prev})
		}
	}

	// Still-current check: a Stop or source swap during the pass means
	// these results describe a source nobody is watching anymore.
	if d.gen != startGen {
		d.mu.Unlock()
		if d.verbose {
			log.Printf("⚠️  watcher: discarding stale detection pass")
		}
		return nil, nil
	}

	d.cache = next
	subs := make([]func([]Change), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	if len(changes) > 0 {
		for _, fn := range subs {
			fn(changes)
		}
	}

	return changes, nil
}

// KnownFiles returns a copy of the current metadata cache.
func (d *Detector) KnownFiles() map[string]FileMeta {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]FileMeta, len(d.cache))
	for k, v := range d.cache {
		out[k] = v
	}
	return out
}

func metaUnavailable(m FileMeta) bool {
	return m.Size < 0 && m.ModTime.IsZero()
}
