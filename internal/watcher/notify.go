package watcher

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// NotifySource is a DirSource variant that keeps the file listing current
// from fsnotify events instead of re-reading the directory every pass.
// Only the listing is event-driven: classification still happens inside
// detection passes, so the detector behaves identically over either
// source. Useful when the watched directory holds many rotated archives
// and ReadDir itself becomes the expensive part of a pass.
type NotifySource struct {
	dir     string
	watcher *fsnotify.Watcher
	verbose bool

	mu    sync.Mutex
	names map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifySource creates a notify-backed source for a directory and
// performs the initial scan.
func NewNotifySource(dir string, verbose bool) (*NotifySource, error) {
	if _, err := NewDirSource(dir); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	ns := &NotifySource{
		dir:     dir,
		watcher: watcher,
		verbose: verbose,
		names:   make(map[string]struct{}),
	}

	// Initial scan; files created before the watch was added would
	// otherwise never appear in the listing.
	entries, err := os.ReadDir(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && isTelemetryFile(entry.Name()) {
			ns.names[entry.Name()] = struct{}{}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ns.cancel = cancel
	ns.wg.Add(1)
	go ns.eventLoop(ctx)

	return ns, nil
}

// Close stops the event loop and releases the watcher.
func (ns *NotifySource) Close() {
	ns.cancel()
	ns.watcher.Close()
	ns.wg.Wait()
}

// List returns handles for the maintained listing. Each handle stats its
// file lazily so detection passes see current sizes.
func (ns *NotifySource) List(ctx context.Context) ([]Handle, error) {
	ns.mu.Lock()
	names := make([]string, 0, len(ns.names))
	for name := range ns.names {
		names = append(names, name)
	}
	ns.mu.Unlock()

	sort.Strings(names)

	handles := make([]Handle, 0, len(names))
	for _, name := range names {
		handles = append(handles, &statHandle{path: filepath.Join(ns.dir, name), name: name})
	}
	return handles, nil
}

func (ns *NotifySource) eventLoop(ctx context.Context) {
	defer ns.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-ns.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !isTelemetryFile(name) {
				continue
			}

			switch {
			case event.Op&fsnotify.Create != 0:
				ns.mu.Lock()
				ns.names[name] = struct{}{}
				ns.mu.Unlock()
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				ns.mu.Lock()
				delete(ns.names, name)
				ns.mu.Unlock()
			}
			// Write events are ignored: the next pass stats the file anyway.

		case err, ok := <-ns.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  watcher: notify error: %v", err)
		}
	}
}

// statHandle stats its file on demand, unlike dirHandle which reuses the
// FileInfo captured at listing time.
type statHandle struct {
	path string
	name string
}

func (h *statHandle) Name() string { return h.name }

func (h *statHandle) Stat(ctx context.Context) (FileMeta, error) {
	info, err := os.Stat(h.path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{Name: h.name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (h *statHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(h.path)
}
