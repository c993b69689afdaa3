// Package watcher implements polling-based change detection over a file
// source. The producer appends to files continuously and offers no push
// channel, so the detector diffs (size, mtime) metadata on a fixed
// interval and classifies each file as new, modified, or removed.
package watcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileMeta is the cached identity record for one file. Identity is Name;
// (Size, ModTime) are compared by value to classify changes. A negative
// Size or zero ModTime means that field is unavailable from the source.
type FileMeta struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Handle is one file exposed by a Source. Stat must be cheap to call once
// per polling pass; sources that already hold metadata from listing
// should return it without another round trip.
type Handle interface {
	Name() string
	Stat(ctx context.Context) (FileMeta, error)
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Source enumerates the current set of files. The detector works against
// any implementation without behavioral difference.
type Source interface {
	List(ctx context.Context) ([]Handle, error)
}

// DirSource lists .jsonl files in a directory using os.ReadDir. Handles
// carry the FileInfo captured during listing, so a polling pass costs one
// directory read plus zero extra stat calls.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over an existing directory.
func NewDirSource(dir string) (*DirSource, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	return &DirSource{dir: dir}, nil
}

// Dir returns the directory being listed.
func (ds *DirSource) Dir() string {
	return ds.dir
}

// List returns handles for the telemetry files currently in the directory,
// sorted by name for stable pass ordering.
func (ds *DirSource) List(ctx context.Context) ([]Handle, error) {
	entries, err := os.ReadDir(ds.dir)
	if err != nil {
		return nil, err
	}

	var handles []Handle
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isTelemetryFile(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Raced with a delete; the next pass will classify it removed.
			continue
		}

		handles = append(handles, &dirHandle{
			path: filepath.Join(ds.dir, name),
			meta: FileMeta{Name: name, Size: info.Size(), ModTime: info.ModTime()},
		})
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i].Name() < handles[j].Name() })
	return handles, nil
}

func isTelemetryFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl") || strings.Contains(name, ".jsonl.")
}

type dirHandle struct {
	path string
	meta FileMeta
}

func (h *dirHandle) Name() string { return h.meta.Name }

func (h *dirHandle) Stat(ctx context.Context) (FileMeta, error) {
	return h.meta, nil
}

func (h *dirHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(h.path)
}

// ListSource is a flat in-memory file list, the fallback mode when no
// directory handle is available. It is also the test double of choice.
type ListSource struct {
	mu    sync.Mutex
	files map[string]*MemFile
}

// MemFile is one in-memory file.
type MemFile struct {
	Name    string
	Data    []byte
	ModTime time.Time

	// NoMeta makes Stat report size and mtime as unavailable, which the
	// detector must treat as unchanged for a known file.
	NoMeta bool
}

// NewListSource creates an empty in-memory source.
func NewListSource() *ListSource {
	return &ListSource{files: make(map[string]*MemFile)}
}

// Put adds or replaces a file.
func (ls *ListSource) Put(f *MemFile) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.files[f.Name] = f
}

// Remove deletes a file by name.
func (ls *ListSource) Remove(name string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.files, name)
}

// List returns handles for all files, sorted by name.
func (ls *ListSource) List(ctx context.Context) ([]Handle, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	handles := make([]Handle, 0, len(ls.files))
	for _, f := range ls.files {
		handles = append(handles, &memHandle{file: f})
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name() < handles[j].Name() })
	return handles, nil
}

type memHandle struct {
	file *MemFile
}

func (h *memHandle) Name() string { return h.file.Name }

func (h *memHandle) Stat(ctx context.Context) (FileMeta, error) {
	if h.file.NoMeta {
		return FileMeta{Name: h.file.Name, Size: -1}, nil
	}
	return FileMeta{
		Name:    h.file.Name,
		Size:    int64(len(h.file.Data)),
		ModTime: h.file.ModTime,
	}, nil
}

func (h *memHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(h.file.Data)), nil
}
