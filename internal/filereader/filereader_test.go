package filereader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tobert/otlp-tail/internal/watcher"
)

func memHandle(t *testing.T, name string, data []byte) watcher.Handle {
	t.Helper()
	src := watcher.NewListSource()
	src.Put(&watcher.MemFile{Name: name, Data: data, ModTime: time.Unix(1, 0)})

	handles, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(handles) != 1 {
		t.Fatalf("expected one handle, got %d", len(handles))
	}
	return handles[0]
}

// TestReadAllSmall tests the single-read path for small files.
func TestReadAllSmall(t *testing.T) {
	data := []byte("small file contents")
	h := memHandle(t, "small.jsonl", data)

	got, err := ReadAll(context.Background(), h, Options{})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch: got %d bytes", len(got))
	}
}

// TestReadAllEmpty tests that an empty file yields an empty buffer.
func TestReadAllEmpty(t *testing.T) {
	h := memHandle(t, "empty.jsonl", nil)

	got, err := ReadAll(context.Background(), h, Options{})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", len(got))
	}
}

// TestReadAllChunked tests byte-for-byte fidelity reading 15MB in 5MB
// chunks through the preallocated-buffer path.
func TestReadAllChunked(t *testing.T) {
	const size = 15 * 1024 * 1024
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 31)
	}
	h := memHandle(t, "big.jsonl", data)

	got, err := ReadAll(context.Background(), h, Options{ChunkSize: 5 * 1024 * 1024})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != size {
		t.Fatalf("expected %d bytes, got %d", size, len(got))
	}
	if !bytes.Equal(got, data) {
		t.Fatal("chunked read lost byte fidelity")
	}
}

// TestReadAllOversizeProceeds tests that exceeding MaxSize is advisory,
// not a hard stop.
func TestReadAllOversizeProceeds(t *testing.T) {
	data := make([]byte, 2*1024*1024)
	h := memHandle(t, "over.jsonl", data)

	got, err := ReadAll(context.Background(), h, Options{ChunkSize: 512 * 1024, MaxSize: 1024})
	if err != nil {
		t.Fatalf("oversize read should proceed, got error: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("expected %d bytes, got %d", len(data), len(got))
	}
}

// TestReadAllErrorWrapped tests that mid-read failures surface as
// *FileReadError with the file name and cause, and no partial result.
func TestReadAllErrorWrapped(t *testing.T) {
	cause := errors.New("disk on fire")
	h := &failingHandle{name: "bad.jsonl", size: 4 * 1024 * 1024, failAfter: 1024, err: cause}

	got, err := ReadAll(context.Background(), h, Options{ChunkSize: 1024})
	if got != nil {
		t.Fatal("expected no partial result on error")
	}

	var fre *FileReadError
	if !errors.As(err, &fre) {
		t.Fatalf("expected *FileReadError, got %T: %v", err, err)
	}
	if fre.Name != "bad.jsonl" {
		t.Errorf("expected file name in error, got %q", fre.Name)
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to satisfy errors.Is")
	}
}

// TestReadAllCancelled tests that context cancellation aborts a chunked read.
func TestReadAllCancelled(t *testing.T) {
	data := make([]byte, 4*1024*1024)
	h := memHandle(t, "cancel.jsonl", data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadAll(ctx, h, Options{ChunkSize: 1024})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// failingHandle reports a size but fails partway through the read.
type failingHandle struct {
	name      string
	size      int64
	failAfter int64
	err       error
}

func (h *failingHandle) Name() string { return h.name }

func (h *failingHandle) Stat(ctx context.Context) (watcher.FileMeta, error) {
	return watcher.FileMeta{Name: h.name, Size: h.size, ModTime: time.Unix(1, 0)}, nil
}

func (h *failingHandle) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(&failingReader{remaining: h.failAfter, err: h.err}), nil
}

type failingReader struct {
	remaining int64
	err       error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, r.err
	}
	n := int64(len(p))
	if n > r.remaining {
		n = r.remaining
	}
	r.remaining -= n
	return int(n), nil
}
