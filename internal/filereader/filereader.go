// Package filereader reads telemetry files incrementally. The producer
// writes multi-megabyte files while we read, so large reads proceed in
// chunks with cooperative yields instead of one blocking call.
package filereader

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/tobert/otlp-tail/internal/watcher"
)

const (
	// Files at or below this size are read in a single call.
	smallFileThreshold = 1 * 1024 * 1024

	// Yield to the scheduler after this many chunks so a big read cannot
	// starve the rest of the process.
	yieldEveryChunks = 10

	DefaultChunkSize = 5 * 1024 * 1024
	DefaultMaxSize   = 100 * 1024 * 1024
)

// Options controls chunking and the advisory size ceiling.
type Options struct {
	ChunkSize int64
	MaxSize   int64
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	return o
}

// FileReadError wraps an I/O failure reading a specific file.
type FileReadError struct {
	Name string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Name, e.Err)
}

func (e *FileReadError) Unwrap() error {
	return e.Err
}

// ReadAll reads the handle's full contents. Files larger than the
// small-file threshold are read in ChunkSize windows into a preallocated
// buffer, yielding periodically. A file over MaxSize logs a non-fatal
// warning and is read anyway; truncating OTLP data would corrupt it.
// On any error the partial bytes are discarded and a *FileReadError is
// returned.
func ReadAll(ctx context.Context, h watcher.Handle, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	name := h.Name()

	meta, err := h.Stat(ctx)
	if err != nil {
		return nil, &FileReadError{Name: name, Err: err}
	}
	size := meta.Size

	if size > opts.MaxSize {
		log.Printf("⚠️  filereader: %s is %s, over the %s limit; reading anyway",
			name, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(opts.MaxSize)))
	}

	r, err := h.Open(ctx)
	if err != nil {
		return nil, &FileReadError{Name: name, Err: err}
	}
	defer r.Close()

	// Unknown size or small file: one direct read.
	if size < 0 || size <= smallFileThreshold {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, &FileReadError{Name: name, Err: err}
		}
		return data, nil
	}

	buf := make([]byte, size)
	var offset int64
	chunks := 0

	for offset < size {
		if err := ctx.Err(); err != nil {
			return nil, &FileReadError{Name: name, Err: err}
		}

		end := offset + opts.ChunkSize
		if end > size {
			end = size
		}

		n, err := io.ReadFull(r, buf[offset:end])
		offset += int64(n)
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				// The file shrank under us, likely rotated mid-read.
				err = fmt.Errorf("file truncated at %d of %d bytes", offset, size)
			}
			return nil, &FileReadError{Name: name, Err: err}
		}

		chunks++
		if chunks%yieldEveryChunks == 0 {
			runtime.Gosched()
		}
	}

	return buf, nil
}
