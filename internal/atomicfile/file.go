// Package atomicfile persists the whole content of one file with atomic
// replacement and a single ordered write queue.
//
// # Atomicity
//
// Every write goes to a temporary file in the target's directory, is synced to
// disk, then renamed over the target. A reader sees either the complete old
// content or the complete new content.
//
// # Ordering
//
// A [File] owns one goroutine that executes queued jobs one at a time, in the
// order they were submitted. [File.Write], [File.WriteAsync] and [File.Modify]
// all go through this queue. Reads bypass it.
//
// The queue belongs to the [File] value. Two File values opened on the same
// path do not coordinate and the ordering guarantee no longer holds.
package atomicfile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

var (
	// ErrClosed is returned for jobs submitted after Close.
	ErrClosed = errors.New("atomicfile: file closed")
	// ErrSkipWrite can be returned by a Modify callback to leave the file as is.
	ErrSkipWrite = errors.New("atomicfile: skip write")
)

// Observer is notified after each successful write, on the writer goroutine.
//
// Calls happen in commit order. An error is logged and otherwise ignored: the
// write is already durable at that point.
type Observer interface {
	OnWrite(path string) error
}

// Option configures a File.
type Option func(*File)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *File) {
		f.log = l
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(f *File) {
		f.observers = append(f.observers, o)
	}
}

// WithPerm sets the permission bits of the written file. Defaults to 0o644.
func WithPerm(perm fs.FileMode) Option {
	return func(f *File) {
		f.perm = perm
	}
}

// ModifyFunc receives the current content and returns the new one.
//
// exists is false when the file is missing; data is then nil. Returning a nil
// slice or ErrSkipWrite leaves the file untouched.
type ModifyFunc func(data []byte, exists bool) ([]byte, error)

type job struct {
	// Exactly one of data or modify is set.
	data   []byte
	modify ModifyFunc
	result chan error
}

// File is the exclusive owner of writes to one path.
type File struct {
	path      string
	perm      fs.FileMode
	log       *slog.Logger
	observers []Observer
	syncDir   func(dir string) error

	mu      sync.Mutex
	pending []*job
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// Open returns a File for path and starts its writer.
//
// The parent directory is created if needed and temporary files left behind by
// an interrupted writer are removed. The target itself is not created until
// the first write.
func Open(path string, opts ...Option) (*File, error) {
	if path == "" {
		return nil, errors.New("atomicfile: empty path")
	}
	f := &File{
		path: filepath.Clean(path),
		perm: 0o644,
		log:     slog.Default(),
		syncDir: syncDir,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("failed to create directory for %s: %w", f.path, err)
	}
	if err := f.cleanupTemp(); err != nil {
		f.log.Warn("Failed to remove stale temp files", "path", f.path, "err", err)
	}
	go f.run()
	return f, nil
}

// Path returns the target path.
func (f *File) Path() string {
	return f.path
}

// Read returns the whole content of the file.
//
// A missing file is reported with exists == false and a nil error. Every other
// failure is returned as an error.
func (f *File) Read() (data []byte, exists bool, err error) {
	data, err = os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return data, true, nil
}

// Write replaces the content of the file and waits for it to be durable.
func (f *File) Write(data []byte) error {
	return <-f.WriteAsync(data)
}

// WriteAsync queues a replacement of the file content and returns immediately.
//
// The returned channel receives exactly one value once the write completed.
// Writes are applied in the order WriteAsync was called. data must not be
// modified until the result is received.
func (f *File) WriteAsync(data []byte) <-chan error {
	if data == nil {
		data = []byte{}
	}
	return f.submit(&job{data: data})
}

// Modify runs a read-modify-write cycle as one queued job.
//
// No other write to this File can happen between the read and the write.
func (f *File) Modify(fn ModifyFunc) error {
	return <-f.submit(&job{modify: fn})
}

// Close stops accepting new jobs, waits for queued ones to complete and stops
// the writer.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return nil
	}
	f.closed = true
	close(f.wake)
	f.mu.Unlock()
	<-f.done
	return nil
}

func (f *File) submit(j *job) <-chan error {
	j.result = make(chan error, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		j.result <- ErrClosed
		return j.result
	}
	f.pending = append(f.pending, j)
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return j.result
}

// run is the writer goroutine. It is the only code touching the target path
// for writing.
func (f *File) run() {
	defer close(f.done)
	for range f.wake {
		f.drain()
	}
	// Jobs queued right before Close.
	f.drain()
}

func (f *File) drain() {
	for {
		f.mu.Lock()
		if len(f.pending) == 0 {
			f.mu.Unlock()
			return
		}
		j := f.pending[0]
		f.pending[0] = nil
		f.pending = f.pending[1:]
		f.mu.Unlock()
		j.result <- f.execute(j)
	}
}

func (f *File) execute(j *job) error {
	data := j.data
	if j.modify != nil {
		cur, exists, err := f.Read()
		if err != nil {
			return err
		}
		data, err = j.modify(cur, exists)
		if errors.Is(err, ErrSkipWrite) || (err == nil && data == nil) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	if err := f.replace(data); err != nil {
		return err
	}
	f.log.Debug("Wrote file", "path", f.path, "size", len(data))
	for _, o := range f.observers {
		if err := o.OnWrite(f.path); err != nil {
			f.log.Warn("Write observer failed", "path", f.path, "err", err)
		}
	}
	return nil
}

// replace atomically replaces the target with data.
//
// Once the rename succeeded the new content is in place, so a failure to sync
// the directory afterward is only logged.
func (f *File) replace(data []byte) error {
	dir, base := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, tempPrefix(base)+"*"+tempSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write temp file: %w", err), tmp.Close(), os.Remove(tmpPath))
	}
	if err := tmp.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync temp file: %w", err), tmp.Close(), os.Remove(tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmpPath))
	}
	if err := os.Chmod(tmpPath, f.perm); err != nil {
		return errors.Join(fmt.Errorf("failed to chmod temp file: %w", err), os.Remove(tmpPath))
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename %s: %w", f.path, err), os.Remove(tmpPath))
	}
	if err := f.syncDir(dir); err != nil {
		f.log.Warn("Rename may not be durable", "path", f.path, "err", err)
	}
	return nil
}

// cleanupTemp removes temp files left next to the target by a crashed writer.
func (f *File) cleanupTemp() error {
	dir, base := filepath.Split(f.path)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}
	prefix := tempPrefix(base)
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, tempSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove temp file %s: %w", name, err))
			continue
		}
		f.log.Info("Removed stale temp file", "file", name)
	}
	return errors.Join(errs...)
}

const tempSuffix = ".tmp"

func tempPrefix(base string) string {
	return "." + base + "."
}

// syncDir flushes the directory entry so the rename survives a power loss.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir) //nolint:gosec // G304: directory of the configured data file
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	err = d.Sync()
	if err2 := d.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
