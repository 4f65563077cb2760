// Package docstore persists a whole collection as one JSON document.
//
// Every mutation rewrites the full document: the new state is written to
// a temporary file next to the target, synced, and renamed over it. The
// rename is the only operation that changes the visible file, so a failed
// or interrupted write leaves the previous document intact.
//
// Reads are lenient. A missing document is an empty collection. A document
// that fails to parse is also treated as empty and reported as a
// *CorruptError warning instead of failing the caller.
//
// Updates are serialized by a mutex inside the process and by an advisory
// lock on <path>.lock across processes, so the API and the CLI can share
// a data directory. Reads take no file lock: the rename makes every
// committed document visible whole.
//
// Each write is O(n) in the size of the collection.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"expenses/internal/log"
)

const lockRetryDelay = 10 * time.Millisecond

// ErrNoChange may be returned by an Update function to skip the write.
var ErrNoChange = errors.New("docstore: no change")

// WarningHandler receives non-fatal read problems.
type WarningHandler func(ctx context.Context, warning *CorruptError)

// Document is one durable collection of T guarded by its own mutex and
// file lock.
type Document[T any] struct {
	path      string
	mu        sync.Mutex
	lock      *flock.Flock
	onCorrupt WarningHandler

	// Swappable for tests that simulate interrupted writes.
	createTemp func(dir, pattern string) (file, error)
	rename     func(oldpath, newpath string) error
	now        func() time.Time
}

// file is the subset of *os.File the write protocol needs.
type file interface {
	Name() string
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// Option configures a Document.
type Option func(*options)

type options struct {
	onCorrupt WarningHandler
}

// WithWarningHandler sets the handler called when the document is corrupt.
func WithWarningHandler(h WarningHandler) Option {
	return func(o *options) {
		o.onCorrupt = h
	}
}

// LogWarnings reports corrupt documents and failed quarantine copies to
// logger at warn level.
func LogWarnings(logger *log.Logger) Option {
	structured := log.NewStructuredLogger(logger)
	return WithWarningHandler(func(ctx context.Context, w *CorruptError) {
		if w.QuarantineErr != nil {
			structured.LogQuarantineFailed(ctx, w.Path, w.QuarantineErr)
			return
		}
		structured.LogCorruptDocument(ctx, w.Path, w.Err)
	})
}

// Open returns a Document stored at path, creating the parent directory.
func Open[T any](path string, opts ...Option) (*Document[T], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PersistenceError{Op: "mkdir", Path: path, Err: err}
	}

	return &Document[T]{
		path:      path,
		lock:      flock.New(path + ".lock"),
		onCorrupt: o.onCorrupt,
		createTemp: func(dir, pattern string) (file, error) {
			return os.CreateTemp(dir, pattern)
		},
		rename: os.Rename,
		now:    time.Now,
	}, nil
}

// Path returns the document location.
func (d *Document[T]) Path() string {
	return d.path
}

// Load returns the current collection.
func (d *Document[T]) Load(ctx context.Context) ([]T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	items, _, err := d.read(ctx)
	return items, err
}

// Update runs fn on the current collection and persists its result.
// fn may return ErrNoChange to skip the write; any other error aborts it
// and is returned unchanged. Update waits for other processes holding the
// document lock until ctx is done.
func (d *Document[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	locked, err := d.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &PersistenceError{Op: "lock", Path: d.path, Err: err}
	}
	if !locked {
		return ctx.Err()
	}
	defer d.lock.Unlock()

	items, corrupt, err := d.read(ctx)
	if err != nil {
		return err
	}

	next, err := fn(items)
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}

	if corrupt != nil {
		if err := d.quarantine(corrupt.raw); err != nil && d.onCorrupt != nil {
			d.onCorrupt(ctx, &CorruptError{Path: d.path, Err: corrupt.Err, QuarantineErr: err})
		}
	}

	return d.write(next)
}

// read loads the document. The caller holds d.mu.
func (d *Document[T]) read(ctx context.Context) ([]T, *CorruptError, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []T{}, nil, nil
	}
	if err != nil {
		return nil, nil, &PersistenceError{Op: "read", Path: d.path, Err: err}
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		warning := &CorruptError{Path: d.path, Err: err, raw: data}
		if d.onCorrupt != nil {
			d.onCorrupt(ctx, warning)
		}
		return []T{}, warning, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil, nil
}

// write replaces the document with items. The caller holds d.mu.
func (d *Document[T]) write(items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "marshal", Path: d.path, Err: err}
	}
	data = append(data, '\n')

	f, err := d.createTemp(filepath.Dir(d.path), filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "create temp", Path: d.path, Err: err}
	}
	temporaryPath := f.Name()

	// Write, sync, close, rename. Any failure removes the temporary file
	// and leaves the target untouched.
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(temporaryPath)
		return &PersistenceError{Op: "write temp", Path: d.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(temporaryPath)
		return &PersistenceError{Op: "sync temp", Path: d.path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(temporaryPath)
		return &PersistenceError{Op: "close temp", Path: d.path, Err: err}
	}

	if err := d.rename(temporaryPath, d.path); err != nil {
		os.Remove(temporaryPath)
		return &PersistenceError{Op: "rename", Path: d.path, Err: err}
	}

	// Make the rename itself durable across power loss.
	if dir, err := os.Open(filepath.Dir(d.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// quarantine keeps a copy of unparseable bytes before they are overwritten.
func (d *Document[T]) quarantine(raw []byte) error {
	name := d.path + ".corrupt-" + strconv.FormatInt(d.now().UnixNano(), 10)
	return os.WriteFile(name, raw, 0o644)
}
