package jsondb

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/maruel/jsondb/internal/atomicfile"
)

// Option configures a DB.
type Option func(*options)

type options struct {
	log       *slog.Logger
	observers []atomicfile.Observer
}

// WithLogger sets the logger used by the DB and its file.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithObserver registers an observer called after every successful write.
func WithObserver(obs atomicfile.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// DB is a handle on one data file.
//
// A DB is safe for concurrent use. It must be the only handle on its path
// within the process.
type DB struct {
	file *atomicfile.File
	log  *slog.Logger
}

// Open returns a DB persisted at path. The file is created on first write.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	fopts := []atomicfile.Option{atomicfile.WithLogger(o.log)}
	for _, obs := range o.observers {
		fopts = append(fopts, atomicfile.WithObserver(obs))
	}
	f, err := atomicfile.Open(path, fopts...)
	if err != nil {
		return nil, err
	}
	return &DB{file: f, log: o.log}, nil
}

// Close waits for pending writes and releases the DB.
func (db *DB) Close() error {
	return db.file.Close()
}

// Path returns the path of the data file.
func (db *DB) Path() string {
	return db.file.Path()
}

// Document returns a fresh snapshot of the whole document.
//
// A missing file yields an empty document.
func (db *DB) Document() (Document, error) {
	doc, _, err := db.load()
	return doc, err
}

// Collections returns the sorted names of the collections in the file.
func (db *DB) Collections() ([]string, error) {
	doc, _, err := db.load()
	if err != nil {
		return nil, err
	}
	return doc.Names(), nil
}

// load reads and decodes the file. exists is false when the file is missing.
func (db *DB) load() (Document, bool, error) {
	data, exists, err := db.file.Read()
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return Document{}, false, nil
	}
	doc, err := db.decode(data)
	if err != nil {
		return nil, true, err
	}
	return doc, true, nil
}

func (db *DB) decode(data []byte) (Document, error) {
	doc, err := Decode(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Path = db.file.Path()
		}
		return nil, err
	}
	return doc, nil
}

// errNoChange tells modify the document must not be written back.
var errNoChange = errors.New("no change")

// modify runs fn on the current document as a single queued read-modify-write.
//
// fn returns errNoChange to skip the write. A missing file is passed as an
// empty document with exists == false.
func (db *DB) modify(fn func(doc Document, exists bool) error) error {
	return db.file.Modify(func(data []byte, exists bool) ([]byte, error) {
		doc := Document{}
		if exists {
			var err error
			if doc, err = db.decode(data); err != nil {
				return nil, err
			}
		}
		if err := fn(doc, exists); err != nil {
			if errors.Is(err, errNoChange) {
				return nil, atomicfile.ErrSkipWrite
			}
			return nil, err
		}
		out, err := Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", db.file.Path(), err)
		}
		return out, nil
	})
}
