package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/jsondb/internal/jsondb"
)

// cmdWatch prints a summary of the data file each time it changes, until ctx
// is canceled.
//
// The directory is watched instead of the file: every write renames a new
// file over the old one, which would drop a watch on the file itself.
func cmdWatch(ctx context.Context, db *jsondb.DB, _ []string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	dir, base := filepath.Split(db.Path())
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.InfoContext(ctx, "Watching", "path", db.Path())
	if err := printSummary(db, w); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base || !event.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			if err := printSummary(db, w); err != nil {
				slog.WarnContext(ctx, "Failed to read data file", "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching data file", "err", err)
		}
	}
}

// printSummary writes one line: "name=count" per collection.
func printSummary(db *jsondb.DB, w io.Writer) error {
	doc, err := db.Document()
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(doc))
	for _, name := range doc.Names() {
		parts = append(parts, fmt.Sprintf("%s=%d", name, len(doc[name])))
	}
	if len(parts) == 0 {
		_, err = fmt.Fprintln(w, "(empty)")
		return err
	}
	_, err = fmt.Fprintln(w, strings.Join(parts, " "))
	return err
}
