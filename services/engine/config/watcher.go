// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes on disk and hands
// the parsed document to a callback. Edits through the HTTP context
// surface still apply immediately; the file is for defaults managed
// out-of-band (configuration management, container mounts).
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*File)
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onReload func(*File)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, watcher: w, onReload: onReload}, nil
}

// Start blocks until ctx is cancelled, invoking the reload callback on
// every write to the file. The parent directory is watched rather than
// the file itself: editors and mounts replace files atomically, which
// drops a direct file watch.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			raw, err := os.ReadFile(w.path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			if len(raw) == 0 {
				// Writers truncate before writing, so an empty read
				// means we caught the file mid-rewrite. The event for
				// the data write follows; reloading a zero document
				// here would wipe the operator's context.
				continue
			}
			f, err := parse(w.path, raw)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", w.path)
			w.onReload(f)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
