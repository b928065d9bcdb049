// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sowndev0106/domain-router/pkg/routes"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads a store when its routes file changes on disk and hands
// the fresh routes to a callback. Bursts of events are collapsed into one
// reload.
type Watcher struct {
	store    *Store
	debounce time.Duration
	logger   *slog.Logger
	onChange func([]routes.Route)
}

// NewWatcher creates a watcher for s. debounce <= 0 uses 200ms.
func NewWatcher(s *Store, debounce time.Duration, logger *slog.Logger, onChange func([]routes.Route)) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:    s,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
	}
}

// Watch blocks until ctx is cancelled. The directory of the routes file is
// watched so atomic replacements are observed.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.store.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("watching routes file",
		slog.String("path", w.store.Path()),
		slog.Int64("debounce_ms", w.debounce.Milliseconds()))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	name := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("routes watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != name || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("routes file event", slog.String("op", event.Op.String()))

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.reload()
			})
			mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("routes watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.Reload(); err != nil {
		w.logger.Error("failed to reload routes, keeping previous set", slog.String("error", err.Error()))
		return
	}
	rs := w.store.List()
	w.logger.Info("routes reloaded", slog.Int("routes", len(rs)))
	if w.onChange != nil {
		w.onChange(rs)
	}
}
