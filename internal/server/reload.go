package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader re-applies the server's config file whenever it changes on disk.
type Reloader struct {
	srv      *Server
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewReloader watches the directory holding the server's config file, so a
// file replaced by rename is seen as well as one written in place.
func NewReloader(srv *Server) (*Reloader, error) {
	if srv.cfg.ConfigPath == "" {
		return nil, errors.New("no config file to watch")
	}
	path := filepath.Clean(srv.cfg.ConfigPath)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(path), err)
	}
	return &Reloader{srv: srv, path: path, watcher: w, debounce: 500 * time.Millisecond}, nil
}

// Run applies changes until ctx is cancelled. Bursts of events inside the
// debounce interval produce one reload.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	timer := time.NewTimer(r.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == r.path && !ev.Has(fsnotify.Chmod) {
				timer.Reset(r.debounce)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.srv.logger.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			r.apply()
		}
	}
}

func (r *Reloader) apply() {
	before := r.srv.ConfigHash()
	if err := r.srv.ReloadConfig(); err != nil {
		// The previous settings stay in force.
		r.srv.logger.Error("hot-reload failed", zap.String("path", r.path), zap.Error(err))
		return
	}
	after := r.srv.ConfigHash()
	if after == before {
		r.srv.logger.Debug("hot-reload: config unchanged", zap.String("path", r.path))
		return
	}
	r.srv.logger.Info("hot-reload: config applied", zap.String("path", r.path), zap.String("hash", after))
}
