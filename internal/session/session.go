// Package session supplies the Cookie header used to authenticate against the
// remote note service.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source returns the current session cookie.
type Source interface {
	Cookie() string
}

// Static is a Source with a fixed cookie value.
type Static string

// Cookie implements Source.
func (s Static) Cookie() string { return string(s) }

// File is a Source backed by a cookie file on disk. Call Watch to pick up
// changes made while the process is running.
type File struct {
	path string

	mu     sync.RWMutex
	cookie string
}

// NewFile reads the cookie file once and returns a Source for it.
func NewFile(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("session: resolve path: %w", err)
	}
	f := &File{path: abs}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Cookie implements Source.
func (f *File) Cookie() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cookie
}

func (f *File) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("session: read cookie file: %w", err)
	}
	cookie := normalize(string(data))
	f.mu.Lock()
	f.cookie = cookie
	f.mu.Unlock()
	return nil
}

// normalize joins non-empty, non-comment lines with "; " so a file may hold
// either a single header value or one cookie per line.
func normalize(raw string) string {
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "Cookie:")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts = append(parts, strings.TrimSuffix(line, ";"))
	}
	return strings.Join(parts, "; ")
}

// Watch re-reads the cookie file whenever it changes, until ctx is cancelled.
// The parent directory is watched so editors that replace the file by rename
// are handled. Bursts of events are debounced.
func (f *File) Watch(ctx context.Context, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session: new watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("session: watch dir: %w", err)
	}
	logger.Info("session: watching cookie file", slog.String("path", f.path))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(100 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(100 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("session: watcher stopped")
			return nil

		case <-reloadCh:
			if err := f.reload(); err != nil {
				logger.Warn("session: reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("session: cookie reloaded", slog.String("path", f.path))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("session: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
