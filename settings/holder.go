package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/wricardo/tilemap-generator/logging"
)

const defaultDebounce = 300 * time.Millisecond

// Holder keeps the active Config and reloads it when the backing file
// changes. A failed reload keeps the previous configuration.
type Holder struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	current Config

	listenersMu sync.Mutex
	listeners   []func(Config)
}

// NewHolder wraps an already loaded configuration. path may be empty, in
// which case Reload re-reads only the environment.
func NewHolder(initial Config, path string) *Holder {
	return &Holder{
		path:     path,
		debounce: defaultDebounce,
		logger:   logging.WithComponent("settings"),
		current:  initial,
	}
}

// Get returns the active configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnReload registers fn to run after every successful reload.
func (h *Holder) OnReload(fn func(Config)) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload re-reads the configuration and notifies listeners.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "settings.reload_failed").
			Msg("keeping previous settings")
		return fmt.Errorf("reload settings: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	if prev.Log.Level != next.Log.Level {
		h.logger.Info().Str("from", prev.Log.Level).Str("to", next.Log.Level).Msg("log level changed")
	}
	if prev.Registry != next.Registry {
		h.logger.Info().Msg("registry policy changed")
	}
	if prev.Storage != next.Storage || prev.HTTP != next.HTTP {
		h.logger.Warn().
			Str("event", "settings.restart_required").
			Msg("http and storage changes take effect after restart")
	}

	h.listenersMu.Lock()
	listeners := append([]func(Config){}, h.listeners...)
	h.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}

	h.logger.Info().Str("event", "settings.reloaded").Msg("settings reloaded")
	return nil
}

// Watch reloads the configuration whenever the settings file is written and
// blocks until ctx is cancelled. The parent directory is watched so editors
// that replace the file by rename are noticed too.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		h.logger.Info().Str("event", "settings.watch_disabled").Msg("no settings file, watcher disabled")
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}
	target := filepath.Clean(h.path)

	h.logger.Info().
		Str("event", "settings.watch_started").
		Str("path", h.path).
		Msg("watching settings file")

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		stopped = func() {
			if timer != nil {
				timer.Stop()
			}
		}
	)
	defer stopped()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			stopped()
			timer = time.NewTimer(h.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			_ = h.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().Err(err).Str("event", "settings.watch_error").Msg("settings watcher error")
		}
	}
}
