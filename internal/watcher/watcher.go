package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"promptplay/internal/config"
	"promptplay/internal/logging"
)

// defaultDebounce coalesces the burst of events editors emit when saving.
const defaultDebounce = 200 * time.Millisecond

// Watcher monitors the config file and re-applies the dynamic settings when
// it changes. The parent directory is watched rather than the file itself,
// because most editors replace the file on save (rename/remove then create).
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	apply     func(*config.Config)
	debounce  time.Duration
	logger    *logging.Logger
}

// NewWatcher creates a config watcher. apply is called with the freshly
// loaded config after each change.
func NewWatcher(path string, apply func(*config.Config), logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithContext("error", err.Error()).Error("failed to create fsnotify watcher")
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		path:      abs,
		apply:     apply,
		debounce:  defaultDebounce,
		logger:    logger.Component("watcher"),
	}, nil
}

// Start begins watching the config file's directory and starts the event
// loop.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop(ctx)

	w.logger.WithContext("config_path", w.path).Debug("config watcher started")
	return nil
}

// eventLoop processes filesystem events, debouncing reloads.
func (w *Watcher) eventLoop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.fsWatcher.Close()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			// Remove/rename without a following create means the file is
			// gone for the moment; an editor replacing it will emit a
			// create right after, which restarts the debounce window.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.WithContext("error", err.Error()).Error("watcher error")
		}
	}
}

// reload re-parses the config file and hands it to the apply callback.
// Parse failures keep the previous settings.
func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.WithContext("error", err.Error()).Warn("ignoring invalid config change")
		return
	}

	w.logger.Info("config changed, applying dynamic settings")
	w.apply(cfg)
}
