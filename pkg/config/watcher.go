package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits after the last event before reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a settings file into a Store whenever it changes.
// The parent directory is watched so editors that replace the file by
// rename are handled. A file that fails to parse is logged and the
// previous snapshot stays active.
type Watcher struct {
	path     string
	parser   *Parser
	store    *Store
	logger   zerolog.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	// onReload is called after every reload attempt. Used by tests.
	onReload func(error)
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, parser *Parser, store *Store, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		parser:   parser,
		store:    store,
		logger:   logger.With().Str("component", "settings-watcher").Str("path", path).Logger(),
		debounce: DefaultDebounce,
	}
}

// Reload parses the file and swaps it in on success.
func (w *Watcher) Reload() error {
	s, err := w.parser.LoadFile(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Settings reload failed, keeping previous settings")
		return err
	}
	w.store.Swap(s)
	w.logger.Info().
		Int("sites", len(s.Sites)).
		Int("subscriptions", len(s.Subscriptions)).
		Bool("hr_protection", s.Global.EnableHRProtection).
		Msg("Settings reloaded")
	return nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info().Dur("debounce", w.debounce).Msg("Settings watcher started")

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			w.logger.Info().Msg("Settings watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("Settings file event")
			w.schedule()

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error().Err(err).Msg("Settings watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		err := w.Reload()
		if w.onReload != nil {
			w.onReload(err)
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
