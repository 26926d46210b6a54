package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"lumos/internal/domain"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 200 * time.Millisecond

// RuleWatcher serves routes from a YAML rule file and swaps in a new Router
// whenever the file changes. A file that fails to parse leaves the previous
// table in place.
type RuleWatcher struct {
	path     string
	current  atomic.Pointer[Router]
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	onReload func(*Router)
}

type RuleWatcherConfig struct {
	Path     string
	Debounce time.Duration
	OnReload func(*Router) // optional, called after each successful reload
	Logger   *slog.Logger
}

// NewRuleWatcher loads the rule file once; the error is returned if that
// first load fails.
func NewRuleWatcher(cfg RuleWatcherConfig) (*RuleWatcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultReloadDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rs, err := LoadRules(cfg.Path)
	if err != nil {
		return nil, err
	}
	w := &RuleWatcher{
		path:     filepath.Clean(cfg.Path),
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		logger:   cfg.Logger,
	}
	w.current.Store(rs.Router())
	return w, nil
}

// Route implements domain.IntentRouter against the latest good table.
func (w *RuleWatcher) Route(text string) domain.Route {
	return w.current.Load().Route(text)
}

// Router returns the table currently in use.
func (w *RuleWatcher) Router() *Router {
	return w.current.Load()
}

// Reload re-reads the rule file now.
func (w *RuleWatcher) Reload() error {
	rs, err := LoadRules(w.path)
	if err != nil {
		return err
	}
	r := rs.Router()
	w.current.Store(r)
	w.logger.Info("intent rules reloaded", "path", w.path, "rules", len(rs.Rules))
	if w.onReload != nil {
		w.onReload(r)
	}
	return nil
}

// Watch blocks until ctx is cancelled, reloading on changes. The parent
// directory is watched so editors that replace the file by rename are seen.
func (w *RuleWatcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching intent rules", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rule watcher error", "err", err)
		}
	}
}

// schedule debounces bursts of write events into one reload.
func (w *RuleWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.Reload(); err != nil {
			w.logger.Warn("intent rules reload failed, keeping previous table", "path", w.path, "err", err)
		}
	})
}

func (w *RuleWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
