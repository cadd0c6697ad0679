package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/umbra/engine/core"
)

// Editors often write a file in several steps; changes closer together than this are merged.
const reloadDebounce = 100 * time.Millisecond

// FnOnReload receives every configuration that parsed and validated after a change on disk.
type FnOnReload func(cfg *Config)

/**
 * @brief Watches one configuration file. The parent directory is watched
 * so that editors replacing the file by rename are still seen. A change
 * that fails to parse is logged and the previous configuration stays.
 */
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	events   *core.EventSystem
	onReload FnOnReload

	mu      sync.Mutex
	current *Config
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewWatcher(path string, current *Config, events *core.EventSystem, onReload FnOnReload) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		fsnotify: fsWatch,
		events:   events,
		onReload: onReload,
		current:  current,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	core.LogDebug("Watching configuration '%s'.", abs)
	return w, nil
}

// Current is the last configuration that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) start() {
	defer w.wg.Done()
	var debounce <-chan time.Time
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)

		case <-debounce:
			debounce = nil
			w.reload()

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("configuration not reloaded: %s", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	core.LogInfo("Configuration '%s' reloaded.", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
	if w.events != nil {
		w.events.Fire(core.EVENT_CODE_CONFIG_RELOADED, w, core.EventContext{})
	}
}
