package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the write bursts editors and deploy tools
// produce when rewriting a file.
const reloadDebounce = 500 * time.Millisecond

// Watcher serves an always-current snapshot of the config file, reloading
// it on change. Secrets stay env-driven; the watcher mainly picks up tuning
// changes (providers, persona budget, log level) without a restart.
type Watcher struct {
	path string
	log  *logrus.Logger

	mu  sync.RWMutex
	cfg Config

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher loads the initial snapshot and starts watching path.
func NewWatcher(path string, log *logrus.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path: path,
		log:  log,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot reload is a convenience; run with the startup snapshot.
		log.WithError(err).Warn("config watcher unavailable, hot reload disabled")
		return w, nil
	}
	if err := fsw.Add(path); err != nil {
		log.WithError(err).WithField("path", path).Warn("config file not watchable, hot reload disabled")
		fsw.Close()
		return w, nil
	}

	w.fsw = fsw
	go w.loop()
	return w, nil
}

// Current returns the latest config snapshot.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}
}

func (w *Watcher) loop() {
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(reloadDebounce)
			}
			// Some editors replace the file; re-add so future writes fire.
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = w.fsw.Add(w.path)
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watch error")

		case <-timer.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithError(err).Warn("config reload failed, keeping previous snapshot")
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
			w.log.Info("config reloaded")
		}
	}
}
