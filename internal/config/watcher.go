package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/pacer/internal/logging"
)

// DefaultReloadDebounce collapses the burst of events editors emit for a
// single save into one reload.
const DefaultReloadDebounce = 50 * time.Millisecond

// Reload is delivered on the watcher channel after the config file changes.
// Exactly one of Config and Err is set.
type Reload struct {
	Config *Config
	Err    error
}

// Watcher reloads a config file when it changes on disk.
//
// The watcher runs its own goroutine; it never touches the scheduler. Hosts
// receive from Reloads on their update thread and apply the result there.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	reloads  chan Reload

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWatcher creates a watcher for the config file at path. The parent
// directory is watched rather than the file so editors that replace the file
// on save are still observed.
func NewWatcher(path string, logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultReloadDebounce,
		watcher:  fw,
		logger:   logging.OrNop(logger).WithComponent("config"),
		reloads:  make(chan Reload, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Reloads returns the channel on which reload results are delivered. Only the
// most recent undelivered result is kept.
func (w *Watcher) Reloads() <-chan Reload {
	return w.reloads
}

// Path returns the watched config file path.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching for changes
func (w *Watcher) Start() {
	w.startOnce.Do(func() { go w.watchLoop() })
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	// A watcher that never started has no goroutine to wait for.
	w.startOnce.Do(func() { close(w.doneCh) })
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.doneCh
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	defer debounceTimer.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err.Error())
	} else {
		w.logger.Info("config reloaded", "path", w.path)
	}
	w.deliver(Reload{Config: cfg, Err: err})
}

// deliver replaces any result the host has not consumed yet.
func (w *Watcher) deliver(r Reload) {
	for {
		select {
		case w.reloads <- r:
			return
		default:
		}
		select {
		case <-w.reloads:
		default:
		}
	}
}
