// Package watcher implements the File Watcher (C9): observes configured
// directories for create/modify/delete/rename events on files matching
// the configured globs, coalesces bursts with a debounce window, and
// emits one change notification per settled burst. Parsing what changed
// is the loader's job; the watcher only reports that something did.
package watcher

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is the coalesced notification emitted once a debounce window
// settles: every distinct path touched and every distinct fsnotify op
// kind observed during the window.
type Change struct {
	Paths []string
	Kinds []string
}

// Listener receives a Change once a debounce window settles.
type Listener func(Change)

// Watcher observes a set of directories for files matching globs,
// debouncing bursts of events into a single notification.
type Watcher struct {
	fsw      *fsnotify.Watcher
	globs    []string
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	listeners []Listener

	timerMu sync.Mutex
	timer   *time.Timer
	burst   map[string]struct{}
	kinds   map[string]struct{}

	stop chan struct{}
	done chan struct{}
}

// New creates a Watcher over dirs, filtering events to files matching
// globs (e.g. "*-database.yml"), coalescing with the given debounce
// window (defaulting to 300ms when <= 0).
func New(dirs []string, globs []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	w := &Watcher{
		fsw:      fsw,
		globs:    globs,
		debounce: debounce,
		logger:   logger,
		burst:    make(map[string]struct{}),
		kinds:    make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	return w, nil
}

// Subscribe registers l to be called once per settled debounce window.
func (w *Watcher) Subscribe(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Start runs the watch loop on its own goroutine, returning immediately.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.matches(event.Name) {
				w.record(event)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) matches(path string) bool {
	if len(w.globs) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, g := range w.globs {
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) record(event fsnotify.Event) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	w.burst[event.Name] = struct{}{}
	w.kinds[opKind(event.Op)] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.timerMu.Lock()
	paths := make([]string, 0, len(w.burst))
	for p := range w.burst {
		paths = append(paths, p)
	}
	kinds := make([]string, 0, len(w.kinds))
	for k := range w.kinds {
		kinds = append(kinds, k)
	}
	w.burst = make(map[string]struct{})
	w.kinds = make(map[string]struct{})
	w.timerMu.Unlock()

	change := Change{Paths: paths, Kinds: kinds}

	w.mu.Lock()
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}

func opKind(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return "create"
	case op&fsnotify.Write == fsnotify.Write:
		return "modify"
	case op&fsnotify.Remove == fsnotify.Remove:
		return "delete"
	case op&fsnotify.Rename == fsnotify.Rename:
		return "rename"
	default:
		return "other"
	}
}

// Close stops the watch loop and releases the underlying fsnotify
// watcher. Any pending debounce timer is stopped without firing.
func (w *Watcher) Close() error {
	close(w.stop)
	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
	err := w.fsw.Close()
	<-w.done
	return err
}
