// Package watch provides debounced filesystem watching used as an
// optional input to conflict detection: a workspace write observed here
// is translated into a conflict registration. The conflict resolver's
// periodic scan does not read the filesystem; it re-examines only
// modifications already registered.
package watch

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/paracycle/internal/log"
)

// Change describes a single debounced filesystem write.
type Change struct {
	Path string
	Op   fsnotify.Op
}

// Watcher monitors a workspace root directory and emits debounced
// change notifications. Only the root's direct entries are watched;
// subdirectories are not added.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	changes   chan Change
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Root        string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(root string) Config {
	return Config{
		Root:        root,
		DebounceDur: 150 * time.Millisecond,
	}
}

// New creates a new workspace watcher rooted at cfg.Root.
func New(cfg Config) (*Watcher, error) {
	log.Debug(log.CatWatch, "creating watcher", "root", cfg.Root, "debounce", cfg.DebounceDur)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.ErrorErr(log.CatWatch, "failed to create fsnotify watcher", err)
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		root:      cfg.Root,
		debounce:  cfg.DebounceDur,
		changes:   make(chan Change, 64),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the workspace root. Returns a channel that
// receives a Change each time a relevant write settles after the
// debounce window.
func (w *Watcher) Start() (<-chan Change, error) {
	if err := w.fsWatcher.Add(w.root); err != nil {
		log.ErrorErr(log.CatWatch, "failed to watch directory", err, "root", w.root)
		return nil, fmt.Errorf("watching directory %s: %w", w.root, err)
	}

	log.Info(log.CatWatch, "started watching", "root", w.root)
	go w.loop()

	return w.changes, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	log.Debug(log.CatWatch, "stopping watcher")
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events, debouncing per-path before
// forwarding a Change.
func (w *Watcher) loop() {
	timers := make(map[string]*time.Timer)
	fired := make(chan Change, 64)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			path := event.Name
			op := event.Op
			if t, exists := timers[path]; exists {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case fired <- Change{Path: path, Op: op}:
				default:
				}
			})

		case change := <-fired:
			delete(timers, change.Path)
			select {
			case w.changes <- change:
			default:
				log.Warn(log.CatWatch, "change channel full, dropping event", "path", change.Path)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatch, "file watcher error", err)

		case <-w.done:
			for _, t := range timers {
				t.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether the event should trigger a
// notification: writes and creates, ignoring names that start with a
// dot. Directories are not filtered out.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	if len(base) > 0 && base[0] == '.' {
		return false
	}
	return true
}
