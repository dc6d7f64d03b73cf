// Package intake turns raw watcher notifications into normalized, attributed
// FileEvents: canonical paths, exclusion filtering, burst debouncing, rename
// pairing, and entropy enrichment.
package intake

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/NickEvans4130/Ransomware-Detection-System/util"
)

// RawOp is the watcher-level operation before normalization.
type RawOp int

const (
	RawCreate RawOp = iota
	RawWrite
	RawRemove
	RawRenameFrom // source half of a rename; pairing happens in intake
)

// RawEvent is one notification from the watcher adapter.
type RawEvent struct {
	Op   RawOp
	Path string
	Time time.Time
}

// Watcher is the OS file-watcher adapter contract. Implementations deliver
// raw events until Stop; the channel closes afterwards.
type Watcher interface {
	Start(ctx context.Context) error
	Events() <-chan RawEvent
	Stop()
}

// FSWatcher is the fsnotify-backed Watcher. It subscribes the configured
// roots, optionally recursing, and auto-subscribes directories created under
// them while running.
type FSWatcher struct {
	roots     []string
	recursive bool
	logger    *slog.Logger

	fs     *fsnotify.Watcher
	events chan RawEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewFSWatcher creates a watcher for the given roots.
func NewFSWatcher(roots []string, recursive bool, logger *slog.Logger) *FSWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSWatcher{
		roots:     roots,
		recursive: recursive,
		logger:    logger,
		events:    make(chan RawEvent, 1024),
		done:      make(chan struct{}),
	}
}

// Start subscribes the roots and begins delivering events.
func (w *FSWatcher) Start(ctx context.Context) error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fs = fs
	for _, root := range w.roots {
		if err := w.subscribe(util.CanonicalPath(root)); err != nil {
			w.logger.Warn("watch subscribe failed", "root", root, "error", err)
		}
	}
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// subscribe adds dir and, when recursive, its subtree.
func (w *FSWatcher) subscribe(dir string) error {
	if err := w.fs.Add(dir); err != nil {
		return err
	}
	if !w.recursive {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, keep walking siblings
		}
		if d.IsDir() && path != dir {
			if err := w.fs.Add(path); err != nil {
				w.logger.Debug("subtree subscribe failed", "dir", path, "error", err)
			}
		}
		return nil
	})
}

// Events returns the raw event channel.
func (w *FSWatcher) Events() <-chan RawEvent { return w.events }

// Stop halts delivery and closes the event channel.
func (w *FSWatcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.fs != nil {
			w.fs.Close()
		}
		close(w.events)
	})
}

func (w *FSWatcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	now := time.Now().UTC()
	switch {
	case ev.Has(fsnotify.Create):
		if w.recursive {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if err := w.subscribe(ev.Name); err != nil {
					w.logger.Debug("new dir subscribe failed", "dir", ev.Name, "error", err)
				}
				return
			}
		}
		w.deliver(RawEvent{Op: RawCreate, Path: ev.Name, Time: now})
	case ev.Has(fsnotify.Write):
		w.deliver(RawEvent{Op: RawWrite, Path: ev.Name, Time: now})
	case ev.Has(fsnotify.Remove):
		w.deliver(RawEvent{Op: RawRemove, Path: ev.Name, Time: now})
	case ev.Has(fsnotify.Rename):
		w.deliver(RawEvent{Op: RawRenameFrom, Path: ev.Name, Time: now})
	}
}

func (w *FSWatcher) deliver(ev RawEvent) {
	select {
	case w.events <- ev:
	default:
		// Raw channel full; intake is stalled. Dropping here is safe: the
		// debouncer would have collapsed most of the burst anyway.
	}
}
