package intake

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/config"
	"github.com/NickEvans4130/Ransomware-Detection-System/entropy"
	"github.com/NickEvans4130/Ransomware-Detection-System/model"
	"github.com/NickEvans4130/Ransomware-Detection-System/proc"
	"github.com/NickEvans4130/Ransomware-Detection-System/store"
	"github.com/NickEvans4130/Ransomware-Detection-System/util"
)

// renameHorizon is how long a rename source waits for its destination before
// being flushed as a plain deletion.
const renameHorizon = 500 * time.Millisecond

// debounceWindow collapses Modified bursts for the same (PID, path).
const debounceWindow = 100 * time.Millisecond

// flushTick drives rename and debounce expiry.
const flushTick = 50 * time.Millisecond

// Attributor ascribes a path event to a responsible process. The concrete
// implementation is an external collaborator; intake only needs the
// contract. An event nobody claims runs as PID 0 / "unknown".
type Attributor interface {
	Attribute(path string, kind model.EventKind) (proc.Info, bool)
}

// NullAttributor claims nothing.
type NullAttributor struct{}

// Attribute always reports no attribution.
func (NullAttributor) Attribute(string, model.EventKind) (proc.Info, bool) {
	return proc.Info{}, false
}

// Intake normalizes raw watcher events and forwards them to the event store
// and the analyzer queue.
type Intake struct {
	cfg     config.MonitorConfig
	attr    Attributor
	entropy *entropy.Engine
	store   *store.EventStore
	logger  *slog.Logger

	pendingRenames map[string]RawEvent // source path → rename event
	debounced      map[debounceKey]model.FileEvent

	// out is the analyzer queue. Intake owns both ends of the overflow
	// policy: it sheds the oldest entry when a push would block.
	out     chan model.FileEvent
	dropped atomic.Uint64
	stored  atomic.Uint64
}

type debounceKey struct {
	pid  int32
	path string
}

// New creates an intake stage writing normalized events to out.
func New(cfg config.MonitorConfig, attr Attributor, ent *entropy.Engine, st *store.EventStore, out chan model.FileEvent, logger *slog.Logger) *Intake {
	if attr == nil {
		attr = NullAttributor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		cfg:            cfg,
		attr:           attr,
		entropy:        ent,
		store:          st,
		logger:         logger,
		pendingRenames: make(map[string]RawEvent),
		debounced:      make(map[debounceKey]model.FileEvent),
		out:            out,
	}
}

// Dropped returns how many normalized events were shed because the analyzer
// queue was full.
func (in *Intake) Dropped() uint64 { return in.dropped.Load() }

// Stored returns how many events reached the event store.
func (in *Intake) Stored() uint64 { return in.stored.Load() }

// Run consumes the watcher until its channel closes or ctx is cancelled.
func (in *Intake) Run(ctx context.Context, w Watcher) {
	ticker := time.NewTicker(flushTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			in.flushAll()
			return
		case now := <-ticker.C:
			in.flushExpired(now.UTC())
		case raw, ok := <-w.Events():
			if !ok {
				in.flushAll()
				return
			}
			in.handleRaw(raw)
		}
	}
}

// handleRaw applies rename pairing, then normalization.
func (in *Intake) handleRaw(raw RawEvent) {
	raw.Path = util.CanonicalPath(raw.Path)
	switch raw.Op {
	case RawRenameFrom:
		in.pendingRenames[raw.Path] = raw
	case RawCreate:
		if src, ok := in.matchRename(raw); ok {
			in.emitMoved(src, raw)
			return
		}
		in.emit(raw, model.KindCreated)
	case RawWrite:
		in.emit(raw, model.KindModified)
	case RawRemove:
		in.emit(raw, model.KindDeleted)
	}
}

// matchRename pairs a create against a pending rename source in the same
// directory within the horizon.
func (in *Intake) matchRename(create RawEvent) (RawEvent, bool) {
	for srcPath, src := range in.pendingRenames {
		if create.Time.Sub(src.Time) > renameHorizon {
			continue
		}
		if util.SameDir(srcPath, create.Path) {
			delete(in.pendingRenames, srcPath)
			return src, true
		}
	}
	return RawEvent{}, false
}

// emitMoved classifies a paired rename as Moved or ExtensionChanged.
func (in *Intake) emitMoved(src, dst RawEvent) {
	kind := model.KindMoved
	if util.SameDir(src.Path, dst.Path) && util.Stem(src.Path) == util.Stem(dst.Path) {
		kind = model.KindExtensionChanged
	}
	ev, ok := in.normalize(RawEvent{Path: src.Path, Time: dst.Time}, kind)
	if !ok {
		return
	}
	ev.DestPath = dst.Path
	in.finish(ev)
}

func (in *Intake) emit(raw RawEvent, kind model.EventKind) {
	ev, ok := in.normalize(raw, kind)
	if !ok {
		return
	}
	if kind == model.KindModified {
		key := debounceKey{pid: ev.PID, path: ev.Path}
		if prev, dup := in.debounced[key]; dup && ev.Timestamp.Sub(prev.Timestamp) <= debounceWindow {
			in.debounced[key] = ev // keep the latest timestamp
			return
		}
		in.debounced[key] = ev
		return
	}
	in.finish(ev)
}

// normalize builds the FileEvent: exclusion and extension filters,
// attribution, size, and entropy enrichment.
func (in *Intake) normalize(raw RawEvent, kind model.EventKind) (model.FileEvent, bool) {
	path := raw.Path
	for _, excl := range in.cfg.ExcludeDirectories {
		if excl != "" && strings.Contains(path, excl) {
			return model.FileEvent{}, false
		}
	}
	if len(in.cfg.FileExtensionFilter) > 0 && !in.matchesExtension(path) {
		return model.FileEvent{}, false
	}

	ev := model.FileEvent{
		Timestamp:  raw.Time.UTC(),
		Kind:       kind,
		Path:       path,
		PID:        0,
		Process:    "unknown",
		SizeBefore: -1,
		SizeAfter:  -1,
	}
	if info, ok := in.attr.Attribute(path, kind); ok {
		ev.PID = info.PID
		ev.Process = info.Name
		ev.Exe = info.Exe
	}
	if kind == model.KindCreated || kind == model.KindModified {
		if fi, err := os.Stat(path); err == nil {
			ev.SizeAfter = fi.Size()
		}
		in.enrichEntropy(&ev)
	}
	if kind == model.KindDeleted && in.entropy != nil {
		in.entropy.MarkDeleted(path, ev.Timestamp)
	}
	return ev, true
}

func (in *Intake) matchesExtension(path string) bool {
	for _, ext := range in.cfg.FileExtensionFilter {
		if util.HasSuffixFold(path, ext) {
			return true
		}
	}
	return false
}

// enrichEntropy measures the file and records baseline movement on the event
// itself. Read failures are transient I/O: the event proceeds without a
// measurement.
func (in *Intake) enrichEntropy(ev *model.FileEvent) {
	if in.entropy == nil {
		return
	}
	h, err := in.entropy.Measure(ev.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			in.logger.Debug("entropy measurement unavailable", "path", ev.Path, "error", err)
		}
		return
	}
	ev.Entropy = &h
	if prior, _, ok := in.entropy.Baseline(ev.Path); ok {
		ev.PriorEntropy = &prior
	}
	in.entropy.UpdateBaseline(ev.Path, h, ev.Timestamp)
}

// finish persists the event and forwards it to the analyzer queue,
// shedding the oldest queued event when the queue is full.
func (in *Intake) finish(ev model.FileEvent) {
	id, err := in.store.AppendEvent(ev)
	switch {
	case err == nil:
		ev.ID = id
		in.stored.Add(1)
	case errors.Is(err, store.ErrStorageFull):
		// Degraded mode: the event still flows to the analyzer so detection
		// keeps working while persistence is shed.
		in.logger.Warn("event store degraded, event not persisted", "path", ev.Path)
	default:
		in.logger.Warn("event persist failed", "path", ev.Path, "error", err)
	}

	select {
	case in.out <- ev:
		return
	default:
	}
	// Queue full: drop the oldest event to keep the stream fresh.
	select {
	case <-in.out:
		in.dropped.Add(1)
	default:
	}
	select {
	case in.out <- ev:
	default:
		in.dropped.Add(1)
	}
}

// flushExpired releases debounced writes older than the debounce window and
// rename sources past the horizon (as deletions).
func (in *Intake) flushExpired(now time.Time) {
	for key, ev := range in.debounced {
		if now.Sub(ev.Timestamp) > debounceWindow {
			delete(in.debounced, key)
			in.finish(ev)
		}
	}
	for path, src := range in.pendingRenames {
		if now.Sub(src.Time) > renameHorizon {
			delete(in.pendingRenames, path)
			if ev, ok := in.normalize(RawEvent{Path: path, Time: src.Time}, model.KindDeleted); ok {
				in.finish(ev)
			}
		}
	}
}

// flushAll drains both holding areas at shutdown.
func (in *Intake) flushAll() {
	for key, ev := range in.debounced {
		delete(in.debounced, key)
		in.finish(ev)
	}
	for path, src := range in.pendingRenames {
		delete(in.pendingRenames, path)
		if ev, ok := in.normalize(RawEvent{Path: path, Time: src.Time}, model.KindDeleted); ok {
			in.finish(ev)
		}
	}
}
