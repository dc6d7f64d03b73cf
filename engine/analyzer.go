package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/config"
	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// MetaFunc supplies process identity for a window evaluation. The analyzer
// never touches the OS itself; attribution arrives through this hook.
type MetaFunc func(pid int32, name, exe string) ProcMeta

// Analyzer owns every process window. It is driven from a single goroutine
// (the analyzer thread); the snapshot and sweep entry points take the lock so
// the status view and housekeeping can read concurrently.
type Analyzer struct {
	cfg       config.BehaviorConfig
	detectors *DetectorSet
	whitelist func(name string) bool
	meta      MetaFunc
	logger    *slog.Logger

	window     time.Duration
	refractory time.Duration

	mu      sync.RWMutex
	windows map[windowKey]*processWindow
}

// NewAnalyzer builds an analyzer. whitelist and meta may be nil.
func NewAnalyzer(cfg config.BehaviorConfig, entropyDelta float64, whitelist func(string) bool, meta MetaFunc, logger *slog.Logger) *Analyzer {
	if whitelist == nil {
		whitelist = func(string) bool { return false }
	}
	if meta == nil {
		meta = func(pid int32, name, exe string) ProcMeta {
			return ProcMeta{Name: name, Exe: exe}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		cfg:        cfg,
		detectors:  NewDetectorSet(cfg, entropyDelta),
		whitelist:  whitelist,
		meta:       meta,
		logger:     logger,
		window:     time.Duration(cfg.WindowSeconds) * time.Second,
		refractory: time.Duration(cfg.RefractorySeconds) * time.Second,
		windows:    make(map[windowKey]*processWindow),
	}
}

// HandleEvent folds one event into its process window, runs the detectors,
// and returns a ThreatRecord when the emission rules say one is due, nil
// otherwise. Applying the analyzer to the same event sequence from fresh
// state yields the same records.
func (a *Analyzer) HandleEvent(ev model.FileEvent) *model.ThreatRecord {
	key := windowKey{PID: ev.PID, Name: ev.Process}

	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.windows[key]
	if !ok {
		w = &processWindow{}
		a.windows[key] = w
	}

	now := ev.Timestamp
	w.prune(now, a.window)
	w.append(ev)

	snap := w.snapshot()
	results := a.detectors.Run(snap, now, a.meta(ev.PID, ev.Process, ev.Exe))
	score, level, escalation := Score(results)

	if a.whitelist(ev.Process) {
		score, level, escalation = 0, model.LevelNormal, 0
	}

	w.lastScore, w.lastLevel = score, level

	if !a.shouldEmit(w, escalation, score, now) {
		return nil
	}

	w.lastEscalation = escalation
	w.lastEmitTime = now
	w.lastEmitScore = score

	indicators := make(map[string]model.Evidence)
	for _, r := range results {
		if r.Triggered {
			indicators[r.Name] = r.Evidence
		}
	}

	rec := &model.ThreatRecord{
		Timestamp:   now,
		PID:         ev.PID,
		Process:     ev.Process,
		Exe:         ev.Exe,
		Score:       score,
		Level:       level,
		Escalation:  escalation,
		Indicators:  indicators,
		WindowPaths: w.touchedPaths(),
	}
	a.logger.Info("threat detected",
		"pid", ev.PID, "process", ev.Process,
		"score", score, "level", level.String(), "escalation", escalation)
	return rec
}

// shouldEmit applies the emission rules: escalation strictly above the last
// reported value always emits; the same escalation re-emits only outside the
// refractory period or on a score jump of at least 10 points. A lower
// escalation never emits, so the per-process record stream is monotonic.
func (a *Analyzer) shouldEmit(w *processWindow, escalation, score int, now time.Time) bool {
	if escalation == 0 {
		return false
	}
	if escalation > w.lastEscalation {
		return true
	}
	if escalation < w.lastEscalation {
		return false
	}
	if now.Sub(w.lastEmitTime) >= a.refractory {
		return true
	}
	return score >= w.lastEmitScore+10
}

// Snapshot returns the per-process status lines, ordered by score descending.
func (a *Analyzer) Snapshot() []model.ProcessStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.ProcessStatus, 0, len(a.windows))
	for key, w := range a.windows {
		out = append(out, model.ProcessStatus{
			PID:        key.PID,
			Process:    key.Name,
			Score:      w.lastScore,
			Level:      w.lastLevel,
			Escalation: w.lastEscalation,
			WindowLen:  len(w.events),
			LastEvent:  w.lastEvent,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PID < out[j].PID
	})
	return out
}

// Forget drops all windows for a PID (process exit).
func (a *Analyzer) Forget(pid int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.windows {
		if key.PID == pid {
			delete(a.windows, key)
		}
	}
}

// Sweep destroys windows that have been empty for twice the window length.
// Returns the number removed.
func (a *Analyzer) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	idle := 2 * a.window
	removed := 0
	for key, w := range a.windows {
		w.prune(now, a.window)
		if len(w.events) == 0 && now.Sub(w.lastEvent) >= idle {
			delete(a.windows, key)
			removed++
		}
	}
	return removed
}
