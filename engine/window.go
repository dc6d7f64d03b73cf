package engine

import (
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// dedupeWithin collapses duplicate events for the same path arriving in a
// tight burst; the later event wins.
const dedupeWithin = 250 * time.Millisecond

// windowKey identifies one process window. Keying by (PID, name) instead of
// PID alone gives a recycled PID running a different executable a fresh
// window.
type windowKey struct {
	PID  int32
	Name string
}

// processWindow holds the events observed for one process within the sliding
// window, ordered by timestamp.
type processWindow struct {
	events []model.FileEvent

	lastScore      int
	lastLevel      model.ThreatLevel
	lastEscalation int
	lastEmitTime   time.Time
	lastEmitScore  int
	lastEvent      time.Time
}

// prune drops events older than the window horizon.
func (w *processWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.events) && w.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// append adds an event, keeping timestamp order for slightly out-of-order
// arrivals.
func (w *processWindow) append(ev model.FileEvent) {
	w.lastEvent = ev.Timestamp
	n := len(w.events)
	if n == 0 || !ev.Timestamp.Before(w.events[n-1].Timestamp) {
		w.events = append(w.events, ev)
		return
	}
	idx := n
	for idx > 0 && w.events[idx-1].Timestamp.After(ev.Timestamp) {
		idx--
	}
	w.events = append(w.events, model.FileEvent{})
	copy(w.events[idx+1:], w.events[idx:])
	w.events[idx] = ev
}

// snapshot returns the deduplicated view the detectors operate on.
// Duplicates are events for the same path and kind within dedupeWithin of
// each other; the later one is kept.
func (w *processWindow) snapshot() []model.FileEvent {
	out := make([]model.FileEvent, 0, len(w.events))
	type lastSeen struct {
		idx int
		ts  time.Time
	}
	seen := make(map[string]lastSeen, len(w.events))
	for _, ev := range w.events {
		k := ev.Kind.String() + "\x00" + ev.Path
		if prev, ok := seen[k]; ok && ev.Timestamp.Sub(prev.ts) <= dedupeWithin {
			out[prev.idx] = ev
			seen[k] = lastSeen{idx: prev.idx, ts: ev.Timestamp}
			continue
		}
		out = append(out, ev)
		seen[k] = lastSeen{idx: len(out) - 1, ts: ev.Timestamp}
	}
	return out
}

// touchedPaths returns the distinct paths this window's process has written
// to (created, modified, or produced by a move), newest last.
func (w *processWindow) touchedPaths() []string {
	seen := make(map[string]struct{}, len(w.events))
	var out []string
	for _, ev := range w.events {
		var p string
		switch ev.Kind {
		case model.KindCreated, model.KindModified:
			p = ev.Path
		case model.KindMoved, model.KindExtensionChanged:
			p = ev.DestPath
		default:
			continue
		}
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
