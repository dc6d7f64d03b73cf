// Package respond drives the four-level escalation state machine: logging at
// L1, emergency backup at L2, suspension at L3, termination and rollback at
// L4. In safe mode the destructive steps wait on confirmed pending actions.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/alert"
	"github.com/NickEvans4130/Ransomware-Detection-System/config"
	"github.com/NickEvans4130/Ransomware-Detection-System/model"
	"github.com/NickEvans4130/Ransomware-Detection-System/proc"
	"github.com/NickEvans4130/Ransomware-Detection-System/store"
	"github.com/NickEvans4130/Ransomware-Detection-System/vault"
)

// snapshotWait bounds how long the response thread waits on one emergency
// snapshot job before recording it as failed.
const snapshotWait = 30 * time.Second

// procState tracks one PID through the state machine. Levels never regress
// within a PID lifetime.
type procState struct {
	level       int
	snapshotted bool
	verbose     bool
	suspended   bool // suspend attempted or queued
	terminated  bool // terminate attempted or queued
}

// SnapshotFn lets the engine consult the analyzer's live view for incident
// reports. May be nil.
type SnapshotFn func() []model.ProcessStatus

// Engine executes escalation transitions.
type Engine struct {
	cfg      config.ResponseConfig
	window   time.Duration
	store    *store.EventStore
	vault    *vault.Vault
	pool     *vault.Pool
	ctrl     proc.Controller
	bus      *alert.Bus
	pending  *PendingQueue
	reports  *ReportWriter
	analyzer SnapshotFn
	logger   *slog.Logger

	mu     sync.Mutex
	states map[int32]*procState
}

// New creates a response engine.
func New(cfg config.ResponseConfig, window time.Duration, st *store.EventStore, v *vault.Vault, pool *vault.Pool, ctrl proc.Controller, bus *alert.Bus, pending *PendingQueue, reports *ReportWriter, analyzer SnapshotFn, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		window:   window,
		store:    st,
		vault:    v,
		pool:     pool,
		ctrl:     ctrl,
		bus:      bus,
		pending:  pending,
		reports:  reports,
		analyzer: analyzer,
		logger:   logger,
	}
}

func (e *Engine) state(pid int32) *procState {
	if e.states == nil {
		e.states = make(map[int32]*procState)
	}
	s, ok := e.states[pid]
	if !ok {
		s = &procState{}
		e.states[pid] = s
	}
	return s
}

// Run consumes threat records until the channel closes or ctx is cancelled
// with the channel drained.
func (e *Engine) Run(ctx context.Context, in <-chan model.ThreatRecord) {
	for {
		select {
		case rec, ok := <-in:
			if !ok {
				return
			}
			e.HandleThreat(ctx, rec)
		case <-ctx.Done():
			// Threat records must not be lost: keep consuming until the
			// analyzer closes the channel during the ordered shutdown.
			for rec := range in {
				e.HandleThreat(context.Background(), rec)
			}
			return
		}
	}
}

// HandleThreat applies the state machine to one record, performs (or queues)
// the per-level actions, and persists the enriched record.
func (e *Engine) HandleThreat(ctx context.Context, rec model.ThreatRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(rec.PID)
	target := rec.Escalation
	if target < st.level {
		// The analyzer's stream is monotonic; a lower level here means a
		// fresh window after idle. The state machine still never regresses.
		target = st.level
	}

	switch {
	case target >= 4:
		e.levelFour(ctx, &rec, st)
	case target == 3:
		e.levelThree(ctx, &rec, st)
	case target == 2:
		e.levelTwo(ctx, &rec, st)
	case target == 1:
		e.levelOne(&rec, st)
	}
	if target > st.level {
		st.level = target
	}

	id, err := e.store.AppendThreat(rec)
	if err != nil {
		e.logger.Error("threat record persist failed", "pid", rec.PID, "error", err)
	} else {
		rec.ID = id
	}
	e.bus.Emit(model.AlertThreat, severityFor(rec.Level), rec)
}

// levelOne raises logging verbosity for the PID.
func (e *Engine) levelOne(rec *model.ThreatRecord, st *procState) {
	if !st.verbose {
		st.verbose = true
		e.logger.Info("monitoring escalated", "pid", rec.PID, "process", rec.Process, "score", rec.Score)
	}
	rec.Actions = append(rec.Actions, model.ActionResult{
		Action: "monitor", Target: fmt.Sprintf("pid:%d", rec.PID),
		Success: true, Timestamp: time.Now().UTC(),
	})
}

// levelTwo takes emergency snapshots of every path the process has modified
// in its current window.
func (e *Engine) levelTwo(ctx context.Context, rec *model.ThreatRecord, st *procState) {
	e.levelOne(rec, st)
	if st.snapshotted {
		return
	}
	paths := rec.WindowPaths
	if len(paths) == 0 {
		paths = e.recentPaths(rec.PID)
	}
	var pressure bool
	for _, p := range paths {
		res := e.snapshotOne(ctx, p, rec.PID, rec.Process)
		rec.Actions = append(rec.Actions, res)
		if res.Reason == vault.ErrDiskPressure.Error() {
			pressure = true
		}
	}
	st.snapshotted = true
	if pressure {
		e.bus.Emit(model.AlertThreat, model.SeverityWarning, map[string]interface{}{
			"pid":    rec.PID,
			"reason": "snapshots refused: disk pressure",
		})
	}
	e.bus.Emit(model.AlertQuarantine, model.SeverityWarning, map[string]interface{}{
		"pid": rec.PID, "process": rec.Process, "snapshots": len(paths),
	})
}

func (e *Engine) snapshotOne(ctx context.Context, path string, pid int32, process string) model.ActionResult {
	res := model.ActionResult{Action: "snapshot", Target: path, Timestamp: time.Now().UTC()}
	done := make(chan vault.JobResult, 1)
	ok := e.pool.Submit(ctx, vault.Job{
		Kind:     vault.JobSnapshot,
		Priority: vault.PriorityHigh,
		Path:     path,
		Reason:   model.ReasonEmergency,
		PID:      pid,
		Process:  process,
		Done:     done,
	})
	if !ok {
		res.Reason = "vault queue unavailable"
		return res
	}
	select {
	case jr := <-done:
		if jr.Err != nil {
			res.Reason = jr.Err.Error()
			return res
		}
		res.Success = true
	case <-time.After(snapshotWait):
		res.Reason = "snapshot timed out"
	}
	return res
}

// recentPaths falls back to the event store for the window's touched paths.
func (e *Engine) recentPaths(pid int32) []string {
	events, err := e.store.QueryEvents(store.EventFilter{
		PID:   pid,
		Since: time.Now().Add(-e.window),
		Kinds: []model.EventKind{model.KindCreated, model.KindModified, model.KindMoved, model.KindExtensionChanged},
		Limit: 500,
	})
	if err != nil {
		e.logger.Warn("window path query failed", "pid", pid, "error", err)
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, ev := range events {
		p := ev.EffectivePath()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// levelThree suspends the process (or queues the suspension in safe mode).
// The suspension is attempted once per PID lifetime.
func (e *Engine) levelThree(ctx context.Context, rec *model.ThreatRecord, st *procState) {
	e.levelTwo(ctx, rec, st)
	if st.suspended {
		return
	}
	st.suspended = true
	pid := rec.PID
	if e.cfg.SafeMode {
		e.enqueuePending(rec, model.ActionSuspend, func() model.ActionResult {
			return e.ctrl.Suspend(pid)
		})
		return
	}
	res := e.ctrl.Suspend(pid)
	rec.Actions = append(rec.Actions, res)
	e.bus.Emit(model.AlertQuarantine, model.SeverityCritical, map[string]interface{}{
		"pid": pid, "process": rec.Process, "action": "suspend", "success": res.Success,
	})
}

// levelFour terminates, denies future execution, and rolls back, once per
// PID lifetime.
func (e *Engine) levelFour(ctx context.Context, rec *model.ThreatRecord, st *procState) {
	e.levelThree(ctx, rec, st)
	if st.terminated {
		return
	}
	st.terminated = true
	pid, exe := rec.PID, rec.Exe

	if e.cfg.SafeMode {
		e.enqueuePending(rec, model.ActionTerminate, func() model.ActionResult {
			res := e.ctrl.Terminate(pid)
			if res.Success {
				e.ctrl.BlockFutureExec(exe)
			}
			return res
		})
		e.enqueuePending(rec, model.ActionRollback, func() model.ActionResult {
			restored := e.rollback(pid)
			return model.ActionResult{
				Action: "rollback", Target: fmt.Sprintf("pid:%d", pid),
				Success: allSucceeded(restored), Timestamp: time.Now().UTC(),
			}
		})
		return
	}

	termRes := e.ctrl.Terminate(pid)
	rec.Actions = append(rec.Actions, termRes)
	blockRes := e.ctrl.BlockFutureExec(exe)
	rec.Actions = append(rec.Actions, blockRes)

	restored := e.rollback(pid)
	rec.Actions = append(rec.Actions, model.ActionResult{
		Action: "rollback", Target: fmt.Sprintf("pid:%d", pid),
		Success: allSucceeded(restored), Timestamp: time.Now().UTC(),
		Reason: rollbackSummary(restored),
	})

	report := e.buildReport(*rec, restored)
	rec.Report = report
	if e.reports != nil {
		if path, err := e.reports.Write(report); err != nil {
			e.logger.Warn("incident report write failed", "error", err)
		} else {
			e.logger.Info("incident report written", "path", path)
		}
	}
	e.bus.Emit(model.AlertQuarantine, model.SeverityCritical, map[string]interface{}{
		"pid": pid, "process": rec.Process, "action": "terminate",
		"success": termRes.Success, "report": report.ID,
	})
}

// rollback restores the newest vault entry per path captured for this PID in
// the last two windows.
func (e *Engine) rollback(pid int32) []model.RestoreResult {
	results := e.vault.RestoreFiltered(vault.ListFilter{
		PID:   pid,
		Since: time.Now().Add(-2 * e.window),
	})
	for _, r := range results {
		sev := model.SeverityInfo
		if !r.Success || !r.IntegrityOK {
			sev = model.SeverityWarning
		}
		e.bus.Emit(model.AlertRestore, sev, r)
	}
	return results
}

func (e *Engine) enqueuePending(rec *model.ThreatRecord, action model.ProposedAction, perform func() model.ActionResult) {
	pid := rec.PID
	pa, created := e.pending.Enqueue(rec.ID, action, pid, rec.Process, func(pa model.PendingAction, confirmed bool) {
		if !confirmed {
			e.bus.Emit(model.AlertPendingAction, model.SeverityInfo, pa)
			return
		}
		res := perform()
		e.logger.Info("confirmed action executed",
			"id", pa.ID, "action", string(pa.Action), "pid", pa.PID, "success", res.Success)
		e.bus.Emit(model.AlertPendingAction, model.SeverityCritical, map[string]interface{}{
			"pending": pa, "result": res,
		})
	})
	rec.Actions = append(rec.Actions, model.ActionResult{
		Action: "queued:" + string(action), Target: fmt.Sprintf("pid:%d", pid),
		Success: true, Reason: fmt.Sprintf("pending action %d", pa.ID), Timestamp: time.Now().UTC(),
	})
	if created {
		e.bus.Emit(model.AlertPendingAction, model.SeverityWarning, pa)
	}
}

func (e *Engine) buildReport(rec model.ThreatRecord, restored []model.RestoreResult) *model.IncidentReport {
	var window []model.ProcessStatus
	if e.analyzer != nil {
		window = e.analyzer()
	}
	return e.reports.Build(rec, window, restored)
}

// Pending exposes the queue for the confirmation channel.
func (e *Engine) Pending() *PendingQueue { return e.pending }

// Forget clears the state for an exited PID.
func (e *Engine) Forget(pid int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, pid)
}

func severityFor(level model.ThreatLevel) model.Severity {
	switch level {
	case model.LevelCritical:
		return model.SeverityCritical
	case model.LevelLikely:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

func allSucceeded(results []model.RestoreResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return len(results) > 0
}

func rollbackSummary(results []model.RestoreResult) string {
	ok, mismatched, failed := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Success && r.IntegrityOK:
			ok++
		case r.Success:
			mismatched++
		default:
			failed++
		}
	}
	if len(results) == 0 {
		return "no vault entries in range"
	}
	return fmt.Sprintf("%d restored, %d integrity mismatch, %d failed", ok, mismatched, failed)
}
