package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/alert"
	"github.com/NickEvans4130/Ransomware-Detection-System/config"
	"github.com/NickEvans4130/Ransomware-Detection-System/entropy"
	"github.com/NickEvans4130/Ransomware-Detection-System/intake"
	"github.com/NickEvans4130/Ransomware-Detection-System/model"
	"github.com/NickEvans4130/Ransomware-Detection-System/proc"
	"github.com/NickEvans4130/Ransomware-Detection-System/respond"
	"github.com/NickEvans4130/Ransomware-Detection-System/store"
	"github.com/NickEvans4130/Ransomware-Detection-System/vault"
)

// queueDepth bounds the channels between pipeline stages.
const queueDepth = 4096

// drainGrace is how long shutdown waits for each stage to drain.
const drainGrace = 5 * time.Second

// housekeepingInterval drives vault purge, baseline sweep, and vacuum.
const housekeepingInterval = time.Hour

// baselineGrace is how long a deleted file's baseline survives.
const baselineGrace = 10 * time.Minute

// controlPoll is the confirmation drop-directory scan interval.
const controlPoll = 250 * time.Millisecond

// Daemon owns the full pipeline: watcher → intake → analyzer → response,
// plus vault workers and housekeeping.
type Daemon struct {
	cfg    config.Config
	logger *slog.Logger

	events    *store.EventStore
	baselines *store.BaselineStore
	vault     *vault.Vault
	pool      *vault.Pool
	bus       *alert.Bus
	analyzer  *Analyzer
	responder *respond.Engine
	pending   *respond.PendingQueue
	intake    *intake.Intake
	watcher   intake.Watcher
	metrics   *Metrics

	analyzerQueue chan model.FileEvent
	respondQueue  chan model.ThreatRecord
}

// NewDaemon wires the pipeline. attr may be nil (events run unattributed).
func NewDaemon(cfg config.Config, attr intake.Attributor, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	events, err := store.OpenEventStore(filepath.Join(cfg.DataDir, "events.db"), cfg.Backup.MinFreeMB, nil)
	if err != nil {
		return nil, err
	}
	baselines, err := store.OpenBaselineStore(filepath.Join(cfg.DataDir, "baselines.db"))
	if err != nil {
		events.Close()
		return nil, err
	}
	v, err := vault.Open(cfg.Backup.VaultRoot, cfg.Backup.MinFreeMB, logger.With("component", "vault"))
	if err != nil {
		events.Close()
		baselines.Close()
		return nil, err
	}

	bus := alert.NewBus()
	ent := entropy.New(cfg.Entropy.PrefixBytes, cfg.Entropy.SampleTail, baselines)
	resolver := proc.NewResolver()

	analyzer := NewAnalyzer(cfg.Behavior, cfg.Entropy.DeltaThreshold,
		func(name string) bool { return cfg.Whitelisted(name) },
		func(pid int32, name, exe string) ProcMeta {
			meta := ProcMeta{Name: name, Exe: exe}
			if info, ok := resolver.Lookup(pid); ok {
				if meta.Exe == "" {
					meta.Exe = info.Exe
				}
				meta.Start = info.Start
			}
			return meta
		},
		logger.With("component", "analyzer"))

	pool := vault.NewPool(v, cfg.Backup.Workers, queueDepth, logger.With("component", "vault-pool"))
	pending := respond.NewPendingQueue(
		time.Duration(cfg.Response.PendingExpiryMinutes)*time.Minute,
		logger.With("component", "pending"))
	reports := respond.NewReportWriter(cfg.DataDir)
	ctrl := proc.NewController(logger.With("component", "proc"))
	window := time.Duration(cfg.Behavior.WindowSeconds) * time.Second

	responder := respond.New(cfg.Response, window, events, v, pool, ctrl, bus, pending, reports, analyzer.Snapshot, logger.With("component", "respond"))

	analyzerQueue := make(chan model.FileEvent, queueDepth)
	ink := intake.New(cfg.Monitor, attr, ent, events, analyzerQueue, logger.With("component", "intake"))
	watcher := intake.NewFSWatcher(cfg.Monitor.WatchDirectories, cfg.Monitor.Recursive, logger.With("component", "watcher"))

	return &Daemon{
		cfg:           cfg,
		logger:        logger,
		events:        events,
		baselines:     baselines,
		vault:         v,
		pool:          pool,
		bus:           bus,
		analyzer:      analyzer,
		responder:     responder,
		pending:       pending,
		intake:        ink,
		watcher:       watcher,
		metrics:       NewMetrics(),
		analyzerQueue: analyzerQueue,
		respondQueue:  make(chan model.ThreatRecord, queueDepth),
	}, nil
}

// Bus exposes the alert bus for extra subscribers (status view).
func (d *Daemon) Bus() *alert.Bus { return d.bus }

// Analyzer exposes the analyzer for snapshot consumers.
func (d *Daemon) Analyzer() *Analyzer { return d.analyzer }

// Pending exposes the confirmation queue.
func (d *Daemon) Pending() *respond.PendingQueue { return d.pending }

// Run starts the pipeline and blocks until ctx is cancelled and the stages
// have drained.
func (d *Daemon) Run(ctx context.Context) error {
	pidPath := filepath.Join(d.cfg.DataDir, "ransomd.pid")
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	sinks := map[string]alert.Sink{
		"log": &alert.LogSink{Logger: d.logger.With("component", "alerts")},
	}
	if d.cfg.Alerts.Webhook != "" {
		sinks["webhook"] = &alert.WebhookSink{URL: d.cfg.Alerts.Webhook, Logger: d.logger}
	}
	if d.cfg.Alerts.Command != "" {
		sinks["command"] = &alert.CommandSink{Command: d.cfg.Alerts.Command, Logger: d.logger}
	}
	sinksDone := alert.StartSinks(d.bus, sinks)

	if d.cfg.Metrics.Enabled {
		go func() {
			if err := d.metrics.Serve(d.cfg.Metrics.Addr); err != nil {
				d.logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.watcher.Start(runCtx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	var wg sync.WaitGroup

	// Ingest thread.
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.intake.Run(runCtx, d.watcher)
		close(d.analyzerQueue)
	}()

	// Analyzer thread: single writer over all window state.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range d.analyzerQueue {
			d.metrics.EventsIngested.Inc()
			if rec := d.analyzer.HandleEvent(ev); rec != nil {
				d.metrics.ThreatsEmitted.Inc()
				// Threat records must not be lost: this push blocks.
				d.respondQueue <- *rec
			}
		}
		close(d.respondQueue)
	}()

	// Response thread.
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.responder.Run(runCtx, d.respondQueue)
	}()

	// Housekeeping thread.
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.housekeeping(runCtx)
	}()

	// Safe-mode confirmation drop directory.
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.controlLoop(runCtx)
	}()

	d.logger.Info("monitor started",
		"pid", os.Getpid(),
		"roots", d.cfg.Monitor.WatchDirectories,
		"window_seconds", d.cfg.Behavior.WindowSeconds,
		"safe_mode", d.cfg.Response.SafeMode)

	<-ctx.Done()
	d.logger.Info("monitor shutting down")

	// Ordered drain: watcher first so intake's channel closes, then let each
	// stage finish its queue within the grace period.
	d.watcher.Stop()
	cancel()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainGrace):
		d.logger.Warn("drain grace elapsed, forcing shutdown")
	}

	d.pool.Drain()
	d.pending.Close()
	d.bus.Close()
	sinksDone()

	var firstErr error
	for _, c := range []func() error{d.vault.Close, d.baselines.Close, d.events.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// housekeeping periodically purges the vault, sweeps baselines and idle
// windows, and vacuums the event store.
func (d *Daemon) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	gauge := time.NewTicker(5 * time.Second)
	defer gauge.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gauge.C:
			d.metrics.WindowsActive.Set(float64(len(d.analyzer.Snapshot())))
			d.metrics.EventsDropped.Set(float64(d.intake.Dropped()))
			d.metrics.AlertsDropped.Set(float64(d.bus.Dropped()))
			if d.events.Degraded() {
				d.metrics.StoreDegraded.Set(1)
			} else {
				d.metrics.StoreDegraded.Set(0)
			}
		case now := <-ticker.C:
			retention := time.Duration(d.cfg.Backup.RetentionHours) * time.Hour
			if n, err := d.vault.PurgeOlderThan(retention); err != nil {
				d.logger.Warn("vault purge failed", "error", err)
			} else if n > 0 {
				d.logger.Info("vault purged", "entries", n)
			}
			if n, err := d.baselines.SweepDeleted(now, baselineGrace); err != nil {
				d.logger.Warn("baseline sweep failed", "error", err)
			} else if n > 0 {
				d.logger.Debug("baselines swept", "rows", n)
			}
			if removed := d.analyzer.Sweep(now); removed > 0 {
				d.logger.Debug("idle windows destroyed", "count", removed)
			}
			if err := d.events.Vacuum(); err != nil {
				d.logger.Warn("event store vacuum failed", "error", err)
			}
		}
	}
}

// controlDecision is the JSON dropped into the control directory by the CLI
// (or any external confirmer).
type controlDecision struct {
	ID       int64  `json:"id"`
	Decision string `json:"decision"`
}

// controlLoop polls the control directory for confirmation drops.
func (d *Daemon) controlLoop(ctx context.Context) {
	dir := ControlDir(d.cfg.DataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		d.logger.Warn("control dir unavailable", "error", err)
		return
	}
	ticker := time.NewTicker(controlPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
					continue
				}
				path := filepath.Join(dir, e.Name())
				data, err := os.ReadFile(path)
				os.Remove(path)
				if err != nil {
					continue
				}
				var dec controlDecision
				if err := json.Unmarshal(data, &dec); err != nil {
					d.logger.Warn("malformed control drop", "file", e.Name())
					continue
				}
				switch dec.Decision {
				case "confirm":
					if !d.pending.Confirm(dec.ID) {
						d.logger.Warn("confirm for unknown or closed action", "id", dec.ID)
					}
				case "deny":
					if !d.pending.Deny(dec.ID) {
						d.logger.Warn("deny for unknown or closed action", "id", dec.ID)
					}
				}
			}
		}
	}
}

// ControlDir returns the confirmation drop directory under dataDir.
func ControlDir(dataDir string) string {
	return filepath.Join(dataDir, "control")
}
