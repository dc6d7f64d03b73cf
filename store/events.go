package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// ErrStorageFull is returned by AppendEvent when free space on the store's
// filesystem is below the configured floor. Threat appends are exempt.
var ErrStorageFull = errors.New("event store: free space below floor")

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	kind        INTEGER NOT NULL,
	path        TEXT NOT NULL,
	dest_path   TEXT NOT NULL DEFAULT '',
	size_before INTEGER NOT NULL DEFAULT -1,
	size_after  INTEGER NOT NULL DEFAULT -1,
	pid         INTEGER NOT NULL,
	process     TEXT NOT NULL,
	exe         TEXT NOT NULL DEFAULT '',
	entropy     REAL,
	prior_entropy REAL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_path ON events(path);
CREATE INDEX IF NOT EXISTS idx_events_pid ON events(pid, ts);

CREATE TABLE IF NOT EXISTS threats (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	pid        INTEGER NOT NULL,
	process    TEXT NOT NULL,
	exe        TEXT NOT NULL DEFAULT '',
	score      INTEGER NOT NULL,
	level      INTEGER NOT NULL,
	escalation INTEGER NOT NULL,
	indicators TEXT NOT NULL DEFAULT '{}',
	window_paths TEXT NOT NULL DEFAULT '[]',
	actions    TEXT NOT NULL DEFAULT '[]',
	report     TEXT
);
CREATE INDEX IF NOT EXISTS idx_threats_ts ON threats(ts);
CREATE INDEX IF NOT EXISTS idx_threats_pid ON threats(pid, ts);
`

// EventStore is the durable, ordered log of file events and threat records.
// One writer, many readers; the writer serializes appends internally.
type EventStore struct {
	writer *sql.DB
	reader *sql.DB

	path     string
	free     FreeBytesFunc
	minFree  uint64
	degraded atomic.Bool

	mu sync.Mutex // serializes write transactions
}

// OpenEventStore opens (creating if needed) the event database at path.
// minFreeMB is the storage-pressure floor; free may be nil for the OS default.
func OpenEventStore(path string, minFreeMB int, free FreeBytesFunc) (*EventStore, error) {
	w, r, err := openPair(path)
	if err != nil {
		return nil, err
	}
	if _, err := w.Exec(eventSchema); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("event store schema: %w", err)
	}
	if free == nil {
		free = DiskFree
	}
	return &EventStore{
		writer:  w,
		reader:  r,
		path:    path,
		free:    free,
		minFree: uint64(minFreeMB) * 1024 * 1024,
	}, nil
}

// Close closes both handles.
func (s *EventStore) Close() error {
	rErr := s.reader.Close()
	wErr := s.writer.Close()
	if wErr != nil {
		return wErr
	}
	return rErr
}

// Degraded reports whether the store is refusing non-threat appends.
func (s *EventStore) Degraded() bool { return s.degraded.Load() }

func (s *EventStore) checkPressure() error {
	free, err := s.free(s.path)
	if err != nil {
		// Cannot measure: stay in the current mode rather than flapping.
		return nil
	}
	if free < s.minFree {
		s.degraded.Store(true)
		return ErrStorageFull
	}
	s.degraded.Store(false)
	return nil
}

// AppendEvent persists one file event and returns its assigned id.
func (s *EventStore) AppendEvent(ev model.FileEvent) (int64, error) {
	if err := s.checkPressure(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.writer.Exec(
		`INSERT INTO events (ts, kind, path, dest_path, size_before, size_after, pid, process, exe, entropy, prior_entropy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().UnixMilli(), int(ev.Kind), ev.Path, ev.DestPath,
		ev.SizeBefore, ev.SizeAfter, ev.PID, ev.Process, ev.Exe,
		nullFloat(ev.Entropy), nullFloat(ev.PriorEntropy),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}

// AppendThreat persists one threat record and returns its assigned id.
// Threat appends succeed even under storage pressure; losing them would
// blind the responder exactly when it matters.
func (s *EventStore) AppendThreat(t model.ThreatRecord) (int64, error) {
	indicators, err := json.Marshal(t.Indicators)
	if err != nil {
		return 0, fmt.Errorf("marshal indicators: %w", err)
	}
	paths, err := json.Marshal(t.WindowPaths)
	if err != nil {
		return 0, fmt.Errorf("marshal window paths: %w", err)
	}
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return 0, fmt.Errorf("marshal actions: %w", err)
	}
	var report interface{}
	if t.Report != nil {
		b, err := json.Marshal(t.Report)
		if err != nil {
			return 0, fmt.Errorf("marshal report: %w", err)
		}
		report = string(b)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.writer.Exec(
		`INSERT INTO threats (ts, pid, process, exe, score, level, escalation, indicators, window_paths, actions, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp.UTC().UnixMilli(), t.PID, t.Process, t.Exe,
		t.Score, int(t.Level), t.Escalation, string(indicators), string(paths), string(actions), report,
	)
	if err != nil {
		return 0, fmt.Errorf("append threat: %w", err)
	}
	return res.LastInsertId()
}

// EventFilter narrows QueryEvents. Zero values mean "any", except Limit,
// where zero selects the default of 100.
type EventFilter struct {
	Paths   []string
	Process string
	PID     int32
	Kinds   []model.EventKind
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// QueryEvents returns matching events, newest first.
func (s *EventStore) QueryEvents(f EventFilter) ([]model.FileEvent, error) {
	var where []string
	var args []interface{}
	if len(f.Paths) > 0 {
		ph := make([]string, len(f.Paths))
		for i, p := range f.Paths {
			ph[i] = "?"
			args = append(args, p)
		}
		where = append(where, "path IN ("+strings.Join(ph, ",")+")")
	}
	if f.Process != "" {
		where = append(where, "process = ?")
		args = append(args, f.Process)
	}
	if f.PID != 0 {
		where = append(where, "pid = ?")
		args = append(args, f.PID)
	}
	if len(f.Kinds) > 0 {
		ph := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			ph[i] = "?"
			args = append(args, int(k))
		}
		where = append(where, "kind IN ("+strings.Join(ph, ",")+")")
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UTC().UnixMilli())
	}
	q := "SELECT id, ts, kind, path, dest_path, size_before, size_after, pid, process, exe, entropy, prior_entropy FROM events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.reader.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.FileEvent
	for rows.Next() {
		var ev model.FileEvent
		var ts int64
		var kind int
		var entropy, prior sql.NullFloat64
		if err := rows.Scan(&ev.ID, &ts, &kind, &ev.Path, &ev.DestPath,
			&ev.SizeBefore, &ev.SizeAfter, &ev.PID, &ev.Process, &ev.Exe,
			&entropy, &prior); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		ev.Kind = model.EventKind(kind)
		if entropy.Valid {
			v := entropy.Float64
			ev.Entropy = &v
		}
		if prior.Valid {
			v := prior.Float64
			ev.PriorEntropy = &v
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ThreatFilter narrows QueryThreats.
type ThreatFilter struct {
	MinLevel *model.ThreatLevel
	Since    time.Time
	PID      int32
	Limit    int
}

// QueryThreats returns matching threat records, newest first.
func (s *EventStore) QueryThreats(f ThreatFilter) ([]model.ThreatRecord, error) {
	var where []string
	var args []interface{}
	if f.MinLevel != nil {
		where = append(where, "level >= ?")
		args = append(args, int(*f.MinLevel))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().UnixMilli())
	}
	if f.PID != 0 {
		where = append(where, "pid = ?")
		args = append(args, f.PID)
	}
	q := "SELECT id, ts, pid, process, exe, score, level, escalation, indicators, window_paths, actions, report FROM threats"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.reader.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query threats: %w", err)
	}
	defer rows.Close()

	var out []model.ThreatRecord
	for rows.Next() {
		var t model.ThreatRecord
		var ts int64
		var level int
		var indicators, paths, actions string
		var report sql.NullString
		if err := rows.Scan(&t.ID, &ts, &t.PID, &t.Process, &t.Exe,
			&t.Score, &level, &t.Escalation, &indicators, &paths, &actions, &report); err != nil {
			return nil, err
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		t.Level = model.ThreatLevel(level)
		if err := json.Unmarshal([]byte(indicators), &t.Indicators); err != nil {
			return nil, fmt.Errorf("threat %d indicators: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(paths), &t.WindowPaths); err != nil {
			return nil, fmt.Errorf("threat %d window paths: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(actions), &t.Actions); err != nil {
			return nil, fmt.Errorf("threat %d actions: %w", t.ID, err)
		}
		if report.Valid {
			var r model.IncidentReport
			if err := json.Unmarshal([]byte(report.String), &r); err == nil {
				t.Report = &r
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Vacuum compacts the database file.
func (s *EventStore) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec("VACUUM")
	return err
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
