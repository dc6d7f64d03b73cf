package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const baselineSchema = `
CREATE TABLE IF NOT EXISTS baselines (
	path       TEXT PRIMARY KEY,
	entropy    REAL NOT NULL,
	ts         INTEGER NOT NULL,
	deleted_ts INTEGER
);
`

// BaselineStore persists per-path entropy baselines. A baseline marked
// deleted survives for a grace period so a quick delete/recreate cycle keeps
// its history.
type BaselineStore struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex
}

// OpenBaselineStore opens (creating if needed) the baseline database at path.
func OpenBaselineStore(path string) (*BaselineStore, error) {
	w, r, err := openPair(path)
	if err != nil {
		return nil, err
	}
	if _, err := w.Exec(baselineSchema); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("baseline schema: %w", err)
	}
	return &BaselineStore{writer: w, reader: r}, nil
}

// Close closes both handles.
func (s *BaselineStore) Close() error {
	rErr := s.reader.Close()
	wErr := s.writer.Close()
	if wErr != nil {
		return wErr
	}
	return rErr
}

// Get returns the stored baseline for path, if any.
func (s *BaselineStore) Get(path string) (entropy float64, ts time.Time, ok bool, err error) {
	var millis int64
	row := s.reader.QueryRow("SELECT entropy, ts FROM baselines WHERE path = ?", path)
	switch err := row.Scan(&entropy, &millis); err {
	case nil:
		return entropy, time.UnixMilli(millis).UTC(), true, nil
	case sql.ErrNoRows:
		return 0, time.Time{}, false, nil
	default:
		return 0, time.Time{}, false, fmt.Errorf("baseline get: %w", err)
	}
}

// Put records (or overwrites) the baseline for path and clears any pending
// deletion mark.
func (s *BaselineStore) Put(path string, entropy float64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec(
		`INSERT INTO baselines (path, entropy, ts, deleted_ts) VALUES (?, ?, ?, NULL)
		 ON CONFLICT(path) DO UPDATE SET entropy = excluded.entropy, ts = excluded.ts, deleted_ts = NULL`,
		path, entropy, ts.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("baseline put: %w", err)
	}
	return nil
}

// MarkDeleted flags a path whose backing file was deleted. The row is kept
// until SweepDeleted runs past the grace period.
func (s *BaselineStore) MarkDeleted(path string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec("UPDATE baselines SET deleted_ts = ? WHERE path = ?", at.UTC().UnixMilli(), path)
	return err
}

// Forget removes a path immediately.
func (s *BaselineStore) Forget(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec("DELETE FROM baselines WHERE path = ?", path)
	return err
}

// SweepDeleted purges rows whose deletion mark is older than grace.
// Returns the number of rows removed.
func (s *BaselineStore) SweepDeleted(now time.Time, grace time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-grace).UTC().UnixMilli()
	res, err := s.writer.Exec("DELETE FROM baselines WHERE deleted_ts IS NOT NULL AND deleted_ts < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
