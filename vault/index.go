package vault

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS backups (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	original_path TEXT NOT NULL,
	vault_rel     TEXT NOT NULL,
	ts            INTEGER NOT NULL,
	sha256        TEXT NOT NULL,
	reason        TEXT NOT NULL,
	pid           INTEGER NOT NULL,
	process       TEXT NOT NULL,
	size          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backups_path ON backups(original_path, ts);
CREATE INDEX IF NOT EXISTS idx_backups_process ON backups(process, ts);
`

// index is the vault's entry database (index.db under the vault root).
type index struct {
	db *sql.DB
	mu sync.Mutex
}

func openIndex(path string) (*index, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vault index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault index schema: %w", err)
	}
	return &index{db: db}, nil
}

func (ix *index) close() error { return ix.db.Close() }

func (ix *index) insert(e model.BackupEntry) (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	res, err := ix.db.Exec(
		`INSERT INTO backups (original_path, vault_rel, ts, sha256, reason, pid, process, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OriginalPath, e.VaultRel, e.Timestamp.UTC().UnixMilli(), e.SHA256,
		string(e.Reason), e.PID, e.Process, e.Size,
	)
	if err != nil {
		return 0, fmt.Errorf("vault index insert: %w", err)
	}
	return res.LastInsertId()
}

func (ix *index) get(id int64) (model.BackupEntry, error) {
	row := ix.db.QueryRow(
		`SELECT id, original_path, vault_rel, ts, sha256, reason, pid, process, size
		 FROM backups WHERE id = ?`, id)
	return scanEntry(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (model.BackupEntry, error) {
	var e model.BackupEntry
	var ts int64
	var reason string
	err := row.Scan(&e.ID, &e.OriginalPath, &e.VaultRel, &ts, &e.SHA256, &reason, &e.PID, &e.Process, &e.Size)
	if err != nil {
		return e, err
	}
	e.Timestamp = time.UnixMilli(ts).UTC()
	e.Reason = model.BackupReason(reason)
	return e, nil
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Path    string
	PID     int32
	Process string
	Since   time.Time
}

func (ix *index) list(f ListFilter) ([]model.BackupEntry, error) {
	var where []string
	var args []interface{}
	if f.Path != "" {
		where = append(where, "original_path = ?")
		args = append(args, f.Path)
	}
	if f.PID != 0 {
		where = append(where, "pid = ?")
		args = append(args, f.PID)
	}
	if f.Process != "" {
		where = append(where, "process = ?")
		args = append(args, f.Process)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().UnixMilli())
	}
	q := "SELECT id, original_path, vault_rel, ts, sha256, reason, pid, process, size FROM backups"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC"

	rows, err := ix.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("vault index list: %w", err)
	}
	defer rows.Close()

	var out []model.BackupEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// newestPerPath reduces entries (assumed newest-first) to the newest entry
// for each original path.
func newestPerPath(entries []model.BackupEntry) []model.BackupEntry {
	seen := make(map[string]struct{}, len(entries))
	var out []model.BackupEntry
	for _, e := range entries {
		if _, ok := seen[e.OriginalPath]; ok {
			continue
		}
		seen[e.OriginalPath] = struct{}{}
		out = append(out, e)
	}
	return out
}

// isNewestForPath reports whether id is the most recent entry for path.
func (ix *index) isNewestForPath(id int64, path string) (bool, error) {
	var newest int64
	row := ix.db.QueryRow("SELECT id FROM backups WHERE original_path = ? ORDER BY ts DESC, id DESC LIMIT 1", path)
	if err := row.Scan(&newest); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return newest == id, nil
}

func (ix *index) olderThan(cutoff time.Time) ([]model.BackupEntry, error) {
	rows, err := ix.db.Query(
		`SELECT id, original_path, vault_rel, ts, sha256, reason, pid, process, size
		 FROM backups WHERE ts < ? ORDER BY ts ASC`, cutoff.UTC().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BackupEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (ix *index) delete(id int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.Exec("DELETE FROM backups WHERE id = ?", id)
	return err
}

// refCount returns how many entries reference the same stored file.
func (ix *index) refCount(vaultRel string) (int, error) {
	var n int
	row := ix.db.QueryRow("SELECT COUNT(*) FROM backups WHERE vault_rel = ?", vaultRel)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
