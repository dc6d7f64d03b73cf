// Package store persists file events, threat records, and entropy baselines
// in single-file SQLite databases opened in write-ahead mode. Each store has
// one writer connection and a small pool of readers, so queries never block
// the append path.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	_ "modernc.org/sqlite"
)

// openPair opens the writer and reader handles for a database file.
func openPair(path string) (writer, reader *sql.DB, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	writer, err = sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	writer.SetMaxOpenConns(1)

	reader, err = sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, nil, fmt.Errorf("open %s readers: %w", path, err)
	}
	reader.SetMaxOpenConns(4)
	return writer, reader, nil
}

// FreeBytesFunc reports free bytes on the filesystem holding path. The
// default implementation queries the OS; tests substitute their own.
type FreeBytesFunc func(path string) (uint64, error)

// DiskFree is the default FreeBytesFunc.
func DiskFree(path string) (uint64, error) {
	usage, err := disk.Usage(filepath.Dir(path))
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
