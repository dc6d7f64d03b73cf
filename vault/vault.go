// Package vault implements the copy-on-write backup vault: timestamped batch
// directories of pre-modification file versions, SHA-256 manifests, and an
// index database, all under an owner-only root.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
	"github.com/NickEvans4130/Ransomware-Detection-System/store"
	"github.com/NickEvans4130/Ransomware-Detection-System/util"
)

// ErrDiskPressure is returned by Snapshot when free space under the vault
// root is below the configured floor.
var ErrDiskPressure = errors.New("vault: free space below floor")

// batchWindow is how long one batch directory collects snapshots before a
// new one is cut. Content dedup applies within a batch.
const batchWindow = time.Second

// manifestName is the per-batch manifest file.
const manifestName = "manifest.json"

// manifestRecord is one line item in a batch manifest.
type manifestRecord struct {
	OriginalPath string `json:"original_path"`
	VaultRel     string `json:"vault_relative"`
	SHA256       string `json:"sha256"`
	Size         int64  `json:"size"`
	Timestamp    string `json:"timestamp"`
	PID          int32  `json:"pid"`
	Process      string `json:"process_name"`
	Reason       string `json:"reason"`
}

// Vault stores and restores file versions. One writer at a time; list and
// restore take the shared side of the lock.
type Vault struct {
	root    string
	minFree uint64
	free    store.FreeBytesFunc
	logger  *slog.Logger
	clock   func() time.Time

	mu    sync.RWMutex
	index *index

	batchMu    sync.Mutex
	batchDir   string
	batchStart time.Time
	batchSeen  map[string]string // content hash → vault-relative path
}

// Option adjusts a Vault at construction.
type Option func(*Vault)

// WithFreeBytes substitutes the free-space probe (tests).
func WithFreeBytes(f store.FreeBytesFunc) Option {
	return func(v *Vault) { v.free = f }
}

// WithClock substitutes the time source (tests).
func WithClock(f func() time.Time) Option {
	return func(v *Vault) { v.clock = f }
}

// Open creates (if needed) and opens the vault at root with owner-only
// permissions.
func Open(root string, minFreeMB int, logger *slog.Logger, opts ...Option) (*Vault, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create vault root: %w", err)
	}
	// Re-assert the mode in case the directory pre-existed looser.
	if err := os.Chmod(root, 0700); err != nil {
		return nil, fmt.Errorf("restrict vault root: %w", err)
	}
	ix, err := openIndex(filepath.Join(root, "index.db"))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := &Vault{
		root:    root,
		minFree: uint64(minFreeMB) * 1024 * 1024,
		free:    store.DiskFree,
		logger:  logger,
		clock:   time.Now,
		index:   ix,
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Close releases the index database.
func (v *Vault) Close() error { return v.index.close() }

// Root returns the vault root directory.
func (v *Vault) Root() string { return v.root }

// currentBatch returns the batch directory for now, cutting a new one when
// the batch window has elapsed.
func (v *Vault) currentBatch(now time.Time) (string, error) {
	v.batchMu.Lock()
	defer v.batchMu.Unlock()
	if v.batchDir != "" && now.Sub(v.batchStart) < batchWindow {
		return v.batchDir, nil
	}
	name := fmt.Sprintf("%s-%s", now.UTC().Format("2006-01-02_15-04-05"), uuid.NewString()[:8])
	if err := os.MkdirAll(filepath.Join(v.root, name), 0700); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}
	v.batchDir = name
	v.batchStart = now
	v.batchSeen = make(map[string]string)
	return name, nil
}

// Snapshot copies path into the vault and records a BackupEntry. Duplicate
// content within the current batch is stored once; the new entry links to
// the existing stored file.
func (v *Vault) Snapshot(path string, reason model.BackupReason, pid int32, process string) (model.BackupEntry, error) {
	free, err := v.free(v.root)
	if err == nil && free < v.minFree {
		return model.BackupEntry{}, ErrDiskPressure
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock().UTC()
	batch, err := v.currentBatch(now)
	if err != nil {
		return model.BackupEntry{}, err
	}

	src, err := os.Open(path)
	if err != nil {
		return model.BackupEntry{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	rel := filepath.Join(batch, util.FlattenPath(path))
	dst := filepath.Join(v.root, rel)

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return model.BackupEntry{}, fmt.Errorf("create vault copy: %w", err)
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), src)
	closeErr := out.Close()
	if err != nil {
		os.Remove(dst)
		return model.BackupEntry{}, fmt.Errorf("copy to vault: %w", err)
	}
	if closeErr != nil {
		os.Remove(dst)
		return model.BackupEntry{}, fmt.Errorf("flush vault copy: %w", closeErr)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))

	v.batchMu.Lock()
	if existing, ok := v.batchSeen[sum]; ok && existing != rel {
		// Same bytes already stored this batch: drop the fresh copy, link
		// the entry to the existing file.
		os.Remove(dst)
		rel = existing
	} else {
		v.batchSeen[sum] = rel
	}
	v.batchMu.Unlock()

	entry := model.BackupEntry{
		OriginalPath: path,
		VaultRel:     rel,
		Timestamp:    now,
		SHA256:       sum,
		Reason:       reason,
		PID:          pid,
		Process:      process,
		Size:         size,
	}
	id, err := v.index.insert(entry)
	if err != nil {
		return model.BackupEntry{}, err
	}
	entry.ID = id

	if err := v.appendManifest(batch, entry); err != nil {
		v.logger.Warn("manifest update failed", "batch", batch, "error", err)
	}
	v.logger.Debug("snapshot stored",
		"path", path, "sha256", sum[:12], "size", size, "reason", string(reason))
	return entry, nil
}

// appendManifest rewrites the batch manifest with the new entry included.
func (v *Vault) appendManifest(batch string, entry model.BackupEntry) error {
	path := filepath.Join(v.root, batch, manifestName)
	var records []manifestRecord
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &records)
	}
	records = append(records, manifestRecord{
		OriginalPath: entry.OriginalPath,
		VaultRel:     entry.VaultRel,
		SHA256:       entry.SHA256,
		Size:         entry.Size,
		Timestamp:    entry.Timestamp.Format(time.RFC3339Nano),
		PID:          entry.PID,
		Process:      entry.Process,
		Reason:       string(entry.Reason),
	})
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// List returns entries matching the filter, newest first.
func (v *Vault) List(f ListFilter) ([]model.BackupEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.index.list(f)
}

// Get returns one entry by id.
func (v *Vault) Get(id int64) (model.BackupEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.index.get(id)
}

// Restore copies the stored bytes for entry id back to the original path and
// verifies integrity. Success reflects the write alone; IntegrityOK reflects
// the hash comparison, so callers can surface a mismatch on a file that was
// still restored.
func (v *Vault) Restore(id int64) model.RestoreResult {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, err := v.index.get(id)
	if err != nil {
		return model.RestoreResult{EntryID: id, Success: false, Reason: fmt.Sprintf("entry lookup: %v", err)}
	}
	return v.restoreEntry(entry)
}

func (v *Vault) restoreEntry(entry model.BackupEntry) model.RestoreResult {
	res := model.RestoreResult{EntryID: entry.ID, Path: entry.OriginalPath}

	src, err := os.Open(filepath.Join(v.root, entry.VaultRel))
	if err != nil {
		res.Reason = fmt.Sprintf("open vault copy: %v", err)
		return res
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(entry.OriginalPath), 0755); err != nil {
		res.Reason = fmt.Sprintf("create parent: %v", err)
		return res
	}
	dst, err := os.OpenFile(entry.OriginalPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		res.Reason = fmt.Sprintf("open target: %v", err)
		return res
	}
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		res.Reason = fmt.Sprintf("write target: %v", errors.Join(copyErr, closeErr))
		return res
	}
	res.Success = true

	sum, err := hashFile(entry.OriginalPath)
	if err != nil {
		res.Reason = fmt.Sprintf("verify: %v", err)
		return res
	}
	res.IntegrityOK = sum == entry.SHA256
	if !res.IntegrityOK {
		res.Reason = "integrity mismatch"
		v.logger.Warn("restore integrity mismatch",
			"entry", entry.ID, "path", entry.OriginalPath,
			"want", entry.SHA256[:12], "got", sum[:12])
	}
	return res
}

// RestoreByProcess restores the newest entry per original path whose
// responsible process name matches.
func (v *Vault) RestoreByProcess(name string) []model.RestoreResult {
	v.mu.RLock()
	entries, err := v.index.list(ListFilter{Process: name})
	v.mu.RUnlock()
	if err != nil {
		v.logger.Warn("restore by process: list failed", "process", name, "error", err)
		return nil
	}
	var out []model.RestoreResult
	for _, e := range newestPerPath(entries) {
		v.mu.RLock()
		out = append(out, v.restoreEntry(e))
		v.mu.RUnlock()
	}
	return out
}

// RestoreFiltered restores the newest entry per original path among entries
// matching the filter. Used by rollback (filter by PID and recency).
func (v *Vault) RestoreFiltered(f ListFilter) []model.RestoreResult {
	v.mu.RLock()
	entries, err := v.index.list(f)
	v.mu.RUnlock()
	if err != nil {
		v.logger.Warn("filtered restore: list failed", "error", err)
		return nil
	}
	var out []model.RestoreResult
	for _, e := range newestPerPath(entries) {
		v.mu.RLock()
		out = append(out, v.restoreEntry(e))
		v.mu.RUnlock()
	}
	return out
}

// PurgeOlderThan removes entries older than age. An entry that is still the
// newest stored version of a path whose current on-disk content differs is
// kept regardless of age. Returns the number of entries removed.
func (v *Vault) PurgeOlderThan(age time.Duration) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cutoff := v.clock().Add(-age)
	entries, err := v.index.olderThan(cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge scan: %w", err)
	}

	removed := 0
	for _, e := range entries {
		newest, err := v.index.isNewestForPath(e.ID, e.OriginalPath)
		if err != nil {
			return removed, err
		}
		if newest && liveContentDiffers(e) {
			continue
		}
		if err := v.index.delete(e.ID); err != nil {
			return removed, err
		}
		// Only unlink the stored file once no other entry references it.
		refs, err := v.index.refCount(e.VaultRel)
		if err == nil && refs == 0 {
			if err := os.Remove(filepath.Join(v.root, e.VaultRel)); err != nil && !os.IsNotExist(err) {
				v.logger.Warn("purge unlink failed", "entry", e.ID, "error", err)
			}
		}
		removed++
	}
	v.pruneEmptyBatches()
	return removed, nil
}

// liveContentDiffers reports whether the file at the entry's original path
// currently exists with content different from the stored version. Missing
// files report false (nothing left to protect).
func liveContentDiffers(e model.BackupEntry) bool {
	sum, err := hashFile(e.OriginalPath)
	if err != nil {
		return false
	}
	return sum != e.SHA256
}

// pruneEmptyBatches removes batch directories that only hold a manifest.
func (v *Vault) pruneEmptyBatches() {
	dirs, err := os.ReadDir(v.root)
	if err != nil {
		return
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		batch := filepath.Join(v.root, d.Name())
		files, err := os.ReadDir(batch)
		if err != nil {
			continue
		}
		onlyManifest := true
		for _, f := range files {
			if f.Name() != manifestName {
				onlyManifest = false
				break
			}
		}
		if onlyManifest {
			_ = os.RemoveAll(batch)
		}
	}
}

// VerifyEntry re-hashes the stored bytes of an entry against its recorded
// SHA-256.
func (v *Vault) VerifyEntry(id int64) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, err := v.index.get(id)
	if err != nil {
		return false, err
	}
	sum, err := hashFile(filepath.Join(v.root, entry.VaultRel))
	if err != nil {
		return false, err
	}
	return sum == entry.SHA256, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
