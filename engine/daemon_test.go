package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/config"
)

// TestDaemonStartsAndDrains wires the full pipeline against a quiet temp
// directory and checks that a cancel shuts everything down cleanly.
func TestDaemonStartsAndDrains(t *testing.T) {
	watched := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Backup.VaultRoot = filepath.Join(cfg.DataDir, "vault")
	cfg.Monitor.WatchDirectories = []string{watched}

	d, err := NewDaemon(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewDaemon() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	// Give the pipeline a moment to come up, produce some activity, then
	// shut down.
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(watched, "hello.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not drain after cancel")
	}

	// The PID file is removed on the way out.
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "ransomd.pid")); !os.IsNotExist(err) {
		t.Errorf("pid file still present: %v", err)
	}
}
