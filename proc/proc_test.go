package proc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolverLookupSelf(t *testing.T) {
	r := NewResolver()
	info, ok := r.Lookup(int32(os.Getpid()))
	if !ok {
		t.Fatal("could not resolve our own PID")
	}
	if info.Name == "" {
		t.Error("resolved process has no name")
	}
	if info.Start.IsZero() {
		t.Error("resolved process has no start time")
	}

	// Second lookup is served from cache and must agree.
	again, ok := r.Lookup(int32(os.Getpid()))
	if !ok || again.Name != info.Name {
		t.Errorf("cached lookup = %+v, want %+v", again, info)
	}
}

func TestResolverInvalidPIDs(t *testing.T) {
	r := NewResolver()
	if _, ok := r.Lookup(0); ok {
		t.Error("PID 0 should not resolve")
	}
	if _, ok := r.Lookup(-5); ok {
		t.Error("negative PID should not resolve")
	}
}

func TestControllerFailureIsReportedNotFatal(t *testing.T) {
	c := NewController(nil)
	// A PID that cannot exist: beyond pid_max on any reasonable system.
	res := c.Suspend(1 << 30)
	if res.Success {
		t.Error("suspending an absent process reported success")
	}
	if res.Reason == "" {
		t.Error("failure carries no reason")
	}
}

func TestBlockFutureExec(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "payload")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	c := NewController(nil)
	res := c.BlockFutureExec(exe)
	if !res.Success {
		t.Fatalf("block failed: %s", res.Reason)
	}
	info, err := os.Stat(exe)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0 {
		t.Errorf("permissions = %v, want none", info.Mode().Perm())
	}

	missing := c.BlockFutureExec(filepath.Join(dir, "nope"))
	if missing.Success {
		t.Error("blocking a missing path reported success")
	}
	empty := c.BlockFutureExec("")
	if empty.Success {
		t.Error("blocking an empty path reported success")
	}
}
