package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/config"
	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

var testBehavior = config.Default().Behavior

func testDetectors() *DetectorSet {
	return NewDetectorSet(testBehavior, 2.0)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ev(kind model.EventKind, path string, offset time.Duration) model.FileEvent {
	return model.FileEvent{
		Timestamp: t0.Add(offset),
		Kind:      kind,
		Path:      path,
		PID:       4242,
		Process:   "worker",
	}
}

func withEntropy(e model.FileEvent, prior, current float64) model.FileEvent {
	e.PriorEntropy = &prior
	e.Entropy = &current
	return e
}

func resultByName(t *testing.T, results []model.DetectorResult, name string) model.DetectorResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no detector result named %q", name)
	return model.DetectorResult{}
}

func TestMassModification(t *testing.T) {
	d := testDetectors()

	t.Run("below threshold stays quiet", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.MassThreshold-1; i++ {
			win = append(win, ev(model.KindModified, fmt.Sprintf("/data/f%03d", i), time.Duration(i)*100*time.Millisecond))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "mass_modification")
		if r.Triggered {
			t.Errorf("triggered with %d paths, threshold %d", r.Evidence.Count, testBehavior.MassThreshold)
		}
	})

	t.Run("distinct paths at threshold trigger", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.MassThreshold; i++ {
			win = append(win, ev(model.KindModified, fmt.Sprintf("/data/f%03d", i), time.Duration(i)*100*time.Millisecond))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "mass_modification")
		if !r.Triggered {
			t.Errorf("not triggered with %d distinct paths", r.Evidence.Count)
		}
	})

	t.Run("same path repeated does not accumulate", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < 40; i++ {
			win = append(win, ev(model.KindModified, "/data/same", time.Duration(i)*300*time.Millisecond))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "mass_modification")
		if r.Triggered {
			t.Error("triggered on one path modified repeatedly")
		}
	})

	t.Run("events outside the mass window are ignored", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.MassThreshold; i++ {
			win = append(win, ev(model.KindModified, fmt.Sprintf("/data/f%03d", i), 0))
		}
		now := t0.Add(time.Duration(testBehavior.MassWindowSeconds+5) * time.Second)
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "mass_modification")
		if r.Triggered {
			t.Error("triggered on stale events")
		}
	})

	t.Run("moved counts destination as a create", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.MassThreshold; i++ {
			e := ev(model.KindMoved, fmt.Sprintf("/data/f%03d", i), time.Duration(i)*100*time.Millisecond)
			e.DestPath = fmt.Sprintf("/data/f%03d.encrypted", i)
			win = append(win, e)
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "mass_modification")
		if !r.Triggered {
			t.Errorf("not triggered by %d moves", testBehavior.MassThreshold)
		}
	})
}

func TestEntropySpike(t *testing.T) {
	d := testDetectors()

	t.Run("delta exactly at threshold triggers", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.EntropyFiles; i++ {
			win = append(win, withEntropy(ev(model.KindModified, fmt.Sprintf("/d/f%d", i), time.Duration(i)*time.Second), 4.0, 6.0))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "entropy_spike")
		if !r.Triggered {
			t.Error("delta == threshold should trigger (inclusive semantics)")
		}
	})

	t.Run("delta just below threshold does not trigger", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < 10; i++ {
			win = append(win, withEntropy(ev(model.KindModified, fmt.Sprintf("/d/f%d", i), time.Duration(i)*time.Second), 4.0, 5.99))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "entropy_spike")
		if r.Triggered {
			t.Error("delta below threshold triggered")
		}
	})

	t.Run("last observation wins per path", func(t *testing.T) {
		// Spike then settle: the settled reading is the one that counts.
		var win []model.FileEvent
		for i := 0; i < 5; i++ {
			path := fmt.Sprintf("/d/f%d", i)
			win = append(win, withEntropy(ev(model.KindModified, path, time.Duration(2*i)*time.Second), 4.0, 7.9))
			win = append(win, withEntropy(ev(model.KindModified, path, time.Duration(2*i+1)*time.Second), 7.9, 7.9))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "entropy_spike")
		if r.Triggered {
			t.Error("triggered although every last observation was flat")
		}
	})

	t.Run("events without measurements are skipped", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < 10; i++ {
			win = append(win, ev(model.KindModified, fmt.Sprintf("/d/f%d", i), time.Duration(i)*time.Second))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "entropy_spike")
		if r.Triggered || r.Evidence.Count != 0 {
			t.Errorf("unmeasured events produced count %d", r.Evidence.Count)
		}
	})
}

func TestExtensionManipulation(t *testing.T) {
	d := testDetectors()

	t.Run("known-bad suffixes trigger", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.ExtensionThreshold; i++ {
			e := ev(model.KindExtensionChanged, fmt.Sprintf("/docs/report%d.docx", i), time.Duration(i)*time.Second)
			e.DestPath = fmt.Sprintf("/docs/report%d.docx.locked", i)
			win = append(win, e)
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "extension_manipulation")
		if !r.Triggered {
			t.Errorf("not triggered by %d .locked renames", testBehavior.ExtensionThreshold)
		}
	})

	t.Run("benign renames do not trigger", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < 10; i++ {
			e := ev(model.KindMoved, fmt.Sprintf("/docs/tmp%d.swp", i), time.Duration(i)*time.Second)
			e.DestPath = fmt.Sprintf("/docs/report%d.docx", i)
			win = append(win, e)
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "extension_manipulation")
		if r.Triggered {
			t.Error("triggered on benign rename targets")
		}
	})
}

func TestDirectoryTraversal(t *testing.T) {
	d := testDetectors()
	var win []model.FileEvent
	for i := 0; i < testBehavior.TraversalThreshold; i++ {
		win = append(win, ev(model.KindModified, fmt.Sprintf("/home/u/dir%d/file", i), time.Duration(i)*time.Second))
	}
	now := win[len(win)-1].Timestamp
	r := resultByName(t, d.Run(win, now, ProcMeta{}), "directory_traversal")
	if !r.Triggered {
		t.Errorf("not triggered across %d directories", r.Evidence.Count)
	}

	single := []model.FileEvent{
		ev(model.KindModified, "/home/u/dir0/a", 0),
		ev(model.KindModified, "/home/u/dir0/b", time.Second),
	}
	r = resultByName(t, d.Run(single, single[1].Timestamp, ProcMeta{}), "directory_traversal")
	if r.Triggered {
		t.Error("triggered inside a single directory")
	}
}

func TestSuspiciousProcess(t *testing.T) {
	d := testDetectors()
	now := t0

	tests := []struct {
		name string
		meta ProcMeta
		want bool
	}{
		{"temp executable", ProcMeta{Name: "helper", Exe: "/tmp/helper"}, true},
		{"downloads executable", ProcMeta{Name: "setup", Exe: "/home/u/Downloads/setup"}, true},
		{"fresh process", ProcMeta{Name: "svc", Exe: "/usr/bin/svc", Start: now.Add(-10 * time.Second)}, true},
		{"blacklisted name", ProcMeta{Name: "cryptolocker", Exe: "/opt/app/bin/x", Start: now.Add(-time.Hour)}, true},
		{"established system binary", ProcMeta{Name: "rsync", Exe: "/usr/bin/rsync", Start: now.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resultByName(t, d.Run(nil, now, tt.meta), "suspicious_process")
			if r.Triggered != tt.want {
				t.Errorf("triggered = %v, want %v (%s)", r.Triggered, tt.want, r.Evidence.Note)
			}
		})
	}
}

func TestDeletionPattern(t *testing.T) {
	d := testDetectors()

	t.Run("delete then bad-suffix create pairs", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.DeletionPairs; i++ {
			win = append(win, ev(model.KindDeleted, fmt.Sprintf("/docs/f%d.txt", i), time.Duration(2*i)*time.Second))
			win = append(win, ev(model.KindCreated, fmt.Sprintf("/docs/f%d.txt.enc", i), time.Duration(2*i+1)*time.Second))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "deletion_pattern")
		if !r.Triggered {
			t.Errorf("not triggered by %d pairs", r.Evidence.Count)
		}
	})

	t.Run("create before delete is not a pair", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < 5; i++ {
			win = append(win, ev(model.KindCreated, fmt.Sprintf("/docs/f%d.enc", i), time.Duration(i)*time.Second))
		}
		for i := 0; i < 5; i++ {
			win = append(win, ev(model.KindDeleted, fmt.Sprintf("/docs/f%d.txt", i), time.Duration(5+i)*time.Second))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "deletion_pattern")
		if r.Triggered {
			t.Error("ordering ignored: create-before-delete counted")
		}
	})

	t.Run("different directory does not pair", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < 5; i++ {
			win = append(win, ev(model.KindDeleted, fmt.Sprintf("/docs/f%d.txt", i), time.Duration(2*i)*time.Second))
			win = append(win, ev(model.KindCreated, fmt.Sprintf("/elsewhere/f%d.enc", i), time.Duration(2*i+1)*time.Second))
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "deletion_pattern")
		if r.Triggered {
			t.Error("cross-directory pairs counted")
		}
	})

	t.Run("moved into bad suffix counts as pair", func(t *testing.T) {
		var win []model.FileEvent
		for i := 0; i < testBehavior.DeletionPairs; i++ {
			e := ev(model.KindMoved, fmt.Sprintf("/docs/f%d.txt", i), time.Duration(i)*time.Second)
			e.DestPath = fmt.Sprintf("/docs/f%d.crypt", i)
			win = append(win, e)
		}
		now := win[len(win)-1].Timestamp
		r := resultByName(t, d.Run(win, now, ProcMeta{}), "deletion_pattern")
		if !r.Triggered {
			t.Errorf("moves not expanded into pairs, count = %d", r.Evidence.Count)
		}
	})
}

func TestWindowSnapshotDedupes(t *testing.T) {
	w := &processWindow{}
	base := ev(model.KindModified, "/d/f", 0)
	w.append(base)
	later := ev(model.KindModified, "/d/f", 100*time.Millisecond)
	w.append(later)
	other := ev(model.KindModified, "/d/g", 150*time.Millisecond)
	w.append(other)
	far := ev(model.KindModified, "/d/f", time.Second)
	w.append(far)

	snap := w.snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3 (burst duplicate collapsed)", len(snap))
	}
	// The collapsed slot keeps the later event of the burst.
	if !snap[0].Timestamp.Equal(later.Timestamp) {
		t.Errorf("kept %v, want the later duplicate %v", snap[0].Timestamp, later.Timestamp)
	}
}
