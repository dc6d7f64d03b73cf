package engine

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/config"
	"github.com/NickEvans4130/Ransomware-Detection-System/model"
	"github.com/NickEvans4130/Ransomware-Detection-System/util"
)

// Detector weights. The sum is 120, deliberately over 100, so that three
// strong indicators are enough to cross the action threshold.
const (
	weightMassModification  = 25
	weightEntropySpike      = 30
	weightExtensionManip    = 25
	weightDirTraversal      = 10
	weightSuspiciousProcess = 10
	weightDeletionPattern   = 20
)

// evidencePathCap bounds the paths carried in a single evidence bundle.
const evidencePathCap = 16

// newProcessAge is the executable age below which a process counts as newly
// created for the SuspiciousProcess detector.
const newProcessAge = 60 * time.Second

// ProcMeta is the process identity a detector may consult. Detectors stay
// pure: everything they look at arrives through their arguments.
type ProcMeta struct {
	Name  string
	Exe   string
	Start time.Time
}

// DetectorSet evaluates the six pattern detectors over a window snapshot.
type DetectorSet struct {
	massThreshold int
	massWindow    time.Duration
	entropyFiles  int
	entropyDelta  float64
	extThreshold  int
	travThreshold int
	deletionPairs int
	badSuffixes   []string
	suspectRoots  []string
	suspectNameRE *regexp.Regexp
}

// NewDetectorSet builds a detector set from behavior and entropy settings.
func NewDetectorSet(b config.BehaviorConfig, entropyDelta float64) *DetectorSet {
	var re *regexp.Regexp
	if b.SuspiciousNameRegex != "" {
		// Validated at config load; a failure here means no name matching.
		re, _ = regexp.Compile(b.SuspiciousNameRegex)
	}
	return &DetectorSet{
		massThreshold: b.MassThreshold,
		massWindow:    time.Duration(b.MassWindowSeconds) * time.Second,
		entropyFiles:  b.EntropyFiles,
		entropyDelta:  entropyDelta,
		extThreshold:  b.ExtensionThreshold,
		travThreshold: b.TraversalThreshold,
		deletionPairs: b.DeletionPairs,
		badSuffixes:   b.BadSuffixes,
		suspectRoots:  b.SuspiciousRoots,
		suspectNameRE: re,
	}
}

// Run evaluates every detector against the window snapshot and the newest
// event. now is the evaluation reference point (the new event's timestamp).
func (d *DetectorSet) Run(win []model.FileEvent, now time.Time, meta ProcMeta) []model.DetectorResult {
	return []model.DetectorResult{
		d.massModification(win, now),
		d.entropySpike(win),
		d.extensionManipulation(win),
		d.directoryTraversal(win, now),
		d.suspiciousProcess(meta, now),
		d.deletionPattern(win, now),
	}
}

// expandMoves rewrites Moved events (and ExtensionChanged, which is a Moved
// whose directory and stem are unchanged) as a Delete of the source plus a
// Create of the destination, which is how MassModification and
// DeletionPattern see them.
func expandMoves(win []model.FileEvent) []model.FileEvent {
	out := make([]model.FileEvent, 0, len(win))
	for _, ev := range win {
		if (ev.Kind == model.KindMoved || ev.Kind == model.KindExtensionChanged) && ev.DestPath != "" {
			del := ev
			del.Kind = model.KindDeleted
			del.DestPath = ""
			cre := ev
			cre.Kind = model.KindCreated
			cre.Path = ev.DestPath
			cre.DestPath = ""
			out = append(out, del, cre)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (d *DetectorSet) hasBadSuffix(path string) bool {
	for _, s := range d.badSuffixes {
		if util.HasSuffixFold(path, s) {
			return true
		}
	}
	return false
}

// massModification fires when the process writes to at least N distinct
// paths within the mass window.
func (d *DetectorSet) massModification(win []model.FileEvent, now time.Time) model.DetectorResult {
	res := model.DetectorResult{Name: "mass_modification", Weight: weightMassModification}
	cutoff := now.Add(-d.massWindow)
	seen := make(map[string]struct{})
	for _, ev := range expandMoves(win) {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		switch ev.Kind {
		case model.KindCreated, model.KindModified:
			seen[ev.Path] = struct{}{}
		}
	}
	res.Evidence.Count = len(seen)
	if len(seen) >= d.massThreshold {
		res.Triggered = true
		res.Evidence.Paths = samplePaths(seen)
	}
	return res
}

// entropySpike fires when at least K distinct files show a baseline-to-now
// entropy jump of at least the threshold. A delta exactly at the threshold
// triggers.
func (d *DetectorSet) entropySpike(win []model.FileEvent) model.DetectorResult {
	res := model.DetectorResult{Name: "entropy_spike", Weight: weightEntropySpike}
	lastDelta := make(map[string]float64)
	for _, ev := range win {
		if delta, ok := ev.EntropyDelta(); ok {
			lastDelta[ev.EffectivePath()] = delta
		}
	}
	spiked := make(map[string]struct{})
	var maxDelta float64
	for path, delta := range lastDelta {
		if delta >= d.entropyDelta {
			spiked[path] = struct{}{}
			if delta > maxDelta {
				maxDelta = delta
			}
		}
	}
	res.Evidence.Count = len(spiked)
	if len(spiked) >= d.entropyFiles {
		res.Triggered = true
		res.Evidence.Delta = maxDelta
		res.Evidence.Paths = samplePaths(spiked)
	}
	return res
}

// extensionManipulation fires on repeated renames into the known-bad suffix
// set.
func (d *DetectorSet) extensionManipulation(win []model.FileEvent) model.DetectorResult {
	res := model.DetectorResult{Name: "extension_manipulation", Weight: weightExtensionManip}
	hits := make(map[string]struct{})
	for _, ev := range win {
		if ev.Kind != model.KindMoved && ev.Kind != model.KindExtensionChanged {
			continue
		}
		if ev.DestPath != "" && d.hasBadSuffix(ev.DestPath) {
			hits[ev.DestPath] = struct{}{}
		}
	}
	res.Evidence.Count = len(hits)
	if len(hits) >= d.extThreshold {
		res.Triggered = true
		res.Evidence.Paths = samplePaths(hits)
	}
	return res
}

// directoryTraversal fires when events touch many distinct parent
// directories within the mass window.
func (d *DetectorSet) directoryTraversal(win []model.FileEvent, now time.Time) model.DetectorResult {
	res := model.DetectorResult{Name: "directory_traversal", Weight: weightDirTraversal}
	cutoff := now.Add(-d.massWindow)
	dirs := make(map[string]struct{})
	for _, ev := range win {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		dirs[ev.Dir()] = struct{}{}
	}
	res.Evidence.Count = len(dirs)
	if len(dirs) >= d.travThreshold {
		res.Triggered = true
		res.Evidence.Paths = samplePaths(dirs)
	}
	return res
}

// suspiciousProcess fires on identity alone: an executable in a staging
// location, a process younger than a minute, or a blacklisted name.
func (d *DetectorSet) suspiciousProcess(meta ProcMeta, now time.Time) model.DetectorResult {
	res := model.DetectorResult{Name: "suspicious_process", Weight: weightSuspiciousProcess}
	exe := meta.Exe
	for _, root := range d.suspectRoots {
		if root != "" && strings.Contains(exe, root) {
			res.Triggered = true
			res.Evidence.Note = "executable under " + root
			return res
		}
	}
	if !meta.Start.IsZero() && now.Sub(meta.Start) < newProcessAge {
		res.Triggered = true
		res.Evidence.Note = "process started " + now.Sub(meta.Start).Truncate(time.Second).String() + " ago"
		return res
	}
	if d.suspectNameRE != nil && meta.Name != "" && d.suspectNameRE.MatchString(meta.Name) {
		res.Triggered = true
		res.Evidence.Note = "name matches blacklist"
		return res
	}
	return res
}

// deletionPattern fires on repeated delete-then-create pairs where the
// replacement lands in the same directory under a known-bad suffix.
func (d *DetectorSet) deletionPattern(win []model.FileEvent, now time.Time) model.DetectorResult {
	res := model.DetectorResult{Name: "deletion_pattern", Weight: weightDeletionPattern}
	cutoff := now.Add(-d.massWindow)
	expanded := expandMoves(win)

	type create struct {
		ev   model.FileEvent
		used bool
	}
	var creates []*create
	for i := range expanded {
		ev := expanded[i]
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if ev.Kind == model.KindCreated && d.hasBadSuffix(ev.Path) {
			creates = append(creates, &create{ev: ev})
		}
	}

	pairs := 0
	var paths []string
	for _, ev := range expanded {
		if ev.Kind != model.KindDeleted || ev.Timestamp.Before(cutoff) {
			continue
		}
		for _, c := range creates {
			if c.used || c.ev.Timestamp.Before(ev.Timestamp) {
				continue
			}
			if util.SameDir(ev.Path, c.ev.Path) {
				c.used = true
				pairs++
				if len(paths) < evidencePathCap {
					paths = append(paths, c.ev.Path)
				}
				break
			}
		}
	}
	res.Evidence.Count = pairs
	if pairs >= d.deletionPairs {
		res.Triggered = true
		res.Evidence.Paths = paths
	}
	return res
}

func samplePaths(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	if len(out) > evidencePathCap {
		out = out[:evidencePathCap]
	}
	return out
}
