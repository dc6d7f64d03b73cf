package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

func plentyFree(string) (uint64, error) { return 10 << 30, nil }

func openTestStore(t *testing.T, free FreeBytesFunc) *EventStore {
	t.Helper()
	if free == nil {
		free = plentyFree
	}
	s, err := OpenEventStore(filepath.Join(t.TempDir(), "events.db"), 100, free)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEvent(path string, pid int32, kind model.EventKind, ts time.Time) model.FileEvent {
	return model.FileEvent{
		Timestamp: ts, Kind: kind, Path: path,
		PID: pid, Process: "proc", SizeBefore: -1, SizeAfter: 42,
	}
}

func TestAppendAndQueryEvents(t *testing.T) {
	s := openTestStore(t, nil)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := sampleEvent("/data/a", 100, model.KindModified, base.Add(time.Duration(i)*time.Second))
		if i%2 == 1 {
			ev = sampleEvent("/data/b", 200, model.KindCreated, base.Add(time.Duration(i)*time.Second))
		}
		id, err := s.AppendEvent(ev)
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	t.Run("newest first", func(t *testing.T) {
		events, err := s.QueryEvents(EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, 5)
		for i := 1; i < len(events); i++ {
			assert.False(t, events[i].Timestamp.After(events[i-1].Timestamp))
		}
	})

	t.Run("filter by pid", func(t *testing.T) {
		events, err := s.QueryEvents(EventFilter{PID: 200})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("filter by path and kind", func(t *testing.T) {
		events, err := s.QueryEvents(EventFilter{
			Paths: []string{"/data/a"},
			Kinds: []model.EventKind{model.KindModified},
		})
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("since and until", func(t *testing.T) {
		events, err := s.QueryEvents(EventFilter{
			Since: base.Add(time.Second),
			Until: base.Add(3 * time.Second),
		})
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("limit and offset", func(t *testing.T) {
		page1, err := s.QueryEvents(EventFilter{Limit: 2})
		require.NoError(t, err)
		page2, err := s.QueryEvents(EventFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page1, 2)
		require.Len(t, page2, 2)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})
}

func TestEventEntropyRoundTrip(t *testing.T) {
	s := openTestStore(t, nil)
	ev := sampleEvent("/data/enc", 300, model.KindModified, time.Now().UTC())
	prior, current := 4.5, 7.9
	ev.PriorEntropy, ev.Entropy = &prior, &current

	_, err := s.AppendEvent(ev)
	require.NoError(t, err)

	events, err := s.QueryEvents(EventFilter{Paths: []string{"/data/enc"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Entropy)
	require.NotNil(t, events[0].PriorEntropy)
	assert.InDelta(t, 7.9, *events[0].Entropy, 1e-9)
	delta, ok := events[0].EntropyDelta()
	require.True(t, ok)
	assert.InDelta(t, 3.4, delta, 1e-9)
}

func TestStoragePressure(t *testing.T) {
	free := uint64(10 << 30)
	s := openTestStore(t, func(string) (uint64, error) { return free, nil })

	_, err := s.AppendEvent(sampleEvent("/a", 1, model.KindCreated, time.Now()))
	require.NoError(t, err)
	assert.False(t, s.Degraded())

	free = 50 << 20 // 50 MB, below the 100 MB floor
	_, err = s.AppendEvent(sampleEvent("/b", 1, model.KindCreated, time.Now()))
	assert.ErrorIs(t, err, ErrStorageFull)
	assert.True(t, s.Degraded())

	// Threat appends are exempt from pressure.
	_, err = s.AppendThreat(model.ThreatRecord{
		Timestamp: time.Now().UTC(), PID: 1, Process: "p",
		Score: 90, Level: model.LevelCritical, Escalation: 4,
		Indicators: map[string]model.Evidence{},
	})
	assert.NoError(t, err)

	free = 10 << 30
	_, err = s.AppendEvent(sampleEvent("/c", 1, model.KindCreated, time.Now()))
	assert.NoError(t, err)
	assert.False(t, s.Degraded())
}

func TestThreatRoundTrip(t *testing.T) {
	s := openTestStore(t, nil)
	rec := model.ThreatRecord{
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		PID:       777, Process: "payload", Exe: "/tmp/payload",
		Score: 100, Level: model.LevelCritical, Escalation: 4,
		Indicators: map[string]model.Evidence{
			"entropy_spike": {Count: 25, Delta: 3.5, Paths: []string{"/d/a", "/d/b"}},
		},
		WindowPaths: []string{"/d/a", "/d/b"},
		Actions: []model.ActionResult{
			{Action: "suspend", Target: "pid:777", Success: true, Timestamp: time.Now().UTC()},
		},
	}
	id, err := s.AppendThreat(rec)
	require.NoError(t, err)

	threats, err := s.QueryThreats(ThreatFilter{PID: 777})
	require.NoError(t, err)
	require.Len(t, threats, 1)
	got := threats[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, rec.Score, got.Score)
	assert.Equal(t, rec.Level, got.Level)
	assert.Equal(t, rec.Indicators["entropy_spike"].Count, got.Indicators["entropy_spike"].Count)
	assert.Equal(t, rec.WindowPaths, got.WindowPaths)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "suspend", got.Actions[0].Action)
}

func TestQueryThreatsMinLevel(t *testing.T) {
	s := openTestStore(t, nil)
	for _, tc := range []struct {
		score int
		level model.ThreatLevel
	}{
		{20, model.LevelNormal},
		{45, model.LevelSuspicious},
		{60, model.LevelLikely},
		{95, model.LevelCritical},
	} {
		_, err := s.AppendThreat(model.ThreatRecord{
			Timestamp: time.Now().UTC(), PID: 1, Process: "p",
			Score: tc.score, Level: tc.level,
			Indicators: map[string]model.Evidence{},
		})
		require.NoError(t, err)
	}
	min := model.LevelLikely
	threats, err := s.QueryThreats(ThreatFilter{MinLevel: &min})
	require.NoError(t, err)
	assert.Len(t, threats, 2)
}

func TestVacuum(t *testing.T) {
	s := openTestStore(t, nil)
	_, err := s.AppendEvent(sampleEvent("/a", 1, model.KindCreated, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Vacuum())
}

func TestBaselineStore(t *testing.T) {
	s, err := OpenBaselineStore(filepath.Join(t.TempDir(), "baselines.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_, _, ok, err := s.Get("/d/f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("/d/f", 4.5, now))
	entropy, ts, ok, err := s.Get("/d/f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 4.5, entropy, 1e-9)
	assert.True(t, ts.Equal(now))

	// Overwrite on subsequent observation.
	require.NoError(t, s.Put("/d/f", 7.9, now.Add(time.Second)))
	entropy, _, ok, err = s.Get("/d/f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 7.9, entropy, 1e-9)

	t.Run("grace period sweep", func(t *testing.T) {
		require.NoError(t, s.MarkDeleted("/d/f", now.Add(2*time.Second)))

		// Inside the grace period the baseline survives.
		n, err := s.SweepDeleted(now.Add(time.Minute), 10*time.Minute)
		require.NoError(t, err)
		assert.Zero(t, n)
		_, _, ok, err := s.Get("/d/f")
		require.NoError(t, err)
		assert.True(t, ok)

		// Past the grace period it is gone.
		n, err = s.SweepDeleted(now.Add(time.Hour), 10*time.Minute)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		_, _, ok, err = s.Get("/d/f")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put clears deletion mark", func(t *testing.T) {
		require.NoError(t, s.Put("/d/g", 3.0, now))
		require.NoError(t, s.MarkDeleted("/d/g", now))
		require.NoError(t, s.Put("/d/g", 3.5, now.Add(time.Second)))
		n, err := s.SweepDeleted(now.Add(time.Hour), 10*time.Minute)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	require.NoError(t, s.Forget("/d/g"))
	_, _, ok, err = s.Get("/d/g")
	require.NoError(t, err)
	assert.False(t, ok)
}
