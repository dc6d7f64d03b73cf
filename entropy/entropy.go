// Package entropy measures Shannon entropy over file prefixes and remembers
// per-path baselines so the analyzer can see encryption-shaped jumps.
package entropy

import (
	"io"
	"math"
	"os"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/store"
)

// DefaultPrefixBytes is how much of a file is sampled per measurement.
const DefaultPrefixBytes = 1024

// Engine computes entropy readings and owns the baseline store handle.
type Engine struct {
	prefix     int
	sampleTail bool
	baselines  *store.BaselineStore
}

// New creates an engine. prefix <= 0 selects DefaultPrefixBytes.
func New(prefix int, sampleTail bool, baselines *store.BaselineStore) *Engine {
	if prefix <= 0 {
		prefix = DefaultPrefixBytes
	}
	return &Engine{prefix: prefix, sampleTail: sampleTail, baselines: baselines}
}

// Measure reads up to the configured prefix of path and returns its Shannon
// entropy in bits per byte, in [0, 8]. Files smaller than the prefix are
// measured entirely; empty files measure 0. Read errors (vanished, locked,
// permission) are returned as-is — callers treat them as "no measurement",
// never as a fault.
func (e *Engine) Measure(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, e.prefix)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	sample := buf[:n]

	if e.sampleTail && n == e.prefix {
		if info, err := f.Stat(); err == nil && info.Size() > int64(2*e.prefix) {
			tail := make([]byte, e.prefix)
			if m, err := f.ReadAt(tail, info.Size()-int64(e.prefix)); m > 0 && (err == nil || err == io.EOF) {
				sample = append(sample, tail[:m]...)
			}
		}
	}
	return Shannon(sample), nil
}

// Shannon computes H = -sum(p_i * log2 p_i) over byte frequencies, clamped
// to [0, 8]. An empty sample measures 0.
func Shannon(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	total := float64(len(data))
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	if h < 0 {
		h = 0
	}
	if h > 8 {
		h = 8
	}
	return h
}

// Baseline returns the prior reading for path, if one is stored.
func (e *Engine) Baseline(path string) (prior float64, ts time.Time, ok bool) {
	prior, ts, ok, err := e.baselines.Get(path)
	if err != nil {
		return 0, time.Time{}, false
	}
	return prior, ts, ok
}

// UpdateBaseline records the latest observation for path.
func (e *Engine) UpdateBaseline(path string, entropy float64, ts time.Time) {
	_ = e.baselines.Put(path, entropy, ts)
}

// MarkDeleted flags path for grace-period cleanup after its file is deleted.
func (e *Engine) MarkDeleted(path string, at time.Time) {
	_ = e.baselines.MarkDeleted(path, at)
}

// Forget drops the baseline for path immediately.
func (e *Engine) Forget(path string) {
	_ = e.baselines.Forget(path)
}
