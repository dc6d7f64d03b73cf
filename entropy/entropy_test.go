package entropy

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestShannon(t *testing.T) {
	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}

	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"empty", nil, 0},
		{"single byte value", bytes.Repeat([]byte{0x41}, 1024), 0},
		{"two values equal split", append(bytes.Repeat([]byte{0}, 512), bytes.Repeat([]byte{1}, 512)...), 1},
		{"uniform 256 values", uniform, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Shannon(tt.data)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Shannon() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShannonRange(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	got := Shannon(data)
	if got < 0 || got > 8 {
		t.Fatalf("Shannon() = %v, out of [0, 8]", got)
	}
	if got == 0 {
		t.Fatal("mixed text should not measure zero")
	}
}

func TestMeasure(t *testing.T) {
	dir := t.TempDir()
	eng := New(1024, false, nil)

	t.Run("empty file measures zero", func(t *testing.T) {
		path := filepath.Join(dir, "empty")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		got, err := eng.Measure(path)
		if err != nil {
			t.Fatalf("Measure() error = %v", err)
		}
		if got != 0 {
			t.Errorf("Measure(empty) = %v, want 0", got)
		}
	})

	t.Run("file smaller than prefix measured entirely", func(t *testing.T) {
		path := filepath.Join(dir, "small")
		if err := os.WriteFile(path, []byte{0, 1, 0, 1}, 0600); err != nil {
			t.Fatal(err)
		}
		got, err := eng.Measure(path)
		if err != nil {
			t.Fatalf("Measure() error = %v", err)
		}
		if math.Abs(got-1) > 1e-9 {
			t.Errorf("Measure(small) = %v, want 1", got)
		}
	})

	t.Run("only the prefix is sampled", func(t *testing.T) {
		// Constant prefix followed by high-entropy tail: head-only sampling
		// must report 0.
		path := filepath.Join(dir, "prefixed")
		data := bytes.Repeat([]byte{0x7f}, 1024)
		for i := 0; i < 256; i++ {
			data = append(data, byte(i))
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}
		got, err := eng.Measure(path)
		if err != nil {
			t.Fatalf("Measure() error = %v", err)
		}
		if got != 0 {
			t.Errorf("Measure(prefixed) = %v, want 0 (head-only)", got)
		}
	})

	t.Run("vanished file returns error", func(t *testing.T) {
		_, err := eng.Measure(filepath.Join(dir, "missing"))
		if err == nil {
			t.Fatal("Measure(missing) error = nil, want error")
		}
	})
}
