// SPDX-License-Identifier: MIT
package render

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"spectro/internal/apperr"
	"spectro/internal/frame"
)

func toneFrame(bins, peak int) frame.Frame {
	f := frame.Frame{
		SampleRate:  8000,
		FFTSize:     2 * bins,
		Frequencies: make([]float32, bins),
		Magnitudes:  make([]float32, bins),
	}
	for i := range bins {
		f.Frequencies[i] = float32(i * 8000 / (2 * bins))
		f.Magnitudes[i] = -100
	}
	f.Magnitudes[peak] = 40
	return f
}

func TestSpectrogramColumns(t *testing.T) {
	s := NewSpectrogram(Options{Rows: 16, MaxColumns: 8})
	for range 5 {
		s.Add(toneFrame(64, 10))
	}
	if s.Columns() != 5 {
		t.Fatalf("columns = %d, want 5", s.Columns())
	}

	img := s.Image()
	if b := img.Bounds(); b.Dx() != 5 || b.Dy() != 16 {
		t.Fatalf("image bounds = %v", b)
	}
	// Bin 10 of 64 lands in row 2, drawn at y = 16-1-2.
	hot := img.NRGBAAt(0, 13)
	cold := img.NRGBAAt(0, 0)
	if hot == cold {
		t.Error("peak row should differ from the floor colour")
	}
	if cold != Ramp(0) {
		t.Errorf("floor colour = %v, want %v", cold, Ramp(0))
	}
}

func TestSpectrogramStaysBounded(t *testing.T) {
	s := NewSpectrogram(Options{Rows: 8, MaxColumns: 10})
	for i := range 1000 {
		s.Add(toneFrame(32, i%32))
		if s.Columns() > 10 {
			t.Fatalf("columns grew to %d after %d frames", s.Columns(), i+1)
		}
	}
	if s.Columns() < 5 {
		t.Errorf("columns collapsed to %d", s.Columns())
	}
	// Every frame is accounted for: full columns plus the partial last one.
	total := (s.Columns()-1)*s.perColumn + s.filled
	if total != 1000 {
		t.Errorf("canvas holds %d frames, want 1000", total)
	}
}

func TestSpectrogramFewBins(t *testing.T) {
	s := NewSpectrogram(Options{Rows: 16})
	s.Add(toneFrame(4, 3))
	img := s.Image()
	// The top bin covers the top quarter of the rows.
	if img.NRGBAAt(0, 0) != Ramp((40-DefaultMinDB)/(DefaultMaxDB-DefaultMinDB)) {
		t.Errorf("top row not painted by the top bin: %v", img.NRGBAAt(0, 0))
	}
}

func TestWritePNG(t *testing.T) {
	s := NewSpectrogram(Options{Rows: 32})
	for range 20 {
		s.Add(toneFrame(128, 40))
	}
	path := filepath.Join(t.TempDir(), "tone.spectrogram.png")
	if err := s.WritePNG(path); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("artifact is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 32 {
		t.Errorf("bounds = %v", b)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestWritePNGMissingDir(t *testing.T) {
	s := NewSpectrogram(Options{})
	err := s.WritePNG(filepath.Join(t.TempDir(), "missing", "x.png"))
	if apperr.KindOf(err) != apperr.FilesystemError {
		t.Errorf("kind = %v, want FilesystemError", apperr.KindOf(err))
	}
}

func TestRamp(t *testing.T) {
	if Ramp(-1) != Ramp(0) || Ramp(2) != Ramp(1) {
		t.Error("Ramp should clamp")
	}
	prev := -1
	for i := 0; i <= 100; i++ {
		c := Ramp(float64(i) / 100)
		lum := int(c.R) + int(c.G) + int(c.B)
		if lum < prev {
			t.Fatalf("ramp brightness decreases at %d%%", i)
		}
		prev = lum
	}
}
