// SPDX-License-Identifier: MIT
package batch

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"spectro/internal/apperr"
	"spectro/internal/producer"
	"spectro/internal/render"
	"spectro/internal/spectral"
	"spectro/internal/testsignal"
)

func newGenerator() *SpectrogramGenerator {
	return &SpectrogramGenerator{
		Producer:  producer.New(spectral.NewEngine()),
		ChunkSize: 256,
		Render:    render.Options{Rows: 64},
	}
}

func TestArtifactName(t *testing.T) {
	tests := map[string]string{
		"/music/take1.wav": "take1.spectrogram.png",
		"song.final.mp3":   "song.final.spectrogram.png",
		"noext":            "noext.spectrogram.png",
		"/a/b/Loud.FLAC":   "Loud.spectrogram.png",
	}
	for in, want := range tests {
		if got := ArtifactName(in); got != want {
			t.Errorf("ArtifactName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateWAV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tone.wav")
	if err := testsignal.WriteWAV(in, testsignal.Sine(8000, 8000, 1000, 0.5), 8000, 1); err != nil {
		t.Fatal(err)
	}

	var fractions []float64
	out, err := newGenerator().Generate(context.Background(), in, filepath.Join(dir, "out"), func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != filepath.Join(dir, "out", "tone.spectrogram.png") {
		t.Errorf("artifact = %q", out)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("artifact is not a PNG: %v", err)
	}
	// 8000 samples in chunks of 256 is 32 frames, the last one padded.
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 64 {
		t.Errorf("bounds = %v", b)
	}
	if len(fractions) == 0 || fractions[len(fractions)-1] != 1 {
		t.Errorf("progress = %v", fractions)
	}
}

func TestGenerateNextToInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "stereo.wav")
	samples := testsignal.Interleave(testsignal.Sine(1000, 8000, 440, 0.5), 2)
	if err := testsignal.WriteWAV(in, samples, 8000, 2); err != nil {
		t.Fatal(err)
	}
	out, err := newGenerator().Generate(context.Background(), in, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(out) != dir {
		t.Errorf("artifact written to %q", out)
	}
}

func TestGenerateErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.wav")
	if err := testsignal.WriteWAV(empty, nil, 8000, 1); err != nil {
		t.Fatal(err)
	}
	large := filepath.Join(dir, "large.wav")
	if err := testsignal.WriteWAV(large, testsignal.Sine(4000, 8000, 440, 0.5), 8000, 1); err != nil {
		t.Fatal(err)
	}
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
		limit int64
		want  apperr.Kind
	}{
		{"missing", filepath.Join(dir, "missing.wav"), 0, apperr.InputNotFound},
		{"directory", dir, 0, apperr.InputUnsupportedFormat},
		{"unsupported extension", text, 0, apperr.InputUnsupportedFormat},
		{"no samples", empty, 0, apperr.InputUnsupportedFormat},
		{"too large", large, 1024, apperr.InputTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGenerator()
			g.MaxInputBytes = tt.limit
			_, err := g.Generate(context.Background(), tt.input, dir, nil)
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v (%v)", got, tt.want, err)
			}
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tone.wav")
	if err := testsignal.WriteWAV(in, testsignal.Sine(8000, 8000, 440, 0.5), 8000, 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newGenerator().Generate(ctx, in, dir, nil)
	if apperr.KindOf(err) != apperr.Cancelled {
		t.Errorf("kind = %v, want Cancelled", apperr.KindOf(err))
	}
	if _, err := os.Stat(filepath.Join(dir, ArtifactName(in))); !os.IsNotExist(err) {
		t.Error("cancelled generation left an artifact")
	}
}
