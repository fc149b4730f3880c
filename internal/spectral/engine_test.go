// SPDX-License-Identifier: MIT
package spectral

import (
	"math"
	"sync"
	"testing"

	"spectro/internal/apperr"
	"spectro/internal/testsignal"
)

const (
	testSampleRate = 44100
	testChunk      = 2048
)

func TestAnalyzeFrameInvariants(t *testing.T) {
	engine := NewEngine()

	sizes := []struct {
		samples int
		fftSize int
	}{
		{2, 2},
		{100, 128},
		{2048, 2048},
		{3000, 4096},
	}

	for _, tt := range sizes {
		pcm := testsignal.PCM16(testsignal.Harmonics(tt.samples, testSampleRate))
		f, err := engine.Analyze(pcm, testSampleRate)
		if err != nil {
			t.Fatalf("Analyze(%d samples): %v", tt.samples, err)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("frame for %d samples invalid: %v", tt.samples, err)
		}
		if f.FFTSize != tt.fftSize {
			t.Errorf("%d samples: fft size %d, want %d", tt.samples, f.FFTSize, tt.fftSize)
		}
		for i, freq := range f.Frequencies {
			want := BinFrequency(i, testSampleRate, f.FFTSize)
			if math.Abs(float64(freq)-want) > 1e-3 {
				t.Fatalf("bin %d frequency %v, want %v", i, freq, want)
			}
		}
	}
}

func TestAnalyzeFindsTone(t *testing.T) {
	engine := NewEngine()
	const tone = 1000.0

	pcm := testsignal.PCM16(testsignal.Sine(testChunk, testSampleRate, tone, 0.8))
	f, err := engine.Analyze(pcm, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}

	peak := testsignal.PeakBin(f.Magnitudes, 1, f.Bins())
	resolution := float64(testSampleRate) / float64(f.FFTSize)
	if got := float64(f.Frequencies[peak]); math.Abs(got-tone) > resolution {
		t.Errorf("peak at %.1f Hz, want %.1f ± %.1f", got, tone, resolution)
	}
}

func TestAnalyzeSilenceIsFloor(t *testing.T) {
	engine := NewEngine()
	f, err := engine.Analyze(make([]byte, 2*512), testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range f.Magnitudes {
		if m != FloorDB {
			t.Fatalf("bin %d = %v, want floor %v", i, m, FloorDB)
		}
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	engine := NewEngine()
	pcm := testsignal.PCM16(testsignal.Harmonics(1500, testSampleRate))

	a, err := engine.Analyze(pcm, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEngine().Analyze(pcm, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Magnitudes {
		if a.Magnitudes[i] != b.Magnitudes[i] {
			t.Fatalf("bin %d differs: %v != %v", i, a.Magnitudes[i], b.Magnitudes[i])
		}
	}
}

func TestAnalyzeSamplesMatchesAnalyze(t *testing.T) {
	engine := NewEngine()
	samples := testsignal.Sine(1024, testSampleRate, 440, 0.5)

	a, err := engine.Analyze(testsignal.PCM16(samples), testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	b, err := engine.AnalyzeSamples(samples, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Magnitudes {
		if a.Magnitudes[i] != b.Magnitudes[i] {
			t.Fatalf("bin %d differs", i)
		}
	}
}

func TestAnalyzeErrors(t *testing.T) {
	engine := NewEngine()
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		want       apperr.Kind
	}{
		{"zero rate", make([]byte, 64), 0, apperr.InvalidAudioConfig},
		{"negative rate", make([]byte, 64), -1, apperr.InvalidAudioConfig},
		{"empty", nil, testSampleRate, apperr.EngineExecutionFailed},
		{"single sample", []byte{1, 0, 7}, testSampleRate, apperr.EngineExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Analyze(tt.pcm, tt.sampleRate)
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestAnalyzeConcurrent(t *testing.T) {
	engine := NewEngine()
	pcm := testsignal.PCM16(testsignal.Harmonics(testChunk, testSampleRate))
	want, err := engine.Analyze(pcm, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				got, err := engine.Analyze(pcm, testSampleRate)
				if err != nil {
					errs <- err.Error()
					return
				}
				if got.Magnitudes[10] != want.Magnitudes[10] {
					errs <- "concurrent result differs"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestHammingWindow(t *testing.T) {
	w := HammingWindow(64)
	if math.Abs(w[0]-0.08) > 0.01 || math.Abs(w[63]-0.08) > 0.01 {
		t.Errorf("edges = %.4f, %.4f; want ≈0.08", w[0], w[63])
	}
	for i := range 32 {
		if math.Abs(w[i]-w[63-i]) > 1e-12 {
			t.Fatalf("window not symmetric at %d", i)
		}
	}
	if len(HammingWindow(1)) != 1 {
		t.Error("single-point window should have one coefficient")
	}
}

func TestToDecibels(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, FloorDB},
		{-1, FloorDB},
		{1, 0},
		{10, 20},
		{1e-9, FloorDB},
	}
	for _, tt := range tests {
		if got := ToDecibels(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ToDecibels(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func BenchmarkAnalyze(b *testing.B) {
	engine := NewEngine()
	pcm := testsignal.PCM16(testsignal.Harmonics(testChunk, testSampleRate))

	b.ReportAllocs()
	for b.Loop() {
		_, _ = engine.Analyze(pcm, testSampleRate)
	}
}
