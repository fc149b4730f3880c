// SPDX-License-Identifier: MIT
package testsignal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestPCM16LittleEndian(t *testing.T) {
	got := PCM16([]int16{1, -1, 0x1234})
	want := []byte{0x01, 0x00, 0xff, 0xff, 0x34, 0x12}
	if string(got) != string(want) {
		t.Errorf("PCM16 = %x, want %x", got, want)
	}
}

func TestInterleave(t *testing.T) {
	got := Interleave([]int16{1, 2}, 3)
	want := []int16{1, 1, 1, 2, 2, 2}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPeakBin(t *testing.T) {
	mags := []float32{0, 1, 5, 2, 9, 3}
	tests := []struct {
		name       string
		start, end int
		want       int
	}{
		{"full range", 0, 6, 4},
		{"sub range", 0, 4, 2},
		{"clamped", -3, 100, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeakBin(mags, tt.start, tt.end); got != tt.want {
				t.Errorf("PeakBin(%d, %d) = %d, want %d", tt.start, tt.end, got, tt.want)
			}
		})
	}
	if PeakBin(nil, 0, 1) != 0 {
		t.Error("PeakBin(nil) should be 0")
	}
}

func TestWriteWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := Sine(4410, 44100, 440, 0.5)
	if err := WriteWAV(path, samples, 44100, 1); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("written file is not a valid WAV")
	}
	if dec.SampleRate != 44100 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("format = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if len(buf.Data) != len(samples) {
		t.Errorf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
}
