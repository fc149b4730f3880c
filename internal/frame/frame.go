// SPDX-License-Identifier: MIT

// Package frame holds the data model shared by the producer, the store and
// every consumer: spectrogram frames, the pages that group them and the
// derived memory statistics.
//
// A Frame is immutable once the engine returns it. Consumers may share a
// Frame between goroutines without synchronization but must never write to
// its slices.
package frame

import (
	"fmt"
	"time"

	"spectro/pkg/bitint"
)

// Frame is one time-stamped frequency/magnitude snapshot.
type Frame struct {
	Timestamp   int64     `json:"timestamp"`   // Milliseconds; wall clock for live capture, chunk offset for files.
	Frequencies []float32 `json:"frequencies"` // Bin centre frequencies in Hz, non-decreasing.
	Magnitudes  []float32 `json:"magnitudes"`  // Bin magnitudes in dB.
	SampleRate  int       `json:"sampleRate"`
	FFTSize     int       `json:"fftSize"`
}

// Bins returns the number of frequency bins.
func (f Frame) Bins() int { return len(f.Magnitudes) }

// Validate checks the structural invariants every produced frame must hold.
func (f Frame) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if !bitint.IsPowerOfTwo(f.FFTSize) {
		return fmt.Errorf("fft size must be a power of 2, got %d", f.FFTSize)
	}
	if len(f.Frequencies) != len(f.Magnitudes) {
		return fmt.Errorf("frequency/magnitude length mismatch: %d != %d", len(f.Frequencies), len(f.Magnitudes))
	}
	if len(f.Magnitudes) != f.FFTSize/2 {
		return fmt.Errorf("expected %d bins for fft size %d, got %d", f.FFTSize/2, f.FFTSize, len(f.Magnitudes))
	}
	for i := 1; i < len(f.Frequencies); i++ {
		if f.Frequencies[i] < f.Frequencies[i-1] {
			return fmt.Errorf("frequencies decrease at bin %d", i)
		}
	}
	return nil
}

// Page is a fixed-size, time-ordered group of frames and the store's unit
// of eviction.
type Page struct {
	Index      int
	Frames     []Frame
	InsertedAt time.Time
}

// Span returns the first and last timestamps in the page.
func (p Page) Span() (first, last int64) {
	if len(p.Frames) == 0 {
		return 0, 0
	}
	return p.Frames[0].Timestamp, p.Frames[len(p.Frames)-1].Timestamp
}

// MemoryStats is a point-in-time view of the store's accounting. It is
// recomputed on demand and never persisted.
type MemoryStats struct {
	CurrentUsageBytes int64
	CapBytes          int64
	TotalFrames       int
	CachedPageCount   int
	MaxCachedPages    int
}

// UsageRatio returns CurrentUsageBytes / CapBytes, or 0 without a cap.
func (s MemoryStats) UsageRatio() float64 {
	if s.CapBytes <= 0 {
		return 0
	}
	return float64(s.CurrentUsageBytes) / float64(s.CapBytes)
}
