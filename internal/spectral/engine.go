// SPDX-License-Identifier: MIT

// Package spectral turns PCM chunks into spectrogram frames.
//
// The same engine serves live capture and file analysis: each chunk is
// Hamming-windowed, zero-padded to the next power of two, transformed with a
// real FFT and reduced to the magnitudes of the non-negative frequency half
// in decibels. Identical input always yields an identical frame.
package spectral

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"spectro/internal/apperr"
	"spectro/internal/frame"
	"spectro/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// FloorDB is reported for bins whose magnitude is zero.
const FloorDB = -100.0

// MinChunkSamples is the shortest chunk the engine accepts; a window needs
// at least two points.
const MinChunkSamples = 2

// Analyzer is the engine contract consumed by the producer.
type Analyzer interface {
	// Analyze converts a chunk of signed 16-bit little-endian mono PCM into
	// a frame. The returned frame's Timestamp is left zero for the caller.
	Analyze(pcm []byte, sampleRate int) (frame.Frame, error)
}

// fftWorkspace holds the buffers for one transform size. A workspace is
// used by a single goroutine at a time; the pool hands them out.
type fftWorkspace struct {
	fft       *fourier.FFT
	input     []float64    // Windowed, zero-padded input.
	fftOutput []complex128 // N/2+1 complex coefficients.
	samples   []int16      // Decoded PCM scratch.
}

// Engine is a reusable, concurrency-safe Analyzer.
type Engine struct {
	mu         sync.Mutex
	workspaces map[int]*sync.Pool   // keyed by fft size
	windows    map[int][]float64    // keyed by chunk length, read-only once built
	freqs      map[[2]int][]float32 // keyed by {fftSize, sampleRate}, read-only once built
}

// Compile-time check for interface implementation.
var _ Analyzer = (*Engine)(nil)

// NewEngine returns an Engine with empty caches.
func NewEngine() *Engine {
	return &Engine{
		workspaces: make(map[int]*sync.Pool),
		windows:    make(map[int][]float64),
		freqs:      make(map[[2]int][]float32),
	}
}

// Analyze implements Analyzer. A trailing odd byte is ignored.
func (e *Engine) Analyze(pcm []byte, sampleRate int) (frame.Frame, error) {
	if sampleRate <= 0 {
		return frame.Frame{}, apperr.New(apperr.InvalidAudioConfig, "analyze",
			fmt.Errorf("sample rate must be positive, got %d", sampleRate))
	}
	n := len(pcm) / 2
	if n < MinChunkSamples {
		return frame.Frame{}, apperr.New(apperr.EngineExecutionFailed, "analyze",
			fmt.Errorf("chunk has %d samples, need at least %d", n, MinChunkSamples))
	}

	fftSize := bitint.NextPowerOfTwo(n)
	ws := e.workspace(fftSize)
	defer e.release(fftSize, ws)

	if cap(ws.samples) < n {
		ws.samples = make([]int16, n)
	}
	samples := ws.samples[:n]
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return e.transform(ws, samples, sampleRate), nil
}

// AnalyzeSamples is Analyze for callers that already hold decoded samples.
func (e *Engine) AnalyzeSamples(samples []int16, sampleRate int) (frame.Frame, error) {
	if sampleRate <= 0 {
		return frame.Frame{}, apperr.New(apperr.InvalidAudioConfig, "analyze",
			fmt.Errorf("sample rate must be positive, got %d", sampleRate))
	}
	if len(samples) < MinChunkSamples {
		return frame.Frame{}, apperr.New(apperr.EngineExecutionFailed, "analyze",
			fmt.Errorf("chunk has %d samples, need at least %d", len(samples), MinChunkSamples))
	}
	fftSize := bitint.NextPowerOfTwo(len(samples))
	ws := e.workspace(fftSize)
	defer e.release(fftSize, ws)
	return e.transform(ws, samples, sampleRate), nil
}

// transform windows, pads, transforms and converts to dB. The returned
// frame owns freshly allocated magnitude storage.
func (e *Engine) transform(ws *fftWorkspace, samples []int16, sampleRate int) frame.Frame {
	fftSize := len(ws.input)
	coeffs := e.window(len(samples))

	// Normalize int16 to [-1.0, 1.0) and zero-pad up to fftSize.
	const normFactor = 1.0 / 32768.0
	for i := range ws.input {
		if i < len(samples) {
			ws.input[i] = float64(samples[i]) * normFactor * coeffs[i]
		} else {
			ws.input[i] = 0
		}
	}

	ws.fft.Coefficients(ws.fftOutput, ws.input)

	// Keep N/2 bins; the Nyquist coefficient is dropped.
	bins := fftSize / 2
	magnitudes := make([]float32, bins)
	for i := range magnitudes {
		magnitudes[i] = float32(ToDecibels(cmplx.Abs(ws.fftOutput[i])))
	}

	return frame.Frame{
		Frequencies: e.frequencies(fftSize, sampleRate),
		Magnitudes:  magnitudes,
		SampleRate:  sampleRate,
		FFTSize:     fftSize,
	}
}

// ToDecibels converts a linear magnitude to dB, clamping non-positive
// values to FloorDB.
func ToDecibels(v float64) float64 {
	if v <= 0 {
		return FloorDB
	}
	db := 20 * math.Log10(v)
	if db < FloorDB {
		return FloorDB
	}
	return db
}

// BinFrequency returns the centre frequency of bin i.
func BinFrequency(i, sampleRate, fftSize int) float64 {
	return float64(i) * float64(sampleRate) / float64(fftSize)
}

func (e *Engine) workspace(fftSize int) *fftWorkspace {
	e.mu.Lock()
	pool, ok := e.workspaces[fftSize]
	if !ok {
		pool = &sync.Pool{New: func() any {
			return &fftWorkspace{
				fft:       fourier.NewFFT(fftSize),
				input:     make([]float64, fftSize),
				fftOutput: make([]complex128, fftSize/2+1),
			}
		}}
		e.workspaces[fftSize] = pool
	}
	e.mu.Unlock()
	return pool.Get().(*fftWorkspace)
}

func (e *Engine) release(fftSize int, ws *fftWorkspace) {
	e.mu.Lock()
	pool := e.workspaces[fftSize]
	e.mu.Unlock()
	pool.Put(ws)
}

// window returns Hamming coefficients for a chunk of n samples.
func (e *Engine) window(n int) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.windows[n]; ok {
		return w
	}
	w := HammingWindow(n)
	e.windows[n] = w
	return w
}

// frequencies returns the shared, read-only bin frequency table.
func (e *Engine) frequencies(fftSize, sampleRate int) []float32 {
	key := [2]int{fftSize, sampleRate}
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.freqs[key]; ok {
		return f
	}
	f := make([]float32, fftSize/2)
	for i := range f {
		f[i] = float32(BinFrequency(i, sampleRate, fftSize))
	}
	e.freqs[key] = f
	return f
}

// HammingWindow returns n Hamming coefficients,
// w[i] = 0.54 - 0.46*cos(2πi/(n-1)).
func HammingWindow(n int) []float64 {
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	if n < 2 {
		return coeffs
	}
	return window.Hamming(coeffs)
}
