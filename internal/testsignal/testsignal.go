// SPDX-License-Identifier: MIT

// Package testsignal generates deterministic PCM for tests: pure tones,
// harmonic mixes and small WAV files on disk.
package testsignal

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Sine returns n mono 16-bit samples of a tone at frequency Hz scaled to
// amplitude (0..1 of full scale).
func Sine(n, sampleRate int, frequency, amplitude float64) []int16 {
	buffer := make([]int16, n)
	for i := range buffer {
		t := float64(i) / float64(sampleRate)
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * math.MaxInt16 * amplitude)
	}
	return buffer
}

// Harmonics returns a 440Hz fundamental plus two harmonics.
func Harmonics(n, sampleRate int) []int16 {
	buffer := make([]int16, n)
	for i := range buffer {
		tm := float64(i) / float64(sampleRate)
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int16(signal * math.MaxInt16 * 0.9)
	}
	return buffer
}

// PCM16 encodes samples as signed 16-bit little-endian bytes.
func PCM16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Interleave duplicates mono samples across channels.
func Interleave(mono []int16, channels int) []int16 {
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := range channels {
			out[i*channels+c] = s
		}
	}
	return out
}

// WriteWAV writes interleaved 16-bit samples to a PCM WAV file.
func WriteWAV(path string, samples []int16, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// PeakBin returns the index of the largest value in magnitudes[start:end].
func PeakBin(magnitudes []float32, start, end int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if start < 0 {
		start = 0
	}
	if end > len(magnitudes) {
		end = len(magnitudes)
	}
	peak := start
	for i := start + 1; i < end; i++ {
		if magnitudes[i] > magnitudes[peak] {
			peak = i
		}
	}
	return peak
}
