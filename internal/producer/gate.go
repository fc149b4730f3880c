// SPDX-License-Identifier: MIT
package producer

import (
	"encoding/binary"
	"math"
)

// Peak returns the largest absolute sample value in buf.
// Hot path: branchless abs and max, no allocations.
func Peak(buf []int16) int32 {
	var peak int32
	for _, s := range buf {
		sample := int32(s)
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - peak
		peak += (diff & (diff >> 31)) ^ diff
	}
	return peak
}

// gateLevel converts a 0.0-1.0 threshold into an absolute int16 amplitude.
// Zero disables the gate.
func gateLevel(threshold float64) int32 {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return int32(threshold * math.MaxInt16)
}

// gateOpen reports whether buf is loud enough to be analyzed.
func gateOpen(buf []int16, level int32) bool {
	if level <= 0 {
		return true
	}
	return Peak(buf) > level
}

// Downmix copies the first channel of interleaved PCM into dst and returns
// the filled prefix. dst must hold len(interleaved)/channels samples.
func Downmix(dst, interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		return interleaved
	}
	n := len(interleaved) / channels
	for i := range n {
		dst[i] = interleaved[i*channels]
	}
	return dst[:n]
}

// encodePCM writes samples as little-endian bytes into dst.
func encodePCM(dst []byte, samples []int16) []byte {
	dst = dst[:2*len(samples)]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(s))
	}
	return dst
}
