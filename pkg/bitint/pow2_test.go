// SPDX-License-Identifier: MIT
package bitint

import (
	"fmt"
	"testing"
)

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct {
		n        int
		expected int
	}{
		{-10, 1},       // Negative number
		{0, 1},         // Zero
		{1, 1},         // Smallest power
		{2, 2},         // Already power of two
		{3, 4},         // Small non-power
		{1000, 1024},   // Typical chunk
		{2048, 2048},   // Policy floor
		{20000, 32768}, // Above the capture ceiling
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d→%d", tt.n, tt.expected), func(t *testing.T) {
			if got := NextPowerOfTwo(tt.n); got != tt.expected {
				t.Errorf("NextPowerOfTwo(%d) = %d, expected %d", tt.n, got, tt.expected)
			}
		})
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		n        int
		expected bool
	}{
		{-8, false},
		{0, false},
		{1, true},
		{7, false},
		{8, true},
		{16384, true},
		{20000, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			if got := IsPowerOfTwo(tt.n); got != tt.expected {
				t.Errorf("IsPowerOfTwo(%d) = %v, expected %v", tt.n, got, tt.expected)
			}
		})
	}
}

func TestPowerOfTwoNoAllocs(t *testing.T) {
	allocs := testing.AllocsPerRun(100, func() {
		_ = NextPowerOfTwo(1000)
		_ = IsPowerOfTwo(1024)
	})
	if allocs > 0 {
		t.Errorf("expected zero allocations, got %.1f", allocs)
	}
}
