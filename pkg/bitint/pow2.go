// SPDX-License-Identifier: MIT

// Package bitint provides the power-of-two helpers used to size FFT
// transforms. All functions are allocation free and constant time.
//
// NextPowerOfTwo subtracts one before taking the bit length so that exact
// powers of two map to themselves: for 8 (0b1000), 8-1 = 7 (0b0111) has a
// bit length of 3 and 1<<3 = 8. Without the subtraction 8 would round up to 16.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Sizes <= 0
// return 1.
//
//	Input  Output
//	4      4
//	5      8
//	1000   1024
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has a single set bit, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
