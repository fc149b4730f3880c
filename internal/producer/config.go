// SPDX-License-Identifier: MIT
package producer

import (
	"fmt"

	"spectro/internal/apperr"
)

// Buffer policy defaults, in samples per channel.
const (
	DefaultMinBuffer        = 2048
	DefaultMaxBuffer        = 16384
	DefaultBufferMultiplier = 4
)

// SampleFormat names the PCM encoding handed to the engine.
type SampleFormat string

// FormatS16LE is signed 16-bit little-endian PCM, the only format the
// engine accepts.
const FormatS16LE SampleFormat = "s16le"

const bytesPerSample = 2

// AudioConfig describes one capture session. It is derived once during
// initialization and never changes while the session runs.
type AudioConfig struct {
	SampleRate      int
	Channels        int
	SampleFormat    SampleFormat
	BufferSizeBytes int
}

// FramesPerBuffer returns the number of samples per channel that fit in
// one capture buffer.
func (c AudioConfig) FramesPerBuffer() int {
	if c.Channels <= 0 {
		return 0
	}
	return c.BufferSizeBytes / (bytesPerSample * c.Channels)
}

// Validate reports an InvalidAudioConfig error for unusable settings.
// BufferSizeBytes may be zero before the buffer policy has been applied.
func (c AudioConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return apperr.New(apperr.InvalidAudioConfig, "validate audio config",
			fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	case c.Channels <= 0:
		return apperr.New(apperr.InvalidAudioConfig, "validate audio config",
			fmt.Errorf("channels must be positive, got %d", c.Channels))
	case c.BufferSizeBytes < 0:
		return apperr.New(apperr.InvalidAudioConfig, "validate audio config",
			fmt.Errorf("buffer size must not be negative, got %d", c.BufferSizeBytes))
	case c.SampleFormat != "" && c.SampleFormat != FormatS16LE:
		return apperr.New(apperr.InvalidAudioConfig, "validate audio config",
			fmt.Errorf("unsupported sample format %q", c.SampleFormat))
	}
	return nil
}

// BufferPolicy turns the platform-reported minimum capture buffer into the
// size the producer actually reads.
type BufferPolicy struct {
	Min        int
	Max        int
	Multiplier int
}

// DefaultBufferPolicy returns the 2048/16384/x4 policy.
func DefaultBufferPolicy() BufferPolicy {
	return BufferPolicy{
		Min:        DefaultMinBuffer,
		Max:        DefaultMaxBuffer,
		Multiplier: DefaultBufferMultiplier,
	}
}

// Effective returns the capture buffer size for a platform minimum m.
// Values at or below zero and values under Min use Min; values over Max
// use Max; anything in between is scaled by Multiplier.
func (p BufferPolicy) Effective(m int) int {
	switch {
	case m <= 0, m < p.Min:
		return p.Min
	case m > p.Max:
		return p.Max
	default:
		return m * p.Multiplier
	}
}

// Validate checks the policy bounds.
func (p BufferPolicy) Validate() error {
	if p.Min <= 0 || p.Max < p.Min || p.Multiplier < 1 {
		return apperr.New(apperr.InvalidAudioConfig, "validate buffer policy",
			fmt.Errorf("invalid buffer policy min=%d max=%d multiplier=%d", p.Min, p.Max, p.Multiplier))
	}
	return nil
}
