// SPDX-License-Identifier: MIT

// Package transport delivers live frames to consumers outside the process.
package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"spectro/internal/frame"
	"spectro/internal/log"
)

// Sink receives every frame the producer emits. Implementations must be
// safe for concurrent use and must not block the caller for long; slow
// consumers drop frames rather than stall capture.
type Sink interface {
	Publish(f frame.Frame) error
	Close() error
}

// Fanout publishes each frame to every sink in order. A failing sink does
// not stop delivery to the others.
type Fanout []Sink

// Compile-time check for interface implementation.
var _ Sink = Fanout(nil)

// Publish implements Sink, joining the errors of every failing sink.
func (fo Fanout) Publish(f frame.Frame) error {
	var errs []error
	for _, s := range fo {
		if err := s.Publish(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (fo Fanout) Close() error {
	var errs []error
	for _, s := range fo {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink logs a summary of every Nth frame at debug level.
type LogSink struct {
	Every int // Defaults to 1.

	count  atomic.Int64
	logger *log.Logger
	once   sync.Once
}

// Compile-time check for interface implementation.
var _ Sink = (*LogSink)(nil)

// Publish implements Sink.
func (s *LogSink) Publish(f frame.Frame) error {
	s.once.Do(func() { s.logger = log.New("Frames") })
	n := s.count.Add(1)
	every := int64(max(1, s.Every))
	if (n-1)%every != 0 {
		return nil
	}
	peakBin, peakDB := 0, float32(0)
	for i, m := range f.Magnitudes {
		if i == 0 || m > peakDB {
			peakBin, peakDB = i, m
		}
	}
	var peakHz float32
	if peakBin < len(f.Frequencies) {
		peakHz = f.Frequencies[peakBin]
	}
	s.logger.Debugf("frame %d t=%dms bins=%d peak=%.0fHz/%.1fdB", n, f.Timestamp, f.Bins(), peakHz, peakDB)
	return nil
}

// Published returns the number of frames seen.
func (s *LogSink) Published() int64 { return s.count.Load() }

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
