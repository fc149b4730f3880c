// SPDX-License-Identifier: MIT
package store

import (
	"sync"

	"spectro/internal/frame"
)

// Appender batches single frames from a live producer into page-sized
// writes. It is safe for concurrent use.
type Appender struct {
	store *Store
	onErr func(error)

	mu      sync.Mutex
	pending []frame.Frame
}

// NewAppender returns an Appender writing to s. onErr, if set, receives
// failed writes; the affected frames are dropped.
func NewAppender(s *Store, onErr func(error)) *Appender {
	return &Appender{store: s, onErr: onErr, pending: make([]frame.Frame, 0, s.opts.PageSize)}
}

// Add queues f and writes a full page once PageSize frames are pending.
// Pages are written in the order their frames were added.
func (a *Appender) Add(f frame.Frame) {
	a.mu.Lock()
	a.pending = append(a.pending, f)
	if len(a.pending) < a.store.opts.PageSize {
		a.mu.Unlock()
		return
	}
	batch := a.take()
	err := a.store.AddFrames(batch)
	a.mu.Unlock()

	if err != nil {
		logger.Errorf("dropping %d frames: %v", len(batch), err)
		if a.onErr != nil {
			a.onErr(err)
		}
	}
}

// Flush writes any pending frames as a short page.
func (a *Appender) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch := a.take()
	if len(batch) == 0 {
		return nil
	}
	return a.store.AddFrames(batch)
}

// Pending returns the number of queued frames.
func (a *Appender) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Appender) take() []frame.Frame {
	batch := a.pending
	a.pending = make([]frame.Frame, 0, a.store.opts.PageSize)
	return batch
}
