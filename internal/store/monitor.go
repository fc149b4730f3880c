// SPDX-License-Identifier: MIT
package store

import (
	"sync"
	"time"
)

// monitor is the lifecycle state of the background eviction loop.
type monitor struct {
	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Close.
}

// Start launches the background monitor, which calls Check every
// MonitorInterval until Close. Calling Start while running is a no-op.
func (s *Store) Start() {
	m := &s.monitor
	m.mu.Lock()
	if m.ticker != nil {
		m.mu.Unlock()
		logger.Warnf("monitor already running")
		return
	}
	m.ticker = time.NewTicker(s.opts.MonitorInterval)
	m.doneChan = make(chan struct{})
	m.stopOnce = sync.Once{}
	ticker, done := m.ticker, m.doneChan
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		logger.Debugf("monitor started (interval %s)", s.opts.MonitorInterval)
		for {
			select {
			case <-ticker.C:
				s.Check()
			case <-done:
				return
			}
		}
	}()
}

// Close stops the background monitor and waits for it to exit. Held pages
// are kept. It is safe to call more than once.
func (s *Store) Close() error {
	m := &s.monitor
	m.mu.Lock()
	if m.ticker == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopOnce.Do(func() {
		close(m.doneChan)
		m.ticker.Stop()
		m.ticker = nil
	})
	m.mu.Unlock()

	m.wg.Wait()
	logger.Debugf("monitor stopped")
	return nil
}

// Ensure Store satisfies the io.Closer interface at compile time.
var _ interface{ Close() error } = (*Store)(nil)
