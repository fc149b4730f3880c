// SPDX-License-Identifier: MIT

// Package store keeps recent spectrogram frames in bounded memory.
//
// Frames are appended in fixed-size, immutable pages. Memory use is an
// estimate: every frame costs 4 bytes per frequency bin, 4 bytes per
// magnitude bin and a fixed header. When a write would push the estimate
// past the cap, the oldest pages are evicted first, at most half the held
// pages per pass. A background monitor repeats the same pass periodically
// and raises a warning once usage crosses the warning ratio.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"spectro/internal/apperr"
	"spectro/internal/frame"
	"spectro/internal/log"
)

// Defaults for Options.
const (
	DefaultPageSize         = 100
	DefaultCapBytes         = 100 << 20
	DefaultFrameHeaderBytes = 64
	DefaultMonitorInterval  = 5 * time.Second
	DefaultWarnRatio        = 0.8
)

var logger = log.New("Store")

// Options configures a Store.
type Options struct {
	PageSize         int           // Frames per page.
	CapBytes         int64         // Memory cap for the estimate.
	FrameHeaderBytes int           // Fixed per-frame overhead in the estimate.
	MaxCachedPages   int           // Page ceiling; 0 derives it from CapBytes.
	MonitorInterval  time.Duration // Period of the background monitor.
	WarnRatio        float64       // Usage fraction above which a warning is raised.
}

// DefaultOptions returns the 100 frames/page, 100 MB, 5 s, 80% policy.
func DefaultOptions() Options {
	return Options{
		PageSize:         DefaultPageSize,
		CapBytes:         DefaultCapBytes,
		FrameHeaderBytes: DefaultFrameHeaderBytes,
		MonitorInterval:  DefaultMonitorInterval,
		WarnRatio:        DefaultWarnRatio,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.CapBytes <= 0 {
		o.CapBytes = d.CapBytes
	}
	if o.FrameHeaderBytes < 0 {
		o.FrameHeaderBytes = 0
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = d.MonitorInterval
	}
	if o.WarnRatio <= 0 || o.WarnRatio > 1 {
		o.WarnRatio = d.WarnRatio
	}
	return o
}

type entry struct {
	page  frame.Page
	bytes int64
}

// Store is a paged, memory-bounded frame buffer. It is safe for concurrent
// use; readers never see a partially written page.
type Store struct {
	opts Options
	now  func() time.Time

	mu           sync.RWMutex
	pages        []entry // ascending index, which is insertion order
	usage        int64
	totalFrames  int
	nextIndex    int
	warned       bool
	onWarning    func(string)
	onPageLoaded func(int, []frame.Frame)

	monitor monitor
}

// New returns an empty Store. Zero fields in opts take their defaults.
func New(opts Options) *Store {
	return &Store{opts: opts.withDefaults(), now: time.Now}
}

// OnMemoryWarning registers the memory-pressure callback. It is invoked
// outside the store's lock.
func (s *Store) OnMemoryWarning(fn func(message string)) {
	s.mu.Lock()
	s.onWarning = fn
	s.mu.Unlock()
}

// OnPageLoaded registers the callback invoked for every page written.
// It runs on the writer's goroutine, outside the store's lock.
func (s *Store) OnPageLoaded(fn func(index int, frames []frame.Frame)) {
	s.mu.Lock()
	s.onPageLoaded = fn
	s.mu.Unlock()
}

// FrameCost returns the estimated bytes for one frame.
func (s *Store) FrameCost(f frame.Frame) int64 {
	return int64(4*len(f.Frequencies) + 4*len(f.Magnitudes) + s.opts.FrameHeaderBytes)
}

// AddFrames appends frames as new pages of at most PageSize frames. If the
// write would exceed the cap, old pages are evicted first. The write fails
// with OutOfMemory, and nothing is stored, only when it cannot fit even
// after eviction.
func (s *Store) AddFrames(frames []frame.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	costs := make([]int64, len(frames))
	var cost int64
	for i, f := range frames {
		costs[i] = s.FrameCost(f)
		cost += costs[i]
	}

	s.mu.Lock()
	if cost > s.opts.CapBytes {
		s.mu.Unlock()
		return apperr.New(apperr.OutOfMemory, "add frames",
			fmt.Errorf("write of %d frames needs %d bytes, cap is %d", len(frames), cost, s.opts.CapBytes))
	}

	evicted := 0
	for s.usage+cost > s.opts.CapBytes {
		n := s.evictPassLocked(s.usage + cost - s.opts.CapBytes)
		if n == 0 {
			break
		}
		evicted += n
	}
	if s.usage+cost > s.opts.CapBytes {
		s.mu.Unlock()
		return apperr.New(apperr.OutOfMemory, "add frames",
			fmt.Errorf("%d bytes still in use after eviction", s.usage))
	}

	now := s.now()
	loaded := make([]frame.Page, 0, (len(frames)+s.opts.PageSize-1)/s.opts.PageSize)
	for start := 0; start < len(frames); start += s.opts.PageSize {
		end := min(start+s.opts.PageSize, len(frames))
		page := frame.Page{
			Index:      s.nextIndex,
			Frames:     append([]frame.Frame(nil), frames[start:end]...),
			InsertedAt: now,
		}
		var bytes int64
		for _, c := range costs[start:end] {
			bytes += c
		}
		s.pages = append(s.pages, entry{page: page, bytes: bytes})
		s.usage += bytes
		s.totalFrames += len(page.Frames)
		s.nextIndex++
		loaded = append(loaded, page)
	}
	onPageLoaded := s.onPageLoaded
	s.mu.Unlock()

	if evicted > 0 {
		logger.Debugf("evicted %d pages to admit %d frames", evicted, len(frames))
	}
	if onPageLoaded != nil {
		for _, p := range loaded {
			onPageLoaded(p.Index, p.Frames)
		}
	}
	return nil
}

// GetPage returns the page with the given index, if it is still held.
func (s *Store) GetPage(index int) (frame.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.pages), func(i int) bool { return s.pages[i].page.Index >= index })
	if i < len(s.pages) && s.pages[i].page.Index == index {
		return s.pages[i].page, true
	}
	return frame.Page{}, false
}

// GetFramesInRange returns frames with start <= Timestamp <= end, in
// insertion order, stopping after maxFrames. maxFrames <= 0 means no limit.
func (s *Store) GetFramesInRange(start, end int64, maxFrames int) []frame.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []frame.Frame
	for _, e := range s.pages {
		for _, f := range e.page.Frames {
			if f.Timestamp < start || f.Timestamp > end {
				continue
			}
			out = append(out, f)
			if maxFrames > 0 && len(out) >= maxFrames {
				return out
			}
		}
	}
	return out
}

// Indices returns the indices of the held pages in ascending order.
func (s *Store) Indices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.pages))
	for i, e := range s.pages {
		out[i] = e.page.Index
	}
	return out
}

// Clear drops every page and resets all counters. It is idempotent.
func (s *Store) Clear() {
	s.mu.Lock()
	s.pages = nil
	s.usage = 0
	s.totalFrames = 0
	s.nextIndex = 0
	s.warned = false
	s.mu.Unlock()
}

// Stats returns the current memory accounting.
func (s *Store) Stats() frame.MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return frame.MemoryStats{
		CurrentUsageBytes: s.usage,
		CapBytes:          s.opts.CapBytes,
		TotalFrames:       s.totalFrames,
		CachedPageCount:   len(s.pages),
		MaxCachedPages:    s.maxCachedPagesLocked(),
	}
}

// Trim runs one eviction pass if the store is at its cap or holds more
// than MaxCachedPages pages, and returns the number of pages evicted.
func (s *Store) Trim() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	overPages := s.opts.MaxCachedPages > 0 && len(s.pages) > s.opts.MaxCachedPages
	if s.usage < s.opts.CapBytes && !overPages {
		return 0
	}
	return s.evictPassLocked(s.usage - s.opts.CapBytes)
}

// Check is one monitor pass: Trim, then raise the memory warning if usage
// has crossed the warning ratio since the last pass.
func (s *Store) Check() {
	if n := s.Trim(); n > 0 {
		logger.Infof("monitor evicted %d pages", n)
	}

	s.mu.Lock()
	ratio := float64(s.usage) / float64(s.opts.CapBytes)
	var msg string
	switch {
	case ratio > s.opts.WarnRatio && !s.warned:
		s.warned = true
		msg = fmt.Sprintf("frame store at %.0f%% of %d byte cap (%d pages)", ratio*100, s.opts.CapBytes, len(s.pages))
	case ratio <= s.opts.WarnRatio:
		s.warned = false
	}
	onWarning := s.onWarning
	s.mu.Unlock()

	if msg != "" {
		logger.Warnf("%s", msg)
		if onWarning != nil {
			onWarning(msg)
		}
	}
}

// maxCachedPagesLocked returns the configured page ceiling, or one derived
// from the cap and the average held page size.
func (s *Store) maxCachedPagesLocked() int {
	if s.opts.MaxCachedPages > 0 {
		return s.opts.MaxCachedPages
	}
	if len(s.pages) == 0 || s.usage == 0 {
		return 0
	}
	avg := s.usage / int64(len(s.pages))
	return int(s.opts.CapBytes / avg)
}

// evictPassLocked removes the oldest pages: as many as needed to free
// `needed` bytes or to get down to MaxCachedPages, whichever is more, but
// never more than half the held pages (at least one).
func (s *Store) evictPassLocked(needed int64) int {
	held := len(s.pages)
	if held == 0 {
		return 0
	}

	above := 0
	if maxPages := s.maxCachedPagesLocked(); maxPages > 0 && held > maxPages {
		above = held - maxPages
	}
	if needed > 0 {
		var freed int64
		n := 0
		for n < held && freed < needed {
			freed += s.pages[n].bytes
			n++
		}
		above = max(above, n)
	}
	if above == 0 {
		return 0
	}

	count := min(above, max(1, held/2))
	for _, e := range s.pages[:count] {
		s.usage -= e.bytes
		s.totalFrames -= len(e.page.Frames)
	}
	s.pages = append(s.pages[:0:0], s.pages[count:]...)
	return count
}
