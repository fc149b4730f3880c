// SPDX-License-Identifier: MIT
package store

import (
	"testing"

	"spectro/internal/apperr"
)

func TestAppenderWritesFullPages(t *testing.T) {
	s := newTestStore(1<<20, 0)
	a := NewAppender(s, nil)

	for _, f := range makeFrames(250, 0, 10) {
		a.Add(f)
	}
	if n := s.Stats().CachedPageCount; n != 2 {
		t.Fatalf("pages = %d, want 2 full pages", n)
	}
	if a.Pending() != 50 {
		t.Fatalf("pending = %d, want 50", a.Pending())
	}

	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := a.Flush(); err != nil {
		t.Fatal(err)
	}
	stats := s.Stats()
	if stats.CachedPageCount != 3 || stats.TotalFrames != 250 || a.Pending() != 0 {
		t.Errorf("after flush: stats %+v, pending %d", stats, a.Pending())
	}

	frames := s.GetFramesInRange(0, 1<<40, 0)
	for i := 1; i < len(frames); i++ {
		if frames[i].Timestamp <= frames[i-1].Timestamp {
			t.Fatalf("frames out of order at %d", i)
		}
	}
}

func TestAppenderReportsWriteErrors(t *testing.T) {
	// A single page costs more than the cap.
	s := newTestStore(50*testFrameCost, 0)
	var got error
	a := NewAppender(s, func(err error) { got = err })

	for _, f := range makeFrames(100, 0, 1) {
		a.Add(f)
	}
	if apperr.KindOf(got) != apperr.OutOfMemory {
		t.Errorf("reported %v, want OutOfMemory", got)
	}
	if a.Pending() != 0 {
		t.Errorf("failed page should be dropped, %d pending", a.Pending())
	}
}
