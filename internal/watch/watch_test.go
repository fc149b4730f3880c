// SPDX-License-Identifier: MIT
package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

const testDebounce = 30 * time.Millisecond

type batches struct {
	mu      sync.Mutex
	got     [][]string
	arrived chan struct{}
	block   chan struct{} // when set, each submit waits on it
	running int
	peak    int
}

func newBatches() *batches {
	return &batches{arrived: make(chan struct{}, 16)}
}

func (b *batches) submit(ctx context.Context, files []string) error {
	b.mu.Lock()
	b.running++
	b.peak = max(b.peak, b.running)
	b.got = append(b.got, files)
	b.mu.Unlock()
	b.arrived <- struct{}{}

	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
		}
	}
	b.mu.Lock()
	b.running--
	b.mu.Unlock()
	return nil
}

func (b *batches) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-b.arrived:
	case <-time.After(3 * time.Second):
		t.Fatal("no batch submitted")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.got[len(b.got)-1]
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func start(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	// Give the watcher time to register before files appear.
	time.Sleep(50 * time.Millisecond)
}

func TestDebouncedBatch(t *testing.T) {
	dir := t.TempDir()
	b := newBatches()
	w, err := New(dir, b.submit, Options{Debounce: testDebounce})
	if err != nil {
		t.Fatal(err)
	}
	start(t, w)

	touch(t, filepath.Join(dir, "b.wav"))
	touch(t, filepath.Join(dir, "a.mp3"))
	touch(t, filepath.Join(dir, "notes.txt"))

	got := b.wait(t)
	want := []string{filepath.Join(dir, "a.mp3"), filepath.Join(dir, "b.wav")}
	if !slices.Equal(got, want) {
		t.Errorf("batch = %v, want %v", got, want)
	}
}

func TestOneBatchInFlight(t *testing.T) {
	dir := t.TempDir()
	b := newBatches()
	b.block = make(chan struct{})
	w, err := New(dir, b.submit, Options{Debounce: testDebounce})
	if err != nil {
		t.Fatal(err)
	}
	start(t, w)

	touch(t, filepath.Join(dir, "first.wav"))
	b.wait(t)

	touch(t, filepath.Join(dir, "second.wav"))
	touch(t, filepath.Join(dir, "third.flac"))
	time.Sleep(4 * testDebounce)
	select {
	case <-b.arrived:
		t.Fatal("second batch started while the first was running")
	default:
	}

	close(b.block)
	got := b.wait(t)
	if len(got) != 2 {
		t.Errorf("second batch = %v", got)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peak != 1 {
		t.Errorf("peak concurrent batches = %d", b.peak)
	}
}

func TestExistingFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "old.wav"))
	if err := os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755); err != nil {
		t.Fatal(err)
	}
	b := newBatches()
	w, err := New(dir, b.submit, Options{Debounce: testDebounce, Existing: true})
	if err != nil {
		t.Fatal(err)
	}
	start(t, w)

	got := b.wait(t)
	if !slices.Equal(got, []string{filepath.Join(dir, "old.wav")}) {
		t.Errorf("batch = %v", got)
	}
}

func TestConfigChange(t *testing.T) {
	dir := t.TempDir()
	cfgDir := t.TempDir()
	cfgPath := filepath.Join(cfgDir, "spectro.yaml")
	touch(t, cfgPath)

	changed := make(chan struct{}, 8)
	w, err := New(dir, newBatches().submit, Options{
		Debounce:       testDebounce,
		ConfigPath:     cfgPath,
		OnConfigChange: func() { changed <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	start(t, w)

	if err := os.WriteFile(cfgPath, []byte("batch:\n  concurrency: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("config change not reported")
	}
}

func TestNewValidation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "x.wav")
	touch(t, file)
	submit := newBatches().submit

	tests := []struct {
		name   string
		dir    string
		submit Submitter
	}{
		{"missing dir", filepath.Join(dir, "nope"), submit},
		{"file not dir", file, submit},
		{"nil submitter", dir, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.dir, tt.submit, Options{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
