// SPDX-License-Identifier: MIT

// Package watch turns audio files appearing in a directory into batches.
//
// New or rewritten files are collected until the directory has been quiet
// for the debounce interval, then submitted as one batch. Only one batch
// is in flight at a time; files arriving meanwhile form the next one.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"spectro/internal/audio"
	"spectro/internal/log"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before pending files are submitted.
const DefaultDebounce = 500 * time.Millisecond

var logger = log.New("Watch")

// Submitter processes one batch and returns when it has finished.
type Submitter func(ctx context.Context, files []string) error

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// Existing submits the supported files already in the directory.
	Existing bool
	// ConfigPath, when set, is watched as well; OnConfigChange runs after
	// it is written or replaced.
	ConfigPath     string
	OnConfigChange func()
	// Filter decides which paths are submitted. Defaults to audio.IsSupported.
	Filter func(path string) bool
}

// Watcher feeds a Submitter from a directory.
type Watcher struct {
	dir    string
	submit Submitter
	opts   Options
	config string // cleaned ConfigPath
}

// New validates dir and returns a stopped Watcher.
func New(dir string, submit Submitter, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory: %s is not a directory", dir)
	}
	if submit == nil {
		return nil, errors.New("watch: submitter cannot be nil")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Filter == nil {
		opts.Filter = audio.IsSupported
	}
	w := &Watcher{dir: filepath.Clean(dir), submit: submit, opts: opts}
	if opts.ConfigPath != "" {
		w.config = filepath.Clean(opts.ConfigPath)
	}
	return w, nil
}

// Run watches until ctx is done, then waits for the batch in flight.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	// Editors replace files, so watch the directory holding the config.
	if w.config != "" && filepath.Dir(w.config) != w.dir {
		if err := fw.Add(filepath.Dir(w.config)); err != nil {
			return fmt.Errorf("watch %s: %w", w.config, err)
		}
	}
	logger.Infof("watching %s (debounce %s)", w.dir, w.opts.Debounce)

	pending := make(map[string]struct{})
	if w.opts.Existing {
		if err := w.scan(pending); err != nil {
			return err
		}
	}

	timer := time.NewTimer(w.opts.Debounce)
	if len(pending) == 0 {
		timer.Stop()
	}
	defer timer.Stop()

	var (
		inFlight chan error
		ready    bool // the debounce elapsed while a batch was running
	)
	flush := func() {
		if inFlight != nil || len(pending) == 0 {
			ready = inFlight != nil && len(pending) > 0
			return
		}
		files := make([]string, 0, len(pending))
		for p := range pending {
			files = append(files, p)
		}
		slices.Sort(files)
		clear(pending)
		ready = false

		done := make(chan error, 1)
		inFlight = done
		logger.Infof("submitting %d files", len(files))
		go func() { done <- w.submit(ctx, files) }()
	}

	for {
		select {
		case <-ctx.Done():
			if inFlight != nil {
				<-inFlight
			}
			return nil

		case err := <-inFlight:
			inFlight = nil
			if err != nil {
				logger.Errorf("batch failed: %v", err)
			}
			if ready {
				flush()
			}

		case <-timer.C:
			flush()

		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if w.handle(ev, pending) {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			logger.Warnf("watch error: %v", err)
		}
	}
}

// handle records ev and reports whether it added a pending file.
func (w *Watcher) handle(ev fsnotify.Event, pending map[string]struct{}) bool {
	path := filepath.Clean(ev.Name)
	if w.config != "" && path == w.config {
		if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
			logger.Infof("configuration %s changed", path)
			if w.opts.OnConfigChange != nil {
				w.opts.OnConfigChange()
			}
		}
		return false
	}
	if filepath.Dir(path) != w.dir {
		return false
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(pending, path)
		return false
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !w.opts.Filter(path) {
			return false
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return false
		}
		pending[path] = struct{}{}
		return true
	}
	return false
}

func (w *Watcher) scan(pending map[string]struct{}) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.Type().IsRegular() && w.opts.Filter(path) {
			pending[path] = struct{}{}
		}
	}
	return nil
}
