// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"os"
	"strings"
	"sync"

	"spectro/internal/apperr"
	"spectro/internal/batch"
	"spectro/internal/config"
	"spectro/internal/embed"
	"spectro/internal/log"
	"spectro/internal/watch"

	"github.com/spf13/cobra"
)

// watchSettings is the part of the configuration a running watch picks up
// again when the file changes.
type watchSettings struct {
	mu     sync.Mutex
	batch  config.BatchConfig
	render config.RenderConfig
}

func (s *watchSettings) get() (config.BatchConfig, config.RenderConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch, s.render
}

func (s *watchSettings) set(b config.BatchConfig, r config.RenderConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch, s.render = b, r
}

func newWatchCommand(a *app) *cobra.Command {
	var existing bool
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Render spectrograms for audio files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyBatchFlags(cmd, a)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.runWatch(cmd.Context(), args[0], existing)
		},
	}

	f := cmd.Flags()
	f.StringP("output", "o", "", "Directory for the images (default: next to each input)")
	f.IntP("concurrency", "j", batch.DefaultConcurrency, "Files processed at once")
	f.Bool("embed", false, "Record the image path inside each WAV source")
	f.Bool("backup", false, "Keep a .bak copy of each source before embedding")
	f.BoolVar(&existing, "existing", false, "Also process the files already in the directory")
	return cmd
}

func (a *app) runWatch(ctx context.Context, dir string, existing bool) error {
	settings := &watchSettings{batch: a.cfg.Batch, render: a.cfg.Render}
	opts := watch.Options{Existing: existing}
	if path := a.cfg.Path; path != "" {
		opts.ConfigPath = path
		opts.OnConfigChange = func() {
			b, r, err := config.ReloadBatch(path)
			if err != nil {
				log.Warnf("Keeping previous settings: %v", err)
				return
			}
			settings.set(b, r)
			log.Infof("Reloaded batch settings from %s", path)
		}
	}

	w, err := watch.New(dir, func(ctx context.Context, files []string) error {
		return a.submitWatched(ctx, settings, files)
	}, opts)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// submitWatched runs one batch for the files a watch collected.
func (a *app) submitWatched(ctx context.Context, settings *watchSettings, files []string) error {
	files = unrendered(files)
	if len(files) == 0 {
		return nil
	}

	b, r := settings.get()
	orch := newOrchestrator(b, r, batch.Listener{
		OnProgress: func(p batch.Progress) {
			if p.Done {
				log.Infof("Batch %s: %d succeeded, %d failed", p.BatchID, p.SuccessCount, p.FailCount)
			}
		},
	})
	h, err := orch.ProcessBatch(ctx, newJob(b, files))
	if err != nil {
		return err
	}
	for _, res := range h.Wait() {
		switch {
		case res.Success:
			log.Infof("%s -> %s", res.InputPath, res.ArtifactPath)
		case !res.NotProcessed():
			log.Errorf("%s: %s", res.InputPath, apperr.UserMessage(res.Err))
		}
	}
	return nil
}

// unrendered drops sources that already name an existing artifact. Embedding
// rewrites the source, which the watch reports as a new write.
func unrendered(files []string) []string {
	out := files[:0]
	for _, f := range files {
		if strings.HasSuffix(f, embed.BackupSuffix) {
			continue
		}
		artifact, err := embed.ReadArtifactPath(f)
		if err == nil && artifact != "" {
			if _, err := os.Stat(artifact); err == nil {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}
