// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"spectro/internal/apperr"
	"spectro/internal/audio"
	"spectro/internal/batch"
	"spectro/internal/config"
	"spectro/internal/embed"
	"spectro/internal/producer"
	"spectro/internal/spectral"
	"spectro/pkg/build"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// barTotal is the resolution of the overall progress bar.
const barTotal = 1000

func newBatchCommand(a *app) *cobra.Command {
	var recursive, quiet bool
	cmd := &cobra.Command{
		Use:   "batch <file|dir>...",
		Short: "Render spectrogram images for audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyBatchFlags(cmd, a)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			files, err := collectInputs(args, recursive)
			if err != nil {
				return err
			}
			return a.runBatch(cmd.Context(), files, !quiet)
		},
	}

	f := cmd.Flags()
	f.StringP("output", "o", "", "Directory for the images (default: next to each input)")
	f.IntP("concurrency", "j", batch.DefaultConcurrency, "Files processed at once")
	f.Bool("embed", false, "Record the image path inside each WAV source")
	f.Bool("backup", false, "Keep a .bak copy of each source before embedding")
	f.BoolVarP(&recursive, "recursive", "R", false, "Descend into subdirectories")
	f.BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

// applyBatchFlags copies explicitly set flags over the loaded configuration.
func applyBatchFlags(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	if f.Changed("output") {
		a.cfg.Batch.OutputDir, _ = f.GetString("output")
	}
	if f.Changed("concurrency") {
		a.cfg.Batch.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("embed") {
		a.cfg.Batch.Embed, _ = f.GetBool("embed")
	}
	if f.Changed("backup") {
		a.cfg.Batch.Backup, _ = f.GetBool("backup")
	}
}

// collectInputs expands directories into the supported audio files they
// hold. Files named explicitly are kept even when unsupported so the batch
// reports them.
func collectInputs(args []string, recursive bool) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, apperr.Classify("read input", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && !recursive {
					return fs.SkipDir
				}
				return nil
			}
			if audio.IsSupported(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, apperr.Classify("scan directory", arg, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// newGenerator builds the spectrogram generator for the batch settings.
func newGenerator(b config.BatchConfig, r config.RenderConfig) *batch.SpectrogramGenerator {
	return &batch.SpectrogramGenerator{
		Producer:      producer.New(spectral.NewEngine()),
		ChunkSize:     b.ChunkSize,
		MaxInputBytes: b.MaxInputBytes,
		Render:        r.Options(),
	}
}

// newOrchestrator builds an orchestrator for the batch settings.
func newOrchestrator(b config.BatchConfig, r config.RenderConfig, l batch.Listener) *batch.Orchestrator {
	opts := []batch.Option{
		batch.WithConcurrency(b.Concurrency),
		batch.WithListener(l),
	}
	if b.Embed {
		opts = append(opts, batch.WithEmbedder(embed.WAVEmbedder{Software: build.Get().String()}))
	}
	return batch.New(newGenerator(b, r), opts...)
}

// newJob describes one run of files with the batch settings.
func newJob(b config.BatchConfig, files []string) batch.Job {
	return batch.Job{
		Files:          files,
		OutputDir:      b.OutputDir,
		EmbedArtifacts: b.Embed,
		Backup:         b.Backup,
		Concurrency:    b.Concurrency,
	}
}

func (a *app) runBatch(ctx context.Context, files []string, showProgress bool) error {
	b, r := a.cfg.Batch, a.cfg.Render

	var listener batch.Listener
	var p *mpb.Progress
	if showProgress {
		p = mpb.New(mpb.WithWidth(64), mpb.WithOutput(a.out))
		listener.OnProgress = progressBar(p, len(files))
	}

	orch := newOrchestrator(b, r, listener)
	h, err := orch.ProcessBatch(ctx, newJob(b, files))
	if err != nil {
		if p != nil {
			p.Shutdown()
		}
		return err
	}
	results := h.Wait()
	if p != nil {
		p.Wait()
	}
	return printResults(a.out, results)
}

// progressBar returns a listener callback driving one mpb bar.
func progressBar(p *mpb.Progress, total int) func(batch.Progress) {
	var processed, failed atomic.Int64
	bar := p.AddBar(barTotal,
		mpb.PrependDecorators(
			decor.Name("Rendering: "),
			decor.Any(func(decor.Statistics) string {
				return fmt.Sprintf("%d / %d", processed.Load(), total)
			}),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Any(func(decor.Statistics) string {
				if n := failed.Load(); n > 0 {
					return fmt.Sprintf(" (%d failed)", n)
				}
				return ""
			}),
		),
	)
	return func(pr batch.Progress) {
		processed.Store(int64(pr.ProcessedFiles))
		failed.Store(int64(pr.FailCount))
		bar.SetCurrent(int64(pr.OverallFraction * barTotal))
		if pr.Done {
			bar.SetTotal(-1, true)
		}
	}
}

// printResults writes one line per file and returns an error when any
// file did not succeed.
func printResults(w io.Writer, results []batch.Result) error {
	var failed, cancelled int
	for _, res := range results {
		switch {
		case res.Success:
			fmt.Fprintf(w, "ok      %s -> %s\n", res.InputPath, res.ArtifactPath)
			if res.EmbedWarning != "" {
				fmt.Fprintf(w, "        warning: %s\n", res.EmbedWarning)
			}
		case res.NotProcessed():
			cancelled++
			fmt.Fprintf(w, "skipped %s\n", res.InputPath)
		default:
			failed++
			fmt.Fprintf(w, "failed  %s: %s\n", res.InputPath, res.ErrorMessage)
		}
	}
	fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped\n", len(results)-failed-cancelled, failed, cancelled)

	switch {
	case failed > 0:
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	case cancelled > 0:
		return apperr.ErrCancelled
	}
	return nil
}
