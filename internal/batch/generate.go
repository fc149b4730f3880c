// SPDX-License-Identifier: MIT
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"spectro/internal/apperr"
	"spectro/internal/audio"
	"spectro/internal/frame"
	"spectro/internal/producer"
	"spectro/internal/render"
)

// ArtifactSuffix replaces the input extension in artifact file names.
const ArtifactSuffix = ".spectrogram.png"

// DefaultMaxInputBytes rejects inputs larger than 2 GiB.
const DefaultMaxInputBytes = 2 << 30

// ArtifactName returns the artifact file name for an input path.
func ArtifactName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ArtifactSuffix
}

// SpectrogramGenerator renders a spectrogram PNG for an audio file. The
// zero value is not usable; Producer must be set.
type SpectrogramGenerator struct {
	Producer *producer.Producer
	// Open decodes an input file. Defaults to audio.OpenFile.
	Open func(path string) (producer.Stream, error)
	// ChunkSize is the analysis chunk in samples per channel.
	ChunkSize int
	// MaxInputBytes rejects larger inputs with InputTooLarge. Zero means
	// DefaultMaxInputBytes.
	MaxInputBytes int64
	Render        render.Options
}

// Compile-time check for interface implementation.
var _ Generator = (*SpectrogramGenerator)(nil)

// Generate implements Generator. The artifact is written to outputDir, or
// next to the input when outputDir is empty.
func (g *SpectrogramGenerator) Generate(ctx context.Context, inputPath, outputDir string, progress func(float64)) (string, error) {
	if g.Producer == nil {
		return "", apperr.New(apperr.EngineExecutionFailed, "generate", errors.New("no producer configured"))
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return "", apperr.Classify("stat input", inputPath, err)
	}
	if info.IsDir() {
		return "", apperr.WithPath(apperr.InputUnsupportedFormat, "generate", inputPath, errors.New("is a directory"))
	}
	limit := g.MaxInputBytes
	if limit <= 0 {
		limit = DefaultMaxInputBytes
	}
	if info.Size() > limit {
		return "", apperr.WithPath(apperr.InputTooLarge, "generate", inputPath,
			fmt.Errorf("%d bytes exceeds the %d byte limit", info.Size(), limit))
	}

	open := g.Open
	if open == nil {
		open = audio.OpenFile
	}
	stream, err := open(inputPath)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	canvas := render.NewSpectrogram(g.Render)
	n, err := g.Producer.Run(ctx, stream, g.ChunkSize, func(f frame.Frame) { canvas.Add(f) }, progress)
	if err != nil {
		var e *apperr.Error
		if errors.As(err, &e) && e.Path == "" {
			e.Path = inputPath
		}
		return "", err
	}
	if n == 0 {
		return "", apperr.WithPath(apperr.InputUnsupportedFormat, "generate", inputPath, errors.New("no audio samples"))
	}

	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.ClassifyWrite("create output dir", dir, err)
	}
	out := filepath.Join(dir, ArtifactName(inputPath))
	if err := canvas.WritePNG(out); err != nil {
		return "", err
	}
	return out, nil
}
