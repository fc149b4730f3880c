// SPDX-License-Identifier: MIT

// Package render draws spectrogram frames into PNG images. It only reads
// frames.
package render

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"spectro/internal/apperr"
	"spectro/internal/frame"
	"spectro/internal/spectral"
)

// Defaults for Options.
const (
	DefaultRows       = 256
	DefaultMaxColumns = 1200
	DefaultMinDB      = spectral.FloorDB
	DefaultMaxDB      = spectral.DisplayCeilingDB
)

// Options sizes the canvas and the dB range of the colour ramp.
type Options struct {
	Rows       int // Frequency rows, low frequencies at the bottom.
	MaxColumns int // Columns are merged pairwise once this is exceeded.
	MinDB      float64
	MaxDB      float64
}

func (o Options) withDefaults() Options {
	if o.Rows <= 0 {
		o.Rows = DefaultRows
	}
	if o.MaxColumns <= 1 {
		o.MaxColumns = DefaultMaxColumns
	}
	if o.MaxDB <= o.MinDB {
		o.MinDB, o.MaxDB = DefaultMinDB, DefaultMaxDB
	}
	return o
}

// Spectrogram accumulates frames into a bounded grid of peak dB values,
// one column per frame until MaxColumns is reached. After that, adjacent
// columns are merged so memory stays bounded for any input length.
type Spectrogram struct {
	opts      Options
	columns   [][]float32
	perColumn int // frames merged into each column
	filled    int // frames merged into the last column
}

// NewSpectrogram returns an empty canvas.
func NewSpectrogram(opts Options) *Spectrogram {
	return &Spectrogram{opts: opts.withDefaults(), perColumn: 1}
}

// Columns returns the current canvas width.
func (s *Spectrogram) Columns() int { return len(s.columns) }

// Add folds one frame into the canvas.
func (s *Spectrogram) Add(f frame.Frame) {
	if f.Bins() == 0 {
		return
	}
	if len(s.columns) == 0 || s.filled >= s.perColumn {
		s.columns = append(s.columns, s.blankColumn())
		s.filled = 0
	}
	col := s.columns[len(s.columns)-1]
	rows := s.opts.Rows
	bins := f.Bins()
	for i, m := range f.Magnitudes {
		r := i * rows / bins
		if m > col[r] {
			col[r] = m
		}
	}
	// Fewer bins than rows: stretch each bin over its rows.
	if bins < rows {
		for r := range col {
			b := r * bins / rows
			if f.Magnitudes[b] > col[r] {
				col[r] = f.Magnitudes[b]
			}
		}
	}
	s.filled++

	if len(s.columns) > s.opts.MaxColumns {
		s.halve()
	}
}

func (s *Spectrogram) blankColumn() []float32 {
	col := make([]float32, s.opts.Rows)
	for i := range col {
		col[i] = float32(s.opts.MinDB)
	}
	return col
}

// halve merges adjacent column pairs. Every column but the last is full,
// so only the last merged column can be partly filled.
func (s *Spectrogram) halve() {
	n := len(s.columns)
	if n%2 == 0 {
		s.filled += s.perColumn
	}
	merged := s.columns[:0]
	for i := 0; i < n; i += 2 {
		col := s.columns[i]
		if i+1 < n {
			for r, v := range s.columns[i+1] {
				col[r] = max(col[r], v)
			}
		}
		merged = append(merged, col)
	}
	s.columns = merged
	s.perColumn *= 2
}

// Image renders the canvas. Height is Rows; width is the number of
// columns, at least one.
func (s *Spectrogram) Image() *image.NRGBA {
	width := max(1, len(s.columns))
	rows := s.opts.Rows
	img := image.NewNRGBA(image.Rect(0, 0, width, rows))
	span := s.opts.MaxDB - s.opts.MinDB
	for x, col := range s.columns {
		for r, v := range col {
			level := (float64(v) - s.opts.MinDB) / span
			img.SetNRGBA(x, rows-1-r, Ramp(level))
		}
	}
	return img
}

// WritePNG encodes the canvas to path. The file is written to a temporary
// name first and renamed into place.
func (s *Spectrogram) WritePNG(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".spectrogram-*.png")
	if err != nil {
		return apperr.ClassifyWrite("create artifact", path, err)
	}
	tmpName := tmp.Name()

	encErr := png.Encode(tmp, s.Image())
	closeErr := tmp.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		os.Remove(tmpName)
		return apperr.ClassifyWrite("write artifact", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apperr.ClassifyWrite("write artifact", path, err)
	}
	return nil
}

type rampStop struct {
	at float64
	c  color.NRGBA
}

var ramp = []rampStop{
	{0.00, color.NRGBA{0, 0, 0, 255}},
	{0.25, color.NRGBA{32, 12, 110, 255}},
	{0.50, color.NRGBA{170, 30, 120, 255}},
	{0.75, color.NRGBA{250, 130, 30, 255}},
	{0.90, color.NRGBA{255, 230, 80, 255}},
	{1.00, color.NRGBA{255, 255, 255, 255}},
}

// Ramp maps a level in [0,1] onto the colour ramp. Values outside the
// range are clamped.
func Ramp(level float64) color.NRGBA {
	if level <= 0 {
		return ramp[0].c
	}
	if level >= 1 {
		return ramp[len(ramp)-1].c
	}
	for i := 1; i < len(ramp); i++ {
		hi := ramp[i]
		if level > hi.at {
			continue
		}
		lo := ramp[i-1]
		t := (level - lo.at) / (hi.at - lo.at)
		return color.NRGBA{
			R: lerp(lo.c.R, hi.c.R, t),
			G: lerp(lo.c.G, hi.c.G, t),
			B: lerp(lo.c.B, hi.c.B, t),
			A: 255,
		}
	}
	return ramp[len(ramp)-1].c
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}
