// SPDX-License-Identifier: MIT

// Package embed records the location of a generated artifact inside the
// source audio file.
package embed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"spectro/internal/apperr"
	"spectro/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// CommentPrefix starts the INFO comment that names the artifact.
const CommentPrefix = "spectrogram="

// BackupSuffix is appended to the source path for backups.
const BackupSuffix = ".bak"

// streamFrames is how many frames a rewrite holds in memory at once.
const streamFrames = 4096

var logger = log.New("Embed")

// Result is the outcome of one embed call.
type Result struct {
	Success      bool
	ErrorMessage string
	BackupPath   string
	Err          error
}

func failed(err error, backupPath string) Result {
	return Result{ErrorMessage: apperr.UserMessage(err), BackupPath: backupPath, Err: err}
}

// Embedder attaches an artifact reference to a source file.
type Embedder interface {
	Embed(sourcePath, artifactPath string, backup bool) Result
}

// WAVEmbedder rewrites PCM WAV files with an INFO comment naming the
// artifact. Existing INFO tags that follow the audio data are kept.
type WAVEmbedder struct {
	Software string
}

// Compile-time check for interface implementation.
var _ Embedder = WAVEmbedder{}

// Embed implements Embedder. When backup is set, the untouched source is
// copied to sourcePath+".bak" before it is rewritten. The rewrite goes
// through a temporary file, so a failure leaves the source intact.
func (e WAVEmbedder) Embed(sourcePath, artifactPath string, backup bool) Result {
	if !strings.EqualFold(filepath.Ext(sourcePath), ".wav") {
		return failed(apperr.WithPath(apperr.InputUnsupportedFormat, "embed", sourcePath,
			errors.New("only WAV sources can carry an artifact reference")), "")
	}
	if _, err := os.Stat(artifactPath); err != nil {
		return failed(apperr.Classify("stat artifact", artifactPath, err), "")
	}

	var backupPath string
	if backup {
		backupPath = sourcePath + BackupSuffix
		if err := copyFile(sourcePath, backupPath); err != nil {
			return failed(err, "")
		}
	}

	if err := e.rewrite(sourcePath, artifactPath); err != nil {
		return failed(err, backupPath)
	}
	logger.Debugf("embedded %s into %s", artifactPath, sourcePath)
	return Result{Success: true, BackupPath: backupPath}
}

func (e WAVEmbedder) rewrite(sourcePath, artifactPath string) error {
	in, err := os.Open(sourcePath)
	if err != nil {
		return apperr.Classify("open source", sourcePath, err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		return apperr.WithPath(apperr.InputUnsupportedFormat, "decode source", sourcePath,
			errors.New("not a valid WAV file"))
	}
	out, err := os.CreateTemp(filepath.Dir(sourcePath), ".embed-*.wav")
	if err != nil {
		return apperr.ClassifyWrite("create temporary", sourcePath, err)
	}
	tmpName := out.Name()
	cleanup := func(err error) error {
		out.Close()
		os.Remove(tmpName)
		return apperr.ClassifyWrite("write source", sourcePath, err)
	}

	enc := wav.NewEncoder(out, int(dec.SampleRate), int(dec.BitDepth), int(dec.NumChans), int(dec.WavAudioFormat))
	if err := copyPCM(dec, enc); err != nil {
		if apperr.KindOf(err) == apperr.InputUnsupportedFormat {
			out.Close()
			os.Remove(tmpName)
			return apperr.WithPath(apperr.InputUnsupportedFormat, "decode source", sourcePath, err)
		}
		return cleanup(fmt.Errorf("encode: %w", err))
	}

	// INFO chunks may follow the audio data, so they are read once it has
	// been consumed.
	dec.ReadMetadata()
	meta := dec.Metadata
	if meta == nil {
		meta = &wav.Metadata{}
	}
	meta.Comments = CommentPrefix + artifactPath
	if e.Software != "" {
		meta.Software = e.Software
	}
	enc.Metadata = meta
	if err := enc.Close(); err != nil {
		return cleanup(fmt.Errorf("finalize: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpName)
		return apperr.ClassifyWrite("write source", sourcePath, err)
	}
	in.Close()
	if err := os.Rename(tmpName, sourcePath); err != nil {
		os.Remove(tmpName)
		return apperr.ClassifyWrite("replace source", sourcePath, err)
	}
	return nil
}

// copyPCM streams the data chunk from dec to enc streamFrames at a time.
// Short reads can split a frame; the partial frame is carried into the next
// read since the encoder only writes whole frames.
func copyPCM(dec *wav.Decoder, enc *wav.Encoder) error {
	channels := int(dec.NumChans)
	if channels <= 0 {
		return apperr.New(apperr.InputUnsupportedFormat, "decode", errors.New("no channels"))
	}
	format := dec.Format()
	samples := make([]int, streamFrames*channels)
	in := &audio.IntBuffer{}
	out := &audio.IntBuffer{Format: format, SourceBitDepth: int(dec.BitDepth)}

	// Write the headers even when the data chunk is empty.
	if err := enc.Write(out); err != nil {
		return err
	}
	carry := 0
	for {
		in.Data = samples[carry:]
		n, err := dec.PCMBuffer(in)
		if err != nil {
			return apperr.New(apperr.InputUnsupportedFormat, "decode", err)
		}
		if n == 0 {
			return nil
		}
		total := carry + n
		whole := total - total%channels
		out.Data = samples[:whole]
		if err := enc.Write(out); err != nil {
			return err
		}
		carry = copy(samples, samples[whole:total])
	}
}

// ReadArtifactPath returns the artifact path embedded in a WAV file, or ""
// if none is present.
func ReadArtifactPath(sourcePath string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", apperr.Classify("open source", sourcePath, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadMetadata()
	if err := dec.Err(); err != nil && !errors.Is(err, io.EOF) {
		return "", apperr.WithPath(apperr.InputUnsupportedFormat, "read metadata", sourcePath, err)
	}
	if dec.Metadata == nil {
		return "", nil
	}
	return strings.TrimPrefix(dec.Metadata.Comments, CommentPrefix), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperr.Classify("open source", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return apperr.ClassifyWrite("create backup", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return apperr.ClassifyWrite("copy backup", dst, err)
	}
	if err := out.Close(); err != nil {
		return apperr.ClassifyWrite("close backup", dst, err)
	}
	return nil
}
