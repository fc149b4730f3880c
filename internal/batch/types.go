// SPDX-License-Identifier: MIT
package batch

import (
	"context"
	"fmt"
)

// FileState is the lifecycle of one file in a batch.
type FileState int

const (
	NotStarted FileState = iota
	Processing
	Succeeded
	Failed
	Cancelled
)

func (s FileState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Processing:
		return "processing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FileState(%d)", int(s))
	}
}

// Terminal reports whether the file has been accounted for.
func (s FileState) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Job describes one batch run.
type Job struct {
	ID             string // Generated when empty.
	Files          []string
	OutputDir      string // Empty writes each artifact next to its input.
	EmbedArtifacts bool
	Backup         bool // Back up sources before embedding.
	Concurrency    int  // Overrides the orchestrator's ceiling when positive.
}

// FileProgress is the state of one file inside a Progress snapshot.
type FileProgress struct {
	Path     string
	State    FileState
	Fraction float64
}

// Progress is a point-in-time snapshot of a batch. Snapshots are copies;
// callers may keep them.
type Progress struct {
	BatchID         string
	TotalFiles      int
	ProcessedFiles  int // Succeeded plus failed.
	SuccessCount    int
	FailCount       int
	ProcessingCount int
	NotProcessed    int // Never started, or cancelled while running.
	CurrentFile     string
	OverallFraction float64
	Files           []FileProgress
	Done            bool
	Cancelled       bool
}

// Result is the outcome for one input file. It is created once and never
// modified.
type Result struct {
	InputPath    string
	ArtifactPath string
	Success      bool
	ErrorMessage string
	Err          error
	State        FileState
	EmbedWarning string // Set when embedding failed; the file still succeeded.
}

// NotProcessed reports whether the file was skipped by cancellation, either
// before it started or while it ran.
func (r Result) NotProcessed() bool {
	return !r.Success && (r.State == NotStarted || r.State == Cancelled)
}

// Generator produces the artifact for one input file. progress receives
// fractions in [0,1] for that file.
type Generator interface {
	Generate(ctx context.Context, inputPath, outputDir string, progress func(float64)) (artifactPath string, err error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, inputPath, outputDir string, progress func(float64)) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, inputPath, outputDir string, progress func(float64)) (string, error) {
	return f(ctx, inputPath, outputDir, progress)
}

// Listener receives batch events. Events for one batch are delivered one
// at a time, in order, from the orchestrator's goroutines. Every field is
// optional.
type Listener struct {
	OnProgress func(Progress)
	OnComplete func(batchID string, results []Result)
	OnError    func(batchID string, err error)
}
