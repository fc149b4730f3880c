// SPDX-License-Identifier: MIT
package batch

import (
	"context"
	"sync"

	"spectro/internal/apperr"
)

// run is the mutable state of one batch.
type run struct {
	id     string
	job    Job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// emitMu serializes state changes with the snapshots delivered for them.
	emitMu sync.Mutex

	mu        sync.Mutex
	states    []FileState
	fractions []float64
	results   []Result
	succeeded int
	failed    int
	skipped   int
	current   int
	overall   float64
	sealed    bool
	cancelled bool
}

func newRun(parent context.Context, job Job) *run {
	ctx, cancel := context.WithCancel(parent)
	n := len(job.Files)
	return &run{
		id:        job.ID,
		job:       job,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		states:    make([]FileState, n),
		fractions: make([]float64, n),
		results:   make([]Result, n),
		current:   -1,
	}
}

func (r *run) requestCancel() { r.cancel() }

func (r *run) start(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[i] = Processing
	r.current = i
}

// advance records a file's own progress. Fractions only move forward and
// stay below completion until the file is done.
func (r *run) advance(i int, f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[i] != Processing {
		return
	}
	f = min(f, maxInFlightFraction)
	if f > r.fractions[i] {
		r.fractions[i] = f
	}
}

func (r *run) complete(i int, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[i] = res.State
	r.results[i] = res
	switch res.State {
	case Succeeded:
		r.succeeded++
		r.fractions[i] = 1
	case Failed:
		r.failed++
		r.fractions[i] = 1
	default:
		r.skipped++
		r.fractions[i] = 0
	}
	if r.current == i {
		r.current = r.latestProcessingLocked()
	}
}

func (r *run) latestProcessingLocked() int {
	for j := len(r.states) - 1; j >= 0; j-- {
		if r.states[j] == Processing {
			return j
		}
	}
	return -1
}

// seal fills in results for files that were never dispatched.
func (r *run) seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = r.ctx.Err() != nil
	for i, s := range r.states {
		if s != NotStarted {
			continue
		}
		err := apperr.WithPath(apperr.Cancelled, "process file", r.job.Files[i], apperr.ErrCancelled)
		r.results[i] = Result{
			InputPath:    r.job.Files[i],
			State:        NotStarted,
			Err:          err,
			ErrorMessage: apperr.UserMessage(err),
		}
		r.skipped++
	}
	r.current = -1
	r.sealed = true
}

func (r *run) snapshot(final bool) Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.states)
	p := Progress{
		BatchID:        r.id,
		TotalFiles:     total,
		ProcessedFiles: r.succeeded + r.failed,
		SuccessCount:   r.succeeded,
		FailCount:      r.failed,
		NotProcessed:   r.skipped,
		Files:          make([]FileProgress, total),
		Done:           final,
		Cancelled:      final && r.cancelled,
	}
	var inFlight float64
	for i, s := range r.states {
		p.Files[i] = FileProgress{Path: r.job.Files[i], State: s, Fraction: r.fractions[i]}
		if s == Processing {
			p.ProcessingCount++
			inFlight += r.fractions[i]
		}
	}
	if r.current >= 0 {
		p.CurrentFile = r.job.Files[r.current]
	}

	if final {
		r.overall = 1
	} else if total > 0 {
		// Cancelled files drop out of the numerator, so hold the high mark.
		r.overall = max(r.overall, min(maxInFlightFraction, (float64(p.ProcessedFiles)+inFlight)/float64(total)))
	}
	p.OverallFraction = r.overall
	return p
}

func (r *run) finalResults() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}
