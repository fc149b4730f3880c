// SPDX-License-Identifier: MIT

/*
Package batch runs artifact generation over many files with a hard
concurrency ceiling.

Files are dispatched in input order; a counting semaphore keeps at most
Concurrency of them processing at any instant. A job may set its own
ceiling. Each file ends in exactly
one Result. A failing file never affects its siblings, and a panic inside
a file task is recovered into that file's failure.

Overall progress is (processed + sum of in-flight fractions) / total. It
never decreases and reaches 1.0 only in the final snapshot, once every
file is accounted for.

Cancelling a batch stops dispatch. Files already running observe the
cancelled context and end as Cancelled; files never dispatched stay
NotStarted. Both count as not processed.
*/
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"spectro/internal/apperr"
	"spectro/internal/embed"
	"spectro/internal/log"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the default number of files processed at once.
const DefaultConcurrency = 3

// maxInFlightFraction caps a running file's contribution so that 1.0 is
// reported only once the file has completed.
const maxInFlightFraction = 0.99

// finishedHistory bounds how many finished batches BatchProgress remembers.
const finishedHistory = 32

var logger = log.New("Batch")

// Orchestrator runs one batch at a time.
type Orchestrator struct {
	gen         Generator
	embedder    embed.Embedder
	concurrency int
	listener    Listener

	mu            sync.Mutex
	active        *run
	finished      map[string]Progress
	finishedOrder []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmbedder sets the embedder used for jobs with EmbedArtifacts.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *Orchestrator) { o.embedder = e }
}

// WithConcurrency sets the worker ceiling. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = max(1, n) }
}

// WithListener registers batch event callbacks.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) { o.listener = l }
}

// New returns an idle Orchestrator generating artifacts with gen.
func New(gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:         gen,
		concurrency: DefaultConcurrency,
		finished:    make(map[string]Progress),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Concurrency returns the worker ceiling.
func (o *Orchestrator) Concurrency() int { return o.concurrency }

// Handle tracks a submitted batch.
type Handle struct {
	ID  string
	run *run
}

// Done is closed after the final snapshot and results have been delivered
// and the orchestrator is free for the next batch.
func (h *Handle) Done() <-chan struct{} { return h.run.done }

// Wait blocks until the batch finishes and returns its results in input
// order.
func (h *Handle) Wait() []Result {
	<-h.run.done
	return h.run.finalResults()
}

// Cancel cancels this batch; see Orchestrator.CancelBatch.
func (h *Handle) Cancel() { h.run.requestCancel() }

// ProcessBatch validates job and starts it in the background. It fails
// with EmptyBatch for a job without files and AlreadyRunning while another
// batch is in flight; both are also reported to the listener's OnError.
// Cancelling ctx cancels the batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, job Job) (*Handle, error) {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}

	if len(job.Files) == 0 {
		return nil, o.reject(id, apperr.New(apperr.EmptyBatch, "process batch", fmt.Errorf("batch %s has no files", id)))
	}

	o.mu.Lock()
	if o.active != nil {
		activeID := o.active.id
		o.mu.Unlock()
		return nil, o.reject(id, apperr.New(apperr.AlreadyRunning, "process batch",
			fmt.Errorf("batch %s is still running", activeID)))
	}
	job.ID = id
	job.Files = append([]string(nil), job.Files...)
	r := newRun(ctx, job)
	o.active = r
	o.mu.Unlock()

	logger.Infof("batch %s: %d files, concurrency %d", id, len(job.Files), o.limit(job))
	go o.execute(r)
	return &Handle{ID: id, run: r}, nil
}

func (o *Orchestrator) reject(id string, err error) error {
	logger.Errorf("batch %s rejected: %v", id, err)
	if o.listener.OnError != nil {
		o.listener.OnError(id, err)
	}
	return err
}

// CancelBatch cancels the active batch with the given id and reports
// whether it did. Unknown or finished ids are ignored.
func (o *Orchestrator) CancelBatch(id string) bool {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil || r.id != id {
		return false
	}
	r.requestCancel()
	logger.Infof("batch %s: cancellation requested", id)
	return true
}

// BatchProgress returns the latest snapshot of an active or recently
// finished batch.
func (o *Orchestrator) BatchProgress(id string) (Progress, bool) {
	o.mu.Lock()
	r := o.active
	p, ok := o.finished[id]
	o.mu.Unlock()

	if r != nil && r.id == id {
		return r.snapshot(false), true
	}
	return p, ok
}

// IsBatchProcessing reports whether the batch with id is in flight.
func (o *Orchestrator) IsBatchProcessing(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil && o.active.id == id
}

// Active returns the id of the batch in flight, if any.
func (o *Orchestrator) Active() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return "", false
	}
	return o.active.id, true
}

// limit is the concurrency ceiling for job.
func (o *Orchestrator) limit(job Job) int {
	if job.Concurrency > 0 {
		return job.Concurrency
	}
	return o.concurrency
}

func (o *Orchestrator) execute(r *run) {
	sem := semaphore.NewWeighted(int64(o.limit(r.job)))
	var wg sync.WaitGroup

	for i, path := range r.job.Files {
		if err := sem.Acquire(r.ctx, 1); err != nil {
			break
		}
		if !o.dispatch(r, i) {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			res := o.processFile(r, i, path)
			o.emit(r, func() { r.complete(i, res) })
		}()
	}

	wg.Wait()
	o.finish(r)
}

// processFile runs one file and always returns its Result.
func (o *Orchestrator) processFile(r *run, i int, path string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("batch %s: panic processing %s: %v\n%s", r.id, path, p, debug.Stack())
			err := apperr.WithPath(apperr.EngineExecutionFailed, "process file", path, fmt.Errorf("panic: %v", p))
			res = Result{InputPath: path, State: Failed, Err: err, ErrorMessage: apperr.UserMessage(err)}
		}
	}()

	artifact, err := o.gen.Generate(r.ctx, path, r.job.OutputDir, func(f float64) {
		o.emit(r, func() { r.advance(i, f) })
	})
	if err != nil {
		state := Failed
		if apperr.KindOf(err) == apperr.Cancelled || r.ctx.Err() != nil {
			state = Cancelled
		}
		if state == Failed {
			logger.Warnf("batch %s: %s failed: %v", r.id, path, err)
		} else {
			logger.Debugf("batch %s: %s cancelled", r.id, path)
		}
		return Result{InputPath: path, State: state, Err: err, ErrorMessage: apperr.UserMessage(err)}
	}

	res = Result{InputPath: path, ArtifactPath: artifact, Success: true, State: Succeeded}
	if r.job.EmbedArtifacts && o.embedder != nil {
		er := o.embedder.Embed(path, artifact, r.job.Backup)
		if !er.Success {
			logger.Warnf("batch %s: embedding into %s failed: %s", r.id, path, er.ErrorMessage)
			res.EmbedWarning = er.ErrorMessage
		}
	}
	return res
}

// dispatch marks file i as processing unless the batch was cancelled.
// The check runs under emitMu, so no file starts after a listener has
// observed the cancellation.
func (o *Orchestrator) dispatch(r *run, i int) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.ctx.Err() != nil {
		return false
	}
	r.start(i)
	o.notify(r)
	return true
}

func (o *Orchestrator) notify(r *run) {
	if o.listener.OnProgress != nil {
		o.listener.OnProgress(r.snapshot(false))
	}
}

// emit applies a state change and delivers the resulting snapshot. Holding
// emitMu across both keeps snapshots in the order the changes happened.
func (o *Orchestrator) emit(r *run, change func()) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	change()
	o.notify(r)
}

func (o *Orchestrator) finish(r *run) {
	r.emitMu.Lock()
	r.seal()
	final := r.snapshot(true)
	results := r.finalResults()
	if o.listener.OnProgress != nil {
		o.listener.OnProgress(final)
	}
	if o.listener.OnComplete != nil {
		o.listener.OnComplete(r.id, results)
	}
	r.emitMu.Unlock()

	logger.Infof("batch %s finished: %d succeeded, %d failed, %d not processed",
		r.id, final.SuccessCount, final.FailCount, final.NotProcessed)

	o.mu.Lock()
	o.active = nil
	o.finished[r.id] = final
	o.finishedOrder = append(o.finishedOrder, r.id)
	if len(o.finishedOrder) > finishedHistory {
		delete(o.finished, o.finishedOrder[0])
		o.finishedOrder = o.finishedOrder[1:]
	}
	o.mu.Unlock()

	r.cancel()
	close(r.done)
}
