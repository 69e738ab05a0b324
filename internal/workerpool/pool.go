package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/internal/tools"
)

var (
	// ErrPoolClosed rejects tasks submitted after Shutdown.
	ErrPoolClosed = errors.New("workerpool: pool is shut down")
	// ErrAborted is returned when a task's cancel token fires.
	ErrAborted = errors.New("workerpool: task aborted")
)

// Options configures a Pool.
type Options struct {
	// Size is the maximum number of concurrent workers.
	Size int
	// WorkerCommand launches the worker binary. Empty enables the inline
	// fallback, which executes against Registry in-process.
	WorkerCommand []string
	// Registry backs the inline fallback. Nil refuses all inline work.
	Registry *tools.Registry
	// TaskTimeout bounds each task's execution. Zero means no limit.
	TaskTimeout time.Duration
	// ShutdownTimeout bounds the wait for in-flight tasks on Shutdown.
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Stats counts pool activity. Tasks rejected before proceeding (pre-aborted
// or post-shutdown) are not counted.
type Stats struct {
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
	QueuedTasks    int `json:"queued_tasks"`
}

// Pool is a bounded pool of reusable worker subprocesses.
type Pool struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	idle    chan *worker
	all     map[*worker]struct{}
	spawned int
	closed  bool
	stats   Stats

	inflight sync.WaitGroup
}

func New(opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = 2
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		opts:   opts,
		logger: opts.Logger.With("component", "workerpool"),
		idle:   make(chan *worker, opts.Size),
		all:    make(map[*worker]struct{}),
	}
}

// Execute runs one heavyweight task. A pre-aborted cancel token rejects
// synchronously without touching stats; cancellation after submission kills
// the executing worker.
func (p *Pool) Execute(ctx context.Context, task *Task, cancel <-chan struct{}, onProgress func(string)) (*tools.Result, error) {
	select {
	case <-cancel:
		return nil, ErrAborted
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.stats.QueuedTasks++
	p.mu.Unlock()

	if p.opts.TaskTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, p.opts.TaskTimeout)
		defer cancelTimeout()
	}

	if len(p.opts.WorkerCommand) == 0 {
		return p.executeInline(ctx, task, cancel, onProgress)
	}
	return p.executeOnWorker(ctx, task, cancel, onProgress)
}

// executeInline is the no-binary fallback. Without a registry it refuses
// all work, which keeps the pool shape testable without a child process.
func (p *Pool) executeInline(ctx context.Context, task *Task, cancel <-chan struct{}, onProgress func(string)) (*tools.Result, error) {
	p.beginTask()
	defer p.inflight.Done()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if cancel != nil {
		go func() {
			select {
			case <-cancel:
				cancelRun()
			case <-runCtx.Done():
			}
		}()
	}

	result := runTask(runCtx, p.opts.Registry, task, onProgress)
	p.finishTask(result.Success)
	return result, nil
}

func (p *Pool) executeOnWorker(ctx context.Context, task *Task, cancel <-chan struct{}, onProgress func(string)) (*tools.Result, error) {
	w, err := p.acquire(ctx, cancel)
	if err != nil {
		p.mu.Lock()
		p.stats.QueuedTasks--
		p.mu.Unlock()
		return nil, err
	}
	p.beginTask()
	defer p.inflight.Done()

	msg, err := w.call(task, cancel, onProgress)
	p.release(w)
	if err != nil {
		p.finishTask(false)
		return nil, err
	}

	switch msg.Kind {
	case KindResult:
		if msg.Result == nil {
			p.finishTask(false)
			return nil, fmt.Errorf("workerpool: result message without result")
		}
		p.finishTask(msg.Result.Success)
		return msg.Result, nil
	case KindError:
		p.finishTask(false)
		return nil, fmt.Errorf("workerpool: worker error: %s", msg.Error)
	default:
		p.finishTask(false)
		return nil, fmt.Errorf("workerpool: unexpected message kind %q", msg.Kind)
	}
}

// beginTask moves a task from queued to running.
func (p *Pool) beginTask() {
	p.mu.Lock()
	p.stats.QueuedTasks--
	p.stats.TotalTasks++
	p.mu.Unlock()
	p.inflight.Add(1)
}

func (p *Pool) finishTask(success bool) {
	p.mu.Lock()
	if success {
		p.stats.CompletedTasks++
	} else {
		p.stats.FailedTasks++
	}
	p.mu.Unlock()
}

// acquire hands out an idle worker, spawning a new one while under the
// size bound.
func (p *Pool) acquire(ctx context.Context, cancel <-chan struct{}) (*worker, error) {
	select {
	case w := <-p.idle:
		if w.dead.Load() {
			p.forget(w)
			return p.acquire(ctx, cancel)
		}
		return w, nil
	default:
	}

	p.mu.Lock()
	if p.spawned < p.opts.Size {
		p.spawned++
		p.mu.Unlock()
		w, err := startWorker(p.spawned, p.opts.WorkerCommand, p.logger)
		if err != nil {
			p.mu.Lock()
			p.spawned--
			p.mu.Unlock()
			return nil, err
		}
		p.mu.Lock()
		p.all[w] = struct{}{}
		p.mu.Unlock()
		return w, nil
	}
	p.mu.Unlock()

	select {
	case w := <-p.idle:
		if w.dead.Load() {
			p.forget(w)
			return p.acquire(ctx, cancel)
		}
		return w, nil
	case <-cancel:
		return nil, ErrAborted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) release(w *worker) {
	if w.dead.Load() {
		p.forget(w)
		return
	}
	select {
	case p.idle <- w:
	default:
		// Pool shrank or is closing; drop the worker.
		w.kill()
		p.forget(w)
	}
}

func (p *Pool) forget(w *worker) {
	p.mu.Lock()
	delete(p.all, w)
	p.spawned--
	p.mu.Unlock()
}

// Stats returns a copy of the counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Shutdown rejects new tasks, waits for in-flight work up to the timeout,
// then force-terminates remaining workers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.opts.ShutdownTimeout):
		p.logger.Warn("shutdown timeout, killing workers")
	}

	p.mu.Lock()
	workers := make([]*worker, 0, len(p.all))
	for w := range p.all {
		workers = append(workers, w)
	}
	p.all = make(map[*worker]struct{})
	p.spawned = 0
	p.mu.Unlock()

	for _, w := range workers {
		w.kill()
		w.close()
	}
drain:
	for {
		select {
		case <-p.idle:
		default:
			break drain
		}
	}
}
