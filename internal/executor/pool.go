package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Doer executes one call. *Executor implements it.
type Doer interface {
	Execute(ctx context.Context, call Call) (*Result, error)
}

// DefaultQueueSize is the pool's queue capacity when none is configured.
const DefaultQueueSize = 256

// Pool serves queued calls from a fixed number of workers. Calls start in
// submission order.
type Pool struct {
	doer   Doer
	queue  chan *job
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	g      errgroup.Group
	logger *slog.Logger
}

type job struct {
	ctx    context.Context
	call   Call
	result *Result
	err    error
	done   chan struct{}
}

// Future is the pending result of a submitted call.
type Future struct {
	j *job
}

// Wait blocks until the call finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.j.done:
		return f.j.result, f.j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	queueSize int
	logger    *slog.Logger
}

// WithQueueSize sets how many calls may wait before Submit blocks.
func WithQueueSize(n int) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(o *poolOptions) {
		o.logger = logger
	}
}

// NewPool starts workers goroutines serving d.
func NewPool(d Doer, workers int, opts ...PoolOption) (*Pool, error) {
	if workers <= 0 {
		return nil, ErrInvalidWorkers
	}
	o := poolOptions{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	p := &Pool{
		doer:   d,
		queue:  make(chan *job, o.queueSize),
		done:   make(chan struct{}),
		logger: o.logger,
	}
	for range workers {
		p.g.Go(p.work)
	}
	return p, nil
}

func (p *Pool) work() error {
	for {
		select {
		case j := <-p.queue:
			p.run(j)
		case <-p.done:
			// Serve what was queued before Close.
			for {
				select {
				case j := <-p.queue:
					p.run(j)
				default:
					return nil
				}
			}
		}
	}
}

func (p *Pool) run(j *job) {
	defer close(j.done)
	j.result, j.err = p.doer.Execute(j.ctx, j.call)
}

// Submit queues call. It blocks while the queue is full. The call runs
// under ctx, so cancelling ctx abandons it.
func (p *Pool) Submit(ctx context.Context, call Call) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	j := &job{ctx: ctx, call: call, done: make(chan struct{})}
	select {
	case p.queue <- j:
		return &Future{j: j}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunAll submits every call to the pool and waits for all of them. Results
// and errors come back in the order of calls; a call that could not be
// queued carries the submit error.
func (p *Pool) RunAll(ctx context.Context, calls []Call) ([]*Result, []error) {
	results := make([]*Result, len(calls))
	errs := make([]error, len(calls))
	futures := make([]*Future, len(calls))
	for i, call := range calls {
		futures[i], errs[i] = p.Submit(ctx, call)
	}
	for i, f := range futures {
		if f == nil {
			continue
		}
		results[i], errs[i] = f.Wait(ctx)
		if errs[i] != nil {
			p.logger.Warn("call failed", "target", calls[i].Target, "index", i+1, "error", errs[i])
		}
	}
	return results, errs
}

// Close stops accepting calls, waits for queued calls to finish and stops
// the workers. It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	return p.g.Wait()
}

// ExecuteAll runs calls with at most concurrency in flight and returns
// results and errors in the order of calls.
func ExecuteAll(ctx context.Context, d Doer, calls []Call, concurrency int, logger *slog.Logger) ([]*Result, []error) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	logger.Info("starting batch", "total_calls", len(calls), "concurrency", concurrency)
	start := time.Now()

	results := make([]*Result, len(calls))
	errs := make([]error, len(calls))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, call := range calls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			// Failures are reported per call; the batch keeps going.
			results[i], errs[i] = d.Execute(ctx, call)
			if errs[i] != nil {
				logger.Warn("call failed", "target", call.Target, "index", i+1, "error", errs[i])
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	logger.Info("batch complete", "total_calls", len(calls), "elapsed", time.Since(start))
	return results, errs
}
