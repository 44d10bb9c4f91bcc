package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBranchWorkers is one worker per collection branch
const DefaultBranchWorkers = 3

// BranchPoolConfig holds configuration for the branch pool
type BranchPoolConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	// StopTimeout bounds how long Stop waits for busy workers
	StopTimeout time.Duration `json:"stop_timeout"`
}

// BranchValue is what a branch produces. Exactly one field is set.
type BranchValue struct {
	Result      *domain.CollectionResult
	Transcripts *domain.TranscriptCollection
}

// BranchTask is one unit of work with its own deadline
type BranchTask struct {
	Branch  domain.Branch
	Timeout time.Duration
	Run     func(ctx context.Context) (BranchValue, error)
}

// BranchOutcome is delivered once per submitted task
type BranchOutcome struct {
	BranchValue
	Branch   domain.Branch
	Timeout  time.Duration
	Err      error
	TimedOut bool
	// RunDeadline is set when the caller's deadline, not Timeout, ended
	// the branch. Timeout then holds the time the branch actually had.
	RunDeadline bool
	Panicked    bool
	Duration    time.Duration
}

// BranchPoolStats is a snapshot of pool counters
type BranchPoolStats struct {
	Submitted int64
	Completed int64
	Failed    int64
	TimedOut  int64
	Panicked  int64
	Running   int32
}

type branchPoolCounters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	panicked  atomic.Int64
	running   atomic.Int32
}

type queuedBranch struct {
	task BranchTask
	ctx  context.Context
}

// BranchPool runs branch tasks on a fixed number of workers. A task that
// outlives its timeout is reported as timed out and its late result is
// discarded; the task's context is cancelled so it can stop early.
type BranchPool struct {
	config  BranchPoolConfig
	queue   chan queuedBranch
	results chan BranchOutcome

	wg     sync.WaitGroup
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	running  atomic.Bool
	counters branchPoolCounters

	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
}

// NewBranchPool creates a pool. telemetry and metrics may be nil.
func NewBranchPool(cfg BranchPoolConfig, telemetry *observability.Telemetry, metrics *observability.Metrics) *BranchPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultBranchWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if telemetry == nil {
		telemetry = observability.NewNoopTelemetry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BranchPool{
		config:    cfg,
		queue:     make(chan queuedBranch, cfg.QueueSize),
		results:   make(chan BranchOutcome, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		telemetry: telemetry,
		metrics:   metrics,
		logger:    observability.NewStructuredLogger("branch_pool"),
	}
}

// Start launches the workers
func (p *BranchPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return fmt.Errorf("branch pool already running")
	}

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(fmt.Sprintf("branch-worker-%d", i))
	}
	p.running.Store(true)

	p.logger.Debug(ctx, "branch pool started", map[string]interface{}{
		"workers":    p.config.Workers,
		"queue_size": p.config.QueueSize,
	})
	return nil
}

// Stop closes the queue and waits for workers to drain it
func (p *BranchPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return fmt.Errorf("branch pool not running")
	}
	p.running.Store(false)
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug(ctx, "branch pool stopped")
	case <-time.After(p.config.StopTimeout):
		p.cancel()
		<-done
		p.logger.Warn(ctx, "branch pool stop timeout, cancelled running branches")
	}
	p.cancel()
	close(p.results)
	return nil
}

// Submit queues task. ctx is the parent of the task's own deadline.
func (p *BranchPool) Submit(ctx context.Context, task BranchTask) error {
	if !p.running.Load() {
		return fmt.Errorf("branch pool not running")
	}
	if task.Run == nil {
		return fmt.Errorf("branch %s has no run function", task.Branch)
	}

	select {
	case p.queue <- queuedBranch{task: task, ctx: ctx}:
		p.counters.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results delivers one outcome per submitted task
func (p *BranchPool) Results() <-chan BranchOutcome {
	return p.results
}

// Stats returns the current counters
func (p *BranchPool) Stats() BranchPoolStats {
	return BranchPoolStats{
		Submitted: p.counters.submitted.Load(),
		Completed: p.counters.completed.Load(),
		Failed:    p.counters.failed.Load(),
		TimedOut:  p.counters.timedOut.Load(),
		Panicked:  p.counters.panicked.Load(),
		Running:   p.counters.running.Load(),
	}
}

func (p *BranchPool) runWorker(id string) {
	defer p.wg.Done()

	for queued := range p.queue {
		outcome := p.execute(queued.ctx, queued.task)
		switch {
		case outcome.TimedOut:
			p.counters.timedOut.Add(1)
		case outcome.Err != nil:
			p.counters.failed.Add(1)
		default:
			p.counters.completed.Add(1)
		}
		if outcome.Panicked {
			p.counters.panicked.Add(1)
		}

		p.logger.Debug(queued.ctx, "branch finished", map[string]interface{}{
			"worker_id": id,
			"branch":    string(outcome.Branch),
			"timed_out": outcome.TimedOut,
			"duration":  outcome.Duration.Seconds(),
		})
		select {
		case p.results <- outcome:
		case <-p.ctx.Done():
			p.logger.Warn(queued.ctx, "branch outcome dropped after stop", map[string]interface{}{
				"branch": string(outcome.Branch),
			})
		}
	}
}

// execute runs one task under its deadline and recovers panics
func (p *BranchPool) execute(parent context.Context, task BranchTask) BranchOutcome {
	start := time.Now()
	outcome := BranchOutcome{Branch: task.Branch, Timeout: task.Timeout}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	// The pool's own context cancels branches left running at Stop
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	ctx, span := p.telemetry.StartSpan(ctx, "branch_pool.execute",
		trace.WithAttributes(
			attribute.String("branch.name", string(task.Branch)),
			attribute.Float64("branch.timeout_seconds", task.Timeout.Seconds()),
		),
	)
	defer span.End()

	p.counters.running.Add(1)
	defer p.counters.running.Add(-1)
	if p.metrics != nil {
		p.metrics.RecordBranchStarted(ctx)
	}

	type result struct {
		value    BranchValue
		err      error
		panicked bool
	}
	done := make(chan result, 1)

	go func() {
		var r result
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error(ctx, "branch panicked", fmt.Errorf("%v", rec), map[string]interface{}{
					"branch": string(task.Branch),
					"stack":  string(debug.Stack()),
				})
				r = result{err: fmt.Errorf("branch %s panicked: %v", task.Branch, rec), panicked: true}
			}
			done <- r
		}()
		r.value, r.err = task.Run(ctx)
	}()

	select {
	case r := <-done:
		outcome.BranchValue = r.value
		outcome.Err = r.err
		outcome.Panicked = r.panicked
	case <-ctx.Done():
		outcome.Err = ctx.Err()
		runExpired := errors.Is(parent.Err(), context.DeadlineExceeded)
		outcome.TimedOut = runExpired || errors.Is(ctx.Err(), context.DeadlineExceeded)
		if outcome.TimedOut {
			// An earlier run deadline cuts the branch short of its own timeout
			if runExpired {
				outcome.RunDeadline = true
				outcome.Timeout = budget(ctx, start)
			}
			outcome.Err = fmt.Errorf("%w: %s after %s", domain.ErrBranchTimeout, task.Branch, outcome.Timeout)
		}
	}

	outcome.Duration = time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordBranchFinished(ctx, string(task.Branch), outcome.TimedOut)
	}
	return outcome
}

// budget is the time between start and the deadline of ctx
func budget(ctx context.Context, start time.Time) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok || deadline.Before(start) {
		return 0
	}
	return deadline.Sub(start)
}
