// Package engine drives block ingestion for one reader: it takes decoded
// blocks from the feed, classifies them against the checkpoint, and applies
// each one (fork revert, processor dispatch, checkpoint bookkeeping) inside a
// single database transaction.
//
// # Flow
//
//	feed.Reader ──▶ queue ──▶ applier
//	                            │
//	                            ├─ Detector.Check (forward / duplicate / fork)
//	                            ├─ BeginBlock
//	                            ├─ Reorg.Rollback (fork only)
//	                            ├─ Dispatcher.Dispatch
//	                            ├─ Checkpoints.Stage
//	                            ├─ Commit
//	                            └─ Checkpoints.Commit, Ack, notify
//
// A failed attempt rolls back and is retried with capped exponential backoff
// until it succeeds or the context is cancelled. Stream inconsistencies stop
// the engine with a *FatalError.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/filler/internal/core/checkpoint"
	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/indexing/metrics"
	"github.com/vietddude/filler/internal/indexing/reorg"
	"github.com/vietddude/filler/internal/infra/feed"
	"github.com/vietddude/filler/internal/infra/storage"
)

var (
	// ErrAlreadyRunning is returned when Run is called on a running engine.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrMissingDependency is returned by New for an incomplete Config.
	ErrMissingDependency = errors.New("missing engine dependency")
)

// Dispatcher routes a block's events to processor callbacks.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx storage.ContractTx, block *domain.Block) error
}

// Notifier is told about committed blocks. Failures are logged and never
// undo a commit.
type Notifier interface {
	BlockCommitted(ctx context.Context, reader string, block *domain.Block) error
	ForkHandled(ctx context.Context, reader string, block *domain.Block, reverted []domain.BlockRef) error
}

// RetryConfig controls backoff between failed attempts at the same block.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

const (
	DefaultInitialDelay    = 500 * time.Millisecond
	DefaultMaxDelay        = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config wires an engine.
type Config struct {
	Reader      string
	Store       storage.BlockStore
	Dispatcher  Dispatcher
	Checkpoints *checkpoint.Manager
	Feed        *feed.Reader
	Detector    *reorg.Detector // default: reorg.NewDetector(reorg.Config{})
	Reorg       *reorg.Handler  // default: reorg.NewHandler()
	Notifier    Notifier        // optional
	Retry       RetryConfig

	// ShutdownTimeout bounds how long the block in flight may take to finish
	// after Run's context is cancelled.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// FatalError stops the engine. The checkpoint is left at the last good block.
type FatalError struct {
	BlockNum uint64
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal at block %d: %v", e.BlockNum, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Status is a point-in-time view for health reporting.
type Status struct {
	Reader              string
	State               checkpoint.State
	BlockNum            uint64
	BlockID             string
	IrreversibleNum     uint64
	WindowSize          int
	ConsecutiveFailures int
	LastError           string
	LastAppliedAt       time.Time
	BlocksPerSecond     float64
	Forks               int
	Running             bool
}

// Engine applies blocks for one reader.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	running atomic.Bool

	mu            sync.RWMutex
	failures      int
	lastError     string
	lastAppliedAt time.Time
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Reader == "":
		return nil, fmt.Errorf("%w: reader name", ErrMissingDependency)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: block store", ErrMissingDependency)
	case cfg.Dispatcher == nil:
		return nil, fmt.Errorf("%w: dispatcher", ErrMissingDependency)
	case cfg.Checkpoints == nil:
		return nil, fmt.Errorf("%w: checkpoint manager", ErrMissingDependency)
	case cfg.Feed == nil:
		return nil, fmt.Errorf("%w: feed", ErrMissingDependency)
	}
	if cfg.Detector == nil {
		cfg.Detector = reorg.NewDetector(reorg.Config{})
	}
	if cfg.Reorg == nil {
		cfg.Reorg = reorg.NewHandler()
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = DefaultInitialDelay
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		cfg.Retry.MaxDelay = max(DefaultMaxDelay, cfg.Retry.InitialDelay)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: cfg.Logger.With("reader", cfg.Reader)}, nil
}

// Run reads and applies blocks until the feed is exhausted, ctx is
// cancelled, or a fatal error occurs. Cancellation is not an error.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	cp := e.cfg.Checkpoints.Checkpoint()
	e.logger.Info("Engine starting",
		"checkpoint", cp.BlockNum,
		"irreversible", cp.IrreversibleNum,
		"window", len(e.cfg.Checkpoints.Window()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.cfg.Feed.Run(gctx)
	})
	g.Go(func() error {
		return e.applyLoop(gctx)
	})

	err := g.Wait()
	var fatal *FatalError
	switch {
	case errors.As(err, &fatal):
		return fatal
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		err = nil
	}
	e.logger.Info("Engine stopped", "checkpoint", e.cfg.Checkpoints.Checkpoint().BlockNum, "error", err)
	return err
}

func (e *Engine) applyLoop(ctx context.Context) error {
	blocks := e.cfg.Feed.Blocks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			if err := e.process(ctx, block); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return nil
				}
				return err
			}
		}
	}
}

// outcome describes one applied or skipped block.
type outcome struct {
	kind     reorg.Kind
	reverted []domain.BlockRef
	rollback *reorg.RollbackResult
	duration time.Duration
}

// process applies block, retrying until it succeeds, turns fatal, or ctx ends.
func (e *Engine) process(ctx context.Context, block *domain.Block) error {
	backoff := retry.WithCappedDuration(e.cfg.Retry.MaxDelay, retry.NewExponential(e.cfg.Retry.InitialDelay))

	var (
		res     *outcome
		attempt int
	)
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		attempt++
		actx, cancel := detach(ctx, e.cfg.ShutdownTimeout)
		defer cancel()

		out, err := e.apply(actx, block)
		if err == nil {
			res = out
			return nil
		}
		if isFatal(err) {
			return &FatalError{BlockNum: block.Num, Err: err}
		}
		e.recordFailure(block, attempt, err)
		return retry.RetryableError(err)
	})
	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			e.halt(ctx, fatal)
		}
		return err
	}

	e.recordSuccess(block, res)
	if err := e.cfg.Feed.Ack(1); err != nil {
		e.logger.Warn("Failed to acknowledge block", "block", block.Num, "error", err)
	}
	if res.kind != reorg.Duplicate {
		e.notify(ctx, block, res)
	}
	return nil
}

// apply runs one attempt at block. Any error leaves the database and the
// checkpoint exactly as before the attempt.
func (e *Engine) apply(ctx context.Context, block *domain.Block) (_ *outcome, err error) {
	start := time.Now()
	mgr := e.cfg.Checkpoints

	decision, err := e.cfg.Detector.Check(block, mgr.Checkpoint(), mgr.Window())
	if err != nil {
		return nil, err
	}
	if decision.Kind == reorg.Duplicate {
		return &outcome{kind: reorg.Duplicate}, nil
	}

	event := checkpoint.EventApply
	if decision.Kind == reorg.Fork {
		event = checkpoint.EventRollback
	}
	if err := mgr.Fire(ctx, event, fmt.Sprintf("block %d %s", block.Num, decision.Kind)); err != nil {
		return nil, err
	}

	var tx storage.BlockTx
	defer func() {
		if err != nil {
			e.abort(ctx, tx, block.Num, err)
		}
	}()

	tx, err = e.cfg.Store.BeginBlock(ctx, e.cfg.Reader, block)
	if err != nil {
		return nil, err
	}

	out := &outcome{kind: decision.Kind}
	if decision.Kind == reorg.Fork {
		out.rollback, err = e.cfg.Reorg.Rollback(ctx, tx, decision.Revert)
		if err != nil {
			return nil, err
		}
		out.reverted = decision.Revert
		if err = mgr.Fire(ctx, checkpoint.EventResume, fmt.Sprintf("reverted to %d", decision.ForkPoint.Num)); err != nil {
			return nil, err
		}
	}

	if err = e.cfg.Dispatcher.Dispatch(ctx, tx, block); err != nil {
		return nil, err
	}
	if err = mgr.Stage(ctx, tx, block, len(out.reverted)); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit block %d: %w", block.Num, err)
	}
	if err = mgr.Commit(ctx, block); err != nil {
		return nil, err
	}

	out.duration = time.Since(start)
	return out, nil
}

// abort undoes a failed attempt and returns the state machine to CAUGHT_UP.
func (e *Engine) abort(ctx context.Context, tx storage.BlockTx, blockNum uint64, cause error) {
	if tx != nil {
		if err := tx.Rollback(); err != nil {
			e.logger.Warn("Rollback failed", "block", blockNum, "error", err)
		}
	}
	mgr := e.cfg.Checkpoints
	mgr.Discard()
	if s := mgr.State(); s == checkpoint.StateApplying || s == checkpoint.StateRollingBack {
		if err := mgr.Fire(ctx, checkpoint.EventRetry, cause.Error()); err != nil {
			e.logger.Error("Failed to reset state", "state", s, "error", err)
		}
	}
}

// halt moves the reader into ERROR.
func (e *Engine) halt(ctx context.Context, fatal *FatalError) {
	e.mu.Lock()
	e.lastError = fatal.Error()
	e.mu.Unlock()

	actx, cancel := detach(ctx, e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.cfg.Checkpoints.Fire(actx, checkpoint.EventFail, fatal.Err.Error()); err != nil {
		e.logger.Error("Failed to enter error state", "error", err)
	}
	e.logger.Error("Ingestion halted",
		"block", fatal.BlockNum,
		"checkpoint", e.cfg.Checkpoints.Checkpoint().BlockNum,
		"error", fatal.Err,
	)
}

func (e *Engine) recordFailure(block *domain.Block, attempt int, err error) {
	e.mu.Lock()
	e.failures++
	failures := e.failures
	e.lastError = err.Error()
	e.mu.Unlock()

	metrics.ConsecutiveFailures.WithLabelValues(e.cfg.Reader).Set(float64(failures))
	e.logger.Error("Block apply failed, retrying",
		"block", block.Num,
		"attempt", attempt,
		"consecutive_failures", failures,
		"error", err,
	)
}

func (e *Engine) recordSuccess(block *domain.Block, res *outcome) {
	e.mu.Lock()
	e.failures = 0
	e.lastError = ""
	if res.kind != reorg.Duplicate {
		e.lastAppliedAt = time.Now()
	}
	e.mu.Unlock()

	reader := e.cfg.Reader
	metrics.ConsecutiveFailures.WithLabelValues(reader).Set(0)

	switch res.kind {
	case reorg.Duplicate:
		metrics.BlocksSkipped.WithLabelValues(reader).Inc()
		e.logger.Debug("Skipped duplicate block", "block", block.Num, "id", block.ID)
		return
	case reorg.Fork:
		metrics.ForksTotal.WithLabelValues(reader).Inc()
		metrics.BlocksReverted.WithLabelValues(reader).Add(float64(len(res.reverted)))
		metrics.LastForkAt.WithLabelValues(reader).SetToCurrentTime()
		e.logger.Warn("Chain fork handled",
			"block", block.Num,
			"fork_point", res.rollback.ForkPoint,
			"reverted_blocks", res.rollback.RevertedBlocks,
			"reverted_ops", res.rollback.RevertedOps,
			"rollback_duration", res.rollback.Duration,
		)
	}

	metrics.BlocksApplied.WithLabelValues(reader).Inc()
	metrics.BlockApplyDuration.WithLabelValues(reader).Observe(res.duration.Seconds())
	e.logger.Debug("Applied block",
		"block", block.Num,
		"id", block.ID,
		"traces", len(block.Traces),
		"deltas", len(block.Deltas),
		"duration", res.duration,
	)
}

func (e *Engine) notify(ctx context.Context, block *domain.Block, res *outcome) {
	n := e.cfg.Notifier
	if n == nil {
		return
	}
	nctx, cancel := detach(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	if res.kind == reorg.Fork {
		if err := n.ForkHandled(nctx, e.cfg.Reader, block, res.reverted); err != nil {
			e.logger.Warn("Failed to publish fork", "block", block.Num, "error", err)
		}
	}
	if err := n.BlockCommitted(nctx, e.cfg.Reader, block); err != nil {
		e.logger.Warn("Failed to publish block", "block", block.Num, "error", err)
	}
}

// Status returns the current status.
func (e *Engine) Status() Status {
	mgr := e.cfg.Checkpoints
	cp := mgr.Checkpoint()
	perf := mgr.GetMetrics()

	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Reader:              e.cfg.Reader,
		State:               mgr.State(),
		BlockNum:            cp.BlockNum,
		BlockID:             cp.BlockID,
		IrreversibleNum:     cp.IrreversibleNum,
		WindowSize:          len(mgr.Window()),
		ConsecutiveFailures: e.failures,
		LastError:           e.lastError,
		LastAppliedAt:       e.lastAppliedAt,
		BlocksPerSecond:     perf.BlocksPerSecond,
		Forks:               perf.Forks,
		Running:             e.running.Load(),
	}
}

// isFatal reports errors that retrying the same block cannot fix.
func isFatal(err error) bool {
	return errors.Is(err, reorg.ErrForkBeyondWindow) ||
		errors.Is(err, reorg.ErrDiscontinuity) ||
		errors.Is(err, checkpoint.ErrNotMonotonic) ||
		errors.Is(err, checkpoint.ErrNotStaged) ||
		errors.Is(err, checkpoint.ErrInvalidTransition)
}

// detach returns a context that ignores parent's cancellation for up to
// grace after parent is done, so the block in flight can commit or roll back.
func detach(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
