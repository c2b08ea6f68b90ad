package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/indexing/metrics"
	"github.com/vietddude/filler/internal/infra/storage"
)

var (
	// ErrNotStaged is returned by Commit when Stage was not called for the block.
	ErrNotStaged = errors.New("block not staged")

	// ErrNotMonotonic is returned when staging a block that would move the
	// checkpoint backwards without a fork.
	ErrNotMonotonic = errors.New("checkpoint must advance")
)

// DefaultWindowSize bounds the retained window when none is configured.
const DefaultWindowSize = 720

// staged is the checkpoint and window a block will produce once committed.
type staged struct {
	blockNum uint64
	cp       domain.Checkpoint
	window   *Window
	reverted int
}

// Manager tracks the last committed block of one reader, the retained window
// and the ingestion state machine.
type Manager struct {
	reader     string
	windowSize int

	mu            sync.RWMutex
	cp            domain.Checkpoint
	window        *Window
	machine       *fsm.FSM
	pending       *staged
	collector     *MetricsCollector
	stateCallback func(reader string, t Transition)
}

// Reader returns the reader name.
func (m *Manager) Reader() string {
	return m.reader
}

// Restore loads the persisted checkpoint and window. A reader that never
// committed starts empty.
func (m *Manager) Restore(ctx context.Context, repo storage.CheckpointRepository) error {
	cp, err := repo.GetCheckpoint(ctx, m.reader)
	switch {
	case errors.Is(err, storage.ErrCheckpointNotFound):
		cp = &domain.Checkpoint{Reader: m.reader}
	case err != nil:
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	refs, err := repo.GetRetainedBlocks(ctx, m.reader)
	if err != nil {
		return fmt.Errorf("failed to load retained blocks: %w", err)
	}

	m.mu.Lock()
	m.cp = *cp
	m.window = NewWindow(refs)
	m.pending = nil
	m.mu.Unlock()

	metrics.CheckpointBlock.WithLabelValues(m.reader).Set(float64(cp.BlockNum))
	metrics.IrreversibleBlock.WithLabelValues(m.reader).Set(float64(cp.IrreversibleNum))
	return nil
}

// Checkpoint returns the last committed checkpoint; zero if none.
func (m *Manager) Checkpoint() domain.Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cp
}

// Window returns the retained blocks, oldest first.
func (m *Manager) Window() []domain.BlockRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.window.Refs()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State(m.machine.Current())
}

// Fire sends event to the state machine and records the transition.
func (m *Manager) Fire(ctx context.Context, event, reason string) error {
	m.mu.Lock()
	from := State(m.machine.Current())
	if err := m.machine.Event(ctx, event); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, from, err)
	}
	t := NewTransition(from, State(m.machine.Current()), event, reason)
	m.collector.RecordTransition(t)
	cb := m.stateCallback
	m.mu.Unlock()

	metrics.StateTransitions.WithLabelValues(m.reader, string(t.From), string(t.To)).Inc()
	if cb != nil {
		cb(m.reader, t)
	}
	return nil
}

// Stage writes the checkpoint, window entry and pruning for block through w,
// which must be the block's transaction. reverted is the number of blocks the
// block's fork undid, zero on forward progress. Memory is untouched until Commit.
func (m *Manager) Stage(ctx context.Context, w storage.CheckpointWriter, block *domain.Block, reverted int) error {
	m.mu.RLock()
	cp := m.cp
	window := NewWindow(m.window.refs)
	m.mu.RUnlock()

	if reverted == 0 && !cp.IsZero() && block.Num <= cp.BlockNum {
		return fmt.Errorf("%w: at %d, got %d", ErrNotMonotonic, cp.BlockNum, block.Num)
	}

	if reverted > 0 && block.Num > 0 {
		if err := w.ForgetBlocksAbove(ctx, m.reader, block.Num-1); err != nil {
			return err
		}
	}

	ref := block.Ref()
	window.Push(ref)
	if err := w.RetainBlock(ctx, m.reader, ref); err != nil {
		return err
	}

	irreversible := max(cp.IrreversibleNum, block.IrreversibleHeight())
	if cut := window.PruneHeight(irreversible, m.windowSize); cut > 0 {
		if err := w.PruneBelow(ctx, m.reader, cut); err != nil {
			return err
		}
		window.PruneBelow(cut)
	}

	next := domain.Checkpoint{
		Reader:          m.reader,
		BlockNum:        block.Num,
		BlockID:         block.ID,
		IrreversibleNum: irreversible,
		UpdatedAt:       time.Now(),
	}
	if err := w.SaveCheckpoint(ctx, next); err != nil {
		return err
	}

	m.mu.Lock()
	m.pending = &staged{blockNum: block.Num, cp: next, window: window, reverted: reverted}
	m.mu.Unlock()
	return nil
}

// Discard drops the staged state after the block's transaction rolled back.
func (m *Manager) Discard() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}

// Commit publishes the staged checkpoint after the block's transaction
// committed and moves the state machine back to CAUGHT_UP.
func (m *Manager) Commit(ctx context.Context, block *domain.Block) error {
	m.mu.Lock()
	p := m.pending
	if p == nil || p.blockNum != block.Num {
		m.mu.Unlock()
		return fmt.Errorf("%w: block %d", ErrNotStaged, block.Num)
	}
	m.cp = p.cp
	m.window = p.window
	m.pending = nil
	m.collector.RecordBlock(block.Num, p.cp.UpdatedAt)
	if p.reverted > 0 {
		m.collector.RecordFork(p.reverted)
	}
	m.mu.Unlock()

	metrics.CheckpointBlock.WithLabelValues(m.reader).Set(float64(p.cp.BlockNum))
	metrics.IrreversibleBlock.WithLabelValues(m.reader).Set(float64(p.cp.IrreversibleNum))

	return m.Fire(ctx, EventCommit, "block "+strconv.FormatUint(block.Num, 10)+" committed")
}

// GetMetrics returns performance metrics.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collector.GetMetrics()
}

// SetStateChangeCallback registers a callback for state changes.
func (m *Manager) SetStateChangeCallback(fn func(reader string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}
