// Package checkpoint tracks how far a reader has applied the block stream.
//
// The Manager holds three things:
//   - the last committed block (number, id, irreversible height)
//   - the retained window of recent block refs used to recognise forks
//   - the ingestion state machine
//
// Persistence happens inside the block's own transaction: Stage writes the new
// checkpoint, window entry and pruning through the transaction, and Commit
// publishes them in memory only after the database commit succeeded. The
// checkpoint therefore never runs ahead of the data it describes.
//
// State machine:
//
//	CAUGHT_UP --apply--> APPLYING --commit--> CAUGHT_UP
//	CAUGHT_UP --rollback--> ROLLING_BACK --resume--> APPLYING
//	APPLYING | ROLLING_BACK --retry--> CAUGHT_UP
//	any --fail--> ERROR
//
// # Quick Start
//
//	mgr := checkpoint.NewManager("filler", checkpoint.DefaultWindowSize)
//	if err := mgr.Restore(ctx, repo); err != nil { ... }
//
//	_ = mgr.Fire(ctx, checkpoint.EventApply, "block 1001")
//	tx, _ := db.BeginBlock(ctx, "filler", block)
//	// dispatch ...
//	_ = mgr.Stage(ctx, tx, block, 0)
//	_ = tx.Commit(ctx)
//	_ = mgr.Commit(ctx, block)
package checkpoint

import (
	"github.com/looplab/fsm"
)

// NewManager creates a manager for reader. windowSize bounds the retained
// window; zero or less uses DefaultWindowSize.
func NewManager(reader string, windowSize int) *Manager {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Manager{
		reader:     reader,
		windowSize: windowSize,
		window:     NewWindow(nil),
		machine:    newMachine(fsm.Callbacks{}),
		collector:  NewMetricsCollector(100),
	}
}
