// Package reorg recognises forks in the block stream and undoes the blocks
// they orphan.
//
// # Detection
//
// Every incoming block is compared with the checkpoint and the retained
// window (no extra calls to the node):
//   - parent matches the checkpoint block: forward progress
//   - the same block was already applied: duplicate, skipped
//   - parent matches an older retained block: fork, revert everything above it
//   - anything else is an unrecoverable inconsistency
//
// # Rollback
//
//  1. Walk the orphaned blocks newest first
//  2. Replay each block's undo journal inside the new block's transaction
//  3. Report the result to the revert callback
//
// # Usage
//
//	detector := reorg.NewDetector(reorg.Config{MaxDepth: 360})
//	handler := reorg.NewHandler()
//
//	decision, err := detector.Check(block, mgr.Checkpoint(), mgr.Window())
//	if decision.Kind == reorg.Fork {
//	    handler.Rollback(ctx, tx, decision.Revert)
//	}
package reorg

import (
	"errors"
)

var (
	// ErrForkBeyondWindow is returned when a fork reaches below the retained
	// window, the irreversible height, or the configured depth.
	ErrForkBeyondWindow = errors.New("fork beyond retained window")

	// ErrDiscontinuity is returned when a block neither extends nor forks the
	// applied chain.
	ErrDiscontinuity = errors.New("block stream discontinuity")
)

// Config holds configuration for fork detection.
type Config struct {
	MaxDepth int // Maximum number of blocks a fork may revert (default: 360)
}

// DefaultMaxDepth is used when Config.MaxDepth is unset.
const DefaultMaxDepth = 360

// NewDetector creates a new fork detector.
func NewDetector(config Config) *Detector {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	return &Detector{config: config}
}

// NewHandler creates a new rollback handler.
func NewHandler() *Handler {
	return &Handler{}
}
