package reorg

import (
	"fmt"

	"github.com/vietddude/filler/internal/core/domain"
)

// Kind classifies an incoming block.
type Kind int

const (
	Forward Kind = iota
	Duplicate
	Fork
)

func (k Kind) String() string {
	switch k {
	case Forward:
		return "forward"
	case Duplicate:
		return "duplicate"
	case Fork:
		return "fork"
	default:
		return "unknown"
	}
}

// Decision is the outcome of checking one block.
type Decision struct {
	Kind Kind

	// Revert lists the applied blocks to undo, newest first. Only set for Fork.
	Revert []domain.BlockRef

	// ForkPoint is the retained block the new block builds on. Only set for Fork.
	ForkPoint domain.BlockRef
}

// Detector checks incoming blocks against the applied chain.
type Detector struct {
	config Config
}

// Check classifies block given the checkpoint and the retained window
// (oldest first).
func (d *Detector) Check(block *domain.Block, cp domain.Checkpoint, window []domain.BlockRef) (*Decision, error) {
	if cp.IsZero() {
		return &Decision{Kind: Forward}, nil
	}
	if block.Num == cp.BlockNum+1 && block.ParentID == cp.BlockID {
		return &Decision{Kind: Forward}, nil
	}
	if block.Num == cp.BlockNum && block.ID == cp.BlockID {
		return &Decision{Kind: Duplicate}, nil
	}
	if ref, ok := find(window, block.Num); ok && ref.ID == block.ID {
		return &Decision{Kind: Duplicate}, nil
	}
	if block.Num > cp.BlockNum+1 {
		return nil, fmt.Errorf("%w: checkpoint at %d, got block %d", ErrDiscontinuity, cp.BlockNum, block.Num)
	}
	if block.Num == 0 {
		return nil, fmt.Errorf("%w: block 0 does not match checkpoint", ErrDiscontinuity)
	}

	parent, ok := find(window, block.Num-1)
	if !ok {
		if len(window) == 0 || block.Num-1 < window[0].Num {
			if block.Num <= cp.IrreversibleNum {
				// Redelivered history that is already final and pruned.
				return &Decision{Kind: Duplicate}, nil
			}
			return nil, fmt.Errorf("%w: parent %d of block %d is not retained",
				ErrForkBeyondWindow, block.Num-1, block.Num)
		}
		return nil, fmt.Errorf("%w: no retained block %d for parent of block %d",
			ErrDiscontinuity, block.Num-1, block.Num)
	}
	if parent.ID != block.ParentID {
		return nil, fmt.Errorf("%w: block %d parent %s unknown, retained %s",
			ErrDiscontinuity, block.Num, block.ParentID, parent.ID)
	}

	var revert []domain.BlockRef
	for i := len(window) - 1; i >= 0 && window[i].Num >= block.Num; i-- {
		ref := window[i]
		if ref.Num <= cp.IrreversibleNum {
			return nil, fmt.Errorf("%w: block %d is irreversible (lib %d)",
				ErrForkBeyondWindow, ref.Num, cp.IrreversibleNum)
		}
		revert = append(revert, ref)
	}
	if len(revert) > d.config.MaxDepth {
		return nil, fmt.Errorf("%w: fork depth %d exceeds %d",
			ErrForkBeyondWindow, len(revert), d.config.MaxDepth)
	}

	return &Decision{Kind: Fork, Revert: revert, ForkPoint: parent}, nil
}

func find(window []domain.BlockRef, num uint64) (domain.BlockRef, bool) {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Num == num {
			return window[i], true
		}
		if window[i].Num < num {
			break
		}
	}
	return domain.BlockRef{}, false
}
