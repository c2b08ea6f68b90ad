package reorg

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/infra/storage"
)

// Handler executes rollback of orphaned blocks.
type Handler struct {
	callback func(event RevertEvent)
}

// RollbackResult contains the result of a rollback operation.
type RollbackResult struct {
	ForkPoint      uint64
	RevertedBlocks int
	RevertedOps    int
	Duration       time.Duration
}

// RevertEvent is emitted for each reverted block.
type RevertEvent struct {
	Block      domain.BlockRef
	Operations int
	RevertedAt time.Time
}

// SetRevertCallback sets a callback for revert events.
func (h *Handler) SetRevertCallback(fn func(event RevertEvent)) {
	h.callback = fn
}

// Rollback undoes refs, which must be ordered newest first, through r.
// r is the transaction of the block that replaces them, so the revert and the
// new block commit or fail together.
func (h *Handler) Rollback(
	ctx context.Context,
	r storage.BlockReverter,
	refs []domain.BlockRef,
) (*RollbackResult, error) {
	start := time.Now()
	result := &RollbackResult{}

	for i, ref := range refs {
		if i > 0 && ref.Num >= refs[i-1].Num {
			return nil, fmt.Errorf("revert order: block %d after %d", ref.Num, refs[i-1].Num)
		}

		n, err := r.RevertBlock(ctx, ref.Num)
		if err != nil {
			return nil, fmt.Errorf("failed to revert block %d: %w", ref.Num, err)
		}
		result.RevertedBlocks++
		result.RevertedOps += n
		result.ForkPoint = ref.Num - 1

		if h.callback != nil {
			h.callback(RevertEvent{Block: ref, Operations: n, RevertedAt: time.Now()})
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}
