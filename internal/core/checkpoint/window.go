package checkpoint

import (
	"sort"

	"github.com/vietddude/filler/internal/core/domain"
)

// Window is the ordered set of recently applied blocks kept for fork recovery.
// Not safe for concurrent use; Manager guards it.
type Window struct {
	refs []domain.BlockRef // ascending by Num
}

// NewWindow builds a window from refs in any order.
func NewWindow(refs []domain.BlockRef) *Window {
	w := &Window{refs: append([]domain.BlockRef(nil), refs...)}
	sort.Slice(w.refs, func(i, j int) bool { return w.refs[i].Num < w.refs[j].Num })
	return w
}

// Len returns the number of retained blocks.
func (w *Window) Len() int {
	return len(w.refs)
}

// Refs returns a copy of the retained blocks, oldest first.
func (w *Window) Refs() []domain.BlockRef {
	return append([]domain.BlockRef(nil), w.refs...)
}

// At returns the retained block at height num.
func (w *Window) At(num uint64) (domain.BlockRef, bool) {
	i := sort.Search(len(w.refs), func(i int) bool { return w.refs[i].Num >= num })
	if i < len(w.refs) && w.refs[i].Num == num {
		return w.refs[i], true
	}
	return domain.BlockRef{}, false
}

// Oldest returns the lowest retained block.
func (w *Window) Oldest() (domain.BlockRef, bool) {
	if len(w.refs) == 0 {
		return domain.BlockRef{}, false
	}
	return w.refs[0], true
}

// Newest returns the highest retained block.
func (w *Window) Newest() (domain.BlockRef, bool) {
	if len(w.refs) == 0 {
		return domain.BlockRef{}, false
	}
	return w.refs[len(w.refs)-1], true
}

// Push drops every block at or above ref.Num and appends ref.
func (w *Window) Push(ref domain.BlockRef) {
	if ref.Num == 0 {
		w.refs = w.refs[:0]
	} else {
		w.TruncateAbove(ref.Num - 1)
	}
	w.refs = append(w.refs, ref)
}

// TruncateAbove drops blocks above num.
func (w *Window) TruncateAbove(num uint64) {
	i := sort.Search(len(w.refs), func(i int) bool { return w.refs[i].Num > num })
	w.refs = w.refs[:i]
}

// PruneBelow drops blocks below num.
func (w *Window) PruneBelow(num uint64) {
	i := sort.Search(len(w.refs), func(i int) bool { return w.refs[i].Num >= num })
	w.refs = append(w.refs[:0], w.refs[i:]...)
}

// PruneHeight returns the height below which blocks should be dropped given
// the irreversible height and the size bound. Only the newest block at or
// below irreversible is kept, as the anchor for the next parent check.
// Zero means nothing to prune.
func (w *Window) PruneHeight(irreversible uint64, size int) uint64 {
	if len(w.refs) == 0 {
		return 0
	}
	var cut uint64
	for _, ref := range w.refs {
		if ref.Num <= irreversible {
			cut = ref.Num
		}
	}
	if size > 0 && len(w.refs) > size {
		if bound := w.refs[len(w.refs)-size].Num; bound > cut {
			cut = bound
		}
	}
	if cut <= w.refs[0].Num {
		return 0
	}
	return cut
}
