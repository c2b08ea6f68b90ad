package feed

import (
	"context"
	"io"
	"sync"

	"github.com/vietddude/filler/internal/core/domain"
)

// SliceSource replays a fixed list of blocks.
type SliceSource struct {
	mu     sync.Mutex
	blocks []*domain.Block
	pos    int
	acked  int
	closed bool
}

// NewSliceSource creates a source over blocks.
func NewSliceSource(blocks ...*domain.Block) *SliceSource {
	return &SliceSource{blocks: blocks}
}

func (s *SliceSource) Next(ctx context.Context) (*domain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.pos >= len(s.blocks) {
		return nil, io.EOF
	}
	b := s.blocks[s.pos]
	s.pos++
	return b, nil
}

func (s *SliceSource) Ack(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked += n
	return nil
}

// Acked returns the total acknowledged so far.
func (s *SliceSource) Acked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
