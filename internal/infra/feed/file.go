package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vietddude/filler/internal/core/domain"
)

// maxLineSize bounds one encoded block.
const maxLineSize = 64 << 20

// ErrCheckpointNotFound is returned when a file ends before the checkpoint
// block, or a child of it, was read.
var ErrCheckpointNotFound = errors.New("checkpoint block not found in feed")

// FileSource reads newline-delimited JSON blocks, one per line. A recorded
// feed may contain forks, so resuming is positional: every line up to and
// including the checkpoint block is skipped, and everything after it is
// delivered even when its number is lower.
type FileSource struct {
	mu      sync.Mutex
	f       io.ReadCloser
	scanner *bufio.Scanner
	after   domain.BlockRef
	seeking bool
	line    int
	closed  bool
}

// OpenFile opens path and resumes after the checkpoint block after. A zero
// ref reads from the first line.
func OpenFile(path string, after domain.BlockRef) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed file: %w", err)
	}
	return NewFileSource(f, after), nil
}

// NewFileSource reads from r.
func NewFileSource(r io.ReadCloser, after domain.BlockRef) *FileSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &FileSource{f: r, scanner: scanner, after: after, seeking: after.ID != ""}
}

func (s *FileSource) Next(ctx context.Context) (*domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.closed {
			return nil, ErrClosed
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read feed line %d: %w", s.line+1, err)
			}
			if s.seeking {
				return nil, fmt.Errorf("%w: block %d %s", ErrCheckpointNotFound, s.after.Num, s.after.ID)
			}
			return nil, io.EOF
		}
		s.line++

		data := s.scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		b, err := DecodeBlock(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", s.line, err)
		}
		if s.seeking {
			switch {
			case b.Num == s.after.Num && b.ID == s.after.ID:
				s.seeking = false
				continue
			case b.Num > s.after.Num && b.ParentID == s.after.ID:
				// file starts past the checkpoint
				s.seeking = false
			default:
				continue
			}
		}
		return b, nil
	}
}

// Ack is a no-op; the file is read at the consumer's pace.
func (s *FileSource) Ack(int) error {
	return nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
