// Package feed delivers decoded blocks from the chain to the ingestion engine.
package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/indexing/metrics"
)

// ErrClosed is returned by a source used after Close.
var ErrClosed = errors.New("feed closed")

// Source yields blocks in chain order. Next returns io.EOF when a finite
// source is exhausted. Ack tells the source that n more blocks were fully
// handled so it may send more.
type Source interface {
	Next(ctx context.Context) (*domain.Block, error)
	Ack(n int) error
	Close() error
}

// DefaultQueueSize bounds the blocks buffered ahead of the applier.
const DefaultQueueSize = 32

// Reader pumps a Source into a bounded queue. A full queue blocks the pump,
// which stops reading from the source and therefore stops acknowledging.
type Reader struct {
	src    Source
	name   string
	out    chan *domain.Block
	logger *slog.Logger
}

// NewReader creates a reader with queueSize slots (DefaultQueueSize if <= 0).
func NewReader(src Source, name string, queueSize int, logger *slog.Logger) *Reader {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		src:    src,
		name:   name,
		out:    make(chan *domain.Block, queueSize),
		logger: logger,
	}
}

// Blocks is closed when Run returns.
func (r *Reader) Blocks() <-chan *domain.Block {
	return r.out
}

// Ack forwards acknowledgements to the source.
func (r *Reader) Ack(n int) error {
	return r.src.Ack(n)
}

// Run reads until the source is exhausted, fails or ctx is done. Exhaustion
// is not an error.
func (r *Reader) Run(ctx context.Context) error {
	defer close(r.out)
	gauge := metrics.QueueDepth.WithLabelValues(r.name)

	for {
		block, err := r.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Info("Feed exhausted", "reader", r.name)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		select {
		case r.out <- block:
			gauge.Set(float64(len(r.out)))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the source.
func (r *Reader) Close() error {
	return r.src.Close()
}
