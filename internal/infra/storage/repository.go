package storage

import (
	"context"
	"errors"

	"github.com/vietddude/filler/internal/core/domain"
)

var (
	// ErrCheckpointNotFound is returned when a reader has never committed a block.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrTxDone is returned when using a transaction after commit or rollback.
	ErrTxDone = errors.New("transaction already completed")

	// ErrInvalidIdentifier is returned for table or column names that are not plain identifiers.
	ErrInvalidIdentifier = errors.New("invalid sql identifier")
)

// Where is a SQL boolean condition with `?` placeholders.
type Where struct {
	Clause string
	Args   []any
}

// Cond builds a Where.
func Cond(clause string, args ...any) Where {
	return Where{Clause: clause, Args: args}
}

// ContractTx is the unit of work handed to processor callbacks. Every write
// declares the columns that identify a row so that replaying a block is harmless
// and so that the write can be undone if its block is forked out.
type ContractTx interface {
	// Insert upserts row; on conflict over conflictKeys the other columns are overwritten.
	Insert(ctx context.Context, table string, row domain.Record, conflictKeys []string) error

	// Update applies patch to rows matching where. Matching no rows is not an error.
	Update(ctx context.Context, table string, patch domain.Record, where Where, primaryKey []string) error

	// Delete removes rows matching where.
	Delete(ctx context.Context, table string, where Where, primaryKey []string) error

	// Query reads within the same transaction snapshot.
	Query(ctx context.Context, query string, args ...any) ([]domain.Record, error)
}

// CheckpointRepository loads persisted ingestion progress at startup.
type CheckpointRepository interface {
	// GetCheckpoint returns ErrCheckpointNotFound for a fresh reader.
	GetCheckpoint(ctx context.Context, reader string) (*domain.Checkpoint, error)

	// GetRetainedBlocks returns the retained block window, oldest first.
	GetRetainedBlocks(ctx context.Context, reader string) ([]domain.BlockRef, error)
}

// CheckpointWriter persists ingestion progress inside a block transaction.
type CheckpointWriter interface {
	// SaveCheckpoint upserts the checkpoint record.
	SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error

	// RetainBlock adds a block to the retained window.
	RetainBlock(ctx context.Context, reader string, ref domain.BlockRef) error

	// ForgetBlocksAbove drops retained blocks (and their undo journal) above blockNum.
	ForgetBlocksAbove(ctx context.Context, reader string, blockNum uint64) error

	// PruneBelow drops retained blocks (and their undo journal) below blockNum.
	PruneBelow(ctx context.Context, reader string, blockNum uint64) error
}

// BlockReverter undoes the recorded writes of a retained block.
type BlockReverter interface {
	// RevertBlock replays the inverse operations of blockNum newest first and
	// returns how many were applied.
	RevertBlock(ctx context.Context, blockNum uint64) (int, error)
}

// BlockTx is the single transaction a block is applied in: processor writes,
// fork reverts and checkpoint bookkeeping all go through it.
type BlockTx interface {
	ContractTx
	CheckpointWriter
	BlockReverter

	// Commit flushes pending bookkeeping and commits.
	Commit(ctx context.Context) error

	// Rollback aborts; calling it after Commit or twice is a no-op.
	Rollback() error
}

// BlockStore opens block transactions.
type BlockStore interface {
	BeginBlock(ctx context.Context, reader string, block *domain.Block) (BlockTx, error)
}
