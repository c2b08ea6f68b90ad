package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/infra/storage"
)

// CheckpointRepo implements storage.CheckpointRepository.
type CheckpointRepo struct {
	db *DB
}

var _ storage.CheckpointRepository = (*CheckpointRepo)(nil)

// NewCheckpointRepo creates a new checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	Reader          string `db:"reader"`
	BlockNum        int64  `db:"block_num"`
	BlockID         string `db:"block_id"`
	IrreversibleNum int64  `db:"irreversible_num"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r *checkpointRow) toDomain() *domain.Checkpoint {
	return &domain.Checkpoint{
		Reader:          r.Reader,
		BlockNum:        uint64(r.BlockNum),
		BlockID:         r.BlockID,
		IrreversibleNum: uint64(r.IrreversibleNum),
		UpdatedAt:       time.UnixMilli(r.UpdatedAt),
	}
}

// GetCheckpoint retrieves the checkpoint of reader.
func (r *CheckpointRepo) GetCheckpoint(ctx context.Context, reader string) (*domain.Checkpoint, error) {
	query := r.db.Rebind(`
		SELECT reader, block_num, block_id, irreversible_num, updated_at
		FROM filler_checkpoints
		WHERE reader = ?
	`)

	var row checkpointRow
	err := r.db.GetContext(ctx, &row, query, reader)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return row.toDomain(), nil
}

// ListCheckpoints returns the checkpoints of all readers.
func (r *CheckpointRepo) ListCheckpoints(ctx context.Context) ([]*domain.Checkpoint, error) {
	var rows []checkpointRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT reader, block_num, block_id, irreversible_num, updated_at
		FROM filler_checkpoints
		ORDER BY reader
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	cps := make([]*domain.Checkpoint, len(rows))
	for i := range rows {
		cps[i] = rows[i].toDomain()
	}
	return cps, nil
}

type blockRefRow struct {
	BlockNum int64  `db:"block_num"`
	BlockID  string `db:"block_id"`
	ParentID string `db:"parent_id"`
}

// GetRetainedBlocks returns the retained window of reader, oldest first.
func (r *CheckpointRepo) GetRetainedBlocks(ctx context.Context, reader string) ([]domain.BlockRef, error) {
	query := r.db.Rebind(`
		SELECT block_num, block_id, parent_id
		FROM filler_reversible_blocks
		WHERE reader = ?
		ORDER BY block_num ASC
	`)

	var rows []blockRefRow
	if err := r.db.SelectContext(ctx, &rows, query, reader); err != nil {
		return nil, fmt.Errorf("failed to get retained blocks: %w", err)
	}

	refs := make([]domain.BlockRef, len(rows))
	for i, row := range rows {
		refs[i] = domain.BlockRef{Num: uint64(row.BlockNum), ID: row.BlockID, ParentID: row.ParentID}
	}
	return refs, nil
}

// Reset removes all persisted progress of reader, so the next run starts from
// whatever block the feed delivers first.
func (r *CheckpointRepo) Reset(ctx context.Context, reader string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{tableQueries, tableBlocks, tableCheckpoints} {
		query := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE reader = ?", table))
		if _, err := tx.ExecContext(ctx, query, reader); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}
