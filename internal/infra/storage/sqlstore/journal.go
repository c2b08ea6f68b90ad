package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/infra/storage"
)

const (
	opDelete  = "delete"
	opRestore = "restore"
)

const (
	tableCheckpoints = "filler_checkpoints"
	tableBlocks      = "filler_reversible_blocks"
	tableQueries     = "filler_reversible_queries"
)

// journalEntry is the inverse of one write: either delete the row identified
// by keys, or put back the full prior row.
type journalEntry struct {
	op    string
	table string
	keys  []string
	row   domain.Record
}

func (t *ContractTx) record(op, table string, keys []string, row domain.Record) {
	t.journal = append(t.journal, journalEntry{op: op, table: table, keys: keys, row: row})
}

func (t *ContractTx) flushJournal(ctx context.Context) error {
	for i, e := range t.journal {
		keys, err := jsonAPI.Marshal(e.keys)
		if err != nil {
			return fmt.Errorf("encode journal keys: %w", err)
		}
		data, err := encodeRow(e.row)
		if err != nil {
			return fmt.Errorf("encode journal row: %w", err)
		}
		row := domain.Record{
			"reader":      t.reader,
			"block_num":   t.blockNum,
			"seq":         i,
			"operation":   e.op,
			"table_name":  e.table,
			"key_columns": string(keys),
			"data":        string(data),
		}
		if err := t.upsert(ctx, tableQueries, row, []string{"reader", "block_num", "seq"}); err != nil {
			return fmt.Errorf("flush journal for block %d: %w", t.blockNum, err)
		}
	}
	t.journal = nil
	return nil
}

type journalRow struct {
	Seq        int64  `db:"seq"`
	Operation  string `db:"operation"`
	TableName  string `db:"table_name"`
	KeyColumns string `db:"key_columns"`
	Data       string `db:"data"`
}

// RevertBlock undoes the journaled writes of blockNum, newest first, and drops
// the journal. Reverting is itself never journaled.
func (t *ContractTx) RevertBlock(ctx context.Context, blockNum uint64) (int, error) {
	if t.tx == nil {
		return 0, storage.ErrTxDone
	}

	var rows []journalRow
	err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(`
		SELECT seq, operation, table_name, key_columns, data
		FROM filler_reversible_queries
		WHERE reader = ? AND block_num = ?
		ORDER BY seq DESC`), t.reader, int64(blockNum))
	if err != nil {
		return 0, fmt.Errorf("load journal for block %d: %w", blockNum, err)
	}

	for _, jr := range rows {
		if err := t.undo(ctx, jr); err != nil {
			return 0, fmt.Errorf("revert block %d seq %d: %w", blockNum, jr.Seq, err)
		}
	}

	if err := t.exec(ctx, `DELETE FROM filler_reversible_queries WHERE reader = ? AND block_num = ?`,
		t.reader, int64(blockNum)); err != nil {
		return 0, fmt.Errorf("drop journal for block %d: %w", blockNum, err)
	}
	return len(rows), nil
}

func (t *ContractTx) undo(ctx context.Context, jr journalRow) error {
	var keys []string
	if err := jsonAPI.Unmarshal([]byte(jr.KeyColumns), &keys); err != nil {
		return fmt.Errorf("decode journal keys: %w", err)
	}
	row, err := decodeRow([]byte(jr.Data))
	if err != nil {
		return err
	}

	switch jr.Operation {
	case opDelete:
		cond, err := keyCondition(keys, row)
		if err != nil {
			return err
		}
		query, args, err := buildDelete(jr.TableName, cond)
		if err != nil {
			return err
		}
		return t.exec(ctx, query, args...)
	case opRestore:
		return t.upsert(ctx, jr.TableName, row, keys)
	default:
		return fmt.Errorf("unknown journal operation %q", jr.Operation)
	}
}

// SaveCheckpoint upserts the reader's checkpoint.
func (t *ContractTx) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if t.tx == nil {
		return storage.ErrTxDone
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	row := domain.Record{
		"reader":           cp.Reader,
		"block_num":        cp.BlockNum,
		"block_id":         cp.BlockID,
		"irreversible_num": cp.IrreversibleNum,
		"updated_at":       updated.UnixMilli(),
	}
	if err := t.upsert(ctx, tableCheckpoints, row, []string{"reader"}); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// RetainBlock records ref in the retained window.
func (t *ContractTx) RetainBlock(ctx context.Context, reader string, ref domain.BlockRef) error {
	if t.tx == nil {
		return storage.ErrTxDone
	}
	row := domain.Record{
		"reader":    reader,
		"block_num": ref.Num,
		"block_id":  ref.ID,
		"parent_id": ref.ParentID,
	}
	if err := t.upsert(ctx, tableBlocks, row, []string{"reader", "block_num"}); err != nil {
		return fmt.Errorf("retain block %d: %w", ref.Num, err)
	}
	return nil
}

// ForgetBlocksAbove drops window entries and journals above blockNum.
func (t *ContractTx) ForgetBlocksAbove(ctx context.Context, reader string, blockNum uint64) error {
	return t.dropBlocks(ctx, reader, ">", blockNum)
}

// PruneBelow drops window entries and journals below blockNum.
func (t *ContractTx) PruneBelow(ctx context.Context, reader string, blockNum uint64) error {
	return t.dropBlocks(ctx, reader, "<", blockNum)
}

func (t *ContractTx) dropBlocks(ctx context.Context, reader, cmp string, blockNum uint64) error {
	for _, table := range []string{tableQueries, tableBlocks} {
		query := fmt.Sprintf("DELETE FROM %s WHERE reader = ? AND block_num %s ?", table, cmp)
		if err := t.exec(ctx, query, reader, int64(blockNum)); err != nil {
			op := "prune"
			if strings.HasPrefix(cmp, ">") {
				op = "forget"
			}
			return fmt.Errorf("%s blocks %s %d: %w", op, cmp, blockNum, err)
		}
	}
	return nil
}
