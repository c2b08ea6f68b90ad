package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/infra/storage"
)

// ContractTx bundles all writes of one block into a single database transaction.
// While the block is reversible every write also records its inverse in an undo
// journal, which is persisted with the block so a later fork can revert it.
type ContractTx struct {
	tx         *sqlx.Tx
	reader     string
	blockNum   uint64
	journaling bool
	journal    []journalEntry
}

var (
	_ storage.ContractTx       = (*ContractTx)(nil)
	_ storage.CheckpointWriter = (*ContractTx)(nil)
	_ storage.BlockReverter    = (*ContractTx)(nil)
	_ storage.BlockTx          = (*ContractTx)(nil)
	_ storage.BlockStore       = (*DB)(nil)
)

// Begin opens the transaction for block on behalf of reader.
func (db *DB) Begin(ctx context.Context, reader string, block *domain.Block) (*ContractTx, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &ContractTx{
		tx:         tx,
		reader:     reader,
		blockNum:   block.Num,
		journaling: block.Reversible(),
	}, nil
}

// BeginBlock implements storage.BlockStore.
func (db *DB) BeginBlock(ctx context.Context, reader string, block *domain.Block) (storage.BlockTx, error) {
	tx, err := db.Begin(ctx, reader, block)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// BlockNum returns the block this transaction applies.
func (t *ContractTx) BlockNum() uint64 {
	return t.blockNum
}

// Journaling reports whether writes are being recorded for undo.
func (t *ContractTx) Journaling() bool {
	return t.journaling
}

// Commit flushes the undo journal and commits.
func (t *ContractTx) Commit(ctx context.Context) error {
	if t.tx == nil {
		return storage.ErrTxDone
	}
	if err := t.flushJournal(ctx); err != nil {
		return err
	}
	err := t.tx.Commit()
	t.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (t *ContractTx) Rollback() error {
	if t.tx == nil {
		return nil
	}
	err := t.tx.Rollback()
	t.tx = nil
	t.journal = nil
	return err
}

// Insert upserts row keyed by conflictKeys.
func (t *ContractTx) Insert(
	ctx context.Context,
	table string,
	row domain.Record,
	conflictKeys []string,
) error {
	if t.tx == nil {
		return storage.ErrTxDone
	}
	query, args, err := buildUpsert(table, row, conflictKeys)
	if err != nil {
		return err
	}

	if t.journaling {
		cond, err := keyCondition(conflictKeys, row)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
		prior, err := t.snapshot(ctx, table, cond)
		if err != nil {
			return err
		}
		if len(prior) == 0 {
			keys := make(domain.Record, len(conflictKeys))
			for _, k := range conflictKeys {
				keys[k] = bindValue(row[k])
			}
			t.record(opDelete, table, conflictKeys, keys)
		}
		for _, old := range prior {
			t.record(opRestore, table, conflictKeys, old)
		}
	}

	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Update patches rows matching where. Zero matches is fine: the entity may not
// exist yet while catching up.
func (t *ContractTx) Update(
	ctx context.Context,
	table string,
	patch domain.Record,
	where storage.Where,
	primaryKey []string,
) error {
	if t.tx == nil {
		return storage.ErrTxDone
	}
	if len(primaryKey) == 0 {
		return fmt.Errorf("update %s: %w", table, ErrNoPrimaryKey)
	}
	query, args, err := buildUpdate(table, patch, where)
	if err != nil {
		return err
	}

	if t.journaling {
		prior, err := t.snapshot(ctx, table, where)
		if err != nil {
			return err
		}
		rekeyed := touchesKey(patch, primaryKey)
		for _, old := range prior {
			t.record(opRestore, table, primaryKey, old)
			if rekeyed {
				// undone first: drop the row under its new identity
				t.record(opDelete, table, primaryKey, movedKey(old, patch, primaryKey))
			}
		}
	}

	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

// Delete removes rows matching where.
func (t *ContractTx) Delete(
	ctx context.Context,
	table string,
	where storage.Where,
	primaryKey []string,
) error {
	if t.tx == nil {
		return storage.ErrTxDone
	}
	if len(primaryKey) == 0 {
		return fmt.Errorf("delete from %s: %w", table, ErrNoPrimaryKey)
	}
	query, args, err := buildDelete(table, where)
	if err != nil {
		return err
	}

	if t.journaling {
		prior, err := t.snapshot(ctx, table, where)
		if err != nil {
			return err
		}
		for _, old := range prior {
			t.record(opRestore, table, primaryKey, old)
		}
	}

	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// Query runs a read inside the transaction. Use `?` placeholders.
func (t *ContractTx) Query(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	if t.tx == nil {
		return nil, storage.ErrTxDone
	}
	rows, err := t.tx.QueryxContext(ctx, t.tx.Rebind(query), bindArgs(args)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, domain.Record(m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

func (t *ContractTx) snapshot(ctx context.Context, table string, where storage.Where) ([]domain.Record, error) {
	query, args, err := buildSelect(table, where)
	if err != nil {
		return nil, err
	}
	rows, err := t.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", table, err)
	}
	return rows, nil
}

func touchesKey(patch domain.Record, keys []string) bool {
	for _, k := range keys {
		if patch.Has(k) {
			return true
		}
	}
	return false
}

// movedKey is the identity old has after patch is applied.
func movedKey(old, patch domain.Record, keys []string) domain.Record {
	out := make(domain.Record, len(keys))
	for _, k := range keys {
		if patch.Has(k) {
			out[k] = bindValue(patch[k])
		} else {
			out[k] = old[k]
		}
	}
	return out
}

// upsert writes bookkeeping rows without journaling them.
func (t *ContractTx) upsert(ctx context.Context, table string, row domain.Record, keys []string) error {
	query, args, err := buildUpsert(table, row, keys)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	return err
}

func (t *ContractTx) exec(ctx context.Context, query string, args ...any) error {
	if t.tx == nil {
		return storage.ErrTxDone
	}
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	return err
}
