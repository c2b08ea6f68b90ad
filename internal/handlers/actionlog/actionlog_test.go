package actionlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/handlers"
	"github.com/vietddude/filler/internal/handlers/actionlog"
	"github.com/vietddude/filler/internal/handlers/vestings"
	"github.com/vietddude/filler/internal/indexing/processor"
	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
	"github.com/vietddude/filler/internal/infra/storage/sqlstore/sqltest"
)

type logRow struct {
	GlobalSequence int64  `db:"global_sequence"`
	Contract       string `db:"contract"`
	Name           string `db:"name"`
	Metadata       string `db:"metadata"`
	TxID           string `db:"txid"`
	Actor          string `db:"actor"`
	CreatedAtBlock int64  `db:"created_at_block"`
}

func apply(t *testing.T, db *sqlstore.DB, reg *processor.Registry, block *domain.Block) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx, "test", block)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	require.NoError(t, reg.Dispatch(ctx, tx, block))
	require.NoError(t, tx.Commit(ctx))
}

func logs(t *testing.T, db *sqlstore.DB) []logRow {
	t.Helper()
	var out []logRow
	require.NoError(t, db.SelectContext(context.Background(), &out, `
		SELECT global_sequence, contract, name, metadata, txid, actor, created_at_block
		FROM contract_logs ORDER BY global_sequence`))
	return out
}

func trace(contract, action string, seq uint64, data domain.Record) domain.ActionTrace {
	return domain.ActionTrace{
		Contract:       domain.Name(contract),
		Action:         domain.Name(action),
		GlobalSequence: seq,
		TransactionID:  "tx1",
		Actor:          "alice",
		Data:           data,
	}
}

func TestLogsConfiguredActions(t *testing.T) {
	db := sqltest.New(t)
	reg := processor.NewRegistry()
	handles, err := actionlog.New([]actionlog.Action{
		{Contract: "market", Name: "lognewsale"},
		{Contract: "market", Name: "lognewsale"},
		{Contract: "market", Name: "logcancel"},
	}, nil).Register(reg)
	require.NoError(t, err)
	assert.Len(t, handles, 2)

	b := &domain.Block{
		Num:       5,
		Timestamp: time.Unix(1700000000, 0),
		Traces: []domain.ActionTrace{
			trace("market", "logcancel", 12, domain.Record{"sale_id": "3"}),
			trace("market", "transfer", 11, domain.Record{}),
			trace("market", "lognewsale", 10, domain.Record{"sale_id": "3", "price": "1.0000 WAX"}),
		},
	}
	apply(t, db, reg, b)
	apply(t, db, reg, b)

	rows := logs(t, db)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(10), rows[0].GlobalSequence)
	assert.Equal(t, "lognewsale", rows[0].Name)
	assert.JSONEq(t, `{"sale_id":"3","price":"1.0000 WAX"}`, rows[0].Metadata)
	assert.Equal(t, "alice", rows[0].Actor)
	assert.Equal(t, "tx1", rows[0].TxID)
	assert.Equal(t, int64(5), rows[0].CreatedAtBlock)
	assert.Equal(t, "logcancel", rows[1].Name)
}

func TestRunsAfterVestings(t *testing.T) {
	db := sqltest.New(t)
	reg := processor.NewRegistry()
	_, err := handlers.RegisterAll(reg,
		actionlog.New([]actionlog.Action{{Contract: "vestings.lb", Name: "logclaim"}}, nil),
		vestings.New("vestings.lb", nil),
	)
	require.NoError(t, err)

	logPriority, _ := actionlog.Priorities.Value(actionlog.AppendLog)
	for _, p := range vestings.Priorities {
		assert.Less(t, p.Value, logPriority)
	}

	b := &domain.Block{
		Num:       9,
		Timestamp: time.Unix(1700000000, 0),
		Traces: []domain.ActionTrace{trace("vestings.lb", "logclaim", 1, domain.Record{
			"vesting_id":        uint64(1),
			"new_total_claimed": "1",
			"total_allocation":  "2",
		})},
	}
	apply(t, db, reg, b)
	assert.Len(t, logs(t, db), 1)
}

func TestNoActions(t *testing.T) {
	reg := processor.NewRegistry()
	handles, err := actionlog.New(nil, nil).Register(reg)
	require.NoError(t, err)
	assert.Empty(t, handles)
}
