package vestings_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/handlers/vestings"
	"github.com/vietddude/filler/internal/indexing/processor"
	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
	"github.com/vietddude/filler/internal/infra/storage/sqlstore/sqltest"
)

const account = "vestings.lb"

type vestingRow struct {
	Contract        string `db:"contract"`
	VestingID       int64  `db:"vesting_id"`
	Recipient       string `db:"recipient"`
	TokenContract   string `db:"token_contract"`
	TokenCode       string `db:"token_code"`
	TokenPrecision  int    `db:"token_precision"`
	StartTime       int64  `db:"start_time"`
	LastClaimTime   int64  `db:"last_claim_time"`
	TotalClaimed    string `db:"total_claimed"`
	TotalAllocation string `db:"total_allocation"`
	PeriodLength    int64  `db:"period_length"`
	IsActive        bool   `db:"is_active"`
	CreatedAtBlock  int64  `db:"created_at_block"`
	CreatedAtTime   int64  `db:"created_at_time"`
}

func setup(t *testing.T) (*sqlstore.DB, *processor.Registry) {
	t.Helper()
	db := sqltest.New(t)
	reg := processor.NewRegistry()
	handles, err := vestings.New(account, nil).Register(reg)
	require.NoError(t, err)
	require.Len(t, handles, 3)
	return db, reg
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

func block(num uint64, traces []domain.ActionTrace, deltas ...domain.TableDelta) *domain.Block {
	return &domain.Block{
		Num:       num,
		ID:        "b",
		Timestamp: time.Unix(1700000000+int64(num), 0).UTC(),
		Traces:    traces,
		Deltas:    deltas,
	}
}

func newVesting(seq uint64, id uint64) domain.ActionTrace {
	return domain.ActionTrace{
		Contract:       account,
		Action:         "lognewvesting",
		GlobalSequence: seq,
		Data: domain.Record{
			"vesting_id":       id,
			"recipient":        "alice",
			"owner":            "bob",
			"token":            map[string]any{"sym": "8,BAGZ", "contract": "token.lb"},
			"start_time":       1700000000,
			"immediate_unlock": "0.00000000 BAGZ",
			"total_allocation": "100.00000000 BAGZ",
			"period_length":    86400,
			"total_periods":    10,
			"description":      "team",
		},
	}
}

func claim(seq uint64, id uint64, total string) domain.ActionTrace {
	return domain.ActionTrace{
		Contract:       account,
		Action:         "logclaim",
		GlobalSequence: seq,
		Data: domain.Record{
			"vesting_id":        id,
			"new_total_claimed": total,
			"total_allocation":  "100.00000000 BAGZ",
		},
	}
}

func erased(id uint64) domain.TableDelta {
	return domain.TableDelta{Contract: account, Table: "vestings", Scope: account, PrimaryKey: id, Change: domain.Removed{}}
}

func load(t *testing.T, db *sqlstore.DB, id int64) vestingRow {
	t.Helper()
	var row vestingRow
	require.NoError(t, db.GetContext(context.Background(), &row, db.Rebind(`
		SELECT contract, vesting_id, recipient, token_contract, token_code, token_precision,
		       start_time, last_claim_time, total_claimed, total_allocation, period_length,
		       is_active, created_at_block, created_at_time
		FROM launchbagz_vestings WHERE contract = ? AND vesting_id = ?`), account, id))
	return row
}

func TestPriorities(t *testing.T) {
	require.NoError(t, vestings.Priorities.Validate())
	table, _ := vestings.Priorities.Value(vestings.TableVestings)
	newV, _ := vestings.Priorities.Value(vestings.LogNewVesting)
	claimV, _ := vestings.Priorities.Value(vestings.LogClaimVesting)
	assert.Less(t, table, newV)
	assert.Less(t, newV, claimV)
}

func TestDisabledWithoutAccount(t *testing.T) {
	reg := processor.NewRegistry()
	handles, err := vestings.New("", nil).Register(reg)
	require.NoError(t, err)
	assert.Empty(t, handles)
	assert.Zero(t, reg.Len())
}

func TestNewVesting(t *testing.T) {
	db, reg := setup(t)
	apply(t, db, reg, block(10, []domain.ActionTrace{newVesting(1, 7)}))

	row := load(t, db, 7)
	assert.Equal(t, "alice", row.Recipient)
	assert.Equal(t, "token.lb", row.TokenContract)
	assert.Equal(t, "BAGZ", row.TokenCode)
	assert.Equal(t, 8, row.TokenPrecision)
	assert.Equal(t, int64(1700000000000), row.StartTime)
	assert.Equal(t, int64(86400000), row.PeriodLength)
	assert.Zero(t, row.LastClaimTime)
	assert.Equal(t, "0", row.TotalClaimed)
	assert.True(t, row.IsActive)
	assert.Equal(t, int64(10), row.CreatedAtBlock)
	assert.Equal(t, int64(1700000010000), row.CreatedAtTime)
}

func TestNewVesting_Replay(t *testing.T) {
	db, reg := setup(t)
	b := block(10, []domain.ActionTrace{newVesting(1, 7)})
	apply(t, db, reg, b)
	apply(t, db, reg, b)

	assert.Equal(t, 1, sqltest.Count(t, db, "launchbagz_vestings", ""))
}

func TestClaim(t *testing.T) {
	db, reg := setup(t)
	apply(t, db, reg, block(10, []domain.ActionTrace{newVesting(1, 7)}))
	apply(t, db, reg, block(11, []domain.ActionTrace{claim(2, 7, "40.00000000 BAGZ")}))

	row := load(t, db, 7)
	assert.Equal(t, "40.00000000 BAGZ", row.TotalClaimed)
	assert.True(t, row.IsActive)
	assert.Equal(t, int64(1700000011000), row.LastClaimTime)

	apply(t, db, reg, block(12, []domain.ActionTrace{claim(3, 7, "100.00000000 BAGZ")}))
	row = load(t, db, 7)
	assert.False(t, row.IsActive)
}

func TestClaim_UnknownVestingIsNoop(t *testing.T) {
	db, reg := setup(t)
	apply(t, db, reg, block(11, []domain.ActionTrace{claim(2, 99, "1 BAGZ")}))
	assert.Zero(t, sqltest.Count(t, db, "launchbagz_vestings", ""))
}

func TestErasedRowDeactivates(t *testing.T) {
	db, reg := setup(t)
	apply(t, db, reg, block(10, []domain.ActionTrace{newVesting(1, 7), newVesting(2, 8)}))
	apply(t, db, reg, block(11, nil, erased(7)))

	assert.False(t, load(t, db, 7).IsActive)
	assert.True(t, load(t, db, 8).IsActive)
}

func TestErasedRowRunsBeforeActionsInBlock(t *testing.T) {
	db, reg := setup(t)
	// Table listeners run before action listeners, so the erase finds no row
	// and the vesting created later in the block stays active.
	apply(t, db, reg, block(10, []domain.ActionTrace{newVesting(1, 7)}, erased(7)))

	assert.True(t, load(t, db, 7).IsActive)
}

func TestBadVestingData(t *testing.T) {
	db, reg := setup(t)
	trace := newVesting(1, 7)
	trace.Data["token"] = map[string]any{"sym": "BAGZ", "contract": "token.lb"}

	ctx := context.Background()
	b := block(10, []domain.ActionTrace{trace})
	tx, err := db.Begin(ctx, "test", b)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = reg.Dispatch(ctx, tx, b)
	var de *processor.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "vestings.lb::lognewvesting", de.Key.String())
	assert.Contains(t, err.Error(), "invalid symbol")
}
