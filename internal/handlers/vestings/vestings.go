// Package vestings mirrors the LaunchBagz vesting contract into the
// launchbagz_vestings table.
package vestings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/indexing/processor"
	"github.com/vietddude/filler/internal/infra/storage"
)

const table = "launchbagz_vestings"

// Priority names.
const (
	TableVestings   = "TABLE_VESTINGS"
	LogNewVesting   = "LOG_NEW_VESTING"
	LogClaimVesting = "LOG_CLAIM_VESTING"
)

// Priorities orders the module's callbacks within a block: table removals
// first, then new vestings, then claims.
var Priorities = processor.Priorities{
	{Name: TableVestings, Value: 10},
	{Name: LogNewVesting, Value: 20},
	{Name: LogClaimVesting, Value: 30},
}

var primaryKey = []string{"contract", "vesting_id"}

// Module handles one vestings contract account.
type Module struct {
	account    domain.Name
	priorities processor.Priorities
	logger     *slog.Logger
}

// New creates the module for account. An empty account disables it.
func New(account string, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{
		account:    domain.Name(account),
		priorities: Priorities,
		logger:     logger.With("module", "vestings"),
	}
}

func (m *Module) Name() string {
	return "vestings"
}

// Register subscribes the vestings table and the lognewvesting and logclaim actions.
func (m *Module) Register(reg *processor.Registry) ([]processor.Handle, error) {
	if m.account == "" {
		return nil, nil
	}
	if err := m.priorities.Validate(); err != nil {
		return nil, err
	}
	// Validated above, so lookups cannot fail.
	pTable, _ := m.priorities.Value(TableVestings)
	pNew, _ := m.priorities.Value(LogNewVesting)
	pClaim, _ := m.priorities.Value(LogClaimVesting)

	handles := []processor.Handle{
		reg.OnTableDelta(m.account, "vestings", pTable, m.onVestingsRow),
		reg.OnActionTrace(m.account, "lognewvesting", pNew, m.onNewVesting),
		reg.OnActionTrace(m.account, "logclaim", pClaim, m.onClaim),
	}
	m.logger.Info("Vestings module registered", "account", m.account)
	return handles, nil
}

// onVestingsRow deactivates a vesting whose contract row was erased.
func (m *Module) onVestingsRow(ctx context.Context, tx storage.ContractTx, block *domain.Block, delta domain.TableDelta) error {
	if delta.Present() {
		return nil
	}
	rows, err := tx.Query(ctx,
		"SELECT is_active FROM "+table+" WHERE contract = ? AND vesting_id = ?",
		string(m.account), delta.PrimaryKey)
	if err != nil {
		return err
	}
	if len(rows) == 0 || !rows[0].Bool("is_active") {
		return nil
	}
	return tx.Update(ctx, table,
		domain.Record{"is_active": false},
		storage.Cond("contract = ? AND vesting_id = ?", string(m.account), delta.PrimaryKey),
		primaryKey)
}

func (m *Module) onNewVesting(ctx context.Context, tx storage.ContractTx, block *domain.Block, trace domain.ActionTrace) error {
	data := trace.Data.Clone()
	data["last_claim_time"] = 0
	data["total_claimed"] = "0"

	row, err := m.row(data, block)
	if err != nil {
		return fmt.Errorf("lognewvesting: %w", err)
	}
	return tx.Insert(ctx, table, row, primaryKey)
}

func (m *Module) onClaim(ctx context.Context, tx storage.ContractTx, block *domain.Block, trace domain.ActionTrace) error {
	id, err := trace.Data.Uint64("vesting_id")
	if err != nil {
		return fmt.Errorf("logclaim: %w", err)
	}
	claimed := trace.Data.String("new_total_claimed")
	return tx.Update(ctx, table,
		domain.Record{
			"total_claimed":   claimed,
			"is_active":       claimed != trace.Data.String("total_allocation"),
			"last_claim_time": block.Timestamp.UnixMilli(),
		},
		storage.Cond("contract = ? AND vesting_id = ?", string(m.account), id),
		primaryKey)
}

// row builds a launchbagz_vestings row from vesting data as found in the
// contract table and the lognewvesting action. Times are stored in milliseconds.
func (m *Module) row(v domain.Record, block *domain.Block) (domain.Record, error) {
	id, err := v.Uint64("vesting_id")
	if err != nil {
		return nil, err
	}
	token := v.Record("token")
	if token == nil {
		return nil, fmt.Errorf("vesting %d: missing token", id)
	}
	precision, code, err := splitSymbol(token.String("sym"))
	if err != nil {
		return nil, fmt.Errorf("vesting %d: %w", id, err)
	}

	var seconds [4]int64
	for i, field := range []string{"start_time", "last_claim_time", "period_length", "total_periods"} {
		if seconds[i], err = v.Int64(field); err != nil {
			return nil, fmt.Errorf("vesting %d: %w", id, err)
		}
	}
	blockTime := block.Timestamp.UnixMilli()

	return domain.Record{
		"contract":         string(m.account),
		"vesting_id":       id,
		"recipient":        v.String("recipient"),
		"owner":            v.String("owner"),
		"token_contract":   token.String("contract"),
		"token_code":       code,
		"token_precision":  precision,
		"start_time":       seconds[0] * 1000,
		"last_claim_time":  seconds[1] * 1000,
		"total_claimed":    v.String("total_claimed"),
		"immediate_unlock": v.String("immediate_unlock"),
		"total_allocation": v.String("total_allocation"),
		"period_length":    seconds[2] * 1000,
		"total_periods":    seconds[3],
		"description":      v.String("description"),
		"is_active":        true,
		"updated_at_block": block.Num,
		"updated_at_time":  blockTime,
		"created_at_block": block.Num,
		"created_at_time":  blockTime,
	}, nil
}

// splitSymbol parses an extended symbol like "8,WAX".
func splitSymbol(sym string) (int, string, error) {
	p, code, ok := strings.Cut(sym, ",")
	if !ok || code == "" {
		return 0, "", fmt.Errorf("invalid symbol %q", sym)
	}
	precision, err := strconv.Atoi(p)
	if err != nil {
		return 0, "", fmt.Errorf("invalid symbol precision %q: %w", sym, err)
	}
	return precision, code, nil
}
