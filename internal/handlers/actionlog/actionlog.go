// Package actionlog appends configured contract actions to contract_logs.
package actionlog

import (
	"context"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/indexing/processor"
	"github.com/vietddude/filler/internal/infra/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const table = "contract_logs"

// AppendLog runs after the row writes of other modules.
const AppendLog = "APPEND_LOG"

// Priorities of the module.
var Priorities = processor.Priorities{
	{Name: AppendLog, Value: 1000},
}

// Action names one logged contract action.
type Action struct {
	Contract domain.Name
	Name     domain.Name
}

// Module logs a fixed set of actions.
type Module struct {
	actions []Action
	logger  *slog.Logger
}

// New creates the module. No actions disables it.
func New(actions []Action, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{actions: actions, logger: logger.With("module", "actionlog")}
}

func (m *Module) Name() string {
	return "actionlog"
}

// Register subscribes every configured action once.
func (m *Module) Register(reg *processor.Registry) ([]processor.Handle, error) {
	if err := Priorities.Validate(); err != nil {
		return nil, err
	}
	priority, err := Priorities.Value(AppendLog)
	if err != nil {
		return nil, err
	}

	seen := make(map[Action]bool, len(m.actions))
	var handles []processor.Handle
	for _, a := range m.actions {
		if seen[a] {
			continue
		}
		seen[a] = true
		handles = append(handles, reg.OnActionTrace(a.Contract, a.Name, priority, m.onAction))
	}
	if len(handles) > 0 {
		m.logger.Info("Action log registered", "actions", len(handles))
	}
	return handles, nil
}

func (m *Module) onAction(ctx context.Context, tx storage.ContractTx, block *domain.Block, trace domain.ActionTrace) error {
	metadata, err := json.Marshal(trace.Data)
	if err != nil {
		return fmt.Errorf("encode %s::%s data: %w", trace.Contract, trace.Action, err)
	}
	return tx.Insert(ctx, table, domain.Record{
		"global_sequence":  trace.GlobalSequence,
		"contract":         string(trace.Contract),
		"name":             string(trace.Action),
		"metadata":         string(metadata),
		"txid":             trace.TransactionID,
		"actor":            string(trace.Actor),
		"created_at_block": block.Num,
		"created_at_time":  block.Timestamp.UnixMilli(),
	}, []string{"global_sequence"})
}
