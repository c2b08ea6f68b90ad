// Package processor routes block contents to the callbacks registered by
// handler modules.
//
// Modules subscribe to (contract, table) deltas and (contract, action) traces
// with a priority. For each block the registry builds one job per event and
// matching registration and runs them ordered by priority, then by event
// order (traces by global sequence, then deltas as delivered), then by
// registration order. All callbacks share the block's transaction.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/indexing/metrics"
	"github.com/vietddude/filler/internal/infra/storage"
)

// DeltaHandler handles one table row change.
type DeltaHandler func(ctx context.Context, tx storage.ContractTx, block *domain.Block, delta domain.TableDelta) error

// TraceHandler handles one executed action.
type TraceHandler func(ctx context.Context, tx storage.ContractTx, block *domain.Block, trace domain.ActionTrace) error

// Handle identifies a registration for Deregister.
type Handle uint64

// KeyKind tells table keys from action keys.
type KeyKind int

const (
	TableKey KeyKind = iota
	ActionKey
)

// Key is what a registration listens to.
type Key struct {
	Kind     KeyKind
	Contract domain.Name
	Name     domain.Name // table or action
}

func (k Key) String() string {
	if k.Kind == ActionKey {
		return fmt.Sprintf("%s::%s", k.Contract, k.Name)
	}
	return fmt.Sprintf("%s:%s", k.Contract, k.Name)
}

type registration struct {
	handle   Handle
	key      Key
	priority int
	seq      uint64
	onDelta  DeltaHandler
	onTrace  TraceHandler
	active   bool
}

// DispatchError reports the callback that failed a block.
type DispatchError struct {
	BlockNum uint64
	Key      Key
	Priority int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("block %d: %s (priority %d): %v", e.BlockNum, e.Key, e.Priority, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Registry maps keys to prioritized callbacks. Registration is safe while
// another goroutine dispatches; a dispatch uses the registrations active
// when it started.
type Registry struct {
	reader string
	logger *slog.Logger

	mu       sync.RWMutex
	nextSeq  uint64
	regs     map[Key][]*registration
	byHandle map[Handle]*registration
}

// Option configures a Registry.
type Option func(*Registry)

// WithReader labels metrics with the reader name.
func WithReader(reader string) Option {
	return func(r *Registry) { r.reader = reader }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		reader:   "default",
		logger:   slog.Default(),
		regs:     make(map[Key][]*registration),
		byHandle: make(map[Handle]*registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnTableDelta subscribes cb to row changes of contract's table.
func (r *Registry) OnTableDelta(contract, table domain.Name, priority int, cb DeltaHandler) Handle {
	return r.add(Key{Kind: TableKey, Contract: contract, Name: table}, priority, cb, nil)
}

// OnActionTrace subscribes cb to executions of contract's action.
func (r *Registry) OnActionTrace(contract, action domain.Name, priority int, cb TraceHandler) Handle {
	return r.add(Key{Kind: ActionKey, Contract: contract, Name: action}, priority, nil, cb)
}

func (r *Registry) add(key Key, priority int, onDelta DeltaHandler, onTrace TraceHandler) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	reg := &registration{
		handle:   Handle(r.nextSeq),
		key:      key,
		priority: priority,
		seq:      r.nextSeq,
		onDelta:  onDelta,
		onTrace:  onTrace,
		active:   true,
	}
	r.regs[key] = append(r.regs[key], reg)
	r.byHandle[reg.handle] = reg

	r.logger.Debug("Processor registered", "key", key.String(), "priority", priority, "handle", reg.handle)
	return reg.handle
}

// Deregister deactivates the registration behind h. It reports false for an
// unknown or already removed handle.
func (r *Registry) Deregister(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byHandle[h]
	if !ok || !reg.active {
		return false
	}
	reg.active = false
	delete(r.byHandle, h)

	list := r.regs[reg.key]
	for i, other := range list {
		if other == reg {
			r.regs[reg.key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.regs[reg.key]) == 0 {
		delete(r.regs, reg.key)
	}
	return true
}

// Len returns the number of active registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// Keys returns the keys with at least one active registration, sorted.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.regs))
	for k := range r.regs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Contract != keys[j].Contract {
			return keys[i].Contract < keys[j].Contract
		}
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// Contracts returns the distinct contracts with active registrations, sorted.
func (r *Registry) Contracts() []domain.Name {
	var out []domain.Name
	for _, k := range r.Keys() {
		if len(out) == 0 || out[len(out)-1] != k.Contract {
			out = append(out, k.Contract)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type job struct {
	reg   *registration
	event int
	trace *domain.ActionTrace
	delta *domain.TableDelta
}

// Dispatch runs every matching callback for block inside tx. The first
// callback error stops the block and is returned as *DispatchError.
func (r *Registry) Dispatch(ctx context.Context, tx storage.ContractTx, block *domain.Block) error {
	jobs := r.plan(block)

	var traces, deltas int
	defer func() {
		metrics.CallbacksInvoked.WithLabelValues(r.reader, "trace").Add(float64(traces))
		metrics.CallbacksInvoked.WithLabelValues(r.reader, "delta").Add(float64(deltas))
	}()
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		if j.trace != nil {
			err = j.reg.onTrace(ctx, tx, block, *j.trace)
			traces++
		} else {
			err = j.reg.onDelta(ctx, tx, block, *j.delta)
			deltas++
		}
		if err != nil {
			return &DispatchError{BlockNum: block.Num, Key: j.reg.key, Priority: j.reg.priority, Err: err}
		}
	}
	return nil
}

func (r *Registry) plan(block *domain.Block) []job {
	traces := make([]*domain.ActionTrace, len(block.Traces))
	for i := range block.Traces {
		traces[i] = &block.Traces[i]
	}
	sort.SliceStable(traces, func(i, j int) bool {
		return traces[i].GlobalSequence < traces[j].GlobalSequence
	})

	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []job
	event := 0
	for _, tr := range traces {
		for _, reg := range r.regs[Key{Kind: ActionKey, Contract: tr.Contract, Name: tr.Action}] {
			jobs = append(jobs, job{reg: reg, event: event, trace: tr})
		}
		event++
	}
	for i := range block.Deltas {
		d := &block.Deltas[i]
		for _, reg := range r.regs[Key{Kind: TableKey, Contract: d.Contract, Name: d.Table}] {
			jobs = append(jobs, job{reg: reg, event: event, delta: d})
		}
		event++
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.reg.priority != b.reg.priority {
			return a.reg.priority < b.reg.priority
		}
		if a.event != b.event {
			return a.event < b.event
		}
		return a.reg.seq < b.reg.seq
	})
	return jobs
}
