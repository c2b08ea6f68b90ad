package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/filler/internal/core/config"
	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/handlers"
	"github.com/vietddude/filler/internal/indexing/health"
	"github.com/vietddude/filler/internal/indexing/processor"
	"github.com/vietddude/filler/internal/infra/feed"
	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
)

const vestingAccount = "vestings.lb"

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(`
reader:
  name: test
  retry:
    initial_delay: 1ms
    max_delay: 5ms
database:
  driver: sqlite
  url: ` + filepath.Join(t.TempDir(), "filler.db") + `
feed:
  type: file
  path: unused
handlers:
  vestings:
    account: ` + vestingAccount + `
  actionlog:
    actions:
      - contract: ` + vestingAccount + `
        action: logclaim
`))
	require.NoError(t, err)
	cfg.Server.Port = 0
	return *cfg
}

func testBlocks() []*domain.Block {
	ts := time.Unix(1700000000, 0).UTC()
	newVesting := domain.ActionTrace{
		Contract:       vestingAccount,
		Action:         "lognewvesting",
		GlobalSequence: 100,
		TransactionID:  "tx1",
		Actor:          "bob",
		Data: domain.Record{
			"vesting_id":       7,
			"recipient":        "alice",
			"owner":            "bob",
			"token":            map[string]any{"sym": "8,BAGZ", "contract": "token.lb"},
			"start_time":       1700000000,
			"immediate_unlock": "0.00000000 BAGZ",
			"total_allocation": "100.00000000 BAGZ",
			"period_length":    60,
			"total_periods":    10,
			"description":      "team",
		},
	}
	claim := domain.ActionTrace{
		Contract:       vestingAccount,
		Action:         "logclaim",
		GlobalSequence: 101,
		TransactionID:  "tx2",
		Actor:          "alice",
		Data: domain.Record{
			"vesting_id":        7,
			"new_total_claimed": "10.00000000 BAGZ",
			"total_allocation":  "100.00000000 BAGZ",
		},
	}
	return []*domain.Block{
		{Num: 1, ID: "b1", Timestamp: ts, Traces: []domain.ActionTrace{newVesting}},
		{Num: 2, ID: "b2", ParentID: "b1", Timestamp: ts.Add(time.Second), Traces: []domain.ActionTrace{claim}},
		{Num: 3, ID: "b3", ParentID: "b2", Timestamp: ts.Add(2 * time.Second)},
	}
}

func writeFeed(t *testing.T, blocks []*domain.Block) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocks.ndjson")
	var data []byte
	for _, b := range blocks {
		line, err := feed.EncodeBlock(b)
		require.NoError(t, err)
		data = append(append(data, line...), '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func runSession(t *testing.T, cfg config.AppConfig, opts ...Option) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewSession(ctx, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Run(ctx))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func countRows(t *testing.T, db *sqlstore.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM "+table))
	return n
}

func TestSession_FileFeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Path = writeFeed(t, testBlocks())

	s := runSession(t, cfg)
	assert.NotEmpty(t, s.ID)

	status := s.Status()
	assert.Equal(t, uint64(3), status.BlockNum)
	assert.Equal(t, "b3", status.BlockID)
	assert.Zero(t, status.ConsecutiveFailures)

	var claimed string
	require.NoError(t, s.db.GetContext(context.Background(), &claimed,
		"SELECT total_claimed FROM launchbagz_vestings WHERE vesting_id = 7"))
	assert.Equal(t, "10.00000000 BAGZ", claimed)
	assert.Equal(t, 1, countRows(t, s.db, "contract_logs"))

	report := s.Health(context.Background())
	assert.Equal(t, health.StatusHealthy, report.SystemStatus)
	assert.Equal(t, "ok", report.Dependencies["database"])
	assert.Contains(t, report.Readers, "test")
}

func TestSession_ResumesFromCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	blocks := testBlocks()
	cfg.Feed.Path = writeFeed(t, blocks[:2])

	first := runSession(t, cfg)
	assert.Equal(t, uint64(2), first.Status().BlockNum)
	require.NoError(t, first.Close(context.Background()))

	// The whole history again; blocks up to the checkpoint are skipped.
	cfg.Feed.Path = writeFeed(t, blocks)
	second := runSession(t, cfg)
	assert.Equal(t, uint64(3), second.Status().BlockNum)
	assert.Equal(t, 1, countRows(t, second.db, "launchbagz_vestings"))
	assert.Equal(t, 1, countRows(t, second.db, "contract_logs"))
}

func TestSession_ResumesIntoFork(t *testing.T) {
	cfg := testConfig(t)
	blocks := testBlocks()
	cfg.Feed.Path = writeFeed(t, blocks)

	first := runSession(t, cfg)
	assert.Equal(t, "b3", first.Status().BlockID)
	require.NoError(t, first.Close(context.Background()))

	// The recording continues with a fork replacing b2 and b3.
	ts := blocks[2].Timestamp
	fork := []*domain.Block{
		{Num: 2, ID: "b2x", ParentID: "b1", Timestamp: ts},
		{Num: 3, ID: "b3x", ParentID: "b2x", Timestamp: ts.Add(time.Second)},
		{Num: 4, ID: "b4x", ParentID: "b3x", Timestamp: ts.Add(2 * time.Second)},
	}
	cfg.Feed.Path = writeFeed(t, append(blocks, fork...))

	second := runSession(t, cfg)
	status := second.Status()
	assert.Equal(t, uint64(4), status.BlockNum)
	assert.Equal(t, "b4x", status.BlockID)
	assert.Equal(t, 1, status.Forks)

	// the claim lived in b2 and is gone with it
	assert.Equal(t, 0, countRows(t, second.db, "contract_logs"))
	var claimed string
	require.NoError(t, second.db.GetContext(context.Background(), &claimed,
		"SELECT total_claimed FROM launchbagz_vestings WHERE vesting_id = 7"))
	assert.Equal(t, "0", claimed)
}

func TestSession_InjectedSource(t *testing.T) {
	cfg := testConfig(t)
	src := feed.NewSliceSource(testBlocks()...)

	s := runSession(t, cfg, WithSource(src))
	assert.Equal(t, uint64(3), s.Status().BlockNum)
	assert.Equal(t, 3, src.Acked())
}

func TestSession_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := NewSession(ctx, cfg, WithSource(&idleSource{}))
	require.NoError(t, err)
	defer func() { _ = s.Close(context.Background()) }()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

type collidingModule struct{}

func (collidingModule) Name() string { return "colliding" }

func (collidingModule) Register(reg *processor.Registry) ([]processor.Handle, error) {
	p := processor.Priorities{{Name: "A", Value: 1}, {Name: "B", Value: 1}}
	return nil, p.Validate()
}

func TestSession_BadModuleFailsFast(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewSession(context.Background(), cfg,
		WithSource(feed.NewSliceSource()),
		WithModules(collidingModule{}))
	require.ErrorIs(t, err, processor.ErrPriorityCollision)
}

func TestSession_UnknownFeedType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Type = "kafka"
	_, err := NewSession(context.Background(), cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSession_MissingFeedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Path = filepath.Join(t.TempDir(), "missing.ndjson")
	_, err := NewSession(context.Background(), cfg)
	require.Error(t, err)
}

func TestModules(t *testing.T) {
	cfg := testConfig(t)
	modules := Modules(cfg.Handlers, nil)
	require.Len(t, modules, 2)
	assert.Equal(t, "vestings", modules[0].Name())
	assert.Equal(t, "actionlog", modules[1].Name())

	reg := processor.NewRegistry()
	handles, err := handlers.RegisterAll(reg, modules...)
	require.NoError(t, err)
	assert.Len(t, handles, 4)
	assert.Equal(t, []domain.Name{vestingAccount}, reg.Contracts())
}

// idleSource blocks until its context ends.
type idleSource struct{}

func (*idleSource) Next(ctx context.Context) (*domain.Block, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (*idleSource) Ack(int) error { return nil }
func (*idleSource) Close() error  { return nil }
