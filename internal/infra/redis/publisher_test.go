package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/filler/internal/core/domain"
)

type published struct {
	channel string
	data    []byte
}

type fakePub struct {
	msgs []published
	err  error
}

func (f *fakePub) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.msgs = append(f.msgs, published{channel: channel, data: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPublisher(pub publisher, prefix string) *Publisher {
	p := newPublisher(pub, prefix)
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestPublisher_BlockCommitted(t *testing.T) {
	fake := &fakePub{}
	p := newTestPublisher(fake, "")

	block := &domain.Block{
		Num:              100,
		ID:               "b100",
		Timestamp:        time.Date(2024, 5, 1, 11, 59, 59, 0, time.UTC),
		LastIrreversible: 90,
		Deltas:           make([]domain.TableDelta, 2),
	}
	require.NoError(t, p.BlockCommitted(context.Background(), "atomic", block))

	require.Len(t, fake.msgs, 1)
	assert.Equal(t, "filler:atomic:blocks", fake.msgs[0].channel)

	var msg BlockMessage
	require.NoError(t, json.Unmarshal(fake.msgs[0].data, &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "atomic", msg.Reader)
	assert.Equal(t, uint64(100), msg.BlockNum)
	assert.Equal(t, "b100", msg.BlockID)
	assert.False(t, msg.Irreversible)
	assert.Equal(t, uint64(90), msg.IrreversibleNum)
	assert.Equal(t, 2, msg.Deltas)
	assert.True(t, fixedNow.Equal(msg.CommittedAt))
}

func TestPublisher_ForkHandled(t *testing.T) {
	fake := &fakePub{}
	p := newTestPublisher(fake, "eos")

	block := &domain.Block{Num: 2, ID: "b2'"}
	reverted := []domain.BlockRef{{Num: 3, ID: "b3"}, {Num: 2, ID: "b2"}}
	require.NoError(t, p.ForkHandled(context.Background(), "r1", block, reverted))

	require.Len(t, fake.msgs, 1)
	assert.Equal(t, "eos:r1:forks", fake.msgs[0].channel)

	var msg ForkMessage
	require.NoError(t, json.Unmarshal(fake.msgs[0].data, &msg))
	assert.Equal(t, uint64(1), msg.ForkPoint)
	assert.Equal(t, "b2'", msg.NewBlockID)
	assert.Equal(t, []RevertedBlock{{Num: 3, ID: "b3"}, {Num: 2, ID: "b2"}}, msg.Reverted)
}

func TestPublisher_Error(t *testing.T) {
	p := newTestPublisher(&fakePub{err: errors.New("connection refused")}, "")
	err := p.BlockCommitted(context.Background(), "r1", &domain.Block{Num: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filler:r1:blocks")
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{URL: "redis://localhost:6379/0"}.Enabled())
}
