package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/indexing/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPrefix namespaces notification channels when none is configured.
const DefaultPrefix = "filler"

// publisher is the subset of the Redis client used for notifications.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// BlockMessage announces a committed block.
type BlockMessage struct {
	ID              string    `json:"id"`
	Reader          string    `json:"reader"`
	BlockNum        uint64    `json:"block_num"`
	BlockID         string    `json:"block_id"`
	Timestamp       time.Time `json:"block_time"`
	Irreversible    bool      `json:"irreversible"`
	IrreversibleNum uint64    `json:"last_irreversible"`
	Traces          int       `json:"traces"`
	Deltas          int       `json:"deltas"`
	CommittedAt     time.Time `json:"committed_at"`
}

// ForkMessage announces that blocks were reverted before NewBlockNum was applied.
type ForkMessage struct {
	ID          string          `json:"id"`
	Reader      string          `json:"reader"`
	ForkPoint   uint64          `json:"fork_point"`
	NewBlockNum uint64          `json:"new_block_num"`
	NewBlockID  string          `json:"new_block_id"`
	Reverted    []RevertedBlock `json:"reverted"`
	HandledAt   time.Time       `json:"handled_at"`
}

// RevertedBlock is one orphaned block in a ForkMessage.
type RevertedBlock struct {
	Num uint64 `json:"num"`
	ID  string `json:"id"`
}

// Publisher sends block and fork notifications on per-reader channels.
type Publisher struct {
	pub    publisher
	prefix string
	now    func() time.Time
}

// NewPublisher creates a publisher on client.
func NewPublisher(client *Client, prefix string) *Publisher {
	return newPublisher(client.rdb, prefix)
}

func newPublisher(pub publisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{pub: pub, prefix: prefix, now: time.Now}
}

// BlockCommitted publishes a BlockMessage on <prefix>:<reader>:blocks.
func (p *Publisher) BlockCommitted(ctx context.Context, reader string, block *domain.Block) error {
	msg := BlockMessage{
		ID:              uuid.NewString(),
		Reader:          reader,
		BlockNum:        block.Num,
		BlockID:         block.ID,
		Timestamp:       block.Timestamp,
		Irreversible:    !block.Reversible(),
		IrreversibleNum: block.IrreversibleHeight(),
		Traces:          len(block.Traces),
		Deltas:          len(block.Deltas),
		CommittedAt:     p.now().UTC(),
	}
	return p.publish(ctx, reader, "block", blocksChannel(p.prefix, reader), msg)
}

// ForkHandled publishes a ForkMessage on <prefix>:<reader>:forks.
// reverted is newest first.
func (p *Publisher) ForkHandled(ctx context.Context, reader string, block *domain.Block, reverted []domain.BlockRef) error {
	msg := ForkMessage{
		ID:          uuid.NewString(),
		Reader:      reader,
		NewBlockNum: block.Num,
		NewBlockID:  block.ID,
		Reverted:    make([]RevertedBlock, 0, len(reverted)),
		HandledAt:   p.now().UTC(),
	}
	if block.Num > 0 {
		msg.ForkPoint = block.Num - 1
	}
	for _, ref := range reverted {
		msg.Reverted = append(msg.Reverted, RevertedBlock{Num: ref.Num, ID: ref.ID})
	}
	return p.publish(ctx, reader, "fork", forksChannel(p.prefix, reader), msg)
}

func (p *Publisher) publish(ctx context.Context, reader, kind, channel string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}
	if err := p.pub.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	metrics.NotificationsPublished.WithLabelValues(reader, kind).Inc()
	return nil
}
