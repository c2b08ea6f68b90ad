package domain

import "time"

// Name is an account, table or action name as it appears on chain.
type Name string

// Block is one decoded block change-set delivered by the chain feed.
// Blocks are immutable once received.
type Block struct {
	Num              uint64
	ID               string
	ParentID         string
	Timestamp        time.Time
	Producer         Name
	IsIrreversible   bool
	LastIrreversible uint64 // chain irreversible height reported alongside the block, 0 if unknown
	Traces           []ActionTrace
	Deltas           []TableDelta
}

// Ref returns the identity of the block as kept in the retained window.
func (b *Block) Ref() BlockRef {
	return BlockRef{Num: b.Num, ID: b.ID, ParentID: b.ParentID}
}

// IrreversibleHeight returns the highest block number known to be final when this
// block is applied.
func (b *Block) IrreversibleHeight() uint64 {
	if b.IsIrreversible && b.Num > b.LastIrreversible {
		return b.Num
	}
	return b.LastIrreversible
}

// Reversible reports whether the block can still be undone by a fork.
func (b *Block) Reversible() bool {
	return b.Num > b.IrreversibleHeight()
}

// BlockRef identifies an applied block.
type BlockRef struct {
	Num      uint64
	ID       string
	ParentID string
}
