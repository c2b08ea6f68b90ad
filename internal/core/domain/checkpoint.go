package domain

import "time"

// Checkpoint is the durable record of the last block whose effects were committed.
type Checkpoint struct {
	Reader          string
	BlockNum        uint64
	BlockID         string
	IrreversibleNum uint64
	UpdatedAt       time.Time
}

// IsZero reports whether nothing has been applied yet.
func (c Checkpoint) IsZero() bool {
	return c.BlockNum == 0 && c.BlockID == ""
}

// Ref returns the checkpoint block identity.
func (c Checkpoint) Ref() BlockRef {
	return BlockRef{Num: c.BlockNum, ID: c.BlockID}
}
