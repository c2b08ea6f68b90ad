package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vietddude/filler/internal/core/domain"
)

// wireJSON keeps numbers as json.Number so 64-bit values in decoded rows
// survive untouched.
var wireJSON = jsoniter.Config{
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// blockMessage is the JSON shape of a decoded block.
type blockMessage struct {
	BlockNum         json.Number    `json:"block_num"`
	BlockID          string         `json:"block_id"`
	ParentID         string         `json:"parent_id"`
	Timestamp        string         `json:"timestamp"`
	Producer         string         `json:"producer"`
	Irreversible     bool           `json:"irreversible"`
	LastIrreversible json.Number    `json:"last_irreversible"`
	Traces           []traceMessage `json:"traces"`
	Deltas           []deltaMessage `json:"deltas"`
}

type traceMessage struct {
	Contract       string         `json:"contract"`
	Action         string         `json:"action"`
	GlobalSequence json.Number    `json:"global_sequence"`
	TransactionID  string         `json:"transaction_id"`
	Actor          string         `json:"actor"`
	Data           map[string]any `json:"data"`
}

type deltaMessage struct {
	Contract   string         `json:"contract"`
	Table      string         `json:"table"`
	Scope      string         `json:"scope"`
	PrimaryKey json.Number    `json:"primary_key"`
	Present    bool           `json:"present"`
	Value      map[string]any `json:"value"`
}

func parseUint(n json.Number, field string) (uint64, error) {
	if n == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// block timestamps come as ISO-8601 without zone, always UTC.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05"}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: cannot parse %q", s)
}

func (m *blockMessage) toDomain() (*domain.Block, error) {
	num, err := parseUint(m.BlockNum, "block_num")
	if err != nil {
		return nil, err
	}
	lib, err := parseUint(m.LastIrreversible, "last_irreversible")
	if err != nil {
		return nil, err
	}
	ts, err := parseTimestamp(m.Timestamp)
	if err != nil {
		return nil, err
	}
	if m.BlockID == "" {
		return nil, fmt.Errorf("block %d: missing block_id", num)
	}

	b := &domain.Block{
		Num:              num,
		ID:               m.BlockID,
		ParentID:         m.ParentID,
		Timestamp:        ts,
		Producer:         domain.Name(m.Producer),
		IsIrreversible:   m.Irreversible,
		LastIrreversible: lib,
		Traces:           make([]domain.ActionTrace, 0, len(m.Traces)),
		Deltas:           make([]domain.TableDelta, 0, len(m.Deltas)),
	}

	for _, t := range m.Traces {
		seq, err := parseUint(t.GlobalSequence, "global_sequence")
		if err != nil {
			return nil, fmt.Errorf("block %d trace: %w", num, err)
		}
		b.Traces = append(b.Traces, domain.ActionTrace{
			Contract:       domain.Name(t.Contract),
			Action:         domain.Name(t.Action),
			GlobalSequence: seq,
			TransactionID:  t.TransactionID,
			Actor:          domain.Name(t.Actor),
			Data:           domain.Record(t.Data),
		})
	}

	for _, d := range m.Deltas {
		pk, err := parseUint(d.PrimaryKey, "primary_key")
		if err != nil {
			return nil, fmt.Errorf("block %d delta: %w", num, err)
		}
		var change domain.RowChange = domain.Removed{}
		if d.Present {
			change = domain.Upserted{Row: domain.Record(d.Value)}
		}
		b.Deltas = append(b.Deltas, domain.TableDelta{
			Contract:   domain.Name(d.Contract),
			Table:      domain.Name(d.Table),
			Scope:      domain.Name(d.Scope),
			PrimaryKey: pk,
			Change:     change,
		})
	}
	return b, nil
}

// DecodeBlock parses one JSON-encoded block.
func DecodeBlock(data []byte) (*domain.Block, error) {
	var m blockMessage
	if err := wireJSON.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return m.toDomain()
}

// EncodeBlock renders b in the same JSON shape DecodeBlock reads.
func EncodeBlock(b *domain.Block) ([]byte, error) {
	m := blockMessage{
		BlockNum:         json.Number(strconv.FormatUint(b.Num, 10)),
		BlockID:          b.ID,
		ParentID:         b.ParentID,
		Producer:         string(b.Producer),
		Irreversible:     b.IsIrreversible,
		LastIrreversible: json.Number(strconv.FormatUint(b.LastIrreversible, 10)),
	}
	if !b.Timestamp.IsZero() {
		m.Timestamp = b.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for _, t := range b.Traces {
		m.Traces = append(m.Traces, traceMessage{
			Contract:       string(t.Contract),
			Action:         string(t.Action),
			GlobalSequence: json.Number(strconv.FormatUint(t.GlobalSequence, 10)),
			TransactionID:  t.TransactionID,
			Actor:          string(t.Actor),
			Data:           t.Data,
		})
	}
	for _, d := range b.Deltas {
		row, present := d.Row()
		m.Deltas = append(m.Deltas, deltaMessage{
			Contract:   string(d.Contract),
			Table:      string(d.Table),
			Scope:      string(d.Scope),
			PrimaryKey: json.Number(strconv.FormatUint(d.PrimaryKey, 10)),
			Present:    present,
			Value:      row,
		})
	}
	return wireJSON.Marshal(m)
}
