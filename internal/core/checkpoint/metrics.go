package checkpoint

import (
	"time"
)

// blockRecord holds timing data for a committed block.
type blockRecord struct {
	BlockNum    uint64
	CommittedAt time.Time
}

// Metrics holds ingestion performance data.
type Metrics struct {
	BlocksPerSecond  float64
	AverageBlockTime time.Duration
	LastForkAt       *time.Time
	Forks            int
	BlocksReverted   int
	StateHistory     []Transition
}

// MetricsCollector tracks ingestion performance over time.
type MetricsCollector struct {
	windowSize  int           // number of blocks to track
	blockTimes  []blockRecord // ring buffer of block records
	transitions []Transition  // recent state changes
	lastForkAt  *time.Time
	forks       int
	reverted    int
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		blockTimes:  make([]blockRecord, 0, windowSize),
		transitions: make([]Transition, 0, 10),
	}
}

// RecordBlock records timing for a committed block.
func (mc *MetricsCollector) RecordBlock(blockNum uint64, committedAt time.Time) {
	record := blockRecord{BlockNum: blockNum, CommittedAt: committedAt}

	if len(mc.blockTimes) >= mc.windowSize {
		copy(mc.blockTimes, mc.blockTimes[1:])
		mc.blockTimes[len(mc.blockTimes)-1] = record
	} else {
		mc.blockTimes = append(mc.blockTimes, record)
	}
}

// RecordTransition records a state transition.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	// Keep only last 10 transitions
	if len(mc.transitions) >= 10 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}

	if t.To == StateRollingBack {
		at := t.Timestamp
		mc.lastForkAt = &at
	}
}

// RecordFork counts a handled fork and the blocks it reverted.
func (mc *MetricsCollector) RecordFork(reverted int) {
	mc.forks++
	mc.reverted += reverted
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		LastForkAt:     mc.lastForkAt,
		Forks:          mc.forks,
		BlocksReverted: mc.reverted,
		StateHistory:   make([]Transition, len(mc.transitions)),
	}
	copy(m.StateHistory, mc.transitions)

	if len(mc.blockTimes) >= 2 {
		first := mc.blockTimes[0]
		last := mc.blockTimes[len(mc.blockTimes)-1]
		duration := last.CommittedAt.Sub(first.CommittedAt)

		if duration > 0 {
			blockCount := float64(len(mc.blockTimes) - 1)
			m.BlocksPerSecond = blockCount / duration.Seconds()
			m.AverageBlockTime = time.Duration(float64(duration) / blockCount)
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.blockTimes = mc.blockTimes[:0]
	mc.transitions = mc.transitions[:0]
	mc.lastForkAt = nil
	mc.forks = 0
	mc.reverted = 0
}
