// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ReaderHealth contains health data for one ingestion reader.
type ReaderHealth struct {
	Reader              string        `json:"reader"`
	Status              SystemStatus  `json:"status"`
	State               string        `json:"state"`
	BlockNum            uint64        `json:"block_num"`
	BlockID             string        `json:"block_id"`
	IrreversibleNum     uint64        `json:"irreversible_num"`
	WindowSize          int           `json:"window_size"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	SinceLastBlock      time.Duration `json:"since_last_block_ns"`
	BlocksPerSecond     float64       `json:"blocks_per_second"`
	Forks               int           `json:"forks"`
	Running             bool          `json:"running"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Readers      map[string]ReaderHealth `json:"readers"`
	Dependencies map[string]string       `json:"dependencies"`
}

// worse returns the more severe of a and b.
func worse(a, b SystemStatus) SystemStatus {
	rank := func(s SystemStatus) int {
		switch s {
		case StatusCritical:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
