package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksApplied tracks blocks committed per reader
	BlocksApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filler_blocks_applied_total",
			Help: "Total number of blocks applied and committed",
		},
		[]string{"reader"},
	)

	// BlocksSkipped tracks redelivered blocks that were already applied
	BlocksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filler_blocks_skipped_total",
			Help: "Total number of duplicate blocks skipped",
		},
		[]string{"reader"},
	)

	// BlockApplyDuration tracks the time to apply one block, dispatch through commit
	BlockApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filler_block_apply_seconds",
			Help:    "Block apply latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"reader"},
	)

	// CallbacksInvoked tracks processor callbacks per kind (delta or trace)
	CallbacksInvoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filler_callbacks_total",
			Help: "Total number of processor callbacks invoked",
		},
		[]string{"reader", "kind"},
	)

	// ForksTotal tracks detected forks
	ForksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filler_forks_total",
			Help: "Total number of chain forks handled",
		},
		[]string{"reader"},
	)

	// BlocksReverted tracks blocks undone by fork handling
	BlocksReverted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filler_blocks_reverted_total",
			Help: "Total number of blocks reverted",
		},
		[]string{"reader"},
	)

	// LastForkAt is the unix time of the last fork
	LastForkAt = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filler_last_fork_timestamp",
			Help: "Unix timestamp of the last handled fork",
		},
		[]string{"reader"},
	)

	// ConsecutiveFailures tracks failed attempts at the current block
	ConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filler_consecutive_failures",
			Help: "Consecutive failed attempts to apply the current block",
		},
		[]string{"reader"},
	)

	// CheckpointBlock is the last committed block height
	CheckpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filler_checkpoint_block",
			Help: "Last committed block height",
		},
		[]string{"reader"},
	)

	// IrreversibleBlock is the last known irreversible height
	IrreversibleBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filler_irreversible_block",
			Help: "Last known irreversible block height",
		},
		[]string{"reader"},
	)

	// QueueDepth is the number of decoded blocks waiting to be applied
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filler_queue_depth",
			Help: "Blocks buffered between feed and applier",
		},
		[]string{"reader"},
	)

	// StateTransitions tracks checkpoint state machine transitions
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filler_state_transitions_total",
			Help: "Total number of checkpoint state transitions",
		},
		[]string{"reader", "from", "to"},
	)

	// NotificationsPublished tracks redis notifications
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filler_notifications_published_total",
			Help: "Total number of notifications published",
		},
		[]string{"reader", "kind"},
	)

	// DBConnectionPoolUsage is the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filler_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
