package config

import (
	"time"

	redisclient "github.com/vietddude/filler/internal/infra/redis"
	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database sqlstore.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Feed     FeedConfig         `yaml:"feed"`
	Reader   ReaderConfig       `yaml:"reader"`
	Handlers HandlersConfig     `yaml:"handlers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port             int           `yaml:"port"`
	StaleAfter       time.Duration `yaml:"stale_after"`       // no block for this long reports degraded, 0 = off
	CriticalFailures int           `yaml:"critical_failures"` // consecutive failures before critical
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Feed types.
const (
	FeedFile      = "file"
	FeedWebSocket = "ws"
)

// FeedConfig selects where decoded blocks come from.
type FeedConfig struct {
	Type                string        `yaml:"type"` // file or ws
	Path                string        `yaml:"path"` // NDJSON file for type file
	URL                 string        `yaml:"url"`  // relay endpoint for type ws
	MaxMessagesInFlight int           `yaml:"max_messages_in_flight"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	QueueSize           int           `yaml:"queue_size"`
}

// ReaderConfig holds settings of the ingestion reader.
type ReaderConfig struct {
	Name            string        `yaml:"name"`
	WindowSize      int           `yaml:"window_size"` // retained reversible blocks
	MaxForkDepth    int           `yaml:"max_fork_depth"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig holds backoff settings for failed blocks.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// HandlersConfig enables the domain handler modules.
type HandlersConfig struct {
	Vestings  VestingsConfig  `yaml:"vestings"`
	ActionLog ActionLogConfig `yaml:"actionlog"`
}

// VestingsConfig configures the LaunchBagz vestings module. Disabled when Account is empty.
type VestingsConfig struct {
	Account string `yaml:"account"`
}

// ActionLogConfig lists the actions copied into contract_logs.
type ActionLogConfig struct {
	Actions []ActionRef `yaml:"actions"`
}

// ActionRef names one contract action.
type ActionRef struct {
	Contract string `yaml:"contract"`
	Action   string `yaml:"action"`
}
