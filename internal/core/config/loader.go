package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML with environment substitution and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.CriticalFailures == 0 {
		c.Server.CriticalFailures = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}
	if c.Feed.Type == "" {
		c.Feed.Type = FeedWebSocket
	}
	if c.Feed.QueueSize == 0 {
		c.Feed.QueueSize = 32
	}
	if c.Feed.MaxMessagesInFlight == 0 {
		c.Feed.MaxMessagesInFlight = 50
	}
	if c.Feed.HandshakeTimeout == 0 {
		c.Feed.HandshakeTimeout = 10 * time.Second
	}
	if c.Reader.WindowSize == 0 {
		c.Reader.WindowSize = 720
	}
	if c.Reader.MaxForkDepth == 0 {
		c.Reader.MaxForkDepth = 360
	}
	if c.Reader.ShutdownTimeout == 0 {
		c.Reader.ShutdownTimeout = 30 * time.Second
	}
	if c.Reader.Retry.InitialDelay == 0 {
		c.Reader.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Reader.Retry.MaxDelay == 0 {
		c.Reader.Retry.MaxDelay = 30 * time.Second
	}
}

// Validate checks settings that have no sensible default.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Reader.Name == "" {
		errs = append(errs, errors.New("reader.name is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.Feed.Type {
	case FeedFile:
		if c.Feed.Path == "" {
			errs = append(errs, errors.New("feed.path is required for a file feed"))
		}
	case FeedWebSocket:
		if c.Feed.URL == "" {
			errs = append(errs, errors.New("feed.url is required for a ws feed"))
		}
	default:
		errs = append(errs, fmt.Errorf("feed.type %q is not one of %s, %s", c.Feed.Type, FeedFile, FeedWebSocket))
	}
	if c.Reader.MaxForkDepth > c.Reader.WindowSize {
		errs = append(errs, fmt.Errorf("reader.max_fork_depth %d exceeds window_size %d",
			c.Reader.MaxForkDepth, c.Reader.WindowSize))
	}
	for i, a := range c.Handlers.ActionLog.Actions {
		if a.Contract == "" || a.Action == "" {
			errs = append(errs, fmt.Errorf("handlers.actionlog.actions[%d] needs contract and action", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
