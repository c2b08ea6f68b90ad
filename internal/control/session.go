package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/filler/internal/core/checkpoint"
	"github.com/vietddude/filler/internal/core/config"
	"github.com/vietddude/filler/internal/core/domain"
	"github.com/vietddude/filler/internal/handlers"
	"github.com/vietddude/filler/internal/handlers/actionlog"
	"github.com/vietddude/filler/internal/handlers/vestings"
	"github.com/vietddude/filler/internal/indexing/engine"
	"github.com/vietddude/filler/internal/indexing/health"
	"github.com/vietddude/filler/internal/indexing/processor"
	"github.com/vietddude/filler/internal/indexing/reorg"
	"github.com/vietddude/filler/internal/infra/feed"
	redisclient "github.com/vietddude/filler/internal/infra/redis"
	"github.com/vietddude/filler/internal/infra/storage/sqlstore"
)

var _ engine.Notifier = (*redisclient.Publisher)(nil)

// Session owns everything one reader needs: the database pool, the chain
// feed, the processor registry, the engine and its health endpoints.
type Session struct {
	ID string

	cfg         config.AppConfig
	db          *sqlstore.DB
	registry    *processor.Registry
	handles     []processor.Handle
	checkpoints *checkpoint.Manager
	feed        *feed.Reader
	engine      *engine.Engine
	redis       *redisclient.Client
	monitor     *health.Monitor
	server      *health.Server
	log         *slog.Logger
}

type options struct {
	source  feed.Source
	modules []handlers.Module
	logger  *slog.Logger
}

// Option customises a session.
type Option func(*options)

// WithSource replaces the configured feed.
func WithSource(src feed.Source) Option {
	return func(o *options) { o.source = src }
}

// WithModules replaces the handler modules built from config.
func WithModules(modules ...handlers.Module) Option {
	return func(o *options) { o.modules = modules }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Modules builds the handler modules enabled in cfg.
func Modules(cfg config.HandlersConfig, logger *slog.Logger) []handlers.Module {
	actions := make([]actionlog.Action, 0, len(cfg.ActionLog.Actions))
	for _, a := range cfg.ActionLog.Actions {
		actions = append(actions, actionlog.Action{Contract: domain.Name(a.Contract), Name: domain.Name(a.Action)})
	}
	return []handlers.Module{
		vestings.New(cfg.Vestings.Account, logger),
		actionlog.New(actions, logger),
	}
}

// NewSession connects to the database and the feed, restores the reader's
// checkpoint and registers the handler modules. Nothing runs until Run.
func NewSession(ctx context.Context, cfg config.AppConfig, opts ...Option) (_ *Session, err error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.modules == nil {
		o.modules = Modules(cfg.Handlers, o.logger)
	}

	id := uuid.NewString()
	log := o.logger.With("session", id, "reader", cfg.Reader.Name)
	s := &Session{ID: id, cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	// 1. Storage
	s.db, err = sqlstore.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err = s.db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	log.Info("Database ready", "driver", s.db.Driver())

	// 2. Processors
	s.registry = processor.NewRegistry(processor.WithReader(cfg.Reader.Name), processor.WithLogger(log))
	s.handles, err = handlers.RegisterAll(s.registry, o.modules...)
	if err != nil {
		return nil, err
	}
	for _, k := range s.registry.Keys() {
		log.Debug("Listening", "key", k.String())
	}
	log.Info("Processors registered", "callbacks", s.registry.Len(), "contracts", len(s.registry.Contracts()))

	// 3. Checkpoint
	s.checkpoints = checkpoint.NewManager(cfg.Reader.Name, cfg.Reader.WindowSize)
	s.checkpoints.SetStateChangeCallback(func(reader string, t checkpoint.Transition) {
		log.Debug("Reader state changed", "from", t.From, "to", t.To, "event", t.Event, "reason", t.Reason)
	})
	if err = s.checkpoints.Restore(ctx, sqlstore.NewCheckpointRepo(s.db)); err != nil {
		return nil, fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	cp := s.checkpoints.Checkpoint()

	// 4. Feed
	src := o.source
	if src == nil {
		src, err = s.openSource(ctx, cp.Ref())
		if err != nil {
			return nil, err
		}
	}
	s.feed = feed.NewReader(src, cfg.Reader.Name, cfg.Feed.QueueSize, log)

	// 5. Notifications, optional
	var notifier engine.Notifier
	if cfg.Redis.Enabled() {
		client, rerr := redisclient.NewClient(ctx, cfg.Redis)
		if rerr != nil {
			log.Warn("Failed to connect to Redis, notifications disabled", "error", rerr)
		} else {
			s.redis = client
			notifier = redisclient.NewPublisher(client, cfg.Redis.Prefix)
		}
	}

	// 6. Engine
	rollback := reorg.NewHandler()
	rollback.SetRevertCallback(func(ev reorg.RevertEvent) {
		log.Info("Block reverted", "block", ev.Block.Num, "id", ev.Block.ID, "operations", ev.Operations)
	})
	s.engine, err = engine.New(engine.Config{
		Reader:      cfg.Reader.Name,
		Store:       s.db,
		Dispatcher:  s.registry,
		Checkpoints: s.checkpoints,
		Feed:        s.feed,
		Detector:    reorg.NewDetector(reorg.Config{MaxDepth: cfg.Reader.MaxForkDepth}),
		Reorg:       rollback,
		Notifier:    notifier,
		Retry: engine.RetryConfig{
			InitialDelay: cfg.Reader.Retry.InitialDelay,
			MaxDelay:     cfg.Reader.Retry.MaxDelay,
		},
		ShutdownTimeout: cfg.Reader.ShutdownTimeout,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	// 7. Health
	thresholds := health.DefaultThresholds()
	thresholds.StaleAfter = cfg.Server.StaleAfter
	if cfg.Server.CriticalFailures > 0 {
		thresholds.CriticalFailures = cfg.Server.CriticalFailures
	}
	s.monitor = health.NewMonitor(thresholds, s.engine)
	s.monitor.AddDependency("database", s.db)
	if s.redis != nil {
		s.monitor.AddDependency("redis", s.redis)
	}
	s.server = health.NewServer(s.monitor, cfg.Server.Port)

	log.Info("Session ready", "checkpoint", cp.BlockNum, "irreversible", cp.IrreversibleNum)
	return s, nil
}

func (s *Session) openSource(ctx context.Context, after domain.BlockRef) (feed.Source, error) {
	fc := s.cfg.Feed
	switch fc.Type {
	case config.FeedFile:
		return feed.OpenFile(fc.Path, after)
	case config.FeedWebSocket:
		contracts := s.registry.Contracts()
		names := make([]string, len(contracts))
		for i, c := range contracts {
			names[i] = string(c)
		}
		// A reader that never committed lets the relay pick the start.
		var start uint64
		if after.Num > 0 {
			start = after.Num + 1
		}
		return feed.DialWS(ctx, feed.WSConfig{
			URL:                 fc.URL,
			MaxMessagesInFlight: fc.MaxMessagesInFlight,
			HandshakeTimeout:    fc.HandshakeTimeout,
			Contracts:           names,
		}, start, s.log)
	default:
		return nil, fmt.Errorf("%w: feed type %q", config.ErrInvalidConfig, fc.Type)
	}
}

// Run serves health endpoints and applies blocks until the feed ends, ctx is
// cancelled, or the engine stops on a fatal error.
func (s *Session) Run(ctx context.Context) error {
	go func() {
		if err := s.server.Start(); err != nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()
	s.db.StartMetricsCollector(ctx)

	return s.engine.Run(ctx)
}

// Status reports the engine state.
func (s *Session) Status() engine.Status {
	return s.engine.Status()
}

// Health returns the current health report.
func (s *Session) Health(ctx context.Context) *health.HealthReport {
	return s.monitor.CheckHealth(ctx)
}

// Close releases everything the session opened. It is safe on a partly
// built session.
func (s *Session) Close(ctx context.Context) error {
	s.log.Info("Closing session")
	var errs []error

	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}
	if s.registry != nil {
		handlers.Deregister(s.registry, s.handles)
		s.handles = nil
	}
	if s.feed != nil {
		if err := s.feed.Close(); err != nil && !errors.Is(err, feed.ErrClosed) {
			errs = append(errs, fmt.Errorf("feed: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
