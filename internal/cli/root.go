package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/filler/internal/control"
	"github.com/vietddude/filler/internal/core/config"
	"github.com/vietddude/filler/internal/indexing/engine"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "filler",
	Short: "Contract table and action indexer",
	Long:  `Filler applies contract table deltas and action traces, block by block, to a relational store.`,
	Run:   runFiller,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// loadConfig reads .env and the config file, then installs the logger.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	return cfg
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if isDebug {
		level = slog.LevelDebug
	}

	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

func runFiller(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := control.NewSession(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to initialize session", "error", err)
		os.Exit(1)
	}
	slog.Info("Filler started", "config", cfgPath, "reader", cfg.Reader.Name, "session", session.ID)

	runErr := session.Run(ctx)
	if ctx.Err() != nil {
		slog.Info("Received signal, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := session.Close(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	var fatal *engine.FatalError
	switch {
	case errors.As(runErr, &fatal):
		slog.Error("Filler halted", "block", fatal.BlockNum, "error", fatal.Err)
		os.Exit(2)
	case runErr != nil:
		slog.Error("Filler failed", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Filler stopped gracefully")
}
