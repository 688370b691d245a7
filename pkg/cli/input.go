package cli

import (
	"context"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Input carries the ambient dependencies handed to every command.
type Input struct {
	Logger *slog.Logger
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Config is the environment-driven configuration shared by all commands.
type Config struct {
	LogLevel  string `env:"CANREPLAY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CANREPLAY_LOG_FORMAT" envDefault:"text"`
}

// LoadConfig reads the shared configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(err, "parse env config")
	}
	return cfg, nil
}

// NewLogger builds a slog logger per the config, writing to w.
func NewLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, errors.Newf("unknown log level: %q", cfg.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.LogFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, errors.Newf("unknown log format: %q", cfg.LogFormat)
	}
}

// WithContext adapts a command handler into a cobra RunE. The handler's
// context is cancelled on SIGINT or SIGTERM so long-running commands
// (replays mid-sleep included) terminate promptly.
func WithContext(run func(ctx context.Context, input Input) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		logger, err := NewLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input := Input{
			Logger: logger,
			Stdin:  cmd.InOrStdin(),
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		}
		return run(ctx, input)
	}
}
