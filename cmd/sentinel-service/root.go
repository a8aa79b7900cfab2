package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sentinel-service/internal/config"
)

const version = "1.0.0"

// cfgFile is the --config flag shared by every subcommand. Empty means the
// default search path.
var cfgFile string

// newRootCmd creates the root sentinel-service command with all subcommands
// attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sentinel-service",
		Short:         "Traffic incident detection and dispatch service",
		Long:          "sentinel-service watches traffic camera footage for accidents.\nIt samples frames, has a vision model report and verify candidate\nincidents, and streams dispatch-ready reports to connected clients.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("sentinel-service {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	cmd.AddCommand(
		newServeCmd(),
		newAnalyzeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)

	return cmd
}

// loadConfig resolves configuration for a subcommand run.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the root logger from the log section.
func newLogger(cfg config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
