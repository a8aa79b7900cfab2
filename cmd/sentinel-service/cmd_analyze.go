package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sentinel-service/internal/config"
	"sentinel-service/internal/domain/incident"
	"sentinel-service/internal/pipeline"
	"sentinel-service/internal/sampler"
	"sentinel-service/internal/vlm"
)

// newAnalyzeCmd creates the "sentinel-service analyze" subcommand: a one-shot
// run of the pipeline over a local file, events printed to stdout. Useful for
// tuning prompts and thresholds without a running server.
func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <video>",
		Short: "Analyze one video file and print pipeline events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)
			return runAnalyze(cmd.Context(), cfg, log, args[0], cmd.OutOrStdout())
		},
	}
}

func runAnalyze(ctx context.Context, cfg *config.Config, log zerolog.Logger, path string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := sampler.NewFFmpegSource(ctx, path, sampler.FFmpegOptions{
		Binary:   cfg.Video.FFmpegBinary,
		Interval: cfg.Pipeline.SampleInterval,
		Width:    cfg.Video.FrameWidth,
	})
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer src.Close()

	model := vlm.NewClient(vlm.Config{
		BaseURL:       cfg.Model.BaseURL,
		APIKey:        cfg.Model.APIKey,
		Model:         cfg.Model.Name,
		Timeout:       cfg.Model.Timeout,
		MaxConcurrent: cfg.Model.MaxConcurrent,
		MaxTokens:     cfg.Model.MaxTokens,
	}, log)

	orch := pipeline.NewOrchestrator(
		sampler.New(src, cfg.Pipeline.SampleInterval),
		pipeline.NewAnalyzer(model, log),
		pipeline.NewCritic(model, cfg.Pipeline.ConfidenceThreshold, log),
		pipeline.NewDispatcher(filepath.Base(path), log),
		nil,
		log,
	)

	events := make(chan incident.Event, 32)
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx, events) }()

	for ev := range events {
		payload, err := ev.Envelope()
		if err != nil {
			log.Error().Err(err).Msg("event encoding failed")
			continue
		}
		fmt.Fprintln(out, string(payload))
	}
	return <-done
}
