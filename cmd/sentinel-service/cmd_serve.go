package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sentinel-service/internal/catalog"
	"sentinel-service/internal/config"
	"sentinel-service/internal/db"
	apphttp "sentinel-service/internal/http"
	"sentinel-service/internal/metrics"
	"sentinel-service/internal/repository"
	"sentinel-service/internal/service"
	"sentinel-service/internal/vlm"
)

// newServeCmd creates the "sentinel-service serve" subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)
			return runServe(cmd.Context(), cfg, log)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	videos, err := catalog.New(cfg.Video.Dir, log)
	if err != nil {
		return fmt.Errorf("video catalog: %w", err)
	}
	go func() {
		if err := videos.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("video directory watch stopped")
		}
	}()

	model := vlm.NewClient(vlm.Config{
		BaseURL:       cfg.Model.BaseURL,
		APIKey:        cfg.Model.APIKey,
		Model:         cfg.Model.Name,
		Timeout:       cfg.Model.Timeout,
		MaxConcurrent: cfg.Model.MaxConcurrent,
		MaxTokens:     cfg.Model.MaxTokens,
	}, log)

	met := metrics.NewPipeline(nil)

	var archive *service.IncidentService
	if cfg.Database.Enabled {
		gdb, err := db.Connect(cfg.Database.DSN(), log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := db.Migrate(gdb, log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		archive = service.NewIncidentService(repository.NewIncidentRepository(gdb), log)
	} else {
		log.Info().Msg("incident archive disabled, reports are stream-only")
	}

	h := apphttp.NewHandler(archive, videos, cfg, log)
	ws := apphttp.NewWSHandler(videos, model, archive, met, cfg, log)
	router := apphttp.NewRouter(cfg, h, ws, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("model", cfg.Model.Name).Msg("sentinel-service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Streaming sessions get the shutdown window to flush their last events.
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
