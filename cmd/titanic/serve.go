package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"titanic-predictor/internal/metrics"
	"titanic-predictor/internal/server"
	"titanic-predictor/internal/storage"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		port      int
		artifacts string
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			if cmd.Flags().Changed("port") {
				s.Port = port
			}
			if cmd.Flags().Changed("artifacts") {
				s.ArtifactDir = artifacts
			}
			if cmd.Flags().Changed("watch") {
				s.WatchArtifacts = watch
			}
			return a.serve(s.Addr(), s.ArtifactDir, s.WatchArtifacts)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port")
	cmd.Flags().StringVar(&artifacts, "artifacts", "", "directory holding the model bundle")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the model when the bundle file changes")
	return cmd
}

func (a *app) serve(addr, artifactDir string, watch bool) error {
	s := a.settings
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.New(artifactDir)
	srv := server.New(server.Config{
		Addr:           addr,
		ReadTimeout:    s.ReadTimeout,
		WriteTimeout:   s.WriteTimeout,
		CacheSize:      s.CacheSize,
		RateLimit:      s.RateLimit,
		RateBurst:      s.RateBurst,
		CORSOrigins:    s.CORSOrigins,
		DriftWindow:    s.DriftWindow,
		DriftThreshold: s.DriftThreshold,
	}, store, metrics.New())

	if watch {
		if err := os.MkdirAll(artifactDir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
		go func() {
			if err := srv.WatchArtifacts(ctx); err != nil {
				log.Error().Err(err).Msg("Artifact watcher stopped")
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case err := <-errc:
			return err
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				log.Info().Msg("SIGHUP received, reloading model")
				_ = srv.Reload()
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			cancel()
			shutdownCtx, done := context.WithTimeout(context.Background(), s.ShutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown failed: %w", err)
			}
			return <-errc
		}
	}
}
