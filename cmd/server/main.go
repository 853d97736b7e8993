package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/Huddle/internal/adapters/http"
	"github.com/dkeye/Huddle/internal/adapters/store"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "huddle",
		Short:         "Real-time room server with shared JSON state",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := run(ctx, configPath); err != nil {
				log.Error().Err(err).Msg("server failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	return cmd
}

func setupLogger(mode, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if mode == "debug" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func run(ctx context.Context, configPath string) error {
	setupLogger("debug", "info")
	// HUDDLE_* overrides may live in a local .env file.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Mode, cfg.Log.Level)

	action, err := app.ParseOverflowAction(cfg.Queue.Overflow)
	if err != nil {
		return err
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	preload := make([]domain.RoomName, 0, len(cfg.Rooms.Preload))
	for _, name := range cfg.Rooms.Preload {
		preload = append(preload, domain.RoomName(name))
	}
	hub := app.NewHub(st, app.Options{
		DefaultRoom:    domain.RoomName(cfg.Rooms.Default),
		PreloadRooms:   preload,
		IdleTimeout:    cfg.Rooms.IdleTimeout,
		SweepInterval:  cfg.Rooms.SweepInterval,
		ReceiveTimeout: cfg.KeepAlive.ReceiveTimeout,
		ProbeTimeout:   cfg.KeepAlive.ProbeTimeout,
		PersistTimeout: cfg.Store.Timeout,
		QueueCapacity:  cfg.Queue.Capacity,
		JoinLimit:      cfg.Rooms.JoinLimit,
		JoinInterval:   cfg.Rooms.JoinInterval,
		Policy:         app.SimplePolicy{Action: action},
		Metrics:        metrics.New(reg),
	})
	go hub.Run(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(cfg, hub, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			_ = hub.Close()
			return fmt.Errorf("listen: %w", err)
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// closes them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := hub.Close(); err != nil {
		log.Error().Err(err).Msg("close store")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
