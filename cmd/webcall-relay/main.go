package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/webcall/signaling-relay/internal/admin"
	"github.com/webcall/signaling-relay/internal/config"
	"github.com/webcall/signaling-relay/internal/httpserver"
	"github.com/webcall/signaling-relay/internal/metrics"
	"github.com/webcall/signaling-relay/internal/registry"
	"github.com/webcall/signaling-relay/internal/room"
	"github.com/webcall/signaling-relay/internal/roomapi"
	"github.com/webcall/signaling-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting webcall-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"room_ttl", cfg.RoomTTL,
		"room_idle_grace", cfg.RoomIdleGrace,
		"room_sweep_interval", cfg.RoomSweepInterval,
		"max_participants", cfg.MaxParticipants,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"admin_api_key_set", cfg.AdminAPIKey != "",
	)

	if cfg.Mode == config.ModeProd && cfg.PublicBaseURL == "" {
		logger.Warn("no public base URL configured; room URLs will be path-only")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	m := metrics.New()
	store := room.NewStore(room.Options{
		TTL:       cfg.RoomTTL,
		IdleGrace: cfg.RoomIdleGrace,
		Logger:    logger,
		Metrics:   m,
	})
	reg := registry.New(logger, m)

	sweeper := room.NewSweeper(store, cfg.RoomSweepInterval, logger)
	sweeper.Start()

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	signaling.NewServer(signaling.Config{
		Store:                  store,
		Registry:               reg,
		Metrics:                m,
		Logger:                 logger,
		DefaultMaxParticipants: cfg.MaxParticipants,
		MaxMessageBytes:        cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond:   cfg.MaxSignalingMessagesPerSecond,
		WriteTimeout:           cfg.SignalingWriteTimeout,
	}).RegisterRoutes(srv.Mux())

	roomapi.NewServer(roomapi.Config{
		Store:           store,
		Metrics:         m,
		Logger:          logger,
		PublicBaseURL:   cfg.PublicBaseURL,
		MaxParticipants: cfg.MaxParticipants,
	}).RegisterRoutes(srv.Mux())

	admin.NewServer(admin.Config{
		Store:    store,
		Registry: reg,
		Metrics:  m,
		Logger:   logger,
		APIKey:   cfg.AdminAPIKey,
		DevMode:  cfg.Mode == config.ModeDev,
	}).RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Error("room sweeper shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
