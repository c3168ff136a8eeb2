// Package main runs the in-memory development portal API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/digitalsociety/egov-cli/internal/devserver"
)

func main() {
	logger := devserver.NewLogger()
	defer func() { _ = logger.Sync() }()

	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		logger.Warnf("could not load .env file: %v", err)
	}

	addr := pflag.String("addr", envOr("EGOV_DEVSERVER_ADDR", "127.0.0.1:8080"), "listen address")
	csrf := pflag.String("csrf-token", os.Getenv("EGOV_DEVSERVER_CSRF_TOKEN"), "require this X-CSRFToken on unsafe methods")
	accessTTL := pflag.Duration("access-ttl", durationOr("EGOV_DEVSERVER_ACCESS_TTL", 5*time.Minute), "access token lifetime")
	refreshTTL := pflag.Duration("refresh-ttl", durationOr("EGOV_DEVSERVER_REFRESH_TTL", 24*time.Hour), "refresh token lifetime")
	rotate := pflag.Bool("rotate-refresh", false, "issue a new refresh token on every refresh")
	pflag.Parse()

	srv := devserver.New(devserver.Config{
		Addr:          *addr,
		Secret:        []byte(os.Getenv("EGOV_DEVSERVER_SECRET")),
		AccessTTL:     *accessTTL,
		RefreshTTL:    *refreshTTL,
		CSRFToken:     *csrf,
		RotateRefresh: *rotate,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal(zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
