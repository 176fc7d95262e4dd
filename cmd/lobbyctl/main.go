package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcadenet/arcadectl/internal/config"
	"github.com/arcadenet/arcadectl/internal/lobby"
	"github.com/arcadenet/arcadectl/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to lobbyctl config.toml")
	flag.Parse()

	logger := observability.InitLogger("lobbyctl")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lobbyctl: %v\n", err)
		os.Exit(1)
	}

	registry := lobby.NewRegistry(time.Duration(cfg.HeartbeatTimeoutSeconds) * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go registry.RunSweeper(ctx, time.Duration(cfg.SweepIntervalSeconds)*time.Second)

	server := lobby.NewServer(registry, cfg.Addr, cfg.CorsOrigins)
	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func loadConfig(path string) (config.LobbyConfig, error) {
	if path == "" {
		return config.LoadDefaultLobbyConfig(), nil
	}
	return config.LoadLobbyConfig(path)
}
