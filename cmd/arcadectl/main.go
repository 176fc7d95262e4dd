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

	"github.com/arcadenet/arcadectl/internal/admission"
	"github.com/arcadenet/arcadectl/internal/arcade"
	"github.com/arcadenet/arcadectl/internal/config"
	"github.com/arcadenet/arcadectl/internal/engine"
	"github.com/arcadenet/arcadectl/internal/observability"
	"github.com/arcadenet/arcadectl/internal/script"
)

func main() {
	configPath := flag.String("config", "", "path to arcadectl config.toml")
	flag.Parse()

	logger := observability.InitLogger("arcadectl")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arcadectl: %v\n", err)
		os.Exit(1)
	}

	validator := script.NewValidator()
	if cfg.MaxScriptBytes > 0 {
		validator.MaxBytes = cfg.MaxScriptBytes
	}
	if cfg.RequiredMarker != "" {
		validator.RequiredMarker = cfg.RequiredMarker
	}

	orch := arcade.NewOrchestrator(
		orchestratorConfig(cfg),
		engine.NewDockerEngine(nil),
		validator,
		script.NewScanner(nil),
		admission.NewController(cfg.Capacity),
		arcade.NewPortAllocator(cfg.PortBase, cfg.PortCount),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go orch.RunMonitor(ctx)
	go orch.RunReaper(ctx)

	server := arcade.NewServer(orch, cfg.Addr, cfg.CorsOrigins)
	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func loadConfig(path string) (config.ControlConfig, error) {
	if path == "" {
		return config.LoadDefaultControlConfig(), nil
	}
	return config.LoadControlConfig(path)
}

func orchestratorConfig(cfg config.ControlConfig) arcade.Config {
	out := arcade.DefaultConfig()
	if cfg.Image != "" {
		out.Image = cfg.Image
	}
	if cfg.GamePort > 0 {
		out.GamePort = cfg.GamePort
	}
	if cfg.StartupGraceSeconds > 0 {
		out.StartupGrace = time.Duration(cfg.StartupGraceSeconds) * time.Second
	}
	if cfg.StopGraceSeconds > 0 {
		out.StopGrace = time.Duration(cfg.StopGraceSeconds) * time.Second
	}
	if cfg.MonitorIntervalSeconds > 0 {
		out.MonitorInterval = time.Duration(cfg.MonitorIntervalSeconds) * time.Second
	}
	if cfg.IdleTimeoutSeconds > 0 {
		out.IdleThreshold = time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	}
	if cfg.ReapIntervalSeconds > 0 {
		out.ReapInterval = time.Duration(cfg.ReapIntervalSeconds) * time.Second
	}
	if cfg.LogTailLines > 0 {
		out.LogTailLines = cfg.LogTailLines
	}
	return out
}
