package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arcadenet/arcadectl/internal/lobby"
	"github.com/arcadenet/arcadectl/internal/observability"
)

func main() {
	configPath := flag.String("config", "beacon.toml", "path to beaconctl config.toml")
	flag.Parse()

	observability.InitLogger("beaconctl")

	cfg, err := loadBeaconConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beaconctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	announcer := lobby.NewAnnouncer(cfg.Announce, participantsSampler(ctx, cfg.ParticipantsURL))
	announcer.Run(ctx)
}

// participantsSampler polls the game's local stats endpoint in the
// background so heartbeats never wait on it. Without an endpoint the count
// stays zero.
func participantsSampler(ctx context.Context, url string) lobby.ParticipantsFunc {
	if url == "" {
		return nil
	}
	var current atomic.Int64
	client := &http.Client{Timeout: 2 * time.Second}
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, ok := fetchParticipants(ctx, client, url); ok {
					current.Store(int64(n))
				}
			}
		}
	}()
	return func() int { return int(current.Load()) }
}

func fetchParticipants(ctx context.Context, client *http.Client, url string) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	var body struct {
		CurrentParticipants int `json:"current_participants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false
	}
	return body.CurrentParticipants, true
}
