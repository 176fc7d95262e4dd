package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arcadenet/arcadectl/internal/lobby"
)

// beaconctl config.toml key mapping to announcement settings.
type fileConfig struct {
	LobbyURL                 string            `toml:"lobby_url"`
	IP                       string            `toml:"ip"`
	Port                     int               `toml:"port"`
	Name                     string            `toml:"name"`
	Capacity                 int               `toml:"capacity"`
	Metadata                 map[string]string `toml:"metadata"`
	HeartbeatIntervalSeconds int               `toml:"heartbeat_interval_seconds"`
	ParticipantsURL          string            `toml:"participants_url"`
}

type beaconConfig struct {
	Announce        lobby.AnnounceConfig
	ParticipantsURL string
}

func defaultBeaconConfig() beaconConfig {
	return beaconConfig{
		Announce: lobby.AnnounceConfig{
			LobbyURL: "http://127.0.0.1:8090",
			Interval: 10 * time.Second,
			Capacity: 8,
		},
	}
}

// loadBeaconConfig overlays config.toml onto defaults, honoring only keys the
// file actually defines.
func loadBeaconConfig(path string) (beaconConfig, error) {
	cfg := defaultBeaconConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return beaconConfig{}, fmt.Errorf("load beacon config: %w", err)
	}

	if meta.IsDefined("lobby_url") {
		cfg.Announce.LobbyURL = strings.TrimSpace(raw.LobbyURL)
	}
	if meta.IsDefined("ip") {
		cfg.Announce.IP = strings.TrimSpace(raw.IP)
	}
	if meta.IsDefined("port") {
		cfg.Announce.Port = raw.Port
	}
	if meta.IsDefined("name") {
		cfg.Announce.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("capacity") {
		cfg.Announce.Capacity = raw.Capacity
	}
	if meta.IsDefined("metadata") {
		cfg.Announce.Metadata = raw.Metadata
	}
	if meta.IsDefined("heartbeat_interval_seconds") && raw.HeartbeatIntervalSeconds > 0 {
		cfg.Announce.Interval = time.Duration(raw.HeartbeatIntervalSeconds) * time.Second
	}
	if meta.IsDefined("participants_url") {
		cfg.ParticipantsURL = strings.TrimSpace(raw.ParticipantsURL)
	}

	if cfg.Announce.IP == "" {
		return beaconConfig{}, fmt.Errorf("load beacon config: ip is required")
	}
	if cfg.Announce.Port < 1 {
		return beaconConfig{}, fmt.Errorf("load beacon config: port is required")
	}
	return cfg, nil
}
