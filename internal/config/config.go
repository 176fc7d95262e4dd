package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ControlConfig configures the arcadectl control-plane daemon.
type ControlConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`

	Capacity  int `toml:"capacity"`
	PortBase  int `toml:"port_base"`
	PortCount int `toml:"port_count"`

	Image    string `toml:"image"`
	GamePort int    `toml:"game_port"`

	MaxScriptBytes int64  `toml:"max_script_bytes"`
	RequiredMarker string `toml:"required_marker"`

	StartupGraceSeconds    int `toml:"startup_grace_seconds"`
	StopGraceSeconds       int `toml:"stop_grace_seconds"`
	MonitorIntervalSeconds int `toml:"monitor_interval_seconds"`
	IdleTimeoutSeconds     int `toml:"idle_timeout_seconds"`
	ReapIntervalSeconds    int `toml:"reap_interval_seconds"`
	LogTailLines           int `toml:"log_tail_lines"`
}

// LobbyConfig configures the lobbyctl registry daemon.
type LobbyConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`

	HeartbeatTimeoutSeconds int `toml:"heartbeat_timeout_seconds"`
	SweepIntervalSeconds    int `toml:"sweep_interval_seconds"`
}

// LoadDefaultControlConfig is the no-config-file startup path.
func LoadDefaultControlConfig() ControlConfig {
	return ControlConfig{
		Addr:      ":8080",
		Capacity:  10,
		PortBase:  30000,
		PortCount: 10,
	}
}

// LoadDefaultLobbyConfig is the no-config-file startup path.
func LoadDefaultLobbyConfig() LobbyConfig {
	return LobbyConfig{
		Addr:                    ":8090",
		HeartbeatTimeoutSeconds: 30,
		SweepIntervalSeconds:    10,
	}
}

func LoadControlConfig(path string) (ControlConfig, error) {
	var cfg ControlConfig
	if err := loadToml(path, &cfg); err != nil {
		return ControlConfig{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 10
	}
	if cfg.PortBase < 1 {
		cfg.PortBase = 30000
	}
	if cfg.PortCount < 1 {
		cfg.PortCount = cfg.Capacity
	}
	if err := ValidateControlConfig(cfg); err != nil {
		return ControlConfig{}, err
	}
	return cfg, nil
}

func LoadLobbyConfig(path string) (LobbyConfig, error) {
	var cfg LobbyConfig
	if err := loadToml(path, &cfg); err != nil {
		return LobbyConfig{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.HeartbeatTimeoutSeconds < 1 {
		cfg.HeartbeatTimeoutSeconds = 30
	}
	if cfg.SweepIntervalSeconds < 1 {
		cfg.SweepIntervalSeconds = 10
	}
	if err := ValidateLobbyConfig(cfg); err != nil {
		return LobbyConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateControlConfig(cfg ControlConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("control config missing addr")
	}
	if cfg.Capacity < 1 {
		return fmt.Errorf("control config capacity must be positive")
	}
	if cfg.PortCount < cfg.Capacity {
		return fmt.Errorf(
			"control config port_count %d cannot cover capacity %d",
			cfg.PortCount, cfg.Capacity,
		)
	}
	if cfg.PortBase < 1 || cfg.PortBase+cfg.PortCount > 65536 {
		return fmt.Errorf("control config port range [%d,%d) out of bounds", cfg.PortBase, cfg.PortBase+cfg.PortCount)
	}
	return nil
}

func ValidateLobbyConfig(cfg LobbyConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("lobby config missing addr")
	}
	if cfg.SweepIntervalSeconds > cfg.HeartbeatTimeoutSeconds {
		return fmt.Errorf(
			"lobby config sweep interval %ds longer than heartbeat timeout %ds",
			cfg.SweepIntervalSeconds, cfg.HeartbeatTimeoutSeconds,
		)
	}
	return nil
}
