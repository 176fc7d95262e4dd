package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestResolveProfileDefaults(t *testing.T) {
	cfg := Resolve(ProfileRuntime)
	if cfg.Level != zerolog.InfoLevel || !cfg.Timestamp {
		t.Fatalf("unexpected runtime defaults: %+v", cfg)
	}

	cfg = Resolve(ProfileTest)
	if cfg.Level != zerolog.DebugLevel || cfg.Timestamp {
		t.Fatalf("unexpected test defaults: %+v", cfg)
	}
}

func TestResolveHonorsEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")

	cfg := Resolve(ProfileRuntime)
	if cfg.Level != zerolog.WarnLevel {
		t.Fatalf("expected warn level from env, got %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled from env")
	}
	if !cfg.NoColor {
		t.Fatalf("expected nocolor enabled from env")
	}
}

func TestResolveIgnoresGarbageEnvValues(t *testing.T) {
	t.Setenv(EnvLogLevel, "loudest")
	t.Setenv(EnvLogTimestamp, "sometimes")

	cfg := Resolve(ProfileRuntime)
	if cfg.Level != zerolog.InfoLevel || !cfg.Timestamp {
		t.Fatalf("garbage env values must not override defaults: %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw   string
		level zerolog.Level
		ok    bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{"INFO", zerolog.InfoLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		level, ok := parseLevel(tc.raw)
		if level != tc.level || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = %v,%v, want %v,%v", tc.raw, level, ok, tc.level, tc.ok)
		}
	}
}
