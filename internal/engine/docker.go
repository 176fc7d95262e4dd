package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DockerEngine drives execution units through the docker CLI. It is one
// concrete adapter behind the Engine seam; tests substitute fakes.
type DockerEngine struct {
	runner CommandRunner
	binary string
}

func NewDockerEngine(runner CommandRunner) *DockerEngine {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &DockerEngine{runner: runner, binary: "docker"}
}

func (d *DockerEngine) Create(ctx context.Context, spec Spec) (Handle, error) {
	args := []string{
		"create",
		"--name", spec.Name,
		"--label", "arcadectl.unit=true",
		"-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.GamePort),
		"-e", "ARCADE_SCRIPT=" + spec.Source,
		"-e", fmt.Sprintf("ARCADE_PORT=%d", spec.GamePort),
	}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, spec.Image)

	stdout, stderr, _, err := d.runner.Run(ctx, d.binary, args...)
	if err != nil {
		return "", dockerError("create", stderr, err)
	}
	id := strings.TrimSpace(string(stdout))
	if id == "" {
		return "", fmt.Errorf("engine: create returned empty instance id")
	}
	return Handle(id), nil
}

func (d *DockerEngine) Start(ctx context.Context, handle Handle) error {
	_, stderr, _, err := d.runner.Run(ctx, d.binary, "start", string(handle))
	if err != nil {
		return dockerError("start", stderr, err)
	}
	return nil
}

// inspectState mirrors the docker inspect .State document.
type inspectState struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
	Error    string `json:"Error"`
}

func (d *DockerEngine) Status(ctx context.Context, handle Handle) (Status, error) {
	stdout, stderr, _, err := d.runner.Run(ctx, d.binary,
		"inspect", "--format", "{{json .State}}", string(handle))
	if err != nil {
		return Status{}, dockerError("inspect", stderr, err)
	}
	var state inspectState
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(stdout))), &state); err != nil {
		return Status{}, fmt.Errorf("engine: parse inspect output: %w", err)
	}

	switch state.Status {
	case "running":
		return Status{State: StateRunning}, nil
	case "created", "restarting", "paused":
		return Status{State: StatePending}, nil
	default:
		reason := state.Error
		if reason == "" {
			reason = fmt.Sprintf("exit code %d", state.ExitCode)
		}
		return Status{State: StateExited, ExitReason: reason}, nil
	}
}

// statsRow mirrors one docker stats json line.
type statsRow struct {
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	BlockIO  string `json:"BlockIO"`
}

func (d *DockerEngine) Stats(ctx context.Context, handle Handle) (Usage, error) {
	stdout, _, _, err := d.runner.Run(ctx, d.binary,
		"stats", "--no-stream", "--format", "{{json .}}", string(handle))
	if err != nil {
		return Usage{}, ErrStatsUnavailable
	}
	var row statsRow
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(stdout))), &row); err != nil {
		return Usage{}, ErrStatsUnavailable
	}

	usage := Usage{SampledAt: time.Now()}
	if v, err := strconv.ParseFloat(strings.TrimSuffix(row.CPUPerc, "%"), 64); err == nil {
		usage.CPUPercent = v
	}
	if mem, _, ok := strings.Cut(row.MemUsage, "/"); ok {
		usage.MemoryBytes = parseByteSize(strings.TrimSpace(mem))
	}
	if read, write, ok := strings.Cut(row.BlockIO, "/"); ok {
		usage.IOBytes = parseByteSize(strings.TrimSpace(read)) + parseByteSize(strings.TrimSpace(write))
	}
	return usage, nil
}

func (d *DockerEngine) Logs(ctx context.Context, handle Handle, maxLines int) ([]string, error) {
	if maxLines < 1 {
		maxLines = 50
	}
	stdout, stderr, _, err := d.runner.Run(ctx, d.binary,
		"logs", "--tail", strconv.Itoa(maxLines), string(handle))
	if err != nil {
		return nil, dockerError("logs", stderr, err)
	}
	// docker logs interleaves the instance's stdout and stderr streams.
	combined := append([]byte{}, stdout...)
	combined = append(combined, stderr...)
	text := strings.TrimRight(string(combined), "\n")
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}

func (d *DockerEngine) Stop(ctx context.Context, handle Handle, grace time.Duration) error {
	seconds := int(grace / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	_, stderr, _, err := d.runner.Run(ctx, d.binary,
		"stop", "-t", strconv.Itoa(seconds), string(handle))
	if err != nil {
		return dockerError("stop", stderr, err)
	}
	return nil
}

func (d *DockerEngine) Remove(ctx context.Context, handle Handle) error {
	_, stderr, _, err := d.runner.Run(ctx, d.binary, "rm", "-f", string(handle))
	if err != nil {
		return dockerError("remove", stderr, err)
	}
	return nil
}

func dockerError(op string, stderr []byte, err error) error {
	detail := strings.TrimSpace(string(stderr))
	if strings.Contains(detail, "No such container") {
		return fmt.Errorf("engine: %s: %w", op, ErrNoSuchInstance)
	}
	if detail != "" {
		return fmt.Errorf("engine: %s: %s: %w", op, detail, err)
	}
	return fmt.Errorf("engine: %s: %w", op, err)
}

// parseByteSize reads docker's humanized sizes ("7.23MiB", "648kB", "0B").
func parseByteSize(raw string) uint64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	cut := len(raw)
	for i, r := range raw {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}
	value, err := strconv.ParseFloat(raw[:cut], 64)
	if err != nil {
		return 0
	}
	multiplier := float64(1)
	switch strings.ToLower(strings.TrimSpace(raw[cut:])) {
	case "", "b":
		multiplier = 1
	case "kb":
		multiplier = 1000
	case "kib":
		multiplier = 1 << 10
	case "mb":
		multiplier = 1000 * 1000
	case "mib":
		multiplier = 1 << 20
	case "gb":
		multiplier = 1000 * 1000 * 1000
	case "gib":
		multiplier = 1 << 30
	case "tb":
		multiplier = 1000 * 1000 * 1000 * 1000
	case "tib":
		multiplier = 1 << 40
	}
	return uint64(value * multiplier)
}
