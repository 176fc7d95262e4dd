package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/arcadenet/arcadectl/internal/testutil/testlog"
)

type fakeCall struct {
	name string
	args []string
}

// fakeRunner records invocations and replays canned responses keyed on the
// first docker subcommand.
type fakeRunner struct {
	calls  []fakeCall
	stdout map[string]string
	stderr map[string]string
	errs   map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		stdout: map[string]string{},
		stderr: map[string]string{},
		errs:   map[string]error{},
	}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	f.calls = append(f.calls, fakeCall{name: name, args: args})
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	code := int32(0)
	if f.errs[sub] != nil {
		code = 1
	}
	return []byte(f.stdout[sub]), []byte(f.stderr[sub]), code, f.errs[sub]
}

func (f *fakeRunner) lastCall(t *testing.T) fakeCall {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("expected at least one runner call")
	}
	return f.calls[len(f.calls)-1]
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestDockerCreateBuildsInstanceSpec(t *testing.T) {
	testlog.Start(t)

	runner := newFakeRunner()
	runner.stdout["create"] = "abc123def456\n"
	eng := NewDockerEngine(runner)

	handle, err := eng.Create(context.Background(), Spec{
		Name:     "unit-0001",
		Image:    "arcadenet/unit-runtime:latest",
		Source:   "function main(game)\nend\n",
		HostPort: 30001,
		GamePort: 7777,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if handle != Handle("abc123def456") {
		t.Fatalf("expected trimmed handle, got %q", handle)
	}

	call := runner.lastCall(t)
	if call.name != "docker" || call.args[0] != "create" {
		t.Fatalf("unexpected invocation: %v %v", call.name, call.args)
	}
	if !hasArgPair(call.args, "--name", "unit-0001") {
		t.Fatalf("missing instance name in %v", call.args)
	}
	if !hasArgPair(call.args, "-p", "30001:7777") {
		t.Fatalf("missing port mapping in %v", call.args)
	}
	if !hasArgPair(call.args, "--label", "arcadectl.unit=true") {
		t.Fatalf("missing ownership label in %v", call.args)
	}
	found := false
	for _, a := range call.args {
		if strings.HasPrefix(a, "ARCADE_SCRIPT=function main(") {
			found = true
		}
	}
	if !found {
		t.Fatalf("script not passed to instance in %v", call.args)
	}
	if call.args[len(call.args)-1] != "arcadenet/unit-runtime:latest" {
		t.Fatalf("image must be the final argument, got %v", call.args)
	}
}

func TestDockerCreateEmptyOutputFails(t *testing.T) {
	testlog.Start(t)

	runner := newFakeRunner()
	runner.stdout["create"] = "\n"
	eng := NewDockerEngine(runner)

	if _, err := eng.Create(context.Background(), Spec{Name: "u", Image: "img"}); err == nil {
		t.Fatal("expected error for empty instance id")
	}
}

func TestDockerStatusMapsStates(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name   string
		json   string
		state  State
		reason string
	}{
		{"running", `{"Status":"running","Running":true}`, StateRunning, ""},
		{"created", `{"Status":"created"}`, StatePending, ""},
		{"exited", `{"Status":"exited","ExitCode":137}`, StateExited, "exit code 137"},
		{"oom", `{"Status":"dead","Error":"oom killed"}`, StateExited, "oom killed"},
	}
	for _, tc := range cases {
		runner := newFakeRunner()
		runner.stdout["inspect"] = tc.json + "\n"
		eng := NewDockerEngine(runner)

		status, err := eng.Status(context.Background(), Handle("abc"))
		if err != nil {
			t.Fatalf("%s: status: %v", tc.name, err)
		}
		if status.State != tc.state {
			t.Fatalf("%s: expected state %s, got %s", tc.name, tc.state, status.State)
		}
		if status.ExitReason != tc.reason {
			t.Fatalf("%s: expected reason %q, got %q", tc.name, tc.reason, status.ExitReason)
		}
	}
}

func TestDockerStatusMissingInstance(t *testing.T) {
	testlog.Start(t)

	runner := newFakeRunner()
	runner.stderr["inspect"] = "Error: No such container: abc\n"
	runner.errs["inspect"] = fmt.Errorf("exit status 1")
	eng := NewDockerEngine(runner)

	_, err := eng.Status(context.Background(), Handle("abc"))
	if !errors.Is(err, ErrNoSuchInstance) {
		t.Fatalf("expected ErrNoSuchInstance, got %v", err)
	}
}

func TestDockerStatsParsesUsage(t *testing.T) {
	testlog.Start(t)

	runner := newFakeRunner()
	runner.stdout["stats"] = `{"CPUPerc":"12.5%","MemUsage":"7.5MiB / 512MiB","BlockIO":"1kB / 2kB"}` + "\n"
	eng := NewDockerEngine(runner)

	usage, err := eng.Stats(context.Background(), Handle("abc"))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if usage.CPUPercent != 12.5 {
		t.Fatalf("expected 12.5%% cpu, got %v", usage.CPUPercent)
	}
	if want := uint64(7.5 * (1 << 20)); usage.MemoryBytes != want {
		t.Fatalf("expected %d memory bytes, got %d", want, usage.MemoryBytes)
	}
	if usage.IOBytes != 3000 {
		t.Fatalf("expected 3000 io bytes, got %d", usage.IOBytes)
	}
	if usage.SampledAt.IsZero() {
		t.Fatal("expected a sample timestamp")
	}
}

func TestDockerStatsFailureIsUnavailable(t *testing.T) {
	testlog.Start(t)

	runner := newFakeRunner()
	runner.errs["stats"] = fmt.Errorf("exit status 1")
	eng := NewDockerEngine(runner)

	if _, err := eng.Stats(context.Background(), Handle("abc")); !errors.Is(err, ErrStatsUnavailable) {
		t.Fatalf("expected ErrStatsUnavailable, got %v", err)
	}
}

func TestDockerLogsSplitsLines(t *testing.T) {
	testlog.Start(t)

	runner := newFakeRunner()
	runner.stdout["logs"] = "tick 1\ntick 2\n"
	runner.stderr["logs"] = "warn: slow frame\n"
	eng := NewDockerEngine(runner)

	lines, err := eng.Logs(context.Background(), Handle("abc"), 10)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(lines) != 3 || lines[2] != "warn: slow frame" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if !hasArgPair(runner.lastCall(t).args, "--tail", "10") {
		t.Fatalf("missing tail limit in %v", runner.lastCall(t).args)
	}
}

func TestDockerStopAndRemove(t *testing.T) {
	testlog.Start(t)

	runner := newFakeRunner()
	eng := NewDockerEngine(runner)

	if err := eng.Stop(context.Background(), Handle("abc"), 0); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !hasArgPair(runner.lastCall(t).args, "-t", "1") {
		t.Fatalf("expected minimum one second grace, got %v", runner.lastCall(t).args)
	}

	if err := eng.Remove(context.Background(), Handle("abc")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	call := runner.lastCall(t)
	if call.args[0] != "rm" || call.args[1] != "-f" {
		t.Fatalf("unexpected remove invocation: %v", call.args)
	}
}

func TestParseByteSize(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		raw  string
		want uint64
	}{
		{"0B", 0},
		{"648kB", 648000},
		{"7.5MiB", uint64(7.5 * (1 << 20))},
		{"2GiB", 2 << 30},
		{"1.5GB", 1500000000},
		{"", 0},
		{"garbage", 0},
	}
	for _, tc := range cases {
		if got := parseByteSize(tc.raw); got != tc.want {
			t.Fatalf("parseByteSize(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
