package arcade

import (
	"errors"
	"fmt"
	"time"

	"github.com/arcadenet/arcadectl/internal/engine"
)

var (
	ErrUnitNotFound   = errors.New("arcade: unit not found")
	ErrBadTransition  = errors.New("arcade: invalid unit state transition")
	ErrPortsExhausted = errors.New("arcade: no free ports")
)

// UnitState is the closed lifecycle variant for one execution unit.
type UnitState string

const (
	StateCreating UnitState = "creating"
	StateRunning  UnitState = "running"
	StateStopped  UnitState = "stopped"
	StateError    UnitState = "error"
)

// transitions is the exhaustive edge table. Anything not listed is a
// programming error, not a runtime condition.
var transitions = map[UnitState][]UnitState{
	StateCreating: {StateRunning, StateError},
	StateRunning:  {StateStopped, StateError},
	StateStopped:  {},
	StateError:    {},
}

func canTransition(from, to UnitState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to UnitState) error {
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
}

// Unit is a read-only projection of one execution unit record.
type Unit struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	State       UnitState     `json:"state"`
	Port        int           `json:"port"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Usage       *engine.Usage `json:"usage,omitempty"`
}

// unitRecord is the mutable orchestrator-owned state for one unit. All field
// access goes through the orchestrator mutex.
type unitRecord struct {
	unit   Unit
	handle engine.Handle
	tail   *LogTail

	release func()

	// createDone is closed once the engine create/start attempt finished, so
	// a delete racing provisioning can wait instead of orphaning an instance.
	createDone chan struct{}

	deleteRequested bool
	lastUsage       engine.Usage
	lastActivityAt  time.Time
}

func (r *unitRecord) active() bool {
	return r.unit.State == StateCreating || r.unit.State == StateRunning
}

// LogTail keeps the last K diagnostic lines for one unit, oldest evicted
// first.
type LogTail struct {
	lines []string
	cap   int
}

func NewLogTail(capacity int) *LogTail {
	if capacity < 1 {
		capacity = 1
	}
	return &LogTail{cap: capacity}
}

func (t *LogTail) Append(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.cap {
		t.lines = t.lines[len(t.lines)-t.cap:]
	}
}

func (t *LogTail) Lines() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
