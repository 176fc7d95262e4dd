package engine

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStatsUnavailable = errors.New("engine: stats unavailable")
	ErrNoSuchInstance   = errors.New("engine: no such instance")
)

// Handle is an opaque reference to one instance inside the external runtime.
type Handle string

// State reported by the runtime for one instance.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateExited  State = "exited"
)

// Spec describes one instance to create: the image that hosts the script
// interpreter, the script itself, and the host port the game serves on.
type Spec struct {
	Name     string
	Image    string
	Source   string
	HostPort int
	GamePort int
	Env      map[string]string
}

// Status is one point-in-time runtime report for an instance.
type Status struct {
	State      State
	ExitReason string
}

// Usage is one sampled resource snapshot. Values may lag the instance.
type Usage struct {
	CPUPercent  float64
	MemoryBytes uint64
	IOBytes     uint64
	SampledAt   time.Time
}

// Engine is the opaque isolated-execution collaborator. Calls may block on
// I/O; callers must not hold record locks across them.
type Engine interface {
	Create(ctx context.Context, spec Spec) (Handle, error)
	Start(ctx context.Context, handle Handle) error
	Status(ctx context.Context, handle Handle) (Status, error)
	Stats(ctx context.Context, handle Handle) (Usage, error)
	Logs(ctx context.Context, handle Handle, maxLines int) ([]string, error)
	Stop(ctx context.Context, handle Handle, grace time.Duration) error
	Remove(ctx context.Context, handle Handle) error
}
