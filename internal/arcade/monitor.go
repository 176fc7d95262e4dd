package arcade

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arcadenet/arcadectl/internal/engine"
)

// RunMonitor polls the runtime for every Running unit: unexpected exits move
// the unit to Error, usage samples feed the record and the reaper's activity
// signal. Scan-then-act: a unit that transitioned between the snapshot and
// the status call degrades to a no-op.
func (o *Orchestrator) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.monitorOnce(ctx)
		}
	}
}

type monitorTarget struct {
	id     string
	handle engine.Handle
}

func (o *Orchestrator) monitorOnce(ctx context.Context) {
	targets := o.runningTargets()
	for _, target := range targets {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.EngineTimeout)
		status, err := o.engine.Status(callCtx, target.handle)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("unit_id", target.id).Msg("status poll failed")
			continue
		}
		if status.State == engine.StateExited {
			o.failFromRunning(target.id, "unexpected exit: "+truncateReason(status.ExitReason))
			continue
		}

		callCtx, cancel = context.WithTimeout(ctx, o.cfg.EngineTimeout)
		usage, err := o.engine.Stats(callCtx, target.handle)
		cancel()
		if err != nil {
			continue
		}
		o.recordUsage(target.id, usage)
	}
}

func (o *Orchestrator) runningTargets() []monitorTarget {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]monitorTarget, 0, len(o.units))
	for id, rec := range o.units {
		if rec.unit.State == StateRunning {
			out = append(out, monitorTarget{id: id, handle: rec.handle})
		}
	}
	return out
}

func (o *Orchestrator) recordUsage(id string, usage engine.Usage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.units[id]
	if !ok || rec.unit.State != StateRunning {
		return
	}
	if usageChanged(rec.lastUsage, usage) {
		rec.lastActivityAt = time.Now()
	}
	rec.lastUsage = usage
	snapshot := usage
	rec.unit.Usage = &snapshot
}

// usageChanged is the idle signal: a unit whose sampled cpu/memory/io never
// move is considered inactive.
func usageChanged(prev, next engine.Usage) bool {
	return prev.CPUPercent != next.CPUPercent ||
		prev.MemoryBytes != next.MemoryBytes ||
		prev.IOBytes != next.IOBytes
}
