package arcade

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arcadenet/arcadectl/internal/observability"
)

// RunReaper sweeps Running units on a fixed interval and stops any unit with
// no observed activity for longer than the idle threshold. It goes through
// the same stop path request handlers use, so a unit stopped between scan and
// act is a no-op.
func (o *Orchestrator) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reapOnce(time.Now())
		}
	}
}

func (o *Orchestrator) reapOnce(now time.Time) {
	type candidate struct {
		id   string
		idle time.Duration
	}

	o.mu.RLock()
	var idlers []candidate
	for id, rec := range o.units {
		if rec.unit.State != StateRunning {
			continue
		}
		if idle := now.Sub(rec.lastActivityAt); idle > o.cfg.IdleThreshold {
			idlers = append(idlers, candidate{id: id, idle: idle})
		}
	}
	o.mu.RUnlock()

	for _, c := range idlers {
		log.Info().Str("unit_id", c.id).Dur("idle", c.idle).Msg("reaping idle unit")
		if err := o.stopUnit(c.id, "idle timeout"); err == nil {
			observability.RecordUnitReaped()
		}
	}
}
