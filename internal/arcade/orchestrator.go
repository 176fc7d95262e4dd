package arcade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arcadenet/arcadectl/internal/admission"
	"github.com/arcadenet/arcadectl/internal/engine"
	"github.com/arcadenet/arcadectl/internal/observability"
	"github.com/arcadenet/arcadectl/internal/script"
)

// Config holds orchestrator tunables. Every timeout is independent.
type Config struct {
	Image           string
	GamePort        int
	StartupGrace    time.Duration
	StopGrace       time.Duration
	PollInterval    time.Duration
	MonitorInterval time.Duration
	IdleThreshold   time.Duration
	ReapInterval    time.Duration
	LogTailLines    int
	EngineTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Image:           "arcadenet/unit-runtime:latest",
		GamePort:        7777,
		StartupGrace:    30 * time.Second,
		StopGrace:       10 * time.Second,
		PollInterval:    500 * time.Millisecond,
		MonitorInterval: 5 * time.Second,
		IdleThreshold:   15 * time.Minute,
		ReapInterval:    time.Minute,
		LogTailLines:    100,
		EngineTimeout:   30 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Image) == "" {
		c.Image = def.Image
	}
	if c.GamePort < 1 {
		c.GamePort = def.GamePort
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = def.StartupGrace
	}
	if c.StopGrace <= 0 {
		c.StopGrace = def.StopGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = def.MonitorInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = def.IdleThreshold
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.LogTailLines < 1 {
		c.LogTailLines = def.LogTailLines
	}
	if c.EngineTimeout <= 0 {
		c.EngineTimeout = def.EngineTimeout
	}
	return c
}

// SubmitRequest is one upload from the management surface.
type SubmitRequest struct {
	Payload      []byte
	DeclaredSize int64
	Owner        string
	Name         string
	Description  string
}

// Orchestrator owns execution unit records and drives them through the
// external runtime. Record mutations are serialized under one mutex; engine
// calls never happen while it is held.
type Orchestrator struct {
	cfg       Config
	engine    engine.Engine
	validator *script.Validator
	scanner   *script.Scanner
	admission *admission.Controller
	ports     *PortAllocator

	mu    sync.RWMutex
	units map[string]*unitRecord
}

func NewOrchestrator(
	cfg Config,
	eng engine.Engine,
	validator *script.Validator,
	scanner *script.Scanner,
	ctrl *admission.Controller,
	ports *PortAllocator,
) *Orchestrator {
	if validator == nil {
		validator = script.NewValidator()
	}
	if scanner == nil {
		scanner = script.NewScanner(nil)
	}
	return &Orchestrator{
		cfg:       cfg.WithDefaults(),
		engine:    eng,
		validator: validator,
		scanner:   scanner,
		admission: ctrl,
		ports:     ports,
		units:     make(map[string]*unitRecord),
	}
}

// Submit runs the synchronous gate chain (validate, scan, admit, reserve a
// port) and inserts the record in Creating. Provisioning continues in the
// background; runtime failures surface as an Error-state unit, never as a
// Submit error.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	source, err := o.validator.Validate(req.Payload, req.DeclaredSize)
	if err != nil {
		observability.RecordSubmission("validation_rejected")
		return "", err
	}
	if err := o.scanner.Scan(source); err != nil {
		observability.RecordSubmission("security_rejected")
		return "", err
	}

	release, err := o.admission.TryAdmit()
	if err != nil {
		observability.RecordSubmission("admission_rejected")
		return "", err
	}
	port, err := o.ports.Acquire()
	if err != nil {
		release()
		observability.RecordSubmission("admission_rejected")
		return "", err
	}

	now := time.Now()
	id := uuid.NewString()
	rec := &unitRecord{
		unit: Unit{
			ID:          id,
			Owner:       strings.TrimSpace(req.Owner),
			Name:        strings.TrimSpace(req.Name),
			Description: strings.TrimSpace(req.Description),
			State:       StateCreating,
			Port:        port,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		tail:           NewLogTail(o.cfg.LogTailLines),
		release:        release,
		createDone:     make(chan struct{}),
		lastActivityAt: now,
	}
	rec.tail.Append("submitted")

	o.mu.Lock()
	o.units[id] = rec
	active := o.activeCountLocked()
	o.mu.Unlock()
	observability.SetUnitsActive(active)
	observability.RecordSubmission("accepted")

	go o.provision(id, source)

	log.Info().Str("unit_id", id).Str("owner", rec.unit.Owner).Int("port", port).Msg("unit submitted")
	return id, nil
}

// provision drives one unit from Creating to Running or Error.
func (o *Orchestrator) provision(id, source string) {
	spec := engine.Spec{
		Name:     "arcade-unit-" + shortID(id),
		Image:    o.cfg.Image,
		Source:   source,
		HostPort: o.portOf(id),
		GamePort: o.cfg.GamePort,
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
	handle, err := o.engine.Create(ctx, spec)
	cancel()

	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	if err == nil {
		rec.handle = handle
	}
	close(rec.createDone)
	wantDelete := rec.deleteRequested
	o.mu.Unlock()

	if err != nil {
		o.failFromCreating(id, "create failed: "+truncateReason(err.Error()))
		return
	}
	if wantDelete {
		o.finishDeferredDelete(id)
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
	err = o.engine.Start(ctx, handle)
	cancel()
	if err != nil {
		o.failFromCreating(id, "start failed: "+truncateReason(err.Error()))
		return
	}

	deadline := time.Now().Add(o.cfg.StartupGrace)
	for {
		ctx, cancel = context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
		status, err := o.engine.Status(ctx, handle)
		cancel()
		switch {
		case err == nil && status.State == engine.StateRunning:
			o.markRunning(id)
			return
		case err == nil && status.State == engine.StateExited:
			o.failFromCreating(id, "exited during startup: "+truncateReason(status.ExitReason))
			return
		}
		if time.Now().After(deadline) {
			o.failFromCreating(id, "startup grace period elapsed")
			return
		}
		time.Sleep(o.cfg.PollInterval)
	}
}

func (o *Orchestrator) markRunning(id string) {
	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok || rec.unit.State != StateCreating {
		o.mu.Unlock()
		return
	}
	if !canTransition(rec.unit.State, StateRunning) {
		o.mu.Unlock()
		log.Error().Err(transitionError(rec.unit.State, StateRunning)).Str("unit_id", id).Msg("refused transition")
		return
	}
	now := time.Now()
	rec.unit.State = StateRunning
	rec.unit.UpdatedAt = now
	rec.lastActivityAt = now
	rec.tail.Append("running")
	wantDelete := rec.deleteRequested
	o.mu.Unlock()

	log.Info().Str("unit_id", id).Msg("unit running")
	if wantDelete {
		_ = o.Delete(id)
	}
}

// failFromCreating moves Creating -> Error: the port and admission slot come
// back, any partially created instance is best-effort removed, and the record
// stays queryable. No-op when the unit already left Creating.
func (o *Orchestrator) failFromCreating(id, reason string) {
	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok || rec.unit.State != StateCreating {
		o.mu.Unlock()
		return
	}
	rec.unit.State = StateError
	rec.unit.UpdatedAt = time.Now()
	rec.tail.Append(reason)
	handle := rec.handle
	release := rec.release
	port := rec.unit.Port
	wantDelete := rec.deleteRequested
	active := o.activeCountLocked()
	o.mu.Unlock()
	observability.SetUnitsActive(active)

	log.Warn().Str("unit_id", id).Str("reason", reason).Msg("unit failed during creation")
	if handle != "" {
		o.appendEngineLogs(id, handle)
		o.removeInstance(id, handle)
	}
	release()
	o.ports.Release(port)
	if wantDelete {
		_ = o.Delete(id)
	}
}

// failFromRunning moves Running -> Error after an unexpected exit. The
// instance handle is retained for the owner's delete.
func (o *Orchestrator) failFromRunning(id, reason string) {
	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok || rec.unit.State != StateRunning {
		o.mu.Unlock()
		return
	}
	rec.unit.State = StateError
	rec.unit.UpdatedAt = time.Now()
	rec.tail.Append(reason)
	handle := rec.handle
	release := rec.release
	port := rec.unit.Port
	active := o.activeCountLocked()
	o.mu.Unlock()
	observability.SetUnitsActive(active)

	log.Warn().Str("unit_id", id).Str("reason", reason).Msg("unit failed while running")
	o.appendEngineLogs(id, handle)
	release()
	o.ports.Release(port)
}

// Stop transitions a Running unit to Stopped through the graceful stop path.
// Stopping a unit that is not Running is a no-op; unknown ids are
// ErrUnitNotFound.
func (o *Orchestrator) Stop(id string) error {
	return o.stopUnit(id, "stopped by owner")
}

func (o *Orchestrator) stopUnit(id, reason string) error {
	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok {
		o.mu.Unlock()
		return ErrUnitNotFound
	}
	if rec.unit.State != StateRunning {
		o.mu.Unlock()
		return nil
	}
	rec.unit.State = StateStopped
	rec.unit.UpdatedAt = time.Now()
	rec.tail.Append(reason)
	handle := rec.handle
	release := rec.release
	port := rec.unit.Port
	active := o.activeCountLocked()
	o.mu.Unlock()
	observability.SetUnitsActive(active)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.StopGrace+o.cfg.EngineTimeout)
	if err := o.engine.Stop(ctx, handle, o.cfg.StopGrace); err != nil {
		log.Warn().Err(err).Str("unit_id", id).Msg("graceful stop failed")
	}
	cancel()
	release()
	o.ports.Release(port)
	log.Info().Str("unit_id", id).Str("reason", reason).Msg("unit stopped")
	return nil
}

// Delete removes the unit record and its runtime instance. Creating/Running
// units get an implicit stop first. A delete racing provisioning waits for
// the create call to finish so no instance is orphaned.
func (o *Orchestrator) Delete(id string) error {
	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok {
		o.mu.Unlock()
		return ErrUnitNotFound
	}
	if rec.unit.State == StateCreating {
		rec.deleteRequested = true
		o.mu.Unlock()
		log.Info().Str("unit_id", id).Msg("delete deferred until create completes")
		return nil
	}
	state := rec.unit.State
	o.mu.Unlock()

	if state == StateRunning {
		if err := o.stopUnit(id, "stopped for delete"); err != nil {
			return err
		}
	}
	return o.removeAndForget(id)
}

// finishDeferredDelete completes a delete that arrived while the create call
// was in flight: stop and remove the fresh instance, then drop the record.
func (o *Orchestrator) finishDeferredDelete(id string) {
	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	handle := rec.handle
	release := rec.release
	port := rec.unit.Port
	o.mu.Unlock()

	if handle != "" {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
		_ = o.engine.Stop(ctx, handle, time.Second)
		cancel()
		o.removeInstance(id, handle)
	}
	release()
	o.ports.Release(port)

	o.mu.Lock()
	delete(o.units, id)
	active := o.activeCountLocked()
	o.mu.Unlock()
	observability.SetUnitsActive(active)
	log.Info().Str("unit_id", id).Msg("unit deleted before running")
}

// removeAndForget removes any retained instance and then the record. The
// record survives a failed removal so the owner can retry.
func (o *Orchestrator) removeAndForget(id string) error {
	o.mu.Lock()
	rec, ok := o.units[id]
	if !ok {
		o.mu.Unlock()
		return ErrUnitNotFound
	}
	handle := rec.handle
	o.mu.Unlock()

	if handle != "" {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
		err := o.engine.Remove(ctx, handle)
		cancel()
		if err != nil && !isMissingInstance(err) {
			o.mu.Lock()
			rec.tail.Append("remove failed: " + truncateReason(err.Error()))
			o.mu.Unlock()
			return fmt.Errorf("arcade: remove instance for unit %s: %w", id, err)
		}
	}

	o.mu.Lock()
	delete(o.units, id)
	active := o.activeCountLocked()
	o.mu.Unlock()
	observability.SetUnitsActive(active)
	log.Info().Str("unit_id", id).Msg("unit deleted")
	return nil
}

// Get returns one unit projection.
func (o *Orchestrator) Get(id string) (Unit, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.units[id]
	if !ok {
		return Unit{}, ErrUnitNotFound
	}
	return copyUnit(rec), nil
}

// List returns unit projections, optionally scoped to one owner, ordered by
// creation time.
func (o *Orchestrator) List(owner string) []Unit {
	owner = strings.TrimSpace(owner)
	o.mu.RLock()
	out := make([]Unit, 0, len(o.units))
	for _, rec := range o.units {
		if owner != "" && rec.unit.Owner != owner {
			continue
		}
		out = append(out, copyUnit(rec))
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Logs returns the unit's bounded diagnostic tail.
func (o *Orchestrator) Logs(id string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.units[id]
	if !ok {
		return nil, ErrUnitNotFound
	}
	return rec.tail.Lines(), nil
}

// appendEngineLogs pulls the instance's last output lines into the unit tail
// so crash diagnostics survive instance removal. Best-effort.
func (o *Orchestrator) appendEngineLogs(id string, handle engine.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
	lines, err := o.engine.Logs(ctx, handle, 20)
	cancel()
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.units[id]
	if !ok {
		return
	}
	for _, line := range lines {
		rec.tail.Append(line)
	}
}

func (o *Orchestrator) removeInstance(id string, handle engine.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
	defer cancel()
	if err := o.engine.Remove(ctx, handle); err != nil && !isMissingInstance(err) {
		log.Warn().Err(err).Str("unit_id", id).Msg("instance removal failed")
	}
}

func (o *Orchestrator) activeCountLocked() int {
	n := 0
	for _, rec := range o.units {
		if rec.active() {
			n++
		}
	}
	return n
}

func (o *Orchestrator) portOf(id string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if rec, ok := o.units[id]; ok {
		return rec.unit.Port
	}
	return 0
}

func copyUnit(rec *unitRecord) Unit {
	unit := rec.unit
	if unit.Usage != nil {
		usage := *unit.Usage
		unit.Usage = &usage
	}
	return unit
}

func isMissingInstance(err error) bool {
	return errors.Is(err, engine.ErrNoSuchInstance)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const maxReasonLen = 200

func truncateReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		return reason[:maxReasonLen] + "..."
	}
	return reason
}
