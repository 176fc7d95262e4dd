package lobby

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// statusError is a non-OK response from the registry.
type statusError struct {
	path string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("lobby: %s returned status %d", e.path, e.code)
}

// AnnounceConfig describes one unit's outward liveness announcements.
type AnnounceConfig struct {
	LobbyURL string
	IP       string
	Port     int
	Name     string
	Capacity int
	Metadata map[string]string

	// Interval must be strictly shorter than the registry's heartbeat
	// timeout or the room flaps in and out of listings.
	Interval time.Duration
	Backoff  BackoffConfig
}

func (c AnnounceConfig) WithDefaults() AnnounceConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
	return c
}

// ParticipantsFunc samples the unit's current participant count.
type ParticipantsFunc func() int

// Announcer is the heartbeat emitter loop that runs inside each unit. It is
// strictly best-effort: registration and heartbeats retry with backoff, and
// nothing here ever gates the unit's own serving loop.
type Announcer struct {
	cfg          AnnounceConfig
	client       *http.Client
	participants ParticipantsFunc
	rng          *rand.Rand

	registryID string
}

func NewAnnouncer(cfg AnnounceConfig, participants ParticipantsFunc) *Announcer {
	if participants == nil {
		participants = func() int { return 0 }
	}
	return &Announcer{
		cfg:          cfg.WithDefaults(),
		client:       &http.Client{Timeout: 5 * time.Second},
		participants: participants,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run registers once, then heartbeats on the interval until the context is
// cancelled. A NotFound heartbeat response (registry restarted, record swept)
// triggers re-registration on the next cycle.
func (a *Announcer) Run(ctx context.Context) {
	a.registerWithRetry(ctx)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.registryID == "" {
				a.registerWithRetry(ctx)
				continue
			}
			if err := a.heartbeat(ctx); err != nil {
				log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// RegisterOnce performs a single registration attempt. The contract requires
// one successful registration before the unit accepts participant traffic.
func (a *Announcer) RegisterOnce(ctx context.Context) error {
	return a.register(ctx)
}

func (a *Announcer) registerWithRetry(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		if err := a.register(ctx); err == nil {
			return
		} else {
			log.Warn().Err(err).Int("attempt", attempt).Msg("registration failed")
		}
		delay := NextBackoffDelay(a.cfg.Backoff, attempt, a.rng)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (a *Announcer) register(ctx context.Context) error {
	payload := map[string]any{
		"ip":                   a.cfg.IP,
		"port":                 a.cfg.Port,
		"name":                 a.cfg.Name,
		"capacity":             a.cfg.Capacity,
		"current_participants": a.participants(),
		"metadata":             a.cfg.Metadata,
	}
	var out struct {
		RegistryID string `json:"registry_id"`
	}
	if err := a.post(ctx, "/rooms", payload, &out); err != nil {
		return err
	}
	if strings.TrimSpace(out.RegistryID) == "" {
		return fmt.Errorf("lobby: register returned empty registry id")
	}
	a.registryID = out.RegistryID
	log.Info().Str("registry_id", a.registryID).Msg("registered with lobby")
	return nil
}

func (a *Announcer) heartbeat(ctx context.Context) error {
	payload := map[string]any{"current_participants": a.participants()}
	err := a.post(ctx, "/rooms/"+a.registryID+"/heartbeat", payload, nil)
	var serr *statusError
	if errors.As(err, &serr) && serr.code == http.StatusNotFound {
		// Record swept or registry restarted; fall back to registration.
		a.registryID = ""
	}
	return err
}

func (a *Announcer) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := strings.TrimRight(a.cfg.LobbyURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &statusError{path: path, code: resp.StatusCode}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
