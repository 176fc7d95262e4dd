package lobby

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arcadenet/arcadectl/internal/observability"
)

var (
	ErrInvalidAddress = errors.New("lobby: invalid address")
	ErrRoomNotFound   = errors.New("lobby: room not found")
)

// roomNamespace seeds deterministic room ids so re-registering the same
// address always yields the same id.
var roomNamespace = uuid.MustParse("5a1f8c8e-2d4b-4f6a-9c3e-7b2a0d9e4f10")

// RoomID derives the registry id for one announced address.
func RoomID(ip string, port int) string {
	return uuid.NewSHA1(roomNamespace, []byte(net.JoinHostPort(ip, strconv.Itoa(port)))).String()
}

// Room is one announced game room. Records are ephemeral: they live exactly
// as long as heartbeats keep arriving, plus at most one sweep interval.
type Room struct {
	ID                  string            `json:"registry_id"`
	IP                  string            `json:"ip"`
	Port                int               `json:"port"`
	Name                string            `json:"name"`
	Capacity            int               `json:"capacity"`
	CurrentParticipants int               `json:"current_participants"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	LastHeartbeatAt     time.Time         `json:"last_heartbeat_at"`
	RegisteredAt        time.Time         `json:"registered_at"`
}

// Registry tracks announced rooms and expires the silent ones. Removal only
// happens at sweep ticks; between ticks a stale room may still be listed.
type Registry struct {
	mu      sync.RWMutex
	timeout time.Duration
	rooms   map[string]*Room
}

func NewRegistry(heartbeatTimeout time.Duration) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	return &Registry{
		timeout: heartbeatTimeout,
		rooms:   make(map[string]*Room),
	}
}

// Register upserts one room keyed by its deterministic id and refreshes the
// heartbeat clock. It only fails on a malformed address, so announcing units
// never need to remember their id across restarts.
func (r *Registry) Register(ip string, port int, name string, capacity, current int, metadata map[string]string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("%w: bad ip %q", ErrInvalidAddress, ip)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: bad port %d", ErrInvalidAddress, port)
	}

	id := RoomID(ip, port)
	now := time.Now()

	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		room = &Room{ID: id, RegisteredAt: now}
		r.rooms[id] = room
	}
	room.IP = ip
	room.Port = port
	room.Name = name
	room.Capacity = capacity
	room.CurrentParticipants = current
	room.Metadata = copyMetadata(metadata)
	room.LastHeartbeatAt = now
	r.mu.Unlock()

	observability.RecordRegistration()
	log.Debug().Str("registry_id", id).Str("ip", ip).Int("port", port).Msg("room registered")
	return id, nil
}

// Heartbeat refreshes one room's liveness. Unknown ids are ErrRoomNotFound:
// the caller must re-register, which is always cheap and safe.
func (r *Registry) Heartbeat(id string, current int) error {
	now := time.Now()
	r.mu.Lock()
	room, ok := r.rooms[id]
	if ok {
		room.CurrentParticipants = current
		room.LastHeartbeatAt = now
	}
	r.mu.Unlock()

	if !ok {
		observability.RecordHeartbeat("unknown")
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	observability.RecordHeartbeat("ok")
	return nil
}

// List returns a snapshot of every current record, ordered by registration
// time. It never mutates staleness state.
func (r *Registry) List() []Room {
	r.mu.RLock()
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		snapshot := *room
		snapshot.Metadata = copyMetadata(room.Metadata)
		out = append(out, snapshot)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// Sweep drops every room whose last heartbeat is older than the timeout and
// returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.timeout)
	r.mu.Lock()
	removed := 0
	for id, room := range r.rooms {
		if room.LastHeartbeatAt.Before(cutoff) {
			delete(r.rooms, id)
			removed++
			log.Info().Str("registry_id", id).Str("name", room.Name).Msg("room expired")
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		observability.RecordRoomsSwept(removed)
	}
	return removed
}

// RunSweeper sweeps on a fixed interval until the context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
