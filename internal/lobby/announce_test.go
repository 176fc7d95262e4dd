package lobby

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcadenet/arcadectl/internal/testutil/testlog"
)

func startLobby(t *testing.T, timeout time.Duration) (*Registry, *httptest.Server) {
	t.Helper()
	registry := NewRegistry(timeout)
	server := NewServer(registry, ":0", nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return registry, ts
}

func testAnnouncer(url string, participants int) *Announcer {
	return NewAnnouncer(AnnounceConfig{
		LobbyURL: url,
		IP:       "10.0.0.5",
		Port:     8081,
		Name:     "Room A",
		Capacity: 20,
		Interval: 10 * time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}, func() int { return participants })
}

func TestAnnouncerRegistersBeforeServing(t *testing.T) {
	testlog.Start(t)

	registry, ts := startLobby(t, time.Minute)
	a := testAnnouncer(ts.URL, 3)

	if err := a.RegisterOnce(context.Background()); err != nil {
		t.Fatalf("register once: %v", err)
	}
	rooms := registry.List()
	if len(rooms) != 1 || rooms[0].CurrentParticipants != 3 {
		t.Fatalf("expected registered room with 3 participants, got %+v", rooms)
	}
	if a.registryID != rooms[0].ID {
		t.Fatalf("announcer holds wrong id: %s vs %s", a.registryID, rooms[0].ID)
	}
}

func TestAnnouncerHeartbeatsOnInterval(t *testing.T) {
	testlog.Start(t)

	registry, ts := startLobby(t, time.Minute)
	a := testAnnouncer(ts.URL, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	a.Run(ctx)

	rooms := registry.List()
	if len(rooms) != 1 {
		t.Fatalf("expected one room, got %d", len(rooms))
	}
	// At least one heartbeat must have refreshed the record after
	// registration.
	if time.Since(rooms[0].LastHeartbeatAt) > 50*time.Millisecond {
		t.Fatalf("expected recent heartbeat, last at %v", rooms[0].LastHeartbeatAt)
	}
}

func TestHeartbeatKeepsIDUnlessNotFound(t *testing.T) {
	testlog.Start(t)

	// A flaky registry (5xx) must not trigger re-registration; only an
	// explicit NotFound means the record is gone.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	a := testAnnouncer(ts.URL, 1)
	a.registryID = "held-id"
	err := a.heartbeat(context.Background())
	var serr *statusError
	if !errors.As(err, &serr) || serr.code != http.StatusInternalServerError {
		t.Fatalf("expected typed 500 status error, got %v", err)
	}
	if a.registryID != "held-id" {
		t.Fatalf("transient failure must not drop the registry id, got %q", a.registryID)
	}
}

func TestAnnouncerReRegistersAfterSweep(t *testing.T) {
	testlog.Start(t)

	registry, ts := startLobby(t, time.Minute)
	a := testAnnouncer(ts.URL, 2)

	if err := a.RegisterOnce(context.Background()); err != nil {
		t.Fatalf("register once: %v", err)
	}

	// Simulate a registry that lost the record: heartbeat gets NotFound and
	// the announcer falls back to registration.
	registry.Sweep(time.Now().Add(2 * time.Minute))
	if rooms := registry.List(); len(rooms) != 0 {
		t.Fatalf("expected empty registry after sweep, got %d", len(rooms))
	}

	if err := a.heartbeat(context.Background()); err == nil {
		t.Fatalf("expected heartbeat failure against swept registry")
	}
	if a.registryID != "" {
		t.Fatalf("expected announcer to drop its id after NotFound")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	a.Run(ctx)
	if rooms := registry.List(); len(rooms) != 1 {
		t.Fatalf("expected room re-registered, got %d", len(rooms))
	}
}
