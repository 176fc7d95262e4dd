package arcade

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arcadenet/arcadectl/internal/testutil/testlog"
)

func newTestServer(t *testing.T, capacity int) (*Server, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine()
	o := newTestOrchestrator(eng, capacity, capacity)
	return NewServer(o, ":0", nil), eng
}

func postJSON(t *testing.T, s *Server, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestSubmitEndpointCreatesUnit(t *testing.T) {
	testlog.Start(t)

	s, _ := newTestServer(t, 5)
	rr := postJSON(t, s, "/units", map[string]any{
		"script": validScript,
		"owner":  "alice",
		"name":   "Room A",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		UnitID string `json:"unit_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.UnitID == "" {
		t.Fatalf("expected unit id, body=%s err=%v", rr.Body.String(), err)
	}

	req := httptest.NewRequest(http.MethodGet, "/units/"+body.UnitID, nil)
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from get, got %d", rr.Code)
	}
}

func TestSubmitEndpointErrorMapping(t *testing.T) {
	testlog.Start(t)

	s, _ := newTestServer(t, 1)

	rr := postJSON(t, s, "/units", map[string]any{"script": "no entrypoint here"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed script, got %d", rr.Code)
	}

	rr = postJSON(t, s, "/units", map[string]any{
		"script": "function main()\n  os.execute(\"reboot\")\nend",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for denylisted script, got %d", rr.Code)
	}
	var sec struct {
		Category string `json:"category"`
		Line     int    `json:"line"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &sec); err != nil || sec.Category != "process-spawn" || sec.Line != 2 {
		t.Fatalf("expected process-spawn at line 2, body=%s", rr.Body.String())
	}

	// Fill the single slot, then expect retry-later.
	if rr := postJSON(t, s, "/units", map[string]any{"script": validScript}); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	rr = postJSON(t, s, "/units", map[string]any{"script": validScript})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 at capacity, got %d", rr.Code)
	}
}

func TestUnitRoutesReturn404ForUnknownID(t *testing.T) {
	testlog.Start(t)

	s, _ := newTestServer(t, 1)
	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/units/nope"},
		{http.MethodPost, "/units/nope/stop"},
		{http.MethodDelete, "/units/nope"},
		{http.MethodGet, "/units/nope/logs"},
	} {
		var req *http.Request
		if probe.method == http.MethodPost {
			req = httptest.NewRequest(probe.method, probe.path, bytes.NewReader([]byte("{}")))
		} else {
			req = httptest.NewRequest(probe.method, probe.path, nil)
		}
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", probe.method, probe.path, rr.Code)
		}
	}
}

func TestStopAndLogsEndpoints(t *testing.T) {
	testlog.Start(t)

	s, _ := newTestServer(t, 1)
	rr := postJSON(t, s, "/units", map[string]any{"script": validScript, "owner": "alice"})
	var body struct {
		UnitID string `json:"unit_id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	waitForState(t, s.orch, body.UnitID, StateRunning)

	rr = postJSON(t, s, "/units/"+body.UnitID+"/stop", map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from stop, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/units/"+body.UnitID+"/logs", nil)
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from logs, got %d", rr.Code)
	}
	var logs struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &logs); err != nil || len(logs.Lines) == 0 {
		t.Fatalf("expected tail lines, body=%s", rr.Body.String())
	}
}

func TestListEndpointScopesToOwner(t *testing.T) {
	testlog.Start(t)

	s, _ := newTestServer(t, 4)
	postJSON(t, s, "/units", map[string]any{"script": validScript, "owner": "alice"})
	postJSON(t, s, "/units", map[string]any{"script": validScript, "owner": "bob"})

	req := httptest.NewRequest(http.MethodGet, "/units?owner=alice", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	var body struct {
		Units []Unit `json:"units"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Units) != 1 || body.Units[0].Owner != "alice" {
		t.Fatalf("expected alice's unit only, got %+v", body.Units)
	}
}
