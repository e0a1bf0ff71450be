package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bulletsim/internal/sim"
	"bulletsim/internal/world"
)

// mockDispatcher records API-layer calls without running any workers.
type mockDispatcher struct {
	queued    []sim.BulletSpec
	cancelled []string
	stats     sim.Stats
}

func (m *mockDispatcher) QueueGeneralBullet(spec sim.BulletSpec, timeout time.Duration) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	m.queued = append(m.queued, spec)
	return "bullet-1", nil
}

func (m *mockDispatcher) QueueInstantBullet(participant int64, damage, bulletRange float64, origin, direction world.Vec3) (string, error) {
	return m.QueueGeneralBullet(sim.BulletSpec{
		Participant: participant, Damage: damage, Range: bulletRange,
		Origin: origin, Direction: direction, Instant: true,
	}, 0)
}

func (m *mockDispatcher) QueueProjectileBullet(participant int64, damage, bulletRange float64, origin, direction world.Vec3) (string, error) {
	return m.QueueGeneralBullet(sim.BulletSpec{
		Participant: participant, Damage: damage, Range: bulletRange,
		Origin: origin, Direction: direction,
	}, 0)
}

func (m *mockDispatcher) CancelBullet(id string) {
	m.cancelled = append(m.cancelled, id)
}

func (m *mockDispatcher) GetStats() sim.Stats {
	return m.stats
}

func newTestServer(t *testing.T) (*httptest.Server, *mockDispatcher, *world.World) {
	t.Helper()

	d := &mockDispatcher{
		stats: sim.Stats{
			Queued:           2,
			InFlight:         5,
			TotalWorkers:     3,
			LoadPerWorker:    []int{2, 2, 1},
			BulletsPerWorker: []int{2, 2, 1},
			TotalQueued:      10,
			TotalCompleted:   3,
		},
	}
	w := world.NewWorld(512, 512, 512, 32)

	router := NewRouter(RouterConfig{
		Dispatcher:     d,
		World:          w,
		DisableLogging: true,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			CleanupInterval:   time.Minute,
		},
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, d, w
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return out
}

// TestFireBulletEndpoint verifies the general fire endpoint queues and
// returns an id
func TestFireBulletEndpoint(t *testing.T) {
	ts, d, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/bullets", map[string]interface{}{
		"participant": 7,
		"damage":      25,
		"range":       100,
		"direction":   map[string]float64{"x": 1},
		"timeoutSec":  2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["id"] != "bullet-1" {
		t.Errorf("Expected bullet id, got %v", body["id"])
	}
	if len(d.queued) != 1 || d.queued[0].Participant != 7 {
		t.Errorf("Unexpected queued specs: %+v", d.queued)
	}
}

// TestFireBulletValidation verifies invalid specs return 400
func TestFireBulletValidation(t *testing.T) {
	ts, d, _ := newTestServer(t)

	// Zero direction
	resp := postJSON(t, ts.URL+"/api/bullets", map[string]interface{}{
		"participant": 7,
		"range":       100,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero direction, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Malformed JSON
	resp2, err := http.Post(ts.URL+"/api/bullets", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad JSON, got %d", resp2.StatusCode)
	}
	resp2.Body.Close()

	if len(d.queued) != 0 {
		t.Errorf("Invalid requests must not queue bullets: %+v", d.queued)
	}
}

// TestInstantAndProjectileEndpoints verifies the typed fire endpoints set
// the right mode
func TestInstantAndProjectileEndpoints(t *testing.T) {
	ts, d, _ := newTestServer(t)

	fire := map[string]interface{}{
		"participant": 1,
		"damage":      10,
		"range":       50,
		"direction":   map[string]float64{"x": 1},
	}

	resp := postJSON(t, ts.URL+"/api/bullets/instant", fire)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Instant: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/bullets/projectile", fire)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Projectile: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if len(d.queued) != 2 {
		t.Fatalf("Expected 2 queued, got %d", len(d.queued))
	}
	if !d.queued[0].Instant {
		t.Error("Instant endpoint should queue a hitscan spec")
	}
	if d.queued[1].Instant {
		t.Error("Projectile endpoint should queue a simulated spec")
	}
}

// TestCancelBulletEndpoint verifies DELETE relays the cancellation
func TestCancelBulletEndpoint(t *testing.T) {
	ts, d, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/bullets/abc-123", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["cancelled"] != "abc-123" {
		t.Errorf("Expected cancelled id, got %v", body["cancelled"])
	}
	if len(d.cancelled) != 1 || d.cancelled[0] != "abc-123" {
		t.Errorf("Cancellation not relayed: %v", d.cancelled)
	}
}

// TestStatsEndpoint verifies the dispatcher snapshot is exposed
func TestStatsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["queued"] != float64(2) {
		t.Errorf("Expected queued 2, got %v", body["queued"])
	}
	if body["inFlight"] != float64(5) {
		t.Errorf("Expected inFlight 5, got %v", body["inFlight"])
	}
	if body["totalWorkers"] != float64(3) {
		t.Errorf("Expected totalWorkers 3, got %v", body["totalWorkers"])
	}
}

// TestWorkersEndpoint verifies per-worker loads are listed
func TestWorkersEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/workers")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var workers []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&workers); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(workers) != 3 {
		t.Fatalf("Expected 3 workers, got %d", len(workers))
	}
	if workers[0]["load"] != float64(2) {
		t.Errorf("Expected worker 0 load 2, got %v", workers[0]["load"])
	}
}

// TestWorldEndpoints verifies the participant lifecycle over HTTP
func TestWorldEndpoints(t *testing.T) {
	ts, _, w := newTestServer(t)

	// Join
	resp := postJSON(t, ts.URL+"/api/world/participants", map[string]interface{}{
		"participant": 42,
		"position":    map[string]float64{"x": 1, "y": 2, "z": 3},
		"radius":      1.5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Join: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if _, ok := w.Resolve(42); !ok {
		t.Fatal("Participant should resolve after join")
	}

	// Move
	resp = postJSON(t, ts.URL+"/api/world/participants/42/position", map[string]interface{}{
		"position": map[string]float64{"x": 9},
		"velocity": map[string]float64{"x": 3},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Move: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	pos, _ := w.Resolve(42)
	if pos.X != 9 {
		t.Errorf("Expected position x=9, got %v", pos.X)
	}

	// Move unknown participant
	resp = postJSON(t, ts.URL+"/api/world/participants/999/position", map[string]interface{}{
		"position": map[string]float64{"x": 1},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown participant, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Leave
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/world/participants/42", nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("Leave: expected 200, got %d", resp2.StatusCode)
	}
	resp2.Body.Close()

	if _, ok := w.Resolve(42); ok {
		t.Error("Participant should not resolve after leaving")
	}
}

// TestAddTargetAndObstacleEndpoints verifies world population endpoints
func TestAddTargetAndObstacleEndpoints(t *testing.T) {
	ts, _, w := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/world/targets", map[string]interface{}{
		"position": map[string]float64{"x": 10},
		"radius":   2,
		"living":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Target: expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["handle"] == nil {
		t.Error("Expected a handle in the response")
	}
	if w.EntityCount() != 1 {
		t.Errorf("Expected 1 entity, got %d", w.EntityCount())
	}

	// Invalid radius
	resp = postJSON(t, ts.URL+"/api/world/targets", map[string]interface{}{
		"position": map[string]float64{"x": 10},
		"radius":   0,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero radius, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Obstacle
	resp = postJSON(t, ts.URL+"/api/world/obstacles", map[string]interface{}{
		"min": map[string]float64{"x": 0},
		"max": map[string]float64{"x": 5, "y": 5, "z": 5},
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Obstacle: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Inverted box
	resp = postJSON(t, ts.URL+"/api/world/obstacles", map[string]interface{}{
		"min": map[string]float64{"x": 10},
		"max": map[string]float64{"x": 5},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for inverted box, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// TestHealthEndpoint verifies the load balancer probe
func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

// TestRateLimiting verifies bursts beyond the limit get 429
func TestRateLimiting(t *testing.T) {
	d := &mockDispatcher{}
	w := world.NewWorld(512, 512, 512, 32)

	router := NewRouter(RouterConfig{
		Dispatcher:     d,
		World:          w,
		DisableLogging: true,
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             2,
			CleanupInterval:   time.Minute,
		},
	})
	ts := httptest.NewServer(router)
	defer ts.Close()

	var got429 bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/stats")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			got429 = true
		}
		resp.Body.Close()
	}
	if !got429 {
		t.Error("Expected at least one 429 beyond the burst")
	}
}
