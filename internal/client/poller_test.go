package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/covault/internal/common"
)

// grantServer serves /api/devices/status with a swappable state. An empty
// state responds 404, as the real server does for a deleted grant.
type grantServer struct {
	state atomic.Value // string
	token atomic.Value // string
	fails atomic.Int64 // remaining ticks answered with 500
}

func newGrantServer(state string) *grantServer {
	gs := &grantServer{}
	gs.state.Store(state)
	gs.token.Store("")
	return gs
}

func (gs *grantServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices/status" {
			http.NotFound(w, r)
			return
		}
		gs.token.Store(r.Header.Get("Authorization"))

		if gs.fails.Load() > 0 {
			gs.fails.Add(-1)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "temporarily unavailable"})
			return
		}

		state, _ := gs.state.Load().(string)
		w.Header().Set("Content-Type", "application/json")
		if state == "" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "grant not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"data": map[string]string{
				"grant_id":     "g1",
				"state":        state,
				"owner_email":  "alice@example.com",
				"device_token": "refreshed-" + state,
			},
		})
	})
}

func newTestPoller(t *testing.T, gs *grantServer) (*Poller, chan string) {
	t.Helper()

	ts := httptest.NewServer(gs.handler())
	t.Cleanup(ts.Close)

	api := NewAPI(ts.URL, common.NewSilentLogger())
	api.SetToken("initial")

	poller := NewPoller(api, 10*time.Millisecond, common.NewSilentLogger())
	changes := make(chan string, 16)
	poller.OnChange = func(state string) { changes <- state }
	t.Cleanup(poller.Stop)
	return poller, changes
}

func waitForState(t *testing.T, changes chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-changes:
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestPollerReportsApproval(t *testing.T) {
	gs := newGrantServer("pending")
	poller, changes := newTestPoller(t, gs)

	poller.Start(context.Background())
	waitForState(t, changes, "pending")

	gs.state.Store("approved")
	waitForState(t, changes, "approved")

	if poller.LastState() != "approved" {
		t.Errorf("LastState = %q", poller.LastState())
	}
}

func TestPollerAdoptsRefreshedToken(t *testing.T) {
	gs := newGrantServer("approved")
	poller, changes := newTestPoller(t, gs)

	poller.Start(context.Background())
	waitForState(t, changes, "approved")

	// After at least one more poll the client must present the token the
	// server handed back, not the one it started with.
	deadline := time.After(5 * time.Second)
	for {
		if auth, _ := gs.token.Load().(string); auth == "Bearer refreshed-approved" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("client kept polling with a stale token: %v", gs.token.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPollerStopsOnRevocation(t *testing.T) {
	gs := newGrantServer("approved")
	poller, changes := newTestPoller(t, gs)

	poller.Start(context.Background())
	waitForState(t, changes, "approved")

	gs.state.Store("")
	waitForState(t, changes, "revoked")

	// The loop exits on its own after a 404.
	poller.Stop()
	if poller.LastState() != "revoked" {
		t.Errorf("LastState = %q", poller.LastState())
	}
}

func TestPollerRetriesTransientFailures(t *testing.T) {
	gs := newGrantServer("approved")
	gs.fails.Store(3)
	poller, changes := newTestPoller(t, gs)

	poller.Start(context.Background())

	// The first state to surface must come from the recovered server;
	// a 500 is never read as a revocation.
	select {
	case state := <-changes:
		if state != "approved" {
			t.Fatalf("first reported state = %q, want approved", state)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller gave up during transient failures")
	}

	// The loop survived the failures: a real revocation still lands.
	gs.state.Store("")
	waitForState(t, changes, "revoked")
}

func TestPollerStopIsIdempotent(t *testing.T) {
	gs := newGrantServer("pending")
	poller, changes := newTestPoller(t, gs)

	poller.Start(context.Background())
	waitForState(t, changes, "pending")

	poller.Stop()
	poller.Stop()
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&APIError{StatusCode: http.StatusNotFound}) {
		t.Error("404 APIError should read as not found")
	}
	if IsNotFound(&APIError{StatusCode: http.StatusForbidden}) {
		t.Error("403 APIError should not read as not found")
	}
	if IsNotFound(context.Canceled) {
		t.Error("non-API errors should not read as not found")
	}
}
