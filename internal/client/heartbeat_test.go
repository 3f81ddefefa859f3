package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/covault/internal/common"
)

// grantListServer serves /api/devices with a mutable grant list.
type grantListServer struct {
	mu     sync.Mutex
	grants []GrantSummary
}

func (gs *grantListServer) set(grants []GrantSummary) {
	gs.mu.Lock()
	gs.grants = grants
	gs.mu.Unlock()
}

func (gs *grantListServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices" {
			http.NotFound(w, r)
			return
		}
		gs.mu.Lock()
		grants := append([]GrantSummary(nil), gs.grants...)
		gs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"data":   map[string]interface{}{"grants": grants},
		})
	})
}

func newTestHeartbeat(t *testing.T, gs *grantListServer) (*Heartbeat, chan []GrantSummary) {
	t.Helper()

	ts := httptest.NewServer(gs.handler())
	t.Cleanup(ts.Close)

	api := NewAPI(ts.URL, common.NewSilentLogger())
	api.SetToken("owner-session")

	hb := NewHeartbeat(api, 10*time.Millisecond, common.NewSilentLogger())
	changes := make(chan []GrantSummary, 16)
	hb.OnChange = func(grants []GrantSummary) { changes <- grants }
	t.Cleanup(hb.Stop)
	return hb, changes
}

func waitForGrants(t *testing.T, changes chan []GrantSummary) []GrantSummary {
	t.Helper()
	select {
	case grants := <-changes:
		return grants
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a grant list change")
		return nil
	}
}

func TestHeartbeatReportsNewRequest(t *testing.T) {
	gs := &grantListServer{}
	hb, changes := newTestHeartbeat(t, gs)

	hb.Start(context.Background())

	gs.set([]GrantSummary{{GrantID: "g1", Device: "laptop", State: "pending"}})
	grants := waitForGrants(t, changes)
	if len(grants) != 1 || grants[0].GrantID != "g1" || grants[0].State != "pending" {
		t.Fatalf("unexpected grants: %+v", grants)
	}
}

func TestHeartbeatReportsStateChange(t *testing.T) {
	gs := &grantListServer{}
	gs.set([]GrantSummary{{GrantID: "g1", State: "pending"}})
	hb, changes := newTestHeartbeat(t, gs)

	hb.Start(context.Background())
	waitForGrants(t, changes)

	gs.set([]GrantSummary{{GrantID: "g1", State: "approved"}})
	grants := waitForGrants(t, changes)
	if grants[0].State != "approved" {
		t.Fatalf("state change not reported: %+v", grants)
	}

	// Removal is a change too: the owner revoked or the requester left.
	gs.set(nil)
	grants = waitForGrants(t, changes)
	if len(grants) != 0 {
		t.Fatalf("revocation not reported: %+v", grants)
	}
}

func TestHeartbeatQuietWhenNothingChanges(t *testing.T) {
	gs := &grantListServer{}
	gs.set([]GrantSummary{{GrantID: "g1", State: "approved"}})
	hb, changes := newTestHeartbeat(t, gs)

	hb.Start(context.Background())
	waitForGrants(t, changes)

	// No further callbacks while the list holds still.
	select {
	case grants := <-changes:
		t.Fatalf("unexpected change: %+v", grants)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHeartbeatStopIsIdempotent(t *testing.T) {
	gs := &grantListServer{}
	gs.set([]GrantSummary{{GrantID: "g1", State: "pending"}})
	hb, changes := newTestHeartbeat(t, gs)

	hb.Start(context.Background())
	waitForGrants(t, changes)

	hb.Stop()
	hb.Stop()
}
