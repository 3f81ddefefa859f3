package client

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStateRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device.json")

	st := &State{
		ServerURL:    "http://localhost:8080",
		Username:     "bob",
		SessionToken: "session-jwt",
		DeviceToken:  "device-jwt",
		GrantID:      "g1",
		OwnerEmail:   "alice@example.com",
		GrantState:   "approved",
	}
	if err := SaveState(path, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if *got != *st {
		t.Errorf("state mismatch: %+v vs %+v", got, st)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("state file mode = %o, want 600", info.Mode().Perm())
		}
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if *st != (State{}) {
		t.Errorf("missing file should load as empty state, got %+v", st)
	}
}

func TestLoadStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(path); err == nil {
		t.Error("corrupt state file should fail to load")
	}
}

func TestStatePathOverride(t *testing.T) {
	t.Setenv("COVAULT_STATE", "/tmp/custom-state.json")
	path, err := StatePath()
	if err != nil {
		t.Fatalf("StatePath: %v", err)
	}
	if path != "/tmp/custom-state.json" {
		t.Errorf("path = %q", path)
	}
}

func TestClearGrant(t *testing.T) {
	st := &State{
		ServerURL:    "http://localhost:8080",
		Username:     "bob",
		SessionToken: "session-jwt",
		DeviceToken:  "device-jwt",
		GrantID:      "g1",
		OwnerEmail:   "alice@example.com",
		GrantState:   "approved",
	}
	st.ClearGrant()

	if st.DeviceToken != "" || st.GrantID != "" || st.OwnerEmail != "" || st.GrantState != "" {
		t.Errorf("grant fields survived ClearGrant: %+v", st)
	}
	if st.ServerURL == "" || st.Username == "" || st.SessionToken == "" {
		t.Errorf("login fields should survive ClearGrant: %+v", st)
	}
}
