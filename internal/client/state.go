package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// State is the device's persisted session, stored in the user's home
// directory. Tokens are secrets, so the file is written 0600.
type State struct {
	ServerURL    string `json:"server_url"`
	Username     string `json:"username"`
	SessionToken string `json:"session_token,omitempty"`
	DeviceToken  string `json:"device_token,omitempty"`
	GrantID      string `json:"grant_id,omitempty"`
	OwnerEmail   string `json:"owner_email,omitempty"`
	GrantState   string `json:"grant_state,omitempty"`
}

// StatePath returns the session file location, honoring COVAULT_STATE.
func StatePath() (string, error) {
	if p := os.Getenv("COVAULT_STATE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".covault", "device.json"), nil
}

// LoadState reads the persisted session. A missing file returns an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file '%s': %w", path, err)
	}
	return &st, nil
}

// SaveState writes the session atomically with owner-only permissions.
func SaveState(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// ClearGrant drops the device session fields, keeping the server and login.
func (st *State) ClearGrant() {
	st.DeviceToken = ""
	st.GrantID = ""
	st.OwnerEmail = ""
	st.GrantState = ""
}
