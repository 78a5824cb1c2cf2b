package session

import (
	"encoding/json"
	"fmt"
	"os"
)

// AuthState is the persisted authentication blob for one browsing context,
// in the exported storage-state shape: a flat cookie list. Session cookies
// rotated by the remote site are written back here so logins survive
// process restarts.
type AuthState struct {
	Cookies []Cookie `json:"cookies"`
}

// Cookie is one persisted cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// LoadAuthState reads the state file at path. A missing or corrupt file is
// not fatal: the caller proceeds with an empty state and a fresh login will
// be required remotely.
func LoadAuthState(path string) (AuthState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AuthState{}, fmt.Errorf("read auth state %s: %w", path, err)
	}
	var state AuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return AuthState{}, fmt.Errorf("parse auth state %s: %w", path, err)
	}
	return state, nil
}

// SaveAuthState writes the state file atomically via a temp-file rename.
func SaveAuthState(path string, state AuthState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode auth state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write auth state %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace auth state %s: %w", path, err)
	}
	return nil
}
