package models

import "testing"

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", "alice", false},
		{"digits", "user42", false},
		{"dot separated", "john.doe", false},
		{"underscore separated", "john_doe", false},
		{"mixed separators", "a.b_c", false},
		{"two chars", "ab", false},
		{"single char", "a", true},
		{"empty", "", true},
		{"leading dot", ".alice", true},
		{"trailing underscore", "alice_", true},
		{"double dot", "a..b", true},
		{"adjacent separators", "a._b", true},
		{"space", "a b", true},
		{"unicode", "ál1ce", true},
		{"too long", "abcdefghijklmnopqrstuvwxyz0123456", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveDisplayName(t *testing.T) {
	u := User{Username: "alice"}
	if got := u.EffectiveDisplayName(); got != "alice" {
		t.Errorf("fallback display name = %q, want username", got)
	}
	u.DisplayName = "Alice A"
	if got := u.EffectiveDisplayName(); got != "Alice A" {
		t.Errorf("display name = %q, want %q", got, "Alice A")
	}
}

func TestPresenceValid(t *testing.T) {
	for _, p := range []Presence{PresenceOnline, PresenceIdle, PresenceBusy, PresenceOffline} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Presence("AWAY").Valid() {
		t.Error("AWAY should not be valid")
	}
}
