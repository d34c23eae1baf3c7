package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriter_LevelAndShape(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")

	log.Info("should_be_filtered")
	log.Warn("queue_overflow", "depth", 128)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "queue_overflow" {
		t.Errorf("msg = %v, want queue_overflow", rec["msg"])
	}
	if rec["depth"] != float64(128) {
		t.Errorf("depth = %v, want 128", rec["depth"])
	}
}

func TestParseLevel_UnknownDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "verbose")

	log.Debug("hidden")
	log.Info("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug line leaked at default level")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("info line missing at default level")
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "***"},
		{"eyJhbGciOiJIUzI1NiJ9.payload.sig", "eyJ***sig"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.in); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if strings.Contains(MaskToken("a-very-long-secret-token-value"), "secret") {
		t.Error("masked token still contains the middle of the secret")
	}
}
