package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "gompminer", "1.2.3", "info", "json")

	logger.WithPool("pool:3333", "worker1").
		WithJob("job-7", true).
		WithError(errors.New("boom")).
		LogShareSubmission("job-7", "00000001", "1dac2b7c", 2, "accepted")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}

	want := map[string]any{
		"service":     "gompminer",
		"version":     "1.2.3",
		"pool":        "pool:3333",
		"user":        "worker1",
		"job_id":      "job-7",
		"clean_jobs":  true,
		"error":       "boom",
		"extranonce2": "00000001",
		"status":      "accepted",
		"msg":         "share submission",
	}
	for key, value := range want {
		if entry[key] != value {
			t.Errorf("%s = %v, want %v", key, entry[key], value)
		}
	}
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "svc", "v", "warn", "text")

	logger.LogStratumMessage("received", `{"id":1}`)
	logger.LogJobReceived("j", false, 1)
	if buf.Len() != 0 {
		t.Fatalf("expected debug and info to be filtered, got %q", buf.String())
	}

	logger.LogBlockCandidate("0000abcd", "j")
	if !strings.Contains(buf.String(), "block_hash=0000abcd") {
		t.Errorf("expected block candidate at warn level, got %q", buf.String())
	}
}

func TestLogger_WithErrorNil(t *testing.T) {
	logger := Nop()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLogThroughput_ZeroInterval(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "svc", "v", "info", "json").LogThroughput(100, 0)
	if buf.Len() != 0 {
		t.Errorf("expected nothing logged for a zero interval, got %q", buf.String())
	}
}
