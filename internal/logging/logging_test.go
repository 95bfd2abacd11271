package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithSession(base, "session-123", "chat-456")
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "session_id=session-123") {
		t.Errorf("Expected session_id in output, got: %s", output)
	}
	if !strings.Contains(output, "chat_id=chat-456") {
		t.Errorf("Expected chat_id in output, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected message in output, got: %s", output)
	}
}

func TestWithSession_NilLogger(t *testing.T) {
	logger := WithSession(nil, "session", "chat")
	if logger != nil {
		t.Error("WithSession(nil, ...) should return nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestComponentFiltering(t *testing.T) {
	componentsMu.Lock()
	allowedComponents = map[string]bool{"transport": true}
	componentsMu.Unlock()
	defer func() {
		componentsMu.Lock()
		allowedComponents = nil
		componentsMu.Unlock()
	}()

	if !isComponentAllowed("transport") {
		t.Error("transport should be allowed")
	}
	if isComponentAllowed("client") {
		t.Error("client should be filtered out")
	}
}

func TestComponentFilteringAllowsAllByDefault(t *testing.T) {
	componentsMu.Lock()
	allowedComponents = nil
	componentsMu.Unlock()

	for _, c := range []string{"transport", "client", "audio", "triggers"} {
		if !isComponentAllowed(c) {
			t.Errorf("component %q should be allowed when no filter is set", c)
		}
	}
}
