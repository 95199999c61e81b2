package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"two\nlines", "two lines"},
		{"tab\there", "tab here"},
		{"bell\x07gone", "bellgone"},
		{"fake\r\n2026 INFO forged", "fake  2026 INFO forged"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeTruncates(t *testing.T) {
	got := Sanitize(strings.Repeat("a", 1000))
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected truncation marker, got %d bytes", len(got))
	}
	if len(got) > 256+len("…") {
		t.Fatalf("sanitized string too long: %d", len(got))
	}
}

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %s", out)
	}

	if _, err := New(&buf, "loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
